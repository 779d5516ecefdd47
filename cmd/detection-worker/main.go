// The detection worker is spawned by a dispatch.Supervisor, one process
// per detector, so each backend instance owns its device and model state
// exclusively. It drains the shared job queue until it receives SIGTERM
// or SIGINT, or its backend fails.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/detect"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/dispatch"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/logger"
)

var (
	name     = flag.String("name", "", "Detector name")
	queue    = flag.String("queue", "", "Shared job queue segment name")
	height   = flag.Int("height", 300, "Model input height")
	width    = flag.Int("width", 300, "Model input width")
	detector = flag.String("detector", "cpu", "Backend kind (cpu, accelerator, remote)")
	device   = flag.String("device", "", "Accelerator device selector")
	address  = flag.String("address", "", "Detection server address (remote backend)")
	model    = flag.String("model", "", "Model file path")
	threads  = flag.Int("threads", 3, "CPU inference threads")
	logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	if err := logger.Init(*logLevel, false); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log configuration: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *name == "" || *queue == "" {
		logger.L().Fatal("both -name and -queue are required")
	}

	// Termination signals set a process-local stop; the run loop
	// notices within one queue wait.
	stop := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		close(stop)
	}()

	logger.L().Info("detection worker starting",
		zap.String("detector", *name), zap.Int("pid", os.Getpid()))

	cfg := dispatch.WorkerConfig{
		Name:      *name,
		QueueName: *queue,
		Height:    *height,
		Width:     *width,
		Backend: detect.Config{
			Kind:       detect.Kind(*detector),
			Device:     *device,
			Address:    *address,
			ModelPath:  *model,
			NumThreads: *threads,
		},
	}
	if err := dispatch.Run(cfg, stop); err != nil {
		logger.L().Error("worker loop failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

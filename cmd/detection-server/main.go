// The detection server terminates the wire protocol over TCP and runs
// every request through one local detection backend.
//
// The inference engine itself is pluggable: engine packages register
// themselves with internal/detect from an init function, so a deployment
// links its engine by importing it here (blank import), the way
// database/sql drivers are linked.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/detect"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/server"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
)

var (
	// Command-line flags; the config file carries everything else.
	configPath = flag.String("config", "./config.yml", "Config file path")
	port       = flag.Int("port", 0, "Listen port (overrides config)")
	logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logDev     = flag.Bool("log-dev", false, "Console log encoder instead of JSON")
	warmup     = flag.Bool("warmup", true, "Run one synthetic inference before accepting connections")
)

func main() {
	flag.Parse()

	if err := logger.Init(*logLevel, *logDev); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log configuration: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.L().Fatal("config is not valid", zap.Error(err))
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	// Startup faults abort here, before the socket is bound.
	backend, err := detect.New(cfg.BackendConfig())
	if err != nil {
		logger.L().Fatal("backend startup failed", zap.Error(err))
	}

	if *warmup {
		if err := warmBackend(backend, cfg.Model.Height, cfg.Model.Width); err != nil {
			logger.L().Fatal("warm-up inference failed", zap.Error(err))
		}
		logger.L().Info("warm-up inference done")
	}

	m := metrics.New()
	go func() {
		if err := m.StartServer(cfg.Server.MetricsAddr); err != nil {
			logger.L().Warn("metrics server error", zap.Error(err))
		}
	}()
	go func() {
		if err := http.ListenAndServe(cfg.Server.PprofAddr, nil); err != nil {
			logger.L().Warn("pprof server error", zap.Error(err))
		}
	}()

	srv := server.New(backend, m)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.L().Info("shutting down")
		srv.Close()
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.L().Info("listening", zap.String("addr", addr),
		zap.String("detector", cfg.Detector.Type))
	if err := srv.ListenAndServe(addr); err != nil {
		logger.L().Fatal("serve failed", zap.Error(err))
	}
	logger.L().Info("server stopped")
}

// warmBackend pushes one synthetic gray frame through the backend so
// model and device initialization cost is paid before the first real
// request.
func warmBackend(backend detect.Backend, height, width int) error {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	gray := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, gray)
		}
	}
	_, err := backend.DetectRaw(tensor.FromImage(img, height, width))
	return err
}

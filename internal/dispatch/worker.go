package dispatch

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/detect"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/shm"
)

// PopTimeout bounds one job-queue wait. It also bounds shutdown latency:
// the loop re-checks the stop channel after every expired wait.
const PopTimeout = 5 * time.Second

// WorkerConfig parameterizes one worker process's run loop.
type WorkerConfig struct {
	Name      string // Detector name; selects the shared stats segment
	QueueName string // Shared job queue segment
	Height    int    // Model input height
	Width     int    // Model input width
	Backend   detect.Config

	// Frames resolves input tensors; nil selects the shared-memory
	// store. Metrics may be nil.
	Frames  FrameStore
	Metrics *metrics.Metrics
}

// Run executes the worker run loop until stop is closed or the backend
// fails. It runs inside the worker process; the supervisor in the
// pipeline process spawns and restarts it.
//
// Jobs whose input frame cannot be resolved are dropped without signaling
// the requester, which then times out on its own. A backend failure ends
// the loop with an error so the process exits and the supervisor can
// respawn it.
func Run(cfg WorkerConfig, stop <-chan struct{}) error {
	log := logger.L().With(zap.String("detector", cfg.Name))

	queue, err := shm.OpenQueue(cfg.QueueName)
	if err != nil {
		return fmt.Errorf("dispatch: worker %s: %w", cfg.Name, err)
	}
	defer queue.Close()

	stats, err := OpenStats(cfg.Name)
	if err != nil {
		return fmt.Errorf("dispatch: worker %s: %w", cfg.Name, err)
	}
	defer stats.Close()

	backend, err := detect.New(cfg.Backend)
	if err != nil {
		return err
	}
	defer backend.Close()

	frames := cfg.Frames
	if frames == nil {
		store := NewShmFrameStore()
		defer store.Close()
		frames = store
	}

	// Worker-side view of each requester's output buffer, mapped on
	// first job for that slot.
	outputs := map[string]*Slot{}
	defer func() {
		for _, slot := range outputs {
			slot.Close()
		}
	}()

	log.Info("worker loop started",
		zap.String("queue", cfg.QueueName),
		zap.String("backend", string(cfg.Backend.Kind)))

	for {
		select {
		case <-stop:
			log.Info("worker loop stopping")
			return nil
		default:
		}

		name, err := queue.Pop(PopTimeout)
		if err != nil {
			// Empty queue; loop around to re-check stop.
			continue
		}

		input, ok := frames.Get(name, cfg.Height, cfg.Width)
		if !ok {
			log.Debug("input frame absent, dropping job", zap.String("slot", name))
			if cfg.Metrics != nil {
				cfg.Metrics.JobsDropped.Add(1)
			}
			continue
		}

		slot, ok := outputs[name]
		if !ok {
			slot, err = OpenSlot(name, cfg.Height, cfg.Width)
			if err != nil {
				log.Warn("cannot map output buffer, dropping job",
					zap.String("slot", name), zap.Error(err))
				if cfg.Metrics != nil {
					cfg.Metrics.JobsDropped.Add(1)
				}
				continue
			}
			outputs[name] = slot
		}

		start := time.Now()
		stats.MarkStart(start)
		result, err := backend.DetectRaw(input)
		if err != nil {
			stats.MarkIdle()
			log.Error("backend failed", zap.String("slot", name), zap.Error(err))
			return err
		}
		duration := time.Since(start)

		if err := slot.WriteResult(result); err != nil {
			stats.MarkIdle()
			log.Error("backend emitted malformed result",
				zap.String("slot", name), zap.Error(err))
			continue
		}
		slot.Complete()
		stats.MarkIdle()
		stats.ObserveDuration(duration)
		if cfg.Metrics != nil {
			cfg.Metrics.UpdateInferenceLatency(duration)
		}
	}
}

package dispatch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/metrics"
)

// StopGracePeriod is how long Stop waits for a worker to exit after
// SIGTERM before force-killing it.
const StopGracePeriod = 30 * time.Second

// WorkerBinary is the name of the worker process entrypoint.
const WorkerBinary = "detection-worker"

// Supervisor owns one inference worker process: it spawns it, restarts
// it, and stops it with an escalating graceful-then-forceful shutdown.
// It also owns the detector's shared stats segment, created before the
// first spawn so the worker can open it.
type Supervisor struct {
	name    string
	argv    []string
	grace   time.Duration
	stats   *Stats
	metrics *metrics.Metrics

	mu   sync.Mutex
	proc *workerProc
}

type workerProc struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (p *workerProc) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// NewSupervisor creates the detector's stats segment and starts the
// worker process. argv is the full worker command; WorkerCommand builds
// the standard one. A spawn failure is fatal for the supervisor: the
// error is returned and nothing is left running.
func NewSupervisor(name string, argv []string, m *metrics.Metrics) (*Supervisor, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("dispatch: supervisor %s: empty worker command", name)
	}
	stats, err := CreateStats(name)
	if err != nil {
		return nil, err
	}
	s := &Supervisor{
		name:    name,
		argv:    argv,
		grace:   StopGracePeriod,
		stats:   stats,
		metrics: m,
	}
	if err := s.StartOrRestart(); err != nil {
		stats.Close()
		stats.Unlink()
		return nil, err
	}
	return s, nil
}

// StartOrRestart stops any live worker process first, then spawns a new
// one.
func (s *Supervisor) StartOrRestart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	restart := s.proc != nil
	if s.proc != nil && s.proc.alive() {
		s.stopLocked()
	}
	s.stats.MarkIdle()

	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group, so Stop can signal the worker and any children
	// it spawned as one unit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dispatch: spawn worker %s: %w", s.name, err)
	}

	proc := &workerProc{cmd: cmd, done: make(chan struct{})}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()
	s.proc = proc

	if restart && s.metrics != nil {
		s.metrics.WorkerRestarts.Add(1)
	}
	logger.L().Info("worker process started",
		zap.String("detector", s.name), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// SetGracePeriod overrides the Stop grace window. Mostly for tests; the
// default is StopGracePeriod.
func (s *Supervisor) SetGracePeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = d
}

// Stop terminates the worker process: SIGTERM, a grace window, then
// SIGKILL. It returns once the process is gone.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	proc := s.proc
	if proc == nil || !proc.alive() {
		s.proc = nil
		return
	}

	pid := proc.cmd.Process.Pid
	log := logger.L().With(zap.String("detector", s.name), zap.Int("pid", pid))
	log.Info("waiting for worker process to exit gracefully")
	// Negative pid signals the whole process group.
	syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-proc.done:
	case <-time.After(s.grace):
		log.Warn("worker process did not exit, force killing")
		syscall.Kill(-pid, syscall.SIGKILL)
		<-proc.done
	}

	if proc.waitErr != nil {
		log.Warn("worker process exited abnormally", zap.Error(proc.waitErr))
	}
	s.proc = nil
}

// Alive reports whether the worker process is currently running.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && s.proc.alive()
}

// Pid returns the worker's process id, or 0 when no process is running.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.cmd.Process.Pid
}

// AvgInferenceSpeed reads the worker's moving-average inference latency
// in seconds. Best-effort; see Stats.
func (s *Supervisor) AvgInferenceSpeed() float64 { return s.stats.AvgInferenceSpeed() }

// DetectionStart reads the in-flight detection timestamp, 0 when idle.
func (s *Supervisor) DetectionStart() float64 { return s.stats.DetectionStart() }

// Close stops the worker and releases the stats segment.
func (s *Supervisor) Close() error {
	s.Stop()
	err := s.stats.Close()
	if uerr := s.stats.Unlink(); err == nil {
		err = uerr
	}
	return err
}

// WorkerCommand builds the argv for the standard worker entrypoint from a
// worker configuration. The binary is looked up next to the running
// executable first, then on PATH.
func WorkerCommand(cfg WorkerConfig) ([]string, error) {
	bin, err := findWorkerBinary()
	if err != nil {
		return nil, err
	}
	argv := []string{
		bin,
		"-name", cfg.Name,
		"-queue", cfg.QueueName,
		"-height", strconv.Itoa(cfg.Height),
		"-width", strconv.Itoa(cfg.Width),
		"-detector", string(cfg.Backend.Kind),
		"-model", cfg.Backend.ModelPath,
		"-threads", strconv.Itoa(cfg.Backend.NumThreads),
	}
	if cfg.Backend.Device != "" {
		argv = append(argv, "-device", cfg.Backend.Device)
	}
	if cfg.Backend.Address != "" {
		argv = append(argv, "-address", cfg.Backend.Address)
	}
	return argv, nil
}

func findWorkerBinary() (string, error) {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), WorkerBinary)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	bin, err := exec.LookPath(WorkerBinary)
	if err != nil {
		return "", fmt.Errorf("dispatch: %s not found beside the executable or on PATH: %w", WorkerBinary, err)
	}
	return bin, nil
}

package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/metrics"
)

func waitForExit(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		// Signal 0 probes liveness. The supervisor reaps its own
		// children, so a dead pid stops answering.
		if err := syscall.Kill(pid, 0); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pid %d still alive", pid)
}

// waitForGroupExit waits until the worker's process group has no
// members left, children included.
func waitForGroupExit(t *testing.T, pgid int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(-pgid, 0); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process group %d still has members", pgid)
}

func TestSupervisorRestartReplacesProcess(t *testing.T) {
	s, err := NewSupervisor(uniqueName("sup"), []string{"/bin/sleep", "60"}, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	defer s.Close()

	if !s.Alive() {
		t.Fatal("worker not alive after NewSupervisor")
	}
	first := s.Pid()

	if err := s.StartOrRestart(); err != nil {
		t.Fatalf("StartOrRestart: %v", err)
	}
	second := s.Pid()

	if second == first {
		t.Fatalf("restart kept pid %d", first)
	}
	if !s.Alive() {
		t.Fatal("worker not alive after restart")
	}
	waitForExit(t, first)
}

func TestSupervisorStopEscalatesToKill(t *testing.T) {
	// A worker that ignores SIGTERM and has a child of its own forces
	// the forced-kill path; the kill must take the child down too. The
	// loop re-spawns sleep so the group survives TERM, and the ready
	// file marks that the trap is installed before Stop races it.
	ready := filepath.Join(t.TempDir(), "ready")
	s, err := NewSupervisor(uniqueName("sup"),
		[]string{"/bin/sh", "-c",
			fmt.Sprintf(`trap "" TERM; : > %q; while :; do sleep 1; done`, ready)}, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	defer s.Close()
	s.SetGracePeriod(200 * time.Millisecond)

	trapDeadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(ready); err == nil {
			break
		}
		if time.Now().After(trapDeadline) {
			t.Fatal("worker never installed its TERM trap")
		}
		time.Sleep(5 * time.Millisecond)
	}

	pid := s.Pid()
	start := time.Now()
	s.Stop()
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("Stop returned after %v, before the grace window", elapsed)
	}
	if s.Alive() {
		t.Fatal("worker alive after Stop")
	}
	waitForExit(t, pid)
	waitForGroupExit(t, pid)
}

func TestSupervisorRestartsMetricSkipsFirstSpawn(t *testing.T) {
	m := metrics.New()
	s, err := NewSupervisor(uniqueName("sup"), []string{"/bin/sleep", "60"}, m)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	defer s.Close()

	if got := m.WorkerRestarts.Load(); got != 0 {
		t.Fatalf("WorkerRestarts = %d after first spawn, want 0", got)
	}
	if err := s.StartOrRestart(); err != nil {
		t.Fatalf("StartOrRestart: %v", err)
	}
	if got := m.WorkerRestarts.Load(); got != 1 {
		t.Fatalf("WorkerRestarts = %d after restart, want 1", got)
	}
}

func TestSupervisorStopGraceful(t *testing.T) {
	s, err := NewSupervisor(uniqueName("sup"), []string{"/bin/sleep", "60"}, nil)
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	defer s.Close()

	pid := s.Pid()
	s.Stop()
	if s.Alive() {
		t.Fatal("worker alive after Stop")
	}
	waitForExit(t, pid)

	// Stop on a stopped supervisor is a no-op.
	s.Stop()
}

func TestSupervisorSpawnFailure(t *testing.T) {
	if _, err := NewSupervisor(uniqueName("sup"),
		[]string{"/nonexistent/detection-worker"}, nil); err == nil {
		t.Fatal("NewSupervisor accepted a missing worker binary")
	}
}

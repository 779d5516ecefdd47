package dispatch

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/shm"
)

const statsSize = 16

func statsName(detector string) string { return "detstats-" + detector }

// Stats is the per-detector diagnostic cell pair shared between the
// supervisor's process and its worker process: the exponential moving
// average of inference latency and the timestamp of the in-flight
// detection (0 when idle). Both are seconds as float64.
//
// The worker loop is the only writer; the supervisor side reads
// best-effort for watchdog and introspection use.
type Stats struct {
	seg   *shm.Segment
	avg   *shm.Float64
	start *shm.Float64
}

// CreateStats allocates the stats segment for a detector. Supervisor
// side; the initial average is a small non-zero seed so the first EMA
// update has something to decay from.
func CreateStats(detector string) (*Stats, error) {
	seg, err := shm.Create(statsName(detector), statsSize)
	if err != nil {
		return nil, err
	}
	st, err := overlayStats(seg)
	if err != nil {
		seg.Close()
		seg.Unlink()
		return nil, err
	}
	st.avg.Store(0.01)
	st.start.Store(0)
	return st, nil
}

// OpenStats maps an existing stats segment. Worker side.
func OpenStats(detector string) (*Stats, error) {
	seg, err := shm.Open(statsName(detector), statsSize)
	if err != nil {
		return nil, err
	}
	st, err := overlayStats(seg)
	if err != nil {
		seg.Close()
		return nil, err
	}
	return st, nil
}

func overlayStats(seg *shm.Segment) (*Stats, error) {
	avg, err := shm.Float64At(seg.Bytes(), 0)
	if err != nil {
		return nil, err
	}
	start, err := shm.Float64At(seg.Bytes(), 8)
	if err != nil {
		return nil, err
	}
	return &Stats{seg: seg, avg: avg, start: start}, nil
}

// AvgInferenceSpeed returns the moving-average inference latency in
// seconds.
func (st *Stats) AvgInferenceSpeed() float64 { return st.avg.Load() }

// DetectionStart returns the Unix timestamp of the in-flight detection,
// or 0 when the worker is idle.
func (st *Stats) DetectionStart() float64 { return st.start.Load() }

// MarkStart records that a detection began now.
func (st *Stats) MarkStart(now time.Time) {
	st.start.Store(float64(now.UnixNano()) / float64(time.Second))
}

// MarkIdle clears the in-flight timestamp.
func (st *Stats) MarkIdle() { st.start.Store(0) }

// ObserveDuration folds one inference duration into the moving average
// with a decay factor of 9/10, an effective window of about ten samples.
func (st *Stats) ObserveDuration(d time.Duration) {
	st.avg.Store((st.avg.Load()*9 + d.Seconds()) / 10)
}

// Close unmaps the stats segment.
func (st *Stats) Close() error { return st.seg.Close() }

// Unlink releases the segment name. Supervisor side only.
func (st *Stats) Unlink() error { return st.seg.Unlink() }

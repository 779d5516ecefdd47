package dispatch

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/pkg/types"
)

// ResultTimeout is how long a client waits for a worker to complete its
// request before reporting an empty result.
const ResultTimeout = 10 * time.Second

// RemoteDetector is the caller-side handle a pipeline worker uses to get
// detections from the shared worker pool. It owns one Slot and must not
// have more than one request in flight at a time.
type RemoteDetector struct {
	name    string
	labels  types.LabelMap
	queue   *shm.Queue
	slot    *Slot
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewRemoteDetector creates the detector's slot segments and attaches to
// the shared job queue. The label table indexes backend class ids; m may
// be nil.
func NewRemoteDetector(name string, labels types.LabelMap, queue *shm.Queue, height, width int, m *metrics.Metrics) (*RemoteDetector, error) {
	slot, err := CreateSlot(name, height, width)
	if err != nil {
		return nil, err
	}
	return &RemoteDetector{
		name:    name,
		labels:  labels,
		queue:   queue,
		slot:    slot,
		timeout: ResultTimeout,
		metrics: m,
	}, nil
}

// SetTimeout overrides the result wait bound. Mostly for tests; the
// default is ResultTimeout.
func (d *RemoteDetector) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// Detect submits one tensor and blocks for the labeled result.
//
// A timed-out request returns an empty result and a nil error: at this
// boundary "no detections" and "no worker answered in time" look the
// same, and the slot stays usable for the next submission. Rows below
// the threshold are cut at the first occurrence; backends emit rows in
// non-increasing score order.
func (d *RemoteDetector) Detect(t *tensor.Tensor, threshold float32) ([]types.Detection, error) {
	if err := d.slot.WriteInput(t); err != nil {
		return nil, err
	}
	d.slot.ClearSignal()
	if err := d.queue.Push(d.name); err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.DetectionsRequested.Add(1)
	}

	if !d.slot.WaitComplete(d.timeout) {
		if d.metrics != nil {
			d.metrics.DetectionTimeouts.Add(1)
		}
		return nil, nil
	}

	if d.metrics != nil {
		d.metrics.DetectionsCompleted.Add(1)
	}
	return types.FilterDetections(d.slot.ReadResult(), threshold, d.labels), nil
}

// Cleanup unmaps and releases the detector's shared segments. The
// detector owns them exclusively; Cleanup must run exactly once, on
// caller teardown.
func (d *RemoteDetector) Cleanup() error {
	err := d.slot.Close()
	if uerr := d.slot.Unlink(); err == nil {
		err = uerr
	}
	return err
}

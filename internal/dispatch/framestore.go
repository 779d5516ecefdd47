package dispatch

import (
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/shm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-dispatch/internal/tensor"
)

// FrameStore resolves a slot's input tensor by id. The "absent" case is
// normal: the requester may have torn down its buffers between enqueue
// and service, and the worker just drops the job.
type FrameStore interface {
	Get(id string, height, width int) (*tensor.Tensor, bool)
	Close() error
}

// ShmFrameStore resolves input tensors from the slot-named shared
// segments, keeping each mapping open once per worker process.
type ShmFrameStore struct {
	segments map[string]*shm.Segment
}

// NewShmFrameStore creates an empty store; segments are mapped lazily on
// first Get.
func NewShmFrameStore() *ShmFrameStore {
	return &ShmFrameStore{segments: map[string]*shm.Segment{}}
}

// Get maps (or reuses) the segment named id and wraps it as a
// (1,height,width,3) uint8 tensor without copying. A segment that does
// not fit the shape counts as absent.
func (f *ShmFrameStore) Get(id string, height, width int) (*tensor.Tensor, bool) {
	seg, ok := f.segments[id]
	if !ok {
		var err error
		seg, err = shm.Open(id, height*width*3)
		if err != nil {
			return nil, false
		}
		f.segments[id] = seg
	}
	t, err := tensor.NewUint8(seg.Bytes(), 1, height, width, 3)
	if err != nil {
		return nil, false
	}
	return t, true
}

// Close unmaps every cached segment.
func (f *ShmFrameStore) Close() error {
	var err error
	for id, seg := range f.segments {
		if cerr := seg.Close(); err == nil {
			err = cerr
		}
		delete(f.segments, id)
	}
	return err
}

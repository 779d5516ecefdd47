package shm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"
)

// Queue is a bounded multi-producer multi-consumer FIFO of slot names,
// laid out in a shared memory segment so that the pipeline process and
// every worker process attached to one pool share it.
//
// The layout is a sequence-numbered ring: each cell carries a sequence
// counter that tells producers and consumers whose turn it is, so all
// coordination is CAS on the mapped memory with no cross-process locks.
// Consumers poll with a short sleep; Pop's timeout bounds how long a
// worker can sit in the queue before re-checking its stop flag.
type Queue struct {
	seg   *Segment
	hdr   *queueHeader
	cells []queueCell
}

// MaxNameLen is the longest slot name a queue cell can carry.
const MaxNameLen = 48

// pollInterval is how often blocked consumers re-check the ring.
const pollInterval = 500 * time.Microsecond

var (
	// ErrFull is returned by Push when every cell is occupied.
	ErrFull = errors.New("shm: queue full")
	// ErrTimeout is returned by Pop when no name arrives in time.
	ErrTimeout = errors.New("shm: queue pop timed out")
)

// Cache-line padded so producers and consumers do not false-share.
type queueHeader struct {
	capacity uint64
	mask     uint64
	_        [48]byte
	enqueue  uint64
	_        [56]byte
	dequeue  uint64
	_        [56]byte
}

type queueCell struct {
	seq  uint64
	size uint32
	_    uint32
	name [MaxNameLen]byte
}

const (
	queueHeaderSize = int(unsafe.Sizeof(queueHeader{}))
	queueCellSize   = int(unsafe.Sizeof(queueCell{}))
)

// CreateQueue creates and initializes a shared queue. Capacity is rounded
// up to the next power of two.
func CreateQueue(name string, capacity int) (*Queue, error) {
	if capacity < 2 {
		capacity = 2
	}
	cap64 := uint64(1)
	for cap64 < uint64(capacity) {
		cap64 <<= 1
	}
	seg, err := Create(name, queueHeaderSize+int(cap64)*queueCellSize)
	if err != nil {
		return nil, err
	}
	q := overlayQueue(seg, int(cap64))
	q.hdr.capacity = cap64
	q.hdr.mask = cap64 - 1
	atomic.StoreUint64(&q.hdr.enqueue, 0)
	atomic.StoreUint64(&q.hdr.dequeue, 0)
	for i := range q.cells {
		atomic.StoreUint64(&q.cells[i].seq, uint64(i))
	}
	return q, nil
}

// OpenQueue maps a queue created by another process.
func OpenQueue(name string) (*Queue, error) {
	seg, err := Open(name, 0)
	if err != nil {
		return nil, err
	}
	if len(seg.Bytes()) < queueHeaderSize {
		seg.Close()
		return nil, fmt.Errorf("shm: %s is too small to be a queue", name)
	}
	hdr := (*queueHeader)(unsafe.Pointer(&seg.Bytes()[0]))
	capacity := hdr.capacity
	if capacity == 0 || capacity&(capacity-1) != 0 ||
		len(seg.Bytes()) < queueHeaderSize+int(capacity)*queueCellSize {
		seg.Close()
		return nil, fmt.Errorf("shm: %s has a corrupt queue header", name)
	}
	return overlayQueue(seg, int(capacity)), nil
}

func overlayQueue(seg *Segment, capacity int) *Queue {
	b := seg.Bytes()
	return &Queue{
		seg:   seg,
		hdr:   (*queueHeader)(unsafe.Pointer(&b[0])),
		cells: unsafe.Slice((*queueCell)(unsafe.Pointer(&b[queueHeaderSize])), capacity),
	}
}

// Push enqueues a slot name. Multiple processes may push concurrently.
func (q *Queue) Push(name string) error {
	if len(name) > MaxNameLen {
		return fmt.Errorf("shm: slot name %q exceeds %d bytes", name, MaxNameLen)
	}
	pos := atomic.LoadUint64(&q.hdr.enqueue)
	for {
		cell := &q.cells[pos&q.hdr.mask]
		seq := atomic.LoadUint64(&cell.seq)
		switch {
		case seq == pos:
			if atomic.CompareAndSwapUint64(&q.hdr.enqueue, pos, pos+1) {
				copy(cell.name[:], name)
				atomic.StoreUint32(&cell.size, uint32(len(name)))
				// Publishes the cell to consumers.
				atomic.StoreUint64(&cell.seq, pos+1)
				return nil
			}
			pos = atomic.LoadUint64(&q.hdr.enqueue)
		case seq < pos:
			return ErrFull
		default:
			pos = atomic.LoadUint64(&q.hdr.enqueue)
		}
	}
}

// Pop dequeues the oldest name, waiting up to timeout. Returns ErrTimeout
// when the queue stays empty, so callers can re-check cancellation.
func (q *Queue) Pop(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if name, ok := q.tryPop(); ok {
			return name, nil
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

func (q *Queue) tryPop() (string, bool) {
	pos := atomic.LoadUint64(&q.hdr.dequeue)
	for {
		cell := &q.cells[pos&q.hdr.mask]
		seq := atomic.LoadUint64(&cell.seq)
		switch {
		case seq == pos+1:
			if atomic.CompareAndSwapUint64(&q.hdr.dequeue, pos, pos+1) {
				size := atomic.LoadUint32(&cell.size)
				name := string(cell.name[:size])
				// Releases the cell for the next lap of producers.
				atomic.StoreUint64(&cell.seq, pos+q.hdr.mask+1)
				return name, true
			}
			pos = atomic.LoadUint64(&q.hdr.dequeue)
		case seq <= pos:
			return "", false
		default:
			pos = atomic.LoadUint64(&q.hdr.dequeue)
		}
	}
}

// Close unmaps the queue.
func (q *Queue) Close() error { return q.seg.Close() }

// Unlink removes the queue's segment name. Only the creating process
// should call this.
func (q *Queue) Unlink() error { return q.seg.Unlink() }

// Package shm provides the POSIX shared memory primitives the dispatch
// layer is built on: named byte segments, shared numeric cells, and a
// cross-process job queue.
//
// Segments live under /dev/shm and are mapped with x/sys/unix, so worker
// processes and the pipeline process see the same pages. The creating
// side owns a segment's lifetime and is responsible for Unlink.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// Segment is a named shared memory region mapped into this process.
type Segment struct {
	name string
	data []byte
}

func segmentPath(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, '/') {
		return "", fmt.Errorf("shm: invalid segment name %q", name)
	}
	return filepath.Join(shmDir, name), nil
}

// Create creates (or reuses) a named segment of the given size and maps
// it read-write. Existing contents are preserved when the segment already
// exists at the same size.
func Create(name string, size int) (*Segment, error) {
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: size %s to %d bytes: %w", name, size, err)
	}
	return mapSegment(name, fd, size)
}

// Open maps an existing named segment read-write. With size 0 the whole
// segment is mapped.
func Open(name string, size int) (*Segment, error) {
	path, err := segmentPath(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", name, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: stat %s: %w", name, err)
	}
	if size == 0 {
		size = int(st.Size)
	} else if int64(size) > st.Size {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: %s is %d bytes, need %d", name, st.Size, size)
	}
	return mapSegment(name, fd, size)
}

func mapSegment(name string, fd, size int) (*Segment, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", name, err)
	}
	return &Segment{name: name, data: data}, nil
}

// Name returns the segment name.
func (s *Segment) Name() string { return s.name }

// Bytes returns the mapped region. The slice stays valid until Close.
func (s *Segment) Bytes() []byte { return s.data }

// Close unmaps the segment from this process. The segment itself stays
// alive until Unlink.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}

// Unlink removes the segment name. Safe to call after the name is already
// gone.
func (s *Segment) Unlink() error {
	path, err := segmentPath(s.name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("shm: unlink %s: %w", s.name, err)
	}
	return nil
}

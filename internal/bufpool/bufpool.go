// Package bufpool provides a tiered buffer pool for transfer I/O.
//
// Payload copies between the network and the filesystem churn through
// fixed-size chunk buffers; pooling them keeps the per-transfer allocation
// cost flat regardless of file size. Three size classes cover the common
// cases; requests larger than the biggest class are allocated directly and
// never pooled, so occasional huge buffers do not pin memory.
//
// All operations are safe for concurrent use.
package bufpool

import "sync"

// Buffer size classes.
const (
	// SmallSize covers control lines and drain buffers (4KB)
	SmallSize = 4 << 10

	// MediumSize covers transfer chunks and directory listings (64KB)
	MediumSize = 64 << 10

	// LargeSize covers bulk copies of big payloads (1MB)
	LargeSize = 1 << 20
)

var (
	small = sync.Pool{New: func() any {
		buf := make([]byte, SmallSize)
		return &buf
	}}
	medium = sync.Pool{New: func() any {
		buf := make([]byte, MediumSize)
		return &buf
	}}
	large = sync.Pool{New: func() any {
		buf := make([]byte, LargeSize)
		return &buf
	}}
)

// Get returns a byte slice of exactly the requested length, backed by a
// pooled buffer when the size fits a class. The caller must hand the slice
// back with Put when done.
func Get(size int) []byte {
	var bufPtr *[]byte
	switch {
	case size <= SmallSize:
		bufPtr = small.Get().(*[]byte)
	case size <= MediumSize:
		bufPtr = medium.Get().(*[]byte)
	case size <= LargeSize:
		bufPtr = large.Get().(*[]byte)
	default:
		// Oversized requests bypass the pool entirely.
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put returns a buffer obtained from Get to its pool. Buffers whose capacity
// does not match a size class (oversized allocations) are left for the GC.
func Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case SmallSize:
		small.Put(&full)
	case MediumSize:
		medium.Put(&full)
	case LargeSize:
		large.Put(&full)
	}
}

package util

import "sync"

// MaxFrameSize bounds a single network link frame (64 KiB).
const MaxFrameSize = 64 * 1024

// FramePool provides reusable frame buffers for the network link
// reader, reducing GC pressure on the per-APDU hot path.
var FramePool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MaxFrameSize)
		return &buf
	},
}

// GetFrame retrieves a buffer from the pool.  Callers must return it
// with [PutFrame] when finished.
func GetFrame() *[]byte {
	return FramePool.Get().(*[]byte)
}

// PutFrame returns a buffer to the pool for reuse.
func PutFrame(buf *[]byte) {
	if buf == nil {
		return
	}
	FramePool.Put(buf)
}

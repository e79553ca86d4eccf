// Package buffer pools the byte slices that carry websocket frames between
// the network and the frame decoder.
package buffer

import (
	"errors"
	"io"
	"math/bits"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	// MinSize is the smallest size class handed out by Get.
	MinSize = 1 << minClass

	// MaxPooledSize is the largest size class kept for reuse. Larger frames
	// are allocated directly and left to the garbage collector.
	MaxPooledSize = 1 << maxClass

	minClass = 9
	maxClass = 20
)

var errInvalidCapacity = errors.New("buffer: capacity is not a pooled size class")

var classes [maxClass + 1]sync.Pool

// WriteBufferPool is shared by every websocket dialer so that idle
// connections do not each pin a write buffer.
var WriteBufferPool websocket.BufferPool = &sync.Pool{}

func classOf(size int) int {
	if size <= MinSize {
		return minClass
	}
	return bits.Len(uint(size - 1))
}

// Get returns a slice of length size from the most appropriate size class.
func Get(size int) []byte {
	if size < 0 {
		return nil
	}
	class := classOf(size)
	if class > maxClass {
		return make([]byte, size)
	}
	if v := classes[class].Get(); v != nil {
		buf := *(v.(*[]byte))
		return buf[:size]
	}
	return make([]byte, size, 1<<class)
}

// Put returns a slice obtained from Get to its size class.
func Put(buf []byte) error {
	c := cap(buf)
	if c < MinSize || c > MaxPooledSize || c&(c-1) != 0 {
		return errInvalidCapacity
	}
	buf = buf[:0]
	classes[bits.Len(uint(c))-1].Put(&buf)
	return nil
}

// Bytes is a payload that may be backed by a pooled slice. Call Release once
// the payload is no longer referenced.
type Bytes struct {
	data []byte
}

// Bytes returns the payload.
func (b *Bytes) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Len returns the payload length.
func (b *Bytes) Len() int {
	return len(b.Bytes())
}

// Release hands the backing slice back to the pool. It is safe to call more
// than once.
func (b *Bytes) Release() {
	if b == nil || b.data == nil {
		return
	}
	_ = Put(b.data[:cap(b.data)])
	b.data = nil
}

// ReadAll drains r into a pooled buffer.
func ReadAll(r io.Reader) (*Bytes, error) {
	buf := Get(MinSize)[:0]
	for {
		if len(buf) == cap(buf) {
			grown := Get(2 * cap(buf))[:len(buf)]
			copy(grown, buf)
			_ = Put(buf)
			buf = grown
		}
		n, err := r.Read(buf[len(buf):cap(buf)])
		buf = buf[:len(buf)+n]
		if err == io.EOF {
			return &Bytes{data: buf}, nil
		}
		if err != nil {
			_ = Put(buf)
			return nil, err
		}
	}
}

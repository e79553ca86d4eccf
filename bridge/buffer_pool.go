//  buffer_pool.go
//  ZoneClient Bridge
//
//  Copyright (c) 2025 Relative Companies, Inc.
//  Personal, non-commercial use only.
//
//  Reuses the buffers events are JSON-encoded into on their way to the host,
//  keeping garbage down on memory-constrained devices.

package bridge

import (
	"bytes"
	"encoding/json"
	"sync"
)

const maxPooledBufferSize = 1 << 16 // 64 KiB covers every event but large snapshots.

var encodeBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 2048))
	},
}

func acquireBuffer() *bytes.Buffer {
	buf := encodeBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func releaseBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBufferSize {
		return
	}
	encodeBufferPool.Put(buf)
}

// encodeJSON returns the JSON encoding of v as a string that does not share
// memory with the pooled buffer.
func encodeJSON(v any) (string, error) {
	buf := acquireBuffer()
	defer releaseBuffer(buf)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Package bpool recycles the byte buffers that hold the unparsed
// input of each connection.
package bpool

import (
	"bytes"
	"sync"
)

// maxRetained is the largest buffer capacity Put will keep.
const maxRetained = 64 << 10

var buffers sync.Pool

// Get returns an empty buffer, reusing one released by a closed
// connection when there is one.
func Get() *bytes.Buffer {
	if b, ok := buffers.Get().(*bytes.Buffer); ok {
		return b
	}
	return new(bytes.Buffer)
}

// Put resets b and makes it available to Get. b must not be used
// afterwards. Buffers grown past maxRetained are dropped.
func Put(b *bytes.Buffer) {
	if b.Cap() > maxRetained {
		return
	}
	b.Reset()
	buffers.Put(b)
}

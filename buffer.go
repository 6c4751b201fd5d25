package wsecho

import (
	"bytes"
	"fmt"

	"github.com/coder/wsecho/internal/bpool"
)

// buffer accumulates the bytes received from the transport until
// the Machine has enough of them to make progress.
//
// It is a single contiguous buffer read through a cursor, so a read
// never cares how the bytes were chunked on the way in.
type buffer struct {
	b *bytes.Buffer
}

func newBuffer() *buffer {
	return &buffer{
		b: bpool.Get(),
	}
}

func (b *buffer) append(p []byte) {
	b.b.Write(p)
}

// len returns the number of bytes received but not yet consumed.
func (b *buffer) len() int {
	return b.b.Len()
}

// peek returns the next n bytes without consuming them.
// The returned slice is only valid until the next append or consume.
func (b *buffer) peek(n int) []byte {
	b.mustHave(n)
	return b.b.Bytes()[:n]
}

// consume removes the next n bytes and returns them.
// The returned slice is only valid until the next append.
func (b *buffer) consume(n int) []byte {
	b.mustHave(n)
	return b.b.Next(n)
}

func (b *buffer) mustHave(n int) {
	if n < 0 || n > b.b.Len() {
		panic(fmt.Sprintf("wsecho: cannot consume %v bytes from a buffer holding %v", n, b.b.Len()))
	}
}

// release returns the storage to the pool. The buffer must
// not be used afterwards.
func (b *buffer) release() {
	if b.b == nil {
		return
	}
	bpool.Put(b.b)
	b.b = nil
}

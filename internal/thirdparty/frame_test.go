package thirdparty

import (
	"bytes"
	"runtime"
	"strconv"
	"testing"
	_ "unsafe"

	"github.com/gobwas/ws"
	_ "github.com/gorilla/websocket"
	_ "github.com/lesismal/nbio/nbhttp/websocket"

	_ "github.com/coder/wsecho"
)

func basicMask(b []byte, maskKey [4]byte, pos int) int {
	for i := range b {
		b[i] ^= maskKey[pos&3]
		pos++
	}
	return pos & 3
}

//go:linkname wsechoMask github.com/coder/wsecho.mask
func wsechoMask(key [4]byte, pos int, b []byte) int

//go:linkname nbioMaskBytes github.com/lesismal/nbio/nbhttp/websocket.maskXOR
func nbioMaskBytes(b, key []byte) int

//go:linkname gorillaMaskBytes github.com/gorilla/websocket.maskBytes
func gorillaMaskBytes(key [4]byte, pos int, b []byte) int

func Test_mask(t *testing.T) {
	t.Parallel()

	key := [4]byte{0xa1, 0xb2, 0xc3, 0xd4}
	for _, size := range []int{1, 7, 8, 31, 32, 33, 1000} {
		exp := make([]byte, size)
		for i := range exp {
			exp[i] = byte(i)
		}
		p := append([]byte(nil), exp...)
		basicMask(exp, key, 1)

		pos := wsechoMask(key, 1, p)
		if !bytes.Equal(exp, p) {
			t.Fatalf("mismatch at size %v", size)
		}
		if pos != (1+size)&3 {
			t.Fatalf("unexpected pos at size %v: %v", size, pos)
		}
	}
}

func Benchmark_mask(b *testing.B) {
	b.Run(runtime.GOARCH, benchmark_mask)
}

func benchmark_mask(b *testing.B) {
	sizes := []int{
		8,
		16,
		32,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		16384,
	}

	fns := []struct {
		name string
		fn   func(b *testing.B, key [4]byte, p []byte)
	}{
		{
			name: "basic",
			fn: func(b *testing.B, key [4]byte, p []byte) {
				for i := 0; i < b.N; i++ {
					basicMask(p, key, 0)
				}
			},
		},
		{
			name: "wsecho",
			fn: func(b *testing.B, key [4]byte, p []byte) {
				for i := 0; i < b.N; i++ {
					wsechoMask(key, 0, p)
				}
			},
		},
		{
			name: "gorilla",
			fn: func(b *testing.B, key [4]byte, p []byte) {
				for i := 0; i < b.N; i++ {
					gorillaMaskBytes(key, 0, p)
				}
			},
		},
		{
			name: "gobwas",
			fn: func(b *testing.B, key [4]byte, p []byte) {
				for i := 0; i < b.N; i++ {
					ws.Cipher(p, key, 0)
				}
			},
		},
		{
			name: "nbio",
			fn: func(b *testing.B, key [4]byte, p []byte) {
				keyb := key[:]
				for i := 0; i < b.N; i++ {
					nbioMaskBytes(p, keyb)
				}
			},
		},
	}

	key := [4]byte{1, 2, 3, 4}

	for _, fn := range fns {
		b.Run(fn.name, func(b *testing.B) {
			for _, size := range sizes {
				p := make([]byte, size)

				b.Run(strconv.Itoa(size), func(b *testing.B) {
					b.SetBytes(int64(size))

					fn.fn(b, key, p)
				})
			}
		})
	}
}

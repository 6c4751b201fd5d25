// Package xrand generates random payloads, masking keys and
// close reasons for tests.
package xrand

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Bytes returns n random bytes.
func Bytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		panic(fmt.Sprintf("failed to generate rand bytes: %v", err))
	}
	return b
}

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 .,!?"

// String returns n random printable ASCII characters, valid as
// a text message or close reason.
func String(n int) string {
	b := Bytes(n)
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}

// MaskKey returns a random masking key.
func MaskKey() [4]byte {
	var k [4]byte
	copy(k[:], Bytes(len(k)))
	return k
}

// Bool returns a random boolean.
func Bool() bool {
	return Int(2) == 1
}

// Int returns a random integer in [0, max).
func Int(max int) int {
	x, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("failed to get random int: %v", err))
	}
	return int(x.Int64())
}

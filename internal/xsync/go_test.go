package xsync

import (
	"errors"
	"testing"

	"github.com/coder/wsecho/internal/test/assert"
)

func TestGo(t *testing.T) {
	t.Parallel()

	exp := errors.New("listener closed")
	err := <-Go(func() error {
		return exp
	})
	assert.ErrorIs(t, exp, err)
}

func TestGoRecover(t *testing.T) {
	t.Parallel()

	errs := Go(func() error {
		panic("anmol")
	})

	err := <-errs
	assert.Contains(t, err, "anmol")
}

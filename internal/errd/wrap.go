// Package errd holds the deferred error helpers used on every
// connection path: handshake, serve and close.
package errd

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/xerrors"
)

// wrapError prefixes err with the operation that failed and records
// where, so %+v on an error from Serve shows the call site.
type wrapError struct {
	op    string
	err   error
	frame xerrors.Frame
}

func (e *wrapError) Error() string {
	return fmt.Sprint(e)
}

func (e *wrapError) Format(s fmt.State, v rune) { xerrors.FormatError(e, s, v) }

func (e *wrapError) FormatError(p xerrors.Printer) (next error) {
	p.Print(e.op)
	e.frame.Format(p)
	return e.err
}

func (e *wrapError) Unwrap() error {
	return e.err
}

// Wrap prefixes *err with the operation described by f if it is non nil.
// Use it with defer and a named error return.
func Wrap(err *error, f string, v ...interface{}) {
	if *err == nil {
		return
	}
	*err = &wrapError{
		op:    fmt.Sprintf(f, v...),
		err:   *err,
		frame: xerrors.Caller(1),
	}
}

// IgnoreClosed returns nil if err only reports that the transport
// was already closed, and err otherwise.
func IgnoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

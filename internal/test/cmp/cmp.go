// Package cmp wraps go-cmp with the options every comparison of
// effects, close errors and frames in this module needs.
package cmp

import (
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// opts compares unexported fields, treats a nil payload like an empty
// one and compares errors with errors.Is.
var opts = cmp.Options{
	cmpopts.EquateErrors(),
	cmpopts.EquateEmpty(),
	cmp.Exporter(func(reflect.Type) bool {
		return true
	}),
}

// Equal reports whether v1 and v2 are equal.
func Equal(v1, v2 interface{}) bool {
	return cmp.Equal(v1, v2, opts)
}

// Diff returns a human readable diff between v1 and v2.
func Diff(v1, v2 interface{}) string {
	return cmp.Diff(v1, v2, opts)
}

package metrics

import (
	"errors"
	"io/fs"

	"github.com/jeffypooo/hostscope/internal/procfs"
)

// Reason says why a source produced its default value instead of data.
type Reason string

const (
	ReasonOK          Reason = ""
	ReasonVanished    Reason = "vanished"
	ReasonPermission  Reason = "permission"
	ReasonMalformed   Reason = "malformed"
	ReasonUnavailable Reason = "unavailable"
)

// Result carries a value read from one source together with the reason it
// may be a default. Value is meaningful only when Reason is ReasonOK.
type Result[T any] struct {
	Value  T
	Reason Reason
}

func (r Result[T]) OK() bool {
	return r.Reason == ReasonOK
}

// Or returns the value, or def when the read did not succeed.
func (r Result[T]) Or(def T) T {
	if r.OK() {
		return r.Value
	}
	return def
}

func resultOf[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func resultErr[T any](err error) Result[T] {
	return Result[T]{Reason: classify(err)}
}

// classify maps an error from reading a pseudo-file onto a Reason.
func classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, fs.ErrNotExist) || isNoSuchProcess(err):
		return ReasonVanished
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermission
	case errors.Is(err, procfs.ErrMalformed):
		return ReasonMalformed
	}
	return ReasonUnavailable
}

// hostReason reclassifies a failure to read a host-wide file. Such files
// do not vanish the way a process directory does.
func hostReason(r Reason) Reason {
	if r == ReasonVanished {
		return ReasonUnavailable
	}
	return r
}

// read loads one file and parses it, folding both failure kinds into a Result.
func read[T any](load func() ([]byte, error), parse func([]byte) (T, error)) Result[T] {
	data, err := load()
	if err != nil {
		return resultErr[T](err)
	}
	v, err := parse(data)
	if err != nil {
		return resultErr[T](err)
	}
	return resultOf(v)
}

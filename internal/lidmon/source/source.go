// Package source defines the device-event source the capture loop reads from.
package source

import (
	"errors"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

var (
	// ErrDeviceUnavailable means the configured seat could not be assigned.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrInterrupted means Wait returned without readiness (EINTR or a Wake
	// call). The caller should simply wait again.
	ErrInterrupted = errors.New("wait interrupted")
)

// Source is an open device-event stream for one seat.
type Source interface {
	// Wait blocks until events may be available. It has no timeout.
	Wait() error
	// Drain returns every event buffered right now without blocking. The
	// slice is finite and may be empty.
	Drain() ([]types.RawEvent, error)
	Close() error
}

// Waker is implemented by sources whose Wait can be unblocked from another
// goroutine. Wait then returns ErrInterrupted.
type Waker interface {
	Wake() error
}

// Readiness is implemented by sources backed by a pollable descriptor.
type Readiness interface {
	ReadinessFd() int
}

// Opener opens a Source for a seat identifier such as "seat0".
type Opener func(seat string) (Source, error)

// DeviceOpener opens and closes device nodes on behalf of a source, e.g. to
// go through a privileged helper instead of open(2).
type DeviceOpener interface {
	OpenDevice(path string, flags int) (int, error)
	CloseDevice(fd int) error
}

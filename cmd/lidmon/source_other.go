//go:build !linux

package main

import (
	"fmt"
	"log"
	"runtime"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/source"
)

func deviceOpener(*log.Logger) source.Opener {
	return func(seat string) (source.Source, error) {
		return nil, fmt.Errorf("%w: seat %s: evdev is not available on %s", source.ErrDeviceUnavailable, seat, runtime.GOOS)
	}
}

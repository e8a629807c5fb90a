//go:build linux

package main

import (
	"log"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/source"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/source/evdev"
)

func deviceOpener(logger *log.Logger) source.Opener {
	return evdev.NewOpener(evdev.Config{
		Opener: source.SysOpener{},
		Logger: logger,
	})
}

//go:build linux

package source

import "golang.org/x/sys/unix"

// SysOpener opens device nodes directly with open(2).
type SysOpener struct{}

func (SysOpener) OpenDevice(path string, flags int) (int, error) {
	for {
		fd, err := unix.Open(path, flags|unix.O_CLOEXEC, 0)
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

func (SysOpener) CloseDevice(fd int) error {
	return unix.Close(fd)
}

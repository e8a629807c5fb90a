//go:build linux

// Package evdev reads switch events straight from the kernel's evdev nodes.
// One epoll instance multiplexes every device on the seat, an inotify watch
// on the input directory (hot-plug) and an eventfd used by Wake.
package evdev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/source"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

const (
	DefaultInputDir    = "/dev/input"
	DefaultUdevDataDir = "/run/udev/data"

	readBatch = 64
)

type Config struct {
	Seat        string
	InputDir    string              // default /dev/input
	UdevDataDir string              // default /run/udev/data
	Opener      source.DeviceOpener // default source.SysOpener
	Logger      *log.Logger
	Clock       func() time.Time
}

type device struct {
	path  string
	fd    int
	frame *frameState
}

type Source struct {
	cfg     Config
	logger  *log.Logger
	opener  source.DeviceOpener
	epfd    int
	inotify int
	wakefd  int

	devices map[int]*device
	byPath  map[string]int
	buf     []byte

	closeOnce sync.Once
}

var _ source.Source = (*Source)(nil)
var _ source.Waker = (*Source)(nil)
var _ source.Readiness = (*Source)(nil)

// NewOpener returns a source.Opener that opens evdev sources with base as
// the template config (its Seat is replaced).
func NewOpener(base Config) source.Opener {
	return func(seat string) (source.Source, error) {
		cfg := base
		cfg.Seat = seat
		s, err := Open(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Open assigns the seat: it opens every event node that belongs to it.
// Failing to set up polling, to read the input directory, or to open any
// device on the seat is ErrDeviceUnavailable.
func Open(cfg Config) (*Source, error) {
	if cfg.Seat == "" {
		cfg.Seat = DefaultSeat
	}
	if cfg.InputDir == "" {
		cfg.InputDir = DefaultInputDir
	}
	if cfg.UdevDataDir == "" {
		cfg.UdevDataDir = DefaultUdevDataDir
	}
	if cfg.Opener == nil {
		cfg.Opener = source.SysOpener{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Source{
		cfg:     cfg,
		logger:  cfg.Logger,
		opener:  cfg.Opener,
		epfd:    -1,
		inotify: -1,
		wakefd:  -1,
		devices: make(map[int]*device),
		byPath:  make(map[string]int),
		buf:     make([]byte, readBatch*eventSize),
	}

	if err := s.setup(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: seat %s: %v", source.ErrDeviceUnavailable, cfg.Seat, err)
	}
	return s, nil
}

func (s *Source) setup() error {
	var err error
	if s.epfd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	if s.wakefd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		return fmt.Errorf("eventfd: %w", err)
	}
	if err := s.watch(s.wakefd); err != nil {
		return err
	}

	if s.inotify, err = unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC); err != nil {
		return fmt.Errorf("inotify_init1: %w", err)
	}
	if _, err := unix.InotifyAddWatch(s.inotify, s.cfg.InputDir,
		unix.IN_CREATE|unix.IN_DELETE|unix.IN_ATTRIB|unix.IN_MOVED_TO); err != nil {
		return fmt.Errorf("inotify watch %s: %w", s.cfg.InputDir, err)
	}
	if err := s.watch(s.inotify); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.cfg.InputDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.cfg.InputDir, err)
	}

	var candidates int
	for _, e := range entries {
		if !isEventNode(e.Name()) {
			continue
		}
		path := filepath.Join(s.cfg.InputDir, e.Name())
		if s.seatOf(path) != s.cfg.Seat {
			continue
		}
		candidates++
		s.addDevice(path)
	}

	if len(s.devices) == 0 {
		return fmt.Errorf("no usable input devices (%d on seat)", candidates)
	}
	s.logger.Printf("evdev seat=%s devices=%d", s.cfg.Seat, len(s.devices))
	return nil
}

// ReadinessFd is the epoll descriptor; it becomes readable whenever Drain
// has something to do.
func (s *Source) ReadinessFd() int { return s.epfd }

// Devices lists the device nodes currently open, sorted.
func (s *Source) Devices() []string {
	out := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Source) Wait() error {
	var evs [16]unix.EpollEvent
	n, err := unix.EpollWait(s.epfd, evs[:], -1)
	if err == unix.EINTR {
		return source.ErrInterrupted
	}
	if err != nil {
		return fmt.Errorf("epoll_wait: %w", err)
	}

	woken := false
	for i := 0; i < n; i++ {
		if int(evs[i].Fd) == s.wakefd {
			woken = true
			continue
		}
		return nil
	}
	if woken {
		var b [8]byte
		_, _ = unix.Read(s.wakefd, b[:])
		return source.ErrInterrupted
	}
	return nil
}

func (s *Source) Wake() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(s.wakefd, b[:]); err != nil && err != unix.EAGAIN {
		return fmt.Errorf("wake: %w", err)
	}
	return nil
}

// Drain handles pending hot-plug notifications, then reads every device
// until it would block. Events are merged across devices by kernel
// timestamp; per-device order is kept.
func (s *Source) Drain() ([]types.RawEvent, error) {
	if err := s.handleHotplug(); err != nil {
		return nil, err
	}

	fds := make([]int, 0, len(s.devices))
	for fd := range s.devices {
		fds = append(fds, fd)
	}
	sort.Ints(fds)

	var out []types.RawEvent
	for _, fd := range fds {
		out = append(out, s.readDevice(s.devices[fd])...)
	}
	if len(fds) > 1 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	}
	return out, nil
}

func (s *Source) readDevice(d *device) []types.RawEvent {
	var out []types.RawEvent
	for {
		n, err := unix.Read(d.fd, s.buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return out
		}
		if err != nil {
			s.logger.Printf("evdev read failed device=%s err=%v (dropping device)", d.path, err)
			s.removeDevice(d.fd)
			return out
		}
		if n == 0 {
			s.logger.Printf("evdev device closed device=%s", d.path)
			s.removeDevice(d.fd)
			return out
		}

		evs, resync := d.frame.feed(d.path, decodeInputEvents(s.buf[:n]))
		out = append(out, evs...)
		if resync {
			s.logger.Printf("evdev events dropped by kernel device=%s (resyncing switch state)", d.path)
			if bits, err := querySwitches(d.fd); err == nil {
				out = append(out, d.frame.reconcile(d.path, bits, s.cfg.Clock())...)
			} else {
				s.logger.Printf("evdev resync failed device=%s err=%v", d.path, err)
			}
		}
	}
}

func (s *Source) handleHotplug() error {
	var buf [4096]byte
	for {
		n, err := unix.Read(s.inotify, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return fmt.Errorf("inotify read: %w", err)
		}

		for off := 0; off+unix.SizeofInotifyEvent <= n; {
			ev := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
			nameBytes := buf[off+unix.SizeofInotifyEvent : off+unix.SizeofInotifyEvent+int(ev.Len)]
			off += unix.SizeofInotifyEvent + int(ev.Len)

			name := string(trimNul(nameBytes))
			if !isEventNode(name) {
				continue
			}
			path := filepath.Join(s.cfg.InputDir, name)

			switch {
			case ev.Mask&unix.IN_DELETE != 0:
				if fd, ok := s.byPath[path]; ok {
					s.logger.Printf("evdev device removed device=%s", path)
					s.removeDevice(fd)
				}
			case ev.Mask&(unix.IN_CREATE|unix.IN_ATTRIB|unix.IN_MOVED_TO) != 0:
				// IN_ATTRIB retries nodes that udev had not yet made readable.
				if _, ok := s.byPath[path]; ok {
					continue
				}
				if s.seatOf(path) != s.cfg.Seat {
					continue
				}
				s.addDevice(path)
			}
		}
	}
}

func (s *Source) addDevice(path string) {
	fd, err := s.opener.OpenDevice(path, unix.O_RDONLY|unix.O_NONBLOCK)
	if err != nil {
		s.logger.Printf("evdev open failed device=%s err=%v", path, err)
		return
	}
	if err := s.watch(fd); err != nil {
		s.logger.Printf("evdev poll failed device=%s err=%v", path, err)
		_ = s.opener.CloseDevice(fd)
		return
	}

	d := &device{path: path, fd: fd, frame: newFrameState()}
	if bits, err := querySwitches(fd); err == nil {
		d.frame.prime(bits)
	}
	s.devices[fd] = d
	s.byPath[path] = fd
	s.logger.Printf("evdev device added device=%s", path)
}

func (s *Source) removeDevice(fd int) {
	d, ok := s.devices[fd]
	if !ok {
		return
	}
	_ = unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err := s.opener.CloseDevice(fd); err != nil {
		s.logger.Printf("evdev close failed device=%s err=%v", d.path, err)
	}
	delete(s.devices, fd)
	delete(s.byPath, d.path)
}

func (s *Source) watch(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

// seatOf resolves the udev seat of a device node from the udev database.
func (s *Source) seatOf(path string) string {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return DefaultSeat
	}
	name := fmt.Sprintf("c%d:%d", unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)))
	f, err := os.Open(filepath.Join(s.cfg.UdevDataDir, name))
	if err != nil {
		return DefaultSeat
	}
	defer f.Close()
	return parseUdevSeat(f)
}

func (s *Source) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		for fd := range s.devices {
			s.removeDevice(fd)
		}
		for _, fd := range []int{s.inotify, s.wakefd, s.epfd} {
			if fd >= 0 {
				if err := unix.Close(fd); err != nil {
					errs = append(errs, err)
				}
			}
		}
	})
	return errors.Join(errs...)
}

// querySwitches issues EVIOCGSW to read the current switch bitmask.
func querySwitches(fd int) ([]byte, error) {
	bits := make([]byte, 8)
	req := ioc(iocRead, 'E', 0x1b, uintptr(len(bits)))
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&bits[0])))
	if errno != 0 {
		return nil, errno
	}
	return bits, nil
}

const iocRead = 2

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | typ<<8 | nr
}

func trimNul(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

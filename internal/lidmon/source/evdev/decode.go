package evdev

import (
	"bufio"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

// Kernel event types and codes (linux/input-event-codes.h).
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03
	evSw  = 0x05

	synReport  = 0
	synDropped = 3

	swMax = 0x10
)

// struct input_event: struct timeval (two longs), __u16 type, __u16 code, __s32 value.
const (
	longSize  = strconv.IntSize / 8
	eventSize = 2*longSize + 8
)

// DefaultSeat is the seat a device belongs to when udev assigns none.
const DefaultSeat = "seat0"

type inputEvent struct {
	time  time.Time
	typ   uint16
	code  uint16
	value int32
}

// decodeInputEvents parses as many whole input_event structs as buf holds.
func decodeInputEvents(buf []byte) []inputEvent {
	n := len(buf) / eventSize
	out := make([]inputEvent, 0, n)
	for i := 0; i < n; i++ {
		b := buf[i*eventSize : (i+1)*eventSize]
		var sec, usec int64
		if longSize == 8 {
			sec = int64(binary.NativeEndian.Uint64(b[0:8]))
			usec = int64(binary.NativeEndian.Uint64(b[8:16]))
		} else {
			sec = int64(int32(binary.NativeEndian.Uint32(b[0:4])))
			usec = int64(int32(binary.NativeEndian.Uint32(b[4:8])))
		}
		off := 2 * longSize
		out = append(out, inputEvent{
			time:  time.Unix(sec, usec*1000),
			typ:   binary.NativeEndian.Uint16(b[off : off+2]),
			code:  binary.NativeEndian.Uint16(b[off+2 : off+4]),
			value: int32(binary.NativeEndian.Uint32(b[off+4 : off+8])),
		})
	}
	return out
}

func rawType(typ uint16) types.RawEventType {
	switch typ {
	case evSw:
		return types.RawSwitchToggle
	case evRel, evAbs:
		return types.RawPointerMotion
	case evKey:
		return types.RawKeyboardKey
	default:
		return types.RawOther
	}
}

// frameState turns a device's input_event stream into RawEvents. It consumes
// EV_SYN framing and handles SYN_DROPPED: everything up to the next
// SYN_REPORT is discarded and the caller must resync switch state.
type frameState struct {
	dropping bool
	switches map[uint16]int32 // last known value per switch code
}

func newFrameState() *frameState {
	return &frameState{switches: make(map[uint16]int32)}
}

// feed returns the RawEvents for evs and whether a resync is needed.
func (f *frameState) feed(device string, evs []inputEvent) (out []types.RawEvent, resync bool) {
	for _, ev := range evs {
		if ev.typ == evSyn {
			switch ev.code {
			case synDropped:
				f.dropping = true
			case synReport:
				if f.dropping {
					f.dropping = false
					resync = true
				}
			}
			continue
		}
		if f.dropping {
			continue
		}
		if ev.typ == evSw {
			// The kernel only reports switch changes, so a repeat of the
			// known value was already emitted by reconcile.
			if old, known := f.switches[ev.code]; known && old == ev.value {
				continue
			}
			f.switches[ev.code] = ev.value
		}
		out = append(out, types.RawEvent{
			Type:   rawType(ev.typ),
			Code:   ev.code,
			Value:  ev.value,
			Time:   ev.time,
			Device: device,
		})
	}
	return out, resync
}

// reconcile compares queried switch bits against the last known values and
// returns synthetic switch events for every switch that changed while events
// were being dropped.
func (f *frameState) reconcile(device string, bits []byte, at time.Time) []types.RawEvent {
	var out []types.RawEvent
	for code := uint16(0); code <= swMax; code++ {
		idx := int(code / 8)
		if idx >= len(bits) {
			break
		}
		var v int32
		if bits[idx]&(1<<(code%8)) != 0 {
			v = 1
		}
		old, known := f.switches[code]
		if !known {
			continue
		}
		if old != v {
			f.switches[code] = v
			out = append(out, types.RawEvent{
				Type:   types.RawSwitchToggle,
				Code:   code,
				Value:  v,
				Time:   at,
				Device: device,
			})
		}
	}
	return out
}

// prime records the initial switch bits without emitting events.
func (f *frameState) prime(bits []byte) {
	for code := uint16(0); code <= swMax; code++ {
		idx := int(code / 8)
		if idx >= len(bits) {
			break
		}
		var v int32
		if bits[idx]&(1<<(code%8)) != 0 {
			v = 1
		}
		f.switches[code] = v
	}
}

// parseUdevSeat extracts ID_SEAT from a udev database entry
// (/run/udev/data/c<major>:<minor>). Devices without one belong to seat0.
func parseUdevSeat(r io.Reader) string {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "E:ID_SEAT="); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return DefaultSeat
}

func isEventNode(name string) bool {
	rest, ok := strings.CutPrefix(name, "event")
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

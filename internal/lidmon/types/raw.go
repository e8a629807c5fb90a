package types

import "time"

type RawEventType int

const (
	RawOther RawEventType = iota
	RawSwitchToggle
	RawPointerMotion
	RawKeyboardKey
)

func (t RawEventType) String() string {
	switch t {
	case RawSwitchToggle:
		return "switch_toggle"
	case RawPointerMotion:
		return "pointer_motion"
	case RawKeyboardKey:
		return "keyboard_key"
	default:
		return "other"
	}
}

// RawEvent is one event as read from a device, before classification.
// Code and Value carry the kernel's code/value fields unchanged.
type RawEvent struct {
	Type   RawEventType
	Code   uint16
	Value  int32
	Time   time.Time // kernel timestamp of the event
	Device string    // device node the event came from
}

package types

import (
	"fmt"
	"time"
)

// SwitchKind identifies a physical switch. Values match the kernel's
// SW_* codes so raw events can be compared without a lookup table.
type SwitchKind uint16

const (
	SwitchLid        SwitchKind = 0x00 // SW_LID
	SwitchTabletMode SwitchKind = 0x01 // SW_TABLET_MODE
)

func (k SwitchKind) String() string {
	switch k {
	case SwitchLid:
		return "lid"
	case SwitchTabletMode:
		return "tablet_mode"
	default:
		return fmt.Sprintf("switch(%d)", uint16(k))
	}
}

// ParseSwitchKind maps a config value to a SwitchKind.
func ParseSwitchKind(s string) (SwitchKind, error) {
	switch s {
	case "", "lid":
		return SwitchLid, nil
	case "tablet_mode":
		return SwitchTabletMode, nil
	default:
		return 0, fmt.Errorf("unknown switch kind %q", s)
	}
}

// SwitchState is the raw integer state reported by the device. For the lid
// switch, 1 means closed and 0 means open. Stored verbatim.
type SwitchState int

const (
	SwitchOff SwitchState = 0
	SwitchOn  SwitchState = 1
)

func (s SwitchState) Valid() bool { return s == SwitchOff || s == SwitchOn }

// LidString renders the state the way a lid reads.
func (s SwitchState) LidString() string {
	switch s {
	case SwitchOff:
		return "open"
	case SwitchOn:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SwitchEvent is a classified switch transition. ObservedAt is stamped when
// the event is classified; the store persists it and never computes its own.
// SourceTime is the device's own timestamp, zero if the source has none.
type SwitchEvent struct {
	Kind       SwitchKind
	State      SwitchState
	ObservedAt time.Time
	SourceTime time.Time
}

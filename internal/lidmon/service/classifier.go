package service

import (
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

// Classifier keeps switch toggles of one switch kind and drops everything
// else. It holds no state between calls and is safe for concurrent use.
type Classifier struct {
	Kind  types.SwitchKind
	Clock func() time.Time // stamps ObservedAt; defaults to time.Now
}

func NewClassifier(kind types.SwitchKind) Classifier {
	return Classifier{Kind: kind, Clock: time.Now}
}

// Classify maps a raw event to a SwitchEvent. Pointer motion, keys, other
// switches and switch values outside {0,1} are not errors; they are dropped.
func (c Classifier) Classify(ev types.RawEvent) (types.SwitchEvent, bool) {
	if ev.Type != types.RawSwitchToggle {
		return types.SwitchEvent{}, false
	}
	if types.SwitchKind(ev.Code) != c.Kind {
		return types.SwitchEvent{}, false
	}
	state := types.SwitchState(ev.Value)
	if !state.Valid() {
		return types.SwitchEvent{}, false
	}

	now := time.Now
	if c.Clock != nil {
		now = c.Clock
	}
	return types.SwitchEvent{
		Kind:       c.Kind,
		State:      state,
		ObservedAt: now().UTC(),
		SourceTime: ev.Time,
	}, true
}

// ClassifyBatch classifies evs in order.
func (c Classifier) ClassifyBatch(evs []types.RawEvent) []types.SwitchEvent {
	var out []types.SwitchEvent
	for _, ev := range evs {
		if sev, ok := c.Classify(ev); ok {
			out = append(out, sev)
		}
	}
	return out
}

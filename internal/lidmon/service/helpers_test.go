package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/service"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/source"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store/memory"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

var baseTime = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

// syncBuffer is a log sink that can be read while the loop is writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// lidRaw is a lid switch toggle as the evdev adapter reports it. Each event
// gets a distinct source time unless the test reuses one on purpose.
func lidRaw(value int32, at time.Time) types.RawEvent {
	return types.RawEvent{
		Type:   types.RawSwitchToggle,
		Code:   uint16(types.SwitchLid),
		Value:  value,
		Time:   at,
		Device: "/dev/input/event0",
	}
}

func pointerRaw(at time.Time) types.RawEvent {
	return types.RawEvent{Type: types.RawPointerMotion, Code: 0, Value: 3, Time: at, Device: "/dev/input/event5"}
}

func keyRaw(at time.Time) types.RawEvent {
	return types.RawEvent{Type: types.RawKeyboardKey, Code: 30, Value: 1, Time: at, Device: "/dev/input/event2"}
}

func tabletRaw(value int32, at time.Time) types.RawEvent {
	return types.RawEvent{Type: types.RawSwitchToggle, Code: uint16(types.SwitchTabletMode), Value: value, Time: at, Device: "/dev/input/event0"}
}

// round is one Wait result followed by the batches successive Drain calls
// return. Drain returns empty once the batches are used up.
type round struct {
	waitErr  error
	batches  [][]types.RawEvent
	drainErr error
}

// fakeSource plays a script of rounds. Once the script is exhausted, Wait
// signals idle and blocks until Wake.
type fakeSource struct {
	mu     sync.Mutex
	rounds []round
	cur    *round

	idle     chan struct{}
	idleOnce sync.Once
	wake     chan struct{}
	wakeOnce sync.Once
	closed   atomic.Int32
}

var _ source.Waker = (*fakeSource)(nil)

func newFakeSource(rounds ...round) *fakeSource {
	return &fakeSource{
		rounds: rounds,
		idle:   make(chan struct{}),
		wake:   make(chan struct{}),
	}
}

func (f *fakeSource) Wait() error {
	f.mu.Lock()
	if len(f.rounds) > 0 {
		r := f.rounds[0]
		f.rounds = f.rounds[1:]
		f.cur = &r
		f.mu.Unlock()
		return r.waitErr
	}
	f.cur = nil
	f.mu.Unlock()

	f.idleOnce.Do(func() { close(f.idle) })
	<-f.wake
	return source.ErrInterrupted
}

func (f *fakeSource) Drain() ([]types.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur == nil {
		return nil, nil
	}
	if f.cur.drainErr != nil {
		return nil, f.cur.drainErr
	}
	if len(f.cur.batches) == 0 {
		return nil, nil
	}
	b := f.cur.batches[0]
	f.cur.batches = f.cur.batches[1:]
	return b, nil
}

func (f *fakeSource) Wake() error {
	f.wakeOnce.Do(func() { close(f.wake) })
	return nil
}

func (f *fakeSource) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeSource) opener() source.Opener {
	return func(string) (source.Source, error) { return f, nil }
}

// flakyStore fails the first `failures` Record calls (all of them when
// failures is negative) and delegates the rest to an in-memory store.
type flakyStore struct {
	*memory.LidEventStore

	mu       sync.Mutex
	failures int
	calls    int
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{LidEventStore: memory.NewLidEventStore(), failures: failures}
}

func (s *flakyStore) Record(ctx context.Context, ev types.SwitchEvent) error {
	s.mu.Lock()
	s.calls++
	fail := s.failures != 0
	if s.failures > 0 {
		s.failures--
	}
	s.mu.Unlock()

	if fail {
		return &store.Error{Kind: store.WriteFailed, Op: "Record", Err: errors.New("disk I/O error")}
	}
	return s.LidEventStore.Record(ctx, ev)
}

func (s *flakyStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stateRecorder collects every state the loop passes through.
type stateRecorder struct {
	mu     sync.Mutex
	states []service.State
}

func (r *stateRecorder) observe(s service.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) seen(s service.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st == s {
			return true
		}
	}
	return false
}

func (r *stateRecorder) last() service.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

// runUntilIdle runs the loop until src has played its whole script, then
// cancels the context and returns what Run returned. A loop that fails
// before reaching idle returns its error directly.
func runUntilIdle(t *testing.T, l *service.CaptureLoop, src *fakeSource) error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	select {
	case err := <-errc:
		return err
	case <-src.idle:
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop never went idle")
	}

	cancel()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop did not stop after cancel")
	}
	return nil
}

func lidStates(recs []store.LidSwitchRecord) []int {
	out := make([]int, len(recs))
	for i, r := range recs {
		out[i] = r.LidState
	}
	return out
}

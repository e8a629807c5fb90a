package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/notify"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/source"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

// MaxWriteRetries bounds CaptureConfig.WriteRetries. Events that cannot be
// written are never queued indefinitely.
const MaxWriteRetries = 10

type State int

const (
	StateInit State = iota
	StateWaiting
	StateDraining
	StateFatal
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWaiting:
		return "waiting"
	case StateDraining:
		return "draining"
	case StateFatal:
		return "fatal"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FatalError is returned by Run when the loop cannot continue. State is the
// state the loop was in when it failed.
type FatalError struct {
	State State
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("capture failed in %s: %v", e.State, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

type CaptureConfig struct {
	Seat string
	Kind types.SwitchKind

	// WriteRetries is how many times a failed write is retried before the
	// loop gives up. 0 (the default) fails on the first error.
	WriteRetries int
	RetryBackoff time.Duration
}

type CaptureStats struct {
	Recorded   int64 `json:"recorded"`
	Duplicates int64 `json:"duplicates"`
	Discarded  int64 `json:"discarded"`
}

// CaptureLoop waits on a device source, classifies what it drains and
// writes every matching event to the store, in drain order.
type CaptureLoop struct {
	cfg        CaptureConfig
	store      store.LidEventStore
	open       source.Opener
	classifier Classifier
	publisher  notify.Publisher
	logger     *log.Logger

	mu        sync.Mutex
	state     State
	observers []func(State)

	recorded   atomic.Int64
	duplicates atomic.Int64
	discarded  atomic.Int64
}

func NewCaptureLoop(cfg CaptureConfig, st store.LidEventStore, open source.Opener, pub notify.Publisher, logger *log.Logger) *CaptureLoop {
	if cfg.WriteRetries < 0 {
		cfg.WriteRetries = 0
	}
	if cfg.WriteRetries > MaxWriteRetries {
		cfg.WriteRetries = MaxWriteRetries
	}
	if pub == nil {
		pub = &notify.NoopPublisher{}
	}
	return &CaptureLoop{
		cfg:        cfg,
		store:      st,
		open:       open,
		classifier: NewClassifier(cfg.Kind),
		publisher:  pub,
		logger:     logger,
		state:      StateInit,
	}
}

// OnState registers fn to be called on every state change. Register before Run.
func (l *CaptureLoop) OnState(fn func(State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

func (l *CaptureLoop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *CaptureLoop) Stats() CaptureStats {
	return CaptureStats{
		Recorded:   l.recorded.Load(),
		Duplicates: l.duplicates.Load(),
		Discarded:  l.discarded.Load(),
	}
}

// Run blocks until ctx is cancelled (returns nil) or a fatal error occurs
// (returns *FatalError). The source is closed before Run returns.
func (l *CaptureLoop) Run(ctx context.Context) error {
	l.setState(StateInit)

	if err := l.store.EnsureSchema(ctx); err != nil {
		return l.fail(StateInit, err)
	}

	src, err := l.open(l.cfg.Seat)
	if err != nil {
		return l.fail(StateInit, err)
	}
	if r, ok := src.(source.Readiness); ok {
		l.logger.Printf("capture started seat=%s switch=%s readiness_fd=%d", l.cfg.Seat, l.cfg.Kind, r.ReadinessFd())
	} else {
		l.logger.Printf("capture started seat=%s switch=%s", l.cfg.Seat, l.cfg.Kind)
	}

	stopWake := wakeOnDone(ctx, src)
	err = l.loop(ctx, src)
	stopWake()

	if cerr := src.Close(); cerr != nil {
		l.logger.Printf("capture source close error: %v", cerr)
	}
	if err != nil {
		return l.fail(l.State(), err)
	}

	l.setState(StateStopped)
	st := l.Stats()
	l.logger.Printf("capture stopped recorded=%d duplicates=%d discarded=%d",
		st.Recorded, st.Duplicates, st.Discarded)
	return nil
}

func (l *CaptureLoop) loop(ctx context.Context, src source.Source) error {
	// Writes are not cancelled by shutdown; a started record completes.
	writeCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		l.setState(StateWaiting)
		if err := src.Wait(); err != nil {
			if errors.Is(err, source.ErrInterrupted) {
				continue
			}
			return fmt.Errorf("wait: %w", err)
		}

		l.setState(StateDraining)
		if err := l.drain(writeCtx, src); err != nil {
			return err
		}
	}
}

// drain calls Drain until it comes back empty.
func (l *CaptureLoop) drain(ctx context.Context, src source.Source) error {
	for {
		evs, err := src.Drain()
		if err != nil {
			return fmt.Errorf("drain: %w", err)
		}
		if len(evs) == 0 {
			return nil
		}

		matched := l.classifier.ClassifyBatch(evs)
		l.discarded.Add(int64(len(evs) - len(matched)))
		for _, ev := range matched {
			if err := l.record(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (l *CaptureLoop) record(ctx context.Context, ev types.SwitchEvent) error {
	var err error
	for attempt := 0; attempt <= l.cfg.WriteRetries; attempt++ {
		if attempt > 0 {
			l.logger.Printf("record retry attempt=%d/%d err=%v", attempt, l.cfg.WriteRetries, err)
			if l.cfg.RetryBackoff > 0 {
				time.Sleep(l.cfg.RetryBackoff)
			}
		}

		err = l.store.Record(ctx, ev)
		if err == nil {
			l.recorded.Add(1)
			l.logger.Printf("recorded switch=%s lid_state=%d (%s) created=%d",
				ev.Kind, int(ev.State), ev.State.LidString(), ev.ObservedAt.Unix())
			l.publish(ctx, ev)
			return nil
		}
		if errors.Is(err, store.ErrDuplicateEvent) {
			l.duplicates.Add(1)
			l.logger.Printf("skipped duplicate switch=%s lid_state=%d source_time=%s",
				ev.Kind, int(ev.State), ev.SourceTime.UTC().Format(time.RFC3339Nano))
			return nil
		}
	}
	return fmt.Errorf("record: %w", err)
}

// publish is best effort: the record is already durable.
func (l *CaptureLoop) publish(ctx context.Context, ev types.SwitchEvent) {
	msg := notify.SwitchChanged{
		Seat:       l.cfg.Seat,
		Switch:     ev.Kind.String(),
		State:      int(ev.State),
		Created:    ev.ObservedAt.Unix(),
		ObservedAt: ev.ObservedAt.UTC(),
	}
	if err := l.publisher.Publish(ctx, notify.TopicSwitchChanged, msg); err != nil {
		l.logger.Printf("publish error: %v", err)
	}
}

func (l *CaptureLoop) fail(at State, err error) error {
	l.setState(StateFatal)
	l.logger.Printf("capture fatal state=%s err=%v", at, err)
	return &FatalError{State: at, Err: err}
}

func (l *CaptureLoop) setState(s State) {
	l.mu.Lock()
	if l.state == s && s != StateInit {
		l.mu.Unlock()
		return
	}
	l.state = s
	obs := slices.Clone(l.observers)
	l.mu.Unlock()

	for _, fn := range obs {
		fn(s)
	}
}

// wakeOnDone unblocks src.Wait when ctx is cancelled. The returned stop
// function must be called before src is closed.
func wakeOnDone(ctx context.Context, src source.Source) func() {
	w, ok := src.(source.Waker)
	if !ok {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = w.Wake()
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
)

// ParseSchedule validates a standard five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Exporter builds one JSONL snapshot and hands it to every destination.
type Exporter struct {
	store        store.LidEventStore
	destinations []Destination
	logger       *log.Logger

	mu sync.Mutex // one export at a time
}

func NewExporter(s store.LidEventStore, destinations []Destination, logger *log.Logger) *Exporter {
	return &Exporter{store: s, destinations: destinations, logger: logger}
}

// RunOnce exports to all destinations. A failing destination does not stop
// the others; their errors are joined.
func (e *Exporter) RunOnce(ctx context.Context) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, e.store, &buf)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Events: n, Bytes: buf.Len()}

	var errs []error
	for _, dest := range e.destinations {
		if err := dest.Write(ctx, buf.Bytes()); err != nil {
			e.logger.Printf("export to %s failed: %v", dest.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", dest.Name(), err))
			continue
		}
		e.logger.Printf("exported events=%d bytes=%d to %s", st.Events, st.Bytes, dest.Name())
	}
	return st, errors.Join(errs...)
}

// Scheduler runs an Exporter on a cron schedule.
type Scheduler struct {
	exporter *Exporter
	cron     *cron.Cron
	expr     string
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler validates expr and prepares, but does not start, the schedule.
func NewScheduler(e *Exporter, expr string, logger *log.Logger) (*Scheduler, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		exporter: e,
		cron:     cron.New(),
		expr:     expr,
		logger:   logger,
	}
	s.cron.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Printf("export scheduler started (%s)", s.expr)
}

// Stop halts the schedule and waits for a running export to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cancel()
}

func (s *Scheduler) tick() {
	if _, err := s.exporter.RunOnce(s.ctx); err != nil {
		s.logger.Printf("scheduled export error: %v", err)
	}
}

package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store/memory"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func seededStore(t *testing.T, states ...int) *memory.LidEventStore {
	t.Helper()
	ms := memory.NewLidEventStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, st := range states {
		at := base.Add(time.Duration(i) * time.Second)
		err := ms.Record(context.Background(), types.SwitchEvent{
			Kind:       types.SwitchLid,
			State:      types.SwitchState(st),
			ObservedAt: at,
			SourceTime: at,
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	return ms
}

// ═══════════════════════════════════════════════════════════════════════
// JSONL
// ═══════════════════════════════════════════════════════════════════════

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), memory.NewLidEventStore(), &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != FormatVersion || h.Type != "header" || h.EventCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_EventsInIDOrder(t *testing.T) {
	ms := seededStore(t, 1, 0, 1, 1, 0)

	var buf bytes.Buffer
	if _, err := ExportJSONL(context.Background(), ms, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d:\n%s", len(lines), buf.String())
	}

	want := []int{1, 0, 1, 1, 0}
	for i, line := range lines[1:] {
		var rec struct {
			Type string `json:"type"`
			Data struct {
				ID       int64 `json:"id"`
				Created  int64 `json:"created"`
				LidState int   `json:"lid_state"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal line %d: %v", i+1, err)
		}
		if rec.Type != "lid_switch_event" {
			t.Errorf("line %d: expected type lid_switch_event, got %q", i+1, rec.Type)
		}
		if rec.Data.ID != int64(i+1) || rec.Data.LidState != want[i] {
			t.Errorf("line %d: unexpected data %+v", i+1, rec.Data)
		}
	}
}

func TestExportJSONL_Paginates(t *testing.T) {
	states := make([]int, pageSize*2+7)
	for i := range states {
		states[i] = i % 2
	}
	ms := seededStore(t, states...)

	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), ms, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len(states)) {
		t.Fatalf("expected %d events, got %d", len(states), n)
	}
	if got := len(nonEmptyLines(buf.String())); got != len(states)+1 {
		t.Fatalf("expected %d lines, got %d", len(states)+1, got)
	}
}

// growingStore records one extra event on every Count call and on the first
// page read, the way the capture loop would while an export runs.
type growingStore struct {
	*memory.LidEventStore

	t          *testing.T
	mu         sync.Mutex
	next       time.Time
	pageReads  int
	countCalls int
}

func (g *growingStore) add() {
	g.mu.Lock()
	g.next = g.next.Add(time.Second)
	at := g.next
	g.mu.Unlock()
	if err := g.LidEventStore.Record(context.Background(), types.SwitchEvent{
		Kind: types.SwitchLid, State: types.SwitchOn, ObservedAt: at, SourceTime: at,
	}); err != nil {
		g.t.Fatalf("Record: %v", err)
	}
}

func (g *growingStore) Count(ctx context.Context) (int64, error) {
	n, err := g.LidEventStore.Count(ctx)
	g.mu.Lock()
	g.countCalls++
	first := g.countCalls == 1
	g.mu.Unlock()
	if first {
		g.add()
	}
	return n, err
}

func (g *growingStore) List(ctx context.Context, f store.ListFilter) ([]store.LidSwitchRecord, error) {
	recs, err := g.LidEventStore.List(ctx, f)
	if !f.Desc {
		g.mu.Lock()
		g.pageReads++
		first := g.pageReads == 1
		g.mu.Unlock()
		if first {
			g.add()
		}
	}
	return recs, err
}

func TestExportJSONL_HeaderMatchesLinesWhileRecording(t *testing.T) {
	g := &growingStore{
		LidEventStore: seededStore(t, 1, 0, 1),
		t:             t,
		next:          time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	n, err := ExportJSONL(context.Background(), g, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.EventCount != n || int64(len(lines)-1) != n {
		t.Fatalf("header says %d, wrote %d lines, returned %d", h.EventCount, len(lines)-1, n)
	}
	// Three seeded plus the one added during the first snapshot attempt.
	if n != 4 {
		t.Errorf("expected 4 events in the snapshot, got %d", n)
	}
}

type churningStore struct {
	*memory.LidEventStore
	t    *testing.T
	next time.Time
}

func (c *churningStore) Count(ctx context.Context) (int64, error) {
	n, err := c.LidEventStore.Count(ctx)
	c.next = c.next.Add(time.Second)
	if rerr := c.LidEventStore.Record(ctx, types.SwitchEvent{
		Kind: types.SwitchLid, State: types.SwitchOff, ObservedAt: c.next, SourceTime: c.next,
	}); rerr != nil {
		c.t.Fatalf("Record: %v", rerr)
	}
	return n, err
}

func TestExportJSONL_UnstableSnapshot(t *testing.T) {
	c := &churningStore{LidEventStore: memory.NewLidEventStore(), t: t, next: time.Unix(1_770_000_000, 0)}

	var buf bytes.Buffer
	_, err := ExportJSONL(context.Background(), c, &buf)
	if !errors.Is(err, ErrSnapshotUnstable) {
		t.Fatalf("expected ErrSnapshotUnstable, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written, got %q", buf.String())
	}
}

// ═══════════════════════════════════════════════════════════════════════
// Destinations
// ═══════════════════════════════════════════════════════════════════════

func TestFileDestination_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	d := NewFileDestination(dir)
	at := time.Date(2026, 4, 5, 6, 7, 8, 0, time.UTC)
	d.now = func() time.Time { return at }

	if err := d.Write(context.Background(), []byte("{\"type\":\"header\"}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "lid_events-20260405T060708Z.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "header") {
		t.Errorf("unexpected export contents %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the export file, got %d entries", len(entries))
	}
}

func TestS3Destination_Write(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	var (
		mu     sync.Mutex
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, b
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	d, err := NewS3Destination(ctx, "lidmon-bucket", "exports/lid.jsonl", "us-east-1", srv.URL)
	if err != nil {
		t.Fatalf("NewS3Destination: %v", err)
	}
	if d.Name() != "s3://lidmon-bucket/exports/lid.jsonl" {
		t.Errorf("unexpected name %q", d.Name())
	}

	if err := d.Write(ctx, []byte("{\"type\":\"header\"}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Errorf("expected PUT, got %s", method)
	}
	if path != "/lidmon-bucket/exports/lid.jsonl" {
		t.Errorf("expected path-style request, got %s", path)
	}
	if !bytes.Contains(body, []byte(`"type":"header"`)) {
		t.Errorf("unexpected body %q", body)
	}
}

func TestNewS3Destination_RequiresBucket(t *testing.T) {
	if _, err := NewS3Destination(context.Background(), "", "k", "us-east-1", ""); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

// ═══════════════════════════════════════════════════════════════════════
// Exporter / Scheduler
// ═══════════════════════════════════════════════════════════════════════

type memDestination struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (d *memDestination) Name() string { return "mem" }

func (d *memDestination) Write(_ context.Context, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.writes = append(d.writes, append([]byte(nil), data...))
	return nil
}

func (d *memDestination) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.writes)
}

func TestExporter_RunOnce_FailingDestinationDoesNotStopOthers(t *testing.T) {
	ms := seededStore(t, 1, 0)
	bad := &memDestination{err: errors.New("bucket not found")}
	good := &memDestination{}

	e := NewExporter(ms, []Destination{bad, good}, silentLogger())
	st, err := e.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bucket not found") {
		t.Fatalf("expected joined destination error, got %v", err)
	}
	if st.Events != 2 || st.Bytes == 0 {
		t.Errorf("unexpected stats %+v", st)
	}
	if good.count() != 1 {
		t.Errorf("expected good destination to receive the export")
	}
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"0 * * * *", "*/5 * * * *", "@hourly", "@every 10s"} {
		if _, err := ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q): %v", expr, err)
		}
	}
	for _, expr := range []string{"", "every hour", "61 * * * *"} {
		if _, err := ParseSchedule(expr); err == nil {
			t.Errorf("ParseSchedule(%q): expected error", expr)
		}
	}
}

func TestScheduler_Runs(t *testing.T) {
	ms := seededStore(t, 1)
	dest := &memDestination{}
	e := NewExporter(ms, []Destination{dest}, silentLogger())

	s, err := NewScheduler(e, "@every 1s", silentLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if dest.count() > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("scheduled export never ran")
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	e := NewExporter(memory.NewLidEventStore(), nil, silentLogger())
	s, err := NewScheduler(e, "@daily", silentLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Stop()
}

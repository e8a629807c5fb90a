package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/lidmon/internal/httpapi"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/service"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store/memory"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

type fakeCapture struct {
	state service.State
	stats service.CaptureStats
}

func (f fakeCapture) State() service.State        { return f.state }
func (f fakeCapture) Stats() service.CaptureStats { return f.stats }

// newTestServer seeds an in-memory event log with states and returns an
// httptest.Server serving the read API.
func newTestServer(t *testing.T, capture httpapi.CaptureStatus, states ...int) *httptest.Server {
	t.Helper()

	events := memory.NewLidEventStore()
	base := time.Unix(1_770_000_000, 0).UTC()
	for i, st := range states {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := events.Record(context.Background(), types.SwitchEvent{
			Kind:       types.SwitchLid,
			State:      types.SwitchState(st),
			ObservedAt: at,
			SourceTime: at,
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	sessions := memory.NewSessionStore()
	if err := sessions.StartSession(context.Background(), store.SessionRecord{SessionID: "ses-test", Seat: "seat0", StartedAt: base}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:   log.New(io.Discard, "", 0),
		Addr:     ":0",
		Seat:     "seat0",
		Events:   events,
		Sessions: sessions,
		Capture:  capture,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url, accept string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type listBody struct {
	Events []store.LidSwitchRecord `json:"events"`
	Count  int                     `json:"count"`
}

// ── lid_events ───────────────────────────────────────────────────────────────

func TestListEvents_JSON(t *testing.T) {
	ts := newTestServer(t, nil, 1, 0, 1, 1, 0)

	resp := get(t, ts.URL+"/v1/lid_events", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body listBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 5 {
		t.Fatalf("expected 5 events, got %d", body.Count)
	}
	for i, want := range []int{1, 0, 1, 1, 0} {
		if body.Events[i].LidState != want || body.Events[i].ID != int64(i+1) {
			t.Errorf("event %d: unexpected %+v", i, body.Events[i])
		}
	}
}

func TestListEvents_LimitSinceOrder(t *testing.T) {
	ts := newTestServer(t, nil, 1, 0, 1, 1, 0)
	since := time.Unix(1_770_000_000, 0).Add(2 * time.Minute).Unix()

	resp := get(t, ts.URL+"/v1/lid_events?limit=2&order=desc&since="+strconv.FormatInt(since, 10), "")
	var body listBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 || body.Events[0].ID != 5 || body.Events[1].ID != 4 {
		t.Fatalf("unexpected page %+v", body.Events)
	}
}

func TestListEvents_EmptyIsArray(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := get(t, ts.URL+"/v1/lid_events", "")
	raw, _ := io.ReadAll(resp.Body)
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(m["events"]) != "[]" {
		t.Errorf("expected empty array, got %s", m["events"])
	}
}

func TestListEvents_BadParams(t *testing.T) {
	ts := newTestServer(t, nil, 1)

	for _, q := range []string{"limit=0", "limit=5000", "limit=x", "since=-1", "after_id=abc"} {
		resp := get(t, ts.URL+"/v1/lid_events?"+q, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestLatestEvent(t *testing.T) {
	ts := newTestServer(t, nil, 1, 0, 1)

	resp := get(t, ts.URL+"/v1/lid_events/latest", "")
	var rec store.LidSwitchRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID != 3 || rec.LidState != 1 {
		t.Errorf("unexpected latest %+v", rec)
	}
}

func TestLatestEvent_NoneIs404(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := get(t, ts.URL+"/v1/lid_events/latest", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestListEvents_Protobuf(t *testing.T) {
	ts := newTestServer(t, nil, 1, 0)

	resp := get(t, ts.URL+"/v1/lid_events", "application/x-protobuf")
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf content type, got %q", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := msg.GetFields()["count"].GetNumberValue(); got != 2 {
		t.Errorf("expected count 2, got %v", got)
	}
	events := msg.GetFields()["events"].GetListValue().GetValues()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if st := events[1].GetStructValue().GetFields()["lid_state"].GetNumberValue(); st != 0 {
		t.Errorf("expected second lid_state 0, got %v", st)
	}
}

// ── status ───────────────────────────────────────────────────────────────────

func TestStatus_WithCapture(t *testing.T) {
	capture := fakeCapture{state: service.StateWaiting, stats: service.CaptureStats{Recorded: 3, Discarded: 7}}
	ts := newTestServer(t, capture, 1, 0, 1)

	resp := get(t, ts.URL+"/v1/status", "")
	var body struct {
		Seat        string               `json:"seat"`
		State       string               `json:"state"`
		Stats       service.CaptureStats `json:"stats"`
		TotalEvents int64                `json:"total_events"`
		Session     store.SessionRecord  `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "waiting" || body.Seat != "seat0" || body.TotalEvents != 3 {
		t.Errorf("unexpected status %+v", body)
	}
	if body.Stats.Recorded != 3 || body.Stats.Discarded != 7 {
		t.Errorf("unexpected stats %+v", body.Stats)
	}
	if body.Session.SessionID != "ses-test" {
		t.Errorf("expected session ses-test, got %q", body.Session.SessionID)
	}
}

func TestStatus_Detached(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := get(t, ts.URL+"/v1/status", "")
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["state"] != "detached" {
		t.Errorf("expected detached, got %v", body["state"])
	}
	if _, ok := body["stats"]; ok {
		t.Error("expected no stats without a capture loop")
	}
}

func TestWritesNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/v1/lid_events", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

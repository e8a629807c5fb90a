// Package export writes the lid event log as JSONL to files or object storage.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
)

// FormatVersion is written into every export header.
const FormatVersion = "1"

const pageSize = 500

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EventCount int64     `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Stats describes one export.
type Stats struct {
	Events int64
	Bytes  int
}

// snapshotAttempts bounds how often ExportJSONL retries when rows keep
// arriving while it takes its snapshot.
const snapshotAttempts = 5

// ErrSnapshotUnstable is returned when the log changed on every snapshot attempt.
var ErrSnapshotUnstable = errors.New("event log kept changing during export")

// ExportJSONL writes a header line followed by every lid_switch_events row
// up to the newest id at the time of the call, in id order. Rows are read in
// pages so the log never has to fit in memory.
func ExportJSONL(ctx context.Context, s store.LidEventStore, w io.Writer) (int64, error) {
	maxID, total, err := snapshot(ctx, s)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    FormatVersion,
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		EventCount: total,
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	var written int64
	var after int64
	for {
		page, err := s.List(ctx, store.ListFilter{AfterID: after, Limit: pageSize})
		if err != nil {
			return written, fmt.Errorf("list events: %w", err)
		}
		for _, r := range page {
			if r.ID > maxID {
				return written, nil
			}
			if err := enc.Encode(record{Type: "lid_switch_event", Data: r}); err != nil {
				return written, fmt.Errorf("encode event %d: %w", r.ID, err)
			}
			written++
			after = r.ID
		}
		if len(page) < pageSize {
			return written, nil
		}
	}
}

// snapshot returns the newest id and the number of rows up to it. The log is
// append-only, so an unchanged newest id on both sides of Count means Count
// saw exactly the rows up to that id.
func snapshot(ctx context.Context, s store.LidEventStore) (int64, int64, error) {
	for attempt := 0; attempt < snapshotAttempts; attempt++ {
		before, err := newestID(ctx, s)
		if err != nil {
			return 0, 0, err
		}
		total, err := s.Count(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("count events: %w", err)
		}
		after, err := newestID(ctx, s)
		if err != nil {
			return 0, 0, err
		}
		if before == after {
			return after, total, nil
		}
	}
	return 0, 0, ErrSnapshotUnstable
}

func newestID(ctx context.Context, s store.LidEventStore) (int64, error) {
	recs, err := s.List(ctx, store.ListFilter{Limit: 1, Desc: true})
	if err != nil {
		return 0, fmt.Errorf("newest event: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[0].ID, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	dbpkg "github.com/BrandonDHaskell/lidmon/internal/db"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/store"
	"github.com/BrandonDHaskell/lidmon/internal/lidmon/types"
)

// LidEventStore keeps no connection open: writes go through the worker (which
// opens and closes the file per record) and reads open their own handle.
type LidEventStore struct {
	cfg    dbpkg.Config
	writer *dbpkg.Worker
}

var _ store.LidEventStore = (*LidEventStore)(nil)

func NewLidEventStore(cfg dbpkg.Config, writer *dbpkg.Worker) *LidEventStore {
	return &LidEventStore{cfg: cfg, writer: writer}
}

func (s *LidEventStore) EnsureSchema(ctx context.Context) error {
	conn, err := dbpkg.Open(ctx, s.cfg)
	if err != nil {
		return wrapErr("EnsureSchema", store.OpenFailed, err)
	}
	defer conn.Close()

	if err := dbpkg.Migrate(ctx, conn); err != nil {
		return wrapErr("EnsureSchema", store.WriteFailed, err)
	}
	return nil
}

func (s *LidEventStore) Record(ctx context.Context, ev types.SwitchEvent) error {
	if !ev.State.Valid() {
		return wrapErr("Record", store.WriteFailed, fmt.Errorf("lid_state %d out of range", int(ev.State)))
	}
	if ev.ObservedAt.IsZero() {
		return wrapErr("Record", store.WriteFailed, errors.New("event has no observation time"))
	}
	created := ev.ObservedAt.Unix()

	var key any
	if !ev.SourceTime.IsZero() {
		key = ev.SourceTime.UnixNano()
	}

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if key != nil {
			var existing int64
			err := tx.QueryRowContext(ctx, `
SELECT event_id FROM lid_switch_event_keys WHERE observed_ns = ?;
`, key).Scan(&existing)
			if err == nil {
				return store.ErrDuplicateEvent
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("Record lookup key: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `
INSERT INTO lid_switch_events(created, lid_state) VALUES (?, ?);
`, created, int(ev.State))
		if err != nil {
			return fmt.Errorf("Record insert: %w", err)
		}

		if key == nil {
			return nil
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("Record last insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO lid_switch_event_keys(observed_ns, event_id) VALUES (?, ?);
`, key, id); err != nil {
			return fmt.Errorf("Record insert key: %w", err)
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicateEvent) {
		return err
	}
	return wrapErr("Record", store.WriteFailed, err)
}

func (s *LidEventStore) List(ctx context.Context, f store.ListFilter) ([]store.LidSwitchRecord, error) {
	conn, err := dbpkg.Open(ctx, s.cfg)
	if err != nil {
		return nil, wrapErr("List", store.OpenFailed, err)
	}
	defer conn.Close()

	q, args := listQuery(f)
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("List", store.ReadFailed, err)
	}
	defer rows.Close()

	var out []store.LidSwitchRecord
	for rows.Next() {
		var r store.LidSwitchRecord
		if err := rows.Scan(&r.ID, &r.Created, &r.LidState); err != nil {
			return nil, wrapErr("List", store.ReadFailed, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("List", store.ReadFailed, err)
	}
	return out, nil
}

func (s *LidEventStore) Count(ctx context.Context) (int64, error) {
	conn, err := dbpkg.Open(ctx, s.cfg)
	if err != nil {
		return 0, wrapErr("Count", store.OpenFailed, err)
	}
	defer conn.Close()

	var n int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM lid_switch_events;`).Scan(&n); err != nil {
		return 0, wrapErr("Count", store.ReadFailed, err)
	}
	return n, nil
}

func listQuery(f store.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}
	if f.Since > 0 {
		where = append(where, "created >= ?")
		args = append(args, f.Since)
	}

	var b strings.Builder
	b.WriteString("SELECT id, created, lid_state FROM lid_switch_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	// id is the insertion order; created may step backwards with the clock.
	if f.Desc {
		b.WriteString(" ORDER BY id DESC")
	} else {
		b.WriteString(" ORDER BY id ASC")
	}
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}
	b.WriteString(";")
	return b.String(), args
}

// wrapErr turns err into a *store.Error. Open failures reported by the db
// package are always OpenFailed, whatever kind the caller expected.
func wrapErr(op string, kind store.ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	var oe *dbpkg.OpenError
	if errors.As(err, &oe) {
		kind = store.OpenFailed
	}
	return &store.Error{Kind: kind, Op: op, Err: err}
}

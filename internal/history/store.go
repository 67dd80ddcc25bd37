package history

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"gate-controller/internal/clock"
	"gate-controller/internal/domain/gate"
)

const schema = `
CREATE TABLE IF NOT EXISTS gate_log (
	id             TEXT PRIMARY KEY,
	decided_at     TEXT NOT NULL,
	reason         TEXT NOT NULL,
	raw_plate      TEXT NOT NULL,
	score          INTEGER NOT NULL,
	matched_plate  TEXT,
	owner_name     TEXT,
	vehicle_make   TEXT,
	vehicle_model  TEXT,
	vehicle_colour TEXT,
	fuzzy_match    INTEGER NOT NULL,
	gate_opened    INTEGER NOT NULL,
	image_path     TEXT
);
CREATE INDEX IF NOT EXISTS idx_gate_log_decided_at ON gate_log(decided_at);
CREATE INDEX IF NOT EXISTS idx_gate_log_matched_plate ON gate_log(matched_plate);
`

// Timestamps are stored as fixed-width RFC3339 UTC strings so string
// comparison in SQL matches chronological order.
const timeLayout = time.RFC3339

const recordColumns = `id, decided_at, reason, raw_plate, score, matched_plate,
	owner_name, vehicle_make, vehicle_model, vehicle_colour, fuzzy_match,
	gate_opened, image_path`

// Store is the authoritative decision-history sink. The recency guard
// trusts this store alone; the remote mirror never participates in
// suppression decisions.
type Store struct {
	pool  *pool
	clock clock.Clock
	log   zerolog.Logger
}

// Config holds the parameters for opening a history store.
type Config struct {
	// Path is the SQLite database file.
	Path     string
	PoolSize int
	Clock    clock.Clock
	Log      zerolog.Logger
}

// Open creates the store, applying the schema on every new connection.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("history: Clock is required")
	}
	p, err := openPool(cfg.Path, cfg.PoolSize, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	}, cfg.Log)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, clock: cfg.Clock, log: cfg.Log}, nil
}

func (s *Store) Close() error { return s.pool.close() }

// Append durably records one decision. Used for the schedule-override and
// denied paths; the match path goes through ReserveGrant instead.
func (s *Store) Append(ctx context.Context, rec gate.DecisionRecord) error {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(conn)
	return insertRecord(conn, rec)
}

// ReserveGrant atomically decides between the grant and suppressed
// records. It runs a single IMMEDIATE transaction: the write lock is
// acquired before the recency check, so two concurrent decisions cannot
// both observe "no recent grant" — the second is serialized behind the
// first's insert and sees it.
func (s *Store) ReserveGrant(ctx context.Context, grant, suppressed gate.DecisionRecord, window time.Duration) (opened bool, err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return false, fmt.Errorf("history: begin immediate: %w", err)
	}
	defer endFn(&err)

	cutoff := s.clock.Now().Add(-window).UTC().Format(timeLayout)
	recent := false
	err = sqlitex.Execute(conn,
		`SELECT 1 FROM gate_log WHERE gate_opened = 1 AND decided_at > ? LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{cutoff},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				recent = true
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("history: recent grant query: %w", err)
	}

	rec := grant
	if recent {
		rec = suppressed
	}
	if err = insertRecord(conn, rec); err != nil {
		return false, err
	}
	return !recent, nil
}

// RecentGrant returns the newest gate-opened record inside the trailing
// window, or nil. Read-only; the decision path uses ReserveGrant.
func (s *Store) RecentGrant(ctx context.Context, window time.Duration) (*gate.DecisionRecord, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	cutoff := s.clock.Now().Add(-window).UTC().Format(timeLayout)
	var rec *gate.DecisionRecord
	err = sqlitex.Execute(conn,
		`SELECT `+recordColumns+` FROM gate_log
		 WHERE gate_opened = 1 AND decided_at > ?
		 ORDER BY decided_at DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{cutoff},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r, err := recordFromStmt(stmt)
				if err != nil {
					return err
				}
				rec = &r
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: recent grant lookup: %w", err)
	}
	return rec, nil
}

// RecordQuery narrows ListRecords. A nil field means no filter.
type RecordQuery struct {
	MatchedPlate *string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// ListRecords returns records newest first.
func (s *Store) ListRecords(ctx context.Context, q RecordQuery) ([]gate.DecisionRecord, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	sql := `SELECT ` + recordColumns + ` FROM gate_log WHERE 1=1`
	args := []any{}
	if q.MatchedPlate != nil {
		sql += ` AND matched_plate = ?`
		args = append(args, *q.MatchedPlate)
	}
	if q.From != nil {
		sql += ` AND decided_at >= ?`
		args = append(args, q.From.UTC().Format(timeLayout))
	}
	if q.To != nil {
		sql += ` AND decided_at <= ?`
		args = append(args, q.To.UTC().Format(timeLayout))
	}
	sql += ` ORDER BY decided_at DESC LIMIT ? OFFSET ?`
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, q.Offset)

	var records []gate.DecisionRecord
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			r, err := recordFromStmt(stmt)
			if err != nil {
				return err
			}
			records = append(records, r)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: list records: %w", err)
	}
	return records, nil
}

// GetRecord fetches one record by ID; nil when absent.
func (s *Store) GetRecord(ctx context.Context, id string) (*gate.DecisionRecord, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var rec *gate.DecisionRecord
	err = sqlitex.Execute(conn,
		`SELECT `+recordColumns+` FROM gate_log WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				r, err := recordFromStmt(stmt)
				if err != nil {
					return err
				}
				rec = &r
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: get record %s: %w", id, err)
	}
	return rec, nil
}

// PlateActivity summarizes the log for one matched plate.
type PlateActivity struct {
	Plate     string    `json:"plate"`
	Decisions int       `json:"decisions"`
	Grants    int       `json:"grants"`
	LastSeen  time.Time `json:"last_seen"`
}

// FindPlate aggregates activity for a normalized plate key; nil when the
// plate never matched.
func (s *Store) FindPlate(ctx context.Context, key string) (*PlateActivity, error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(conn)

	var activity *PlateActivity
	err = sqlitex.Execute(conn,
		`SELECT matched_plate, COUNT(*), SUM(gate_opened), MAX(decided_at)
		 FROM gate_log WHERE matched_plate = ? GROUP BY matched_plate`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				last, err := time.Parse(timeLayout, stmt.ColumnText(3))
				if err != nil {
					return fmt.Errorf("parsing last_seen: %w", err)
				}
				activity = &PlateActivity{
					Plate:     stmt.ColumnText(0),
					Decisions: int(stmt.ColumnInt64(1)),
					Grants:    int(stmt.ColumnInt64(2)),
					LastSeen:  last,
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: find plate %s: %w", key, err)
	}
	return activity, nil
}

func insertRecord(conn *sqlite.Conn, rec gate.DecisionRecord) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO gate_log (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				rec.ID,
				rec.DecidedAt.UTC().Format(timeLayout),
				rec.Reason,
				rec.RawPlate,
				rec.Score,
				nullable(rec.MatchedPlate),
				nullable(rec.OwnerName),
				nullable(rec.VehicleMake),
				nullable(rec.VehicleModel),
				nullable(rec.Colour),
				boolInt(rec.FuzzyMatch),
				boolInt(rec.GateOpened),
				rec.ImageRef,
			},
		})
	if err != nil {
		return fmt.Errorf("history: insert record %s: %w", rec.ID, err)
	}
	return nil
}

func recordFromStmt(stmt *sqlite.Stmt) (gate.DecisionRecord, error) {
	decidedAt, err := time.Parse(timeLayout, stmt.ColumnText(1))
	if err != nil {
		return gate.DecisionRecord{}, fmt.Errorf("parsing decided_at: %w", err)
	}
	return gate.DecisionRecord{
		ID:           stmt.ColumnText(0),
		DecidedAt:    decidedAt,
		Reason:       stmt.ColumnText(2),
		RawPlate:     stmt.ColumnText(3),
		Score:        int(stmt.ColumnInt64(4)),
		MatchedPlate: textPtr(stmt, 5),
		OwnerName:    textPtr(stmt, 6),
		VehicleMake:  textPtr(stmt, 7),
		VehicleModel: textPtr(stmt, 8),
		Colour:       textPtr(stmt, 9),
		FuzzyMatch:   stmt.ColumnInt64(10) != 0,
		GateOpened:   stmt.ColumnInt64(11) != 0,
		ImageRef:     stmt.ColumnText(12),
	}, nil
}

func textPtr(stmt *sqlite.Stmt, col int) *string {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	s := stmt.ColumnText(col)
	return &s
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package postgres is a report store on PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kbukum/devflow/component"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/runstate"
	"github.com/kbukum/devflow/scheduler"
	"github.com/kbukum/devflow/store"
)

// DB is the query surface shared by *sql.DB and *sql.Tx.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PingTimeout bounds the connection check on Start.
const PingTimeout = 5 * time.Second

var errNotStarted = stderrors.New("postgres store not started")

// Store is a store.Repository on PostgreSQL and a lifecycle component.
type Store struct {
	cfg store.Config
	log *logger.Logger

	mu sync.RWMutex
	db *sql.DB
}

// New creates an unopened store.
func New(cfg store.Config, log *logger.Logger) *Store {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Store{cfg: cfg, log: log.WithComponent("store.postgres")}
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg store.Config) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

// Migrate creates the schema.
func Migrate(ctx context.Context, db DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Name implements component.Component.
func (s *Store) Name() string { return "store" }

// Start connects, retrying with a linear backoff, and migrates.
func (s *Store) Start(ctx context.Context) error {
	var (
		db  *sql.DB
		err error
	)
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		db, err = Open(ctx, s.cfg)
		if err == nil {
			break
		}
		if attempt == s.cfg.MaxRetries {
			return fmt.Errorf("postgres connect after %d attempts: %w", attempt, err)
		}
		backoff := time.Duration(attempt) * time.Second
		s.log.Warn("postgres connect failed, retrying", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
			"backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres connect canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.log.Info("report store connected")
	return nil
}

// Stop closes the pool.
func (s *Store) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Health implements component.Component.
func (s *Store) Health(ctx context.Context) component.Health {
	db, err := s.conn()
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err != nil {
		return component.Unhealthy(s.Name(), err)
	}
	return component.Healthy(s.Name(), "")
}

// Describe implements component.Describable.
func (s *Store) Describe() component.Description {
	return component.Description{
		Name:    "Report store",
		Type:    "postgres",
		Details: fmt.Sprintf("pool=%d/%d", s.cfg.MaxOpenConns, s.cfg.MaxIdleConns),
	}
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errNotStarted
	}
	return s.db, nil
}

// SaveReport upserts the run and replaces its node executions in one
// transaction.
func (s *Store) SaveReport(ctx context.Context, rep *scheduler.Report) error {
	if rep == nil || rep.RunID == "" {
		return errors.InvalidInput("report", "run id is required")
	}
	db, err := s.conn()
	if err != nil {
		return errors.StorageError("save-report", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError("save-report", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveReport(ctx, tx, rep); err != nil {
		return errors.StorageError("save-report", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError("save-report", err)
	}
	return nil
}

func saveReport(ctx context.Context, db DB, rep *scheduler.Report) error {
	statuses, err := encodeJSON(rep.Statuses, "{}")
	if err != nil {
		return fmt.Errorf("encode statuses: %w", err)
	}
	abandoned, err := encodeJSON(rep.Abandoned, "[]")
	if err != nil {
		return fmt.Errorf("encode abandoned: %w", err)
	}
	unscheduled, err := encodeJSON(rep.Unscheduled, "[]")
	if err != nil {
		return fmt.Errorf("encode unscheduled: %w", err)
	}

	_, err = db.ExecContext(ctx, upsertRunSQL,
		rep.RunID,
		rep.FlowID,
		string(rep.Status),
		rep.ResumeFrom,
		rep.Debug,
		rep.StartedAt.UTC(),
		nullTime(rep.FinishedAt),
		rep.DurationMs,
		rep.Checkpoint,
		statuses,
		abandoned,
		unscheduled,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	if _, err := db.ExecContext(ctx, deleteExecutionsSQL, rep.RunID); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	for i, rec := range rep.Timeline {
		_, err := db.ExecContext(ctx, insertExecutionSQL,
			rep.RunID,
			i,
			rec.NodeID,
			rec.NodeLabel,
			rec.NodeType,
			string(rec.Status),
			rec.StartedAt.UTC(),
			nullTime(rec.FinishedAt),
			rec.DurationMs,
			rec.MaxCPU,
			rec.MaxMemoryMB,
			rec.Attempts,
			rec.Error,
		)
		if err != nil {
			return fmt.Errorf("insert execution %s: %w", rec.NodeID, err)
		}
	}
	return nil
}

// GetReport loads a report with its timeline.
func (s *Store) GetReport(ctx context.Context, runID string) (*scheduler.Report, error) {
	db, err := s.conn()
	if err != nil {
		return nil, errors.StorageError("get-report", err)
	}
	rep, err := scanRun(db.QueryRowContext(ctx, selectRunSQL, runID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("run", runID)
	}
	if err != nil {
		return nil, errors.StorageError("get-report", err)
	}
	if rep.Timeline, err = loadTimeline(ctx, db, runID); err != nil {
		return nil, errors.StorageError("get-report", err)
	}
	return rep, nil
}

// ListReports returns a flow's reports, newest first.
func (s *Store) ListReports(ctx context.Context, flowID string, limit int) ([]*scheduler.Report, error) {
	db, err := s.conn()
	if err != nil {
		return nil, errors.StorageError("list-reports", err)
	}
	rows, err := db.QueryContext(ctx, listRunsSQL, flowID, store.Limit(limit))
	if err != nil {
		return nil, errors.StorageError("list-reports", err)
	}
	var out []*scheduler.Report
	for rows.Next() {
		rep, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, errors.StorageError("list-reports", err)
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError("list-reports", err)
	}
	_ = rows.Close()

	for _, rep := range out {
		if rep.Timeline, err = loadTimeline(ctx, db, rep.RunID); err != nil {
			return nil, errors.StorageError("list-reports", err)
		}
	}
	return out, nil
}

// LatestReport returns the newest report of a flow.
func (s *Store) LatestReport(ctx context.Context, flowID string) (*scheduler.Report, error) {
	reps, err := s.ListReports(ctx, flowID, 1)
	if err != nil {
		return nil, err
	}
	if len(reps) == 0 {
		return nil, errors.NotFound("report for flow", flowID)
	}
	return reps[0], nil
}

// Get returns the checkpoint of a flow.
func (s *Store) Get(ctx context.Context, flowID string) (string, bool, error) {
	db, err := s.conn()
	if err != nil {
		return "", false, errors.StorageError("get-checkpoint", err)
	}
	var nodeID string
	err = db.QueryRowContext(ctx, selectCheckpointSQL, flowID).Scan(&nodeID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.StorageError("get-checkpoint", err)
	}
	return nodeID, true, nil
}

// Set records a flow's checkpoint. An empty node id deletes it.
func (s *Store) Set(ctx context.Context, flowID, nodeID string) error {
	db, err := s.conn()
	if err != nil {
		return errors.StorageError("set-checkpoint", err)
	}
	if nodeID == "" {
		_, err = db.ExecContext(ctx, deleteCheckpointSQL, flowID)
	} else {
		_, err = db.ExecContext(ctx, upsertCheckpointSQL, flowID, nodeID)
	}
	if err != nil {
		return errors.StorageError("set-checkpoint", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*scheduler.Report, error) {
	var (
		rep                              scheduler.Report
		status                           string
		finished                         sql.NullTime
		statuses, abandoned, unscheduled []byte
	)
	err := row.Scan(
		&rep.RunID, &rep.FlowID, &status, &rep.ResumeFrom, &rep.Debug, &rep.StartedAt, &finished,
		&rep.DurationMs, &rep.Checkpoint, &statuses, &abandoned, &unscheduled,
	)
	if err != nil {
		return nil, err
	}
	rep.Status = runstate.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		rep.FinishedAt = &t
	}
	if err := decodeJSON(statuses, &rep.Statuses); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}
	if err := decodeJSON(abandoned, &rep.Abandoned); err != nil {
		return nil, fmt.Errorf("decode abandoned: %w", err)
	}
	if err := decodeJSON(unscheduled, &rep.Unscheduled); err != nil {
		return nil, fmt.Errorf("decode unscheduled: %w", err)
	}
	return &rep, nil
}

func loadTimeline(ctx context.Context, db DB, runID string) ([]runstate.ExecutionRecord, error) {
	rows, err := db.QueryContext(ctx, selectExecutionsSQL, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	timeline := []runstate.ExecutionRecord{}
	for rows.Next() {
		var (
			rec      runstate.ExecutionRecord
			status   string
			finished sql.NullTime
		)
		if err := rows.Scan(
			&rec.NodeID, &rec.NodeLabel, &rec.NodeType, &status, &rec.StartedAt, &finished,
			&rec.DurationMs, &rec.MaxCPU, &rec.MaxMemoryMB, &rec.Attempts, &rec.Error,
		); err != nil {
			return nil, err
		}
		rec.Status = runstate.Status(status)
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		timeline = append(timeline, rec)
	}
	return timeline, rows.Err()
}

func encodeJSON(v any, empty string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return []byte(empty), nil
	}
	return raw, nil
}

func decodeJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var (
	_ store.Repository    = (*Store)(nil)
	_ component.Component = (*Store)(nil)
	_ DB                  = (*sql.DB)(nil)
	_ DB                  = (*sql.Tx)(nil)
)

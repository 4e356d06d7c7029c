package sqlite

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kbukum/devflow/component"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/scheduler"
	"github.com/kbukum/devflow/store"
)

var errNotStarted = stderrors.New("sqlite store not started")

// Store is a store.Repository on SQLite. It is also a component: Start
// opens the file and migrates the schema, Stop closes it.
type Store struct {
	cfg store.Config
	log *logger.Logger

	mu sync.RWMutex
	db *gorm.DB
}

// New creates an unopened store.
func New(cfg store.Config, log *logger.Logger) *Store {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Store{cfg: cfg, log: log.WithComponent("store.sqlite")}
}

// Name implements component.Component.
func (s *Store) Name() string { return "store" }

// Start opens the database, retrying with a linear backoff, and runs
// AutoMigrate.
func (s *Store) Start(ctx context.Context) error {
	gormCfg := &gorm.Config{
		Logger: newQueryLogger(s.log, s.cfg.SlowQueryThreshold, parseLogLevel(s.cfg.LogLevel)),
	}

	var (
		db  *gorm.DB
		err error
	)
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("sqlite open canceled: %w", ctx.Err())
		}
		db, err = s.open(ctx, gormCfg)
		if err == nil {
			break
		}
		if attempt < s.cfg.MaxRetries {
			backoff := time.Duration(attempt) * time.Second
			s.log.Warn("sqlite open failed, retrying", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
			if waitErr := sleepCtx(ctx, backoff); waitErr != nil {
				return fmt.Errorf("sqlite open canceled during retry: %w", waitErr)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("sqlite open after %d attempts: %w", s.cfg.MaxRetries, err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&runModel{}, &nodeExecutionModel{}, &checkpointModel{}); err != nil {
		return fmt.Errorf("sqlite auto-migrate: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.log.Info("report store opened", map[string]interface{}{"dsn": s.cfg.DSN})
	return nil
}

func (s *Store) open(ctx context.Context, gormCfg *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlitedriver.Open(s.cfg.DSN), gormCfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	sqlDB.SetMaxOpenConns(s.cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(s.cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	return db, nil
}

// Stop closes the database. Safe to call more than once.
func (s *Store) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.db = nil
	s.log.Info("report store closed")
	return sqlDB.Close()
}

// Health implements component.Component.
func (s *Store) Health(ctx context.Context) component.Health {
	db, err := s.conn()
	if err == nil {
		err = ping(ctx, db)
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
		Type:    "sqlite",
		Details: fmt.Sprintf("%s pool=%d/%d", s.cfg.DSN, s.cfg.MaxOpenConns, s.cfg.MaxIdleConns),
	}
}

func (s *Store) conn() (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errNotStarted
	}
	return s.db, nil
}

// SaveReport upserts the run row and replaces its node executions.
func (s *Store) SaveReport(ctx context.Context, rep *scheduler.Report) error {
	if rep == nil || rep.RunID == "" {
		return errors.InvalidInput("report", "run id is required")
	}
	db, err := s.conn()
	if err != nil {
		return errors.StorageError("save-report", err)
	}
	m := toRunModel(rep)
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&m).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", rep.RunID).Delete(&nodeExecutionModel{}).Error; err != nil {
			return err
		}
		if len(m.Executions) == 0 {
			return nil
		}
		return tx.Create(&m.Executions).Error
	})
	if err != nil {
		return errors.StorageError("save-report", err)
	}
	return nil
}

// GetReport loads a report with its timeline.
func (s *Store) GetReport(ctx context.Context, runID string) (*scheduler.Report, error) {
	db, err := s.conn()
	if err != nil {
		return nil, errors.StorageError("get-report", err)
	}
	var m runModel
	err = db.WithContext(ctx).Preload("Executions", orderBySeq).First(&m, "run_id = ?", runID).Error
	if err != nil {
		return nil, fromDB(err, "get-report", "run", runID)
	}
	return m.report(), nil
}

// ListReports returns a flow's reports, newest first.
func (s *Store) ListReports(ctx context.Context, flowID string, limit int) ([]*scheduler.Report, error) {
	db, err := s.conn()
	if err != nil {
		return nil, errors.StorageError("list-reports", err)
	}
	var rows []runModel
	err = db.WithContext(ctx).
		Preload("Executions", orderBySeq).
		Where("flow_id = ?", flowID).
		Order("started_at DESC").
		Limit(store.Limit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, errors.StorageError("list-reports", err)
	}
	out := make([]*scheduler.Report, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.report())
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
	var cp checkpointModel
	err = db.WithContext(ctx).First(&cp, "flow_id = ?", flowID).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.StorageError("get-checkpoint", err)
	}
	return cp.NodeID, true, nil
}

// Set records a flow's checkpoint. An empty node id deletes it.
func (s *Store) Set(ctx context.Context, flowID, nodeID string) error {
	db, err := s.conn()
	if err != nil {
		return errors.StorageError("set-checkpoint", err)
	}
	tx := db.WithContext(ctx)
	if nodeID == "" {
		err = tx.Where("flow_id = ?", flowID).Delete(&checkpointModel{}).Error
	} else {
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "flow_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"node_id", "updated_at"}),
		}).Create(&checkpointModel{FlowID: flowID, NodeID: nodeID, UpdatedAt: time.Now()}).Error
	}
	if err != nil {
		return errors.StorageError("set-checkpoint", err)
	}
	return nil
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func orderBySeq(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

// fromDB maps a GORM error to an AppError.
func fromDB(err error, op, resource, id string) *errors.AppError {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound(resource, id)
	}
	return errors.StorageError(op, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ store.Repository    = (*Store)(nil)
	_ component.Component = (*Store)(nil)
)

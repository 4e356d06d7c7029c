package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/devflow/capability"
	"github.com/kbukum/devflow/checkpoint"
	"github.com/kbukum/devflow/dag"
	"github.com/kbukum/devflow/debug"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/retry"
	"github.com/kbukum/devflow/runstate"
)

// Report is the outcome of a run.
type Report = runstate.Report

// History looks up the last report of a flow for resumed runs. It returns
// a NOT_FOUND error when the flow has never run.
type History interface {
	LatestReport(ctx context.Context, flowID string) (*Report, error)
}

// Request describes one run of a flow.
type Request struct {
	Flow *dag.Flow
	// RunID is generated when empty.
	RunID string
	// ResumeNodeID resumes from this node. Empty starts a fresh run.
	ResumeNodeID string
	// Previous supplies the statuses a resumed run starts from. When nil
	// the scheduler's History is consulted.
	Previous *Report
	Debug    bool
	Env      map[string]string
	WorkDir  string
}

// Scheduler prepares and executes runs. At most one run per flow is
// active at a time.
type Scheduler struct {
	cfg         Config
	caps        *capability.Registry
	checkpoints checkpoint.Tracker
	history     History
	log         *logger.Logger
	now         func() time.Time

	mu     sync.Mutex
	active map[string]string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckpoints sets where checkpoints are recorded. Defaults to an
// in-memory tracker.
func WithCheckpoints(t checkpoint.Tracker) Option {
	return func(s *Scheduler) { s.checkpoints = t }
}

// WithHistory sets where resumed runs find their previous report.
func WithHistory(h History) Option {
	return func(s *Scheduler) { s.history = h }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithClock replaces the time source of the run state.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler that resolves node types through caps.
func New(cfg Config, caps *capability.Registry, opts ...Option) *Scheduler {
	cfg.ApplyDefaults()
	s := &Scheduler{
		cfg:    cfg,
		caps:   caps,
		now:    time.Now,
		active: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.checkpoints == nil {
		s.checkpoints = checkpoint.NewMemory()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.WithComponent("scheduler")
	return s
}

// Checkpoints returns the tracker runs record into.
func (s *Scheduler) Checkpoints() checkpoint.Tracker { return s.checkpoints }

// Run prepares and executes a run, blocking until it finishes.
func (s *Scheduler) Run(ctx context.Context, req Request) (*Report, error) {
	run, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// Prepare builds a run and claims its flow. The claim is released when
// the run finishes; a run that is never executed must be discarded with
// Run.Discard.
func (s *Scheduler) Prepare(ctx context.Context, req Request) (*Run, error) {
	if req.Flow == nil {
		return nil, errors.InvalidInput("flow", "is required")
	}
	g, err := req.Flow.Graph()
	if err != nil {
		return nil, errors.InvalidInput("flow", err.Error())
	}
	if req.ResumeNodeID != "" && !g.Has(req.ResumeNodeID) {
		return nil, errors.InvalidInput("resume_node_id", "unknown node "+req.ResumeNodeID)
	}

	var previous *Report
	if req.ResumeNodeID != "" {
		previous, err = s.previous(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	if err := s.claim(req.Flow.ID, runID); err != nil {
		return nil, err
	}

	return newRun(s, req, g, runID, previous), nil
}

// Active returns the id of the run in progress for a flow.
func (s *Scheduler) Active(flowID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[flowID]
	return id, ok
}

func (s *Scheduler) previous(ctx context.Context, req Request) (*Report, error) {
	if req.Previous != nil {
		return req.Previous, nil
	}
	if s.history == nil {
		return nil, nil
	}
	rep, err := s.history.LatestReport(ctx, req.Flow.ID)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rep, nil
}

func (s *Scheduler) claim(flowID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.active[flowID]; ok {
		return errors.RunInProgress(flowID, current)
	}
	s.active[flowID] = runID
	return nil
}

func (s *Scheduler) release(flowID, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[flowID] == runID {
		delete(s.active, flowID)
	}
}

func (s *Scheduler) newController(r *Run) *debug.Controller {
	ctrl := debug.NewController()
	ctrl.OnPause = func(nodeID string) {
		r.publishNode(event.NodePaused, nodeID, event.Event{Status: string(runstate.Idle)})
	}
	return ctrl
}

func (s *Scheduler) newGate(r *Run) *retry.ManualGate {
	gate := retry.NewManualGate(s.cfg.ManualRetryTimeout)
	gate.OnAwait = func(nodeID string, attempt int) {
		r.publishNode(event.NodeAwaitingRetry, nodeID, event.Event{Attempt: attempt})
	}
	return gate
}

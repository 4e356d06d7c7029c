package session

import (
	"context"
	"sort"
	"sync"

	"github.com/kbukum/devflow/dag"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/scheduler"
	"github.com/kbukum/devflow/store"
)

// StartRequest asks for a run of a registered flow.
type StartRequest struct {
	FlowID string `json:"flowId"`
	// Resume restarts from the flow's checkpoint.
	Resume bool `json:"resume"`
	// ResumeNodeID restarts from this node instead of the checkpoint.
	ResumeNodeID string `json:"resumeNodeId,omitempty"`
	Debug        bool   `json:"debug"`
}

// RunStatus is the live view of a run.
type RunStatus struct {
	Active bool              `json:"active"`
	Report *scheduler.Report `json:"report"`
	// Paused lists nodes waiting for a debug step.
	Paused []string `json:"paused,omitempty"`
	// AwaitingRetry lists nodes waiting for a manual retry decision.
	AwaitingRetry []string `json:"awaitingRetry,omitempty"`
}

type activeRun struct {
	run    *scheduler.Run
	cancel context.CancelFunc
}

// Manager registers flows and runs them through a Scheduler. Every run is
// observed by a store.Recorder first, then by the configured observers.
type Manager struct {
	sched     *scheduler.Scheduler
	catalog   dag.Catalog
	repo      store.Repository
	observers []event.Subscriber
	env       map[string]string
	workDir   string
	log       *logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	flows   map[string]*dag.Flow
	runs    map[string]*activeRun
	reports map[string]*scheduler.Report
}

// Option configures a Manager.
type Option func(*Manager)

// WithObservers attaches subscribers to every run.
func WithObservers(subs ...event.Subscriber) Option {
	return func(m *Manager) { m.observers = append(m.observers, subs...) }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithEnv sets environment variables passed to every node.
func WithEnv(env map[string]string) Option {
	return func(m *Manager) { m.env = env }
}

// WithWorkDir sets the working directory of every run.
func WithWorkDir(dir string) Option {
	return func(m *Manager) { m.workDir = dir }
}

// New creates a manager. catalog validates flows on registration and is
// usually the scheduler's capability registry.
func New(sched *scheduler.Scheduler, catalog dag.Catalog, repo store.Repository, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		sched:   sched,
		catalog: catalog,
		repo:    repo,
		baseCtx: ctx,
		cancel:  cancel,
		flows:   make(map[string]*dag.Flow),
		runs:    make(map[string]*activeRun),
		reports: make(map[string]*scheduler.Report),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	m.log = m.log.WithComponent("session")
	return m
}

// --- flows ---

// RegisterFlow validates and stores f, replacing any flow with the same
// id. An invalid flow yields GRAPH_INVALID with the report attached.
func (m *Manager) RegisterFlow(f *dag.Flow) (*dag.ValidationReport, error) {
	if f == nil || f.ID == "" {
		return nil, errors.InvalidInput("id", "flow id is required")
	}
	g, err := f.Graph()
	if err != nil {
		return nil, errors.InvalidInput("nodes", err.Error())
	}
	rep := g.Validate(m.catalog)
	if !rep.Valid {
		return rep, errors.GraphInvalid(f.ID, rep)
	}

	m.mu.Lock()
	m.flows[f.ID] = f
	m.mu.Unlock()

	m.log.Info("flow registered", map[string]interface{}{
		logger.FieldFlowID: f.ID,
		"nodes":            g.Len(),
		"warnings":         len(rep.Warnings),
	})
	return rep, nil
}

// LoadDir registers every flow file in dir and returns how many were
// loaded. The first invalid flow stops the load.
func (m *Manager) LoadDir(dir string) (int, error) {
	flows, err := dag.LoadDir(dir)
	if err != nil {
		return 0, errors.InvalidInput("flows_dir", err.Error())
	}
	for i, f := range flows {
		if _, err := m.RegisterFlow(f); err != nil {
			return i, err
		}
	}
	return len(flows), nil
}

// Flow returns a registered flow.
func (m *Manager) Flow(id string) (*dag.Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flows[id]
	if !ok {
		return nil, errors.NotFound("flow", id)
	}
	return f, nil
}

// Flows returns the registered flows sorted by id.
func (m *Manager) Flows() []*dag.Flow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*dag.Flow, 0, len(m.flows))
	for _, f := range m.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Plan returns the dry run of a registered flow with its validation report.
func (m *Manager) Plan(flowID string) (*dag.Plan, *dag.ValidationReport, error) {
	f, err := m.Flow(flowID)
	if err != nil {
		return nil, nil, err
	}
	g, err := f.Graph()
	if err != nil {
		return nil, nil, errors.InvalidInput("nodes", err.Error())
	}
	return g.Plan(), g.Validate(m.catalog), nil
}

// Checkpoint returns the node a resumed run of flowID would start from.
func (m *Manager) Checkpoint(ctx context.Context, flowID string) (string, bool, error) {
	if _, err := m.Flow(flowID); err != nil {
		return "", false, err
	}
	return m.sched.Checkpoints().Get(ctx, flowID)
}

// --- runs ---

// StartRun prepares a run and executes it in the background. It returns
// once the run is registered, so the id can be used immediately.
func (m *Manager) StartRun(ctx context.Context, req StartRequest) (string, error) {
	f, err := m.Flow(req.FlowID)
	if err != nil {
		return "", err
	}

	resumeFrom := req.ResumeNodeID
	if resumeFrom == "" && req.Resume {
		nodeID, ok, err := m.sched.Checkpoints().Get(ctx, f.ID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", errors.InvalidInput("resume", "flow "+f.ID+" has no checkpoint")
		}
		resumeFrom = nodeID
	}

	var previous *scheduler.Report
	if resumeFrom != "" {
		previous = m.lastReport(f.ID)
	}

	run, err := m.sched.Prepare(ctx, scheduler.Request{
		Flow:         f,
		ResumeNodeID: resumeFrom,
		Previous:     previous,
		Debug:        req.Debug,
		Env:          m.env,
		WorkDir:      m.workDir,
	})
	if err != nil {
		return "", err
	}

	if m.repo != nil {
		run.Bus().Subscribe(store.NewRecorder(m.repo, m.log))
	}
	for _, obs := range m.observers {
		run.Bus().Subscribe(obs)
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.mu.Lock()
	m.runs[run.ID()] = &activeRun{run: run, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(runCtx, cancel, run)

	m.log.Info("run started", map[string]interface{}{
		logger.FieldRunID:  run.ID(),
		logger.FieldFlowID: f.ID,
		"resume_from":      resumeFrom,
		"debug":            req.Debug,
	})
	return run.ID(), nil
}

func (m *Manager) execute(ctx context.Context, cancel context.CancelFunc, run *scheduler.Run) {
	defer m.wg.Done()
	defer cancel()

	rep, err := run.Execute(ctx)
	if err != nil {
		m.log.WithRun(run.ID(), run.FlowID()).Error("run ended with error", logger.ErrorFields("execute", err))
	}

	m.mu.Lock()
	delete(m.runs, run.ID())
	if rep != nil {
		m.reports[run.FlowID()] = rep
	}
	m.mu.Unlock()
}

// lastReport returns the most recent report of flowID known to this
// process. Nil lets the scheduler consult its history.
func (m *Manager) lastReport(flowID string) *scheduler.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reports[flowID]
}

func (m *Manager) active(runID string) (*activeRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ar, ok := m.runs[runID]
	if !ok {
		return nil, errors.NotFound("active run", runID)
	}
	return ar, nil
}

// Step releases a paused node. An empty nodeID releases every paused node.
// It returns the ids that were released.
func (m *Manager) Step(runID, nodeID string) ([]string, error) {
	ar, err := m.active(runID)
	if err != nil {
		return nil, err
	}
	if nodeID == "" {
		return ar.run.Debug().StepAll(), nil
	}
	if err := ar.run.Debug().Step(nodeID); err != nil {
		return nil, err
	}
	return []string{nodeID}, nil
}

// StopDebug leaves debug mode. Paused nodes are abandoned.
func (m *Manager) StopDebug(runID string) error {
	ar, err := m.active(runID)
	if err != nil {
		return err
	}
	ar.run.Debug().Stop()
	return nil
}

// ConfirmRetry lets a node waiting on a manual retry run again.
func (m *Manager) ConfirmRetry(runID, nodeID string) error {
	ar, err := m.active(runID)
	if err != nil {
		return err
	}
	return ar.run.Gate().Confirm(nodeID)
}

// CancelRetry gives up on a node waiting on a manual retry.
func (m *Manager) CancelRetry(runID, nodeID string) error {
	ar, err := m.active(runID)
	if err != nil {
		return err
	}
	return ar.run.Gate().Cancel(nodeID)
}

// CancelRun cancels an active run. Nodes not yet started are abandoned.
func (m *Manager) CancelRun(runID string) error {
	ar, err := m.active(runID)
	if err != nil {
		return err
	}
	ar.cancel()
	return nil
}

// Report returns the progress report of an active run or the stored
// report of a finished one.
func (m *Manager) Report(ctx context.Context, runID string) (*scheduler.Report, error) {
	if ar, err := m.active(runID); err == nil {
		return ar.run.Report(), nil
	}
	if m.repo == nil {
		return nil, errors.NotFound("run", runID)
	}
	return m.repo.GetReport(ctx, runID)
}

// Status returns the live view of a run.
func (m *Manager) Status(ctx context.Context, runID string) (*RunStatus, error) {
	if ar, err := m.active(runID); err == nil {
		return &RunStatus{
			Active:        true,
			Report:        ar.run.Report(),
			Paused:        ar.run.Debug().Paused(),
			AwaitingRetry: ar.run.Gate().Pending(),
		}, nil
	}
	rep, err := m.Report(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunStatus{Report: rep}, nil
}

// Active reports whether runID is still executing.
func (m *Manager) Active(runID string) bool {
	_, err := m.active(runID)
	return err == nil
}

// Running returns the number of runs in flight.
func (m *Manager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.runs)
}

// Subscribe attaches s to an active run.
func (m *Manager) Subscribe(runID string, s event.Subscriber) (func(), error) {
	ar, err := m.active(runID)
	if err != nil {
		return nil, err
	}
	return ar.run.Bus().Subscribe(s), nil
}

// Wait blocks until runID finishes or ctx ends and returns its report.
func (m *Manager) Wait(ctx context.Context, runID string) (*scheduler.Report, error) {
	ar, err := m.active(runID)
	if err != nil {
		return m.Report(ctx, runID)
	}
	select {
	case <-ar.run.Done():
		return ar.run.Report(), nil
	case <-ctx.Done():
		return nil, errors.Timeout("wait for run " + runID)
	}
}

// Shutdown cancels every active run and waits for them to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Timeout("session shutdown")
	}
}

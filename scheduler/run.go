package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbukum/devflow/capability"
	"github.com/kbukum/devflow/dag"
	"github.com/kbukum/devflow/debug"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/executor"
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/retry"
	"github.com/kbukum/devflow/runstate"
)

type outcome int

const (
	outcomeIgnored outcome = iota
	outcomeSucceeded
	outcomeSatisfied
	outcomeFailed
	outcomeAbandoned
)

// Run is one execution of a flow. It owns the node statuses, the
// timeline, the debug controller and the manual-retry gate.
type Run struct {
	id     string
	flowID string
	req    Request
	graph  *dag.Graph
	sched  *Scheduler
	state  *runstate.State
	bus    *event.Bus
	debug  *debug.Controller
	gate   *retry.ManualGate
	log    *logger.Logger

	started atomic.Bool
	done    chan struct{}

	mu         sync.Mutex
	startedAt  time.Time
	checkpoint string
	abandoned  []string
	report     *Report
}

func newRun(s *Scheduler, req Request, g *dag.Graph, runID string, previous *Report) *Run {
	r := &Run{
		id:     runID,
		flowID: req.Flow.ID,
		req:    req,
		graph:  g,
		sched:  s,
		state:  runstate.New().WithClock(s.now),
		log:    s.log.WithRun(runID, req.Flow.ID),
		done:   make(chan struct{}),
	}
	r.bus = event.NewBus(r.log)
	r.debug = s.newController(r)
	if req.Debug {
		r.debug.Enable()
	}
	r.gate = s.newGate(r)
	r.initState(previous)
	return r
}

// initState resets every node for a fresh run. A resumed run keeps the
// previous successes except the resume node itself.
func (r *Run) initState(previous *Report) {
	ids := r.graph.IDs()
	if r.req.ResumeNodeID == "" || previous == nil {
		r.state.Reset(ids)
		return
	}

	prev := previous.Snapshot()
	snap := runstate.Snapshot{Statuses: make(map[string]runstate.Status, len(ids))}
	for _, id := range ids {
		if st, ok := prev.Statuses[id]; ok {
			snap.Statuses[id] = st
		}
	}
	for _, rec := range prev.Timeline {
		if r.graph.Has(rec.NodeID) {
			snap.Timeline = append(snap.Timeline, rec)
		}
	}
	r.state.Restore(snap)

	var reset []string
	for _, id := range ids {
		if id == r.req.ResumeNodeID || r.state.Status(id) != runstate.Success {
			reset = append(reset, id)
		}
	}
	r.state.Reset(reset)
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// FlowID returns the id of the flow being run.
func (r *Run) FlowID() string { return r.flowID }

// Bus returns the run's event bus. Subscribe before Execute to see
// every event.
func (r *Run) Bus() *event.Bus { return r.bus }

// Debug returns the run's debug controller.
func (r *Run) Debug() *debug.Controller { return r.debug }

// Gate returns the run's manual-retry gate.
func (r *Run) Gate() *retry.ManualGate { return r.gate }

// Done is closed when the run has finished or was discarded.
func (r *Run) Done() <-chan struct{} { return r.done }

// Report returns the final report once the run is done, or a progress
// report with status running before that.
func (r *Run) Report() *Report {
	r.mu.Lock()
	if r.report != nil {
		defer r.mu.Unlock()
		return r.report
	}
	startedAt := r.startedAt
	r.mu.Unlock()

	snap := r.state.Snapshot()
	return &Report{
		RunID:      r.id,
		FlowID:     r.flowID,
		Status:     runstate.RunRunning,
		ResumeFrom: r.req.ResumeNodeID,
		Debug:      r.req.Debug,
		StartedAt:  startedAt,
		Statuses:   snap.Statuses,
		Timeline:   snap.Timeline,
	}
}

// Discard releases a prepared run that will not be executed.
func (r *Run) Discard() {
	if r.started.CompareAndSwap(false, true) {
		r.sched.release(r.flowID, r.id)
		close(r.done)
	}
}

// Execute runs the flow to completion. Node failures are reported in the
// returned report, not as an error. The error is non-nil only when the
// run could not be executed or its checkpoint could not be recorded.
func (r *Run) Execute(ctx context.Context) (*Report, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, errors.Internal(fmt.Errorf("run %s already executed", r.id))
	}
	defer close(r.done)
	defer r.sched.release(r.flowID, r.id)

	r.mu.Lock()
	r.startedAt = r.sched.now()
	r.mu.Unlock()

	r.log.Info("run started", map[string]interface{}{
		"nodes":  r.graph.Len(),
		"resume": r.req.ResumeNodeID,
		"debug":  r.req.Debug,
	})
	r.publish(event.Event{Type: event.RunStarted, Status: string(runstate.RunRunning)})

	r.schedule(ctx)

	rep := r.finish(ctx)
	err := r.saveCheckpoint(ctx, rep.Checkpoint)

	r.mu.Lock()
	r.report = rep
	r.mu.Unlock()

	r.log.Info("run finished", map[string]interface{}{
		logger.FieldStatus:   rep.Status,
		"checkpoint":         rep.Checkpoint,
		logger.FieldDuration: rep.DurationMs,
		"succeeded":          r.state.Count(runstate.Success),
		"failed":             r.state.Count(runstate.Error),
		"skipped":            r.state.Count(runstate.Skipped),
	})
	r.publish(event.Event{Type: event.RunFinished, Status: string(rep.Status), Report: rep})
	return rep, err
}

// schedule runs the waves. Only nodes that finished successfully, or were
// already successful on resume, release their children.
func (r *Run) schedule(ctx context.Context) {
	inDegree := r.graph.InDegrees()
	var ready []string
	for _, id := range r.graph.IDs() {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	for wave := 1; len(ready) > 0; wave++ {
		if ctx.Err() != nil {
			return
		}
		sort.Strings(ready)
		r.log.Debug("wave started", map[string]interface{}{"wave": wave, "nodes": ready})
		results := r.runWave(ctx, wave, ready)

		var next []string
		for i, id := range ready {
			switch results[i] {
			case outcomeSucceeded, outcomeSatisfied:
				for _, child := range r.graph.Children(id) {
					if r.state.Status(child) == runstate.Skipped {
						continue
					}
					inDegree[child]--
					if inDegree[child] == 0 {
						next = append(next, child)
					}
				}
			case outcomeFailed:
				r.skipDescendants(id)
			case outcomeAbandoned:
				r.mu.Lock()
				r.abandoned = append(r.abandoned, id)
				r.mu.Unlock()
			}
		}
		ready = next
	}
}

func (r *Run) runWave(ctx context.Context, wave int, ids []string) []outcome {
	results := make([]outcome, len(ids))
	var g errgroup.Group
	if r.sched.cfg.MaxParallel > 0 {
		g.SetLimit(r.sched.cfg.MaxParallel)
	}
	for i, id := range ids {
		g.Go(func() error {
			results[i] = r.processNode(ctx, wave, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Run) processNode(ctx context.Context, wave int, id string) outcome {
	node, _ := r.graph.Node(id)
	switch r.state.Status(id) {
	case runstate.Success:
		r.log.Debug("node already succeeded", map[string]interface{}{logger.FieldNodeID: id})
		return outcomeSatisfied
	case runstate.Idle:
	default:
		return outcomeIgnored
	}

	if r.debug.Pause(ctx, id) == debug.Abandon || ctx.Err() != nil {
		r.publishNode(event.NodeAbandoned, id, event.Event{Status: string(runstate.Idle)})
		return outcomeAbandoned
	}

	if err := r.state.Start(node); err != nil {
		r.log.Warn("node could not start", logger.ErrorFields("start", err))
		return outcomeIgnored
	}
	r.publishRecord(event.NodeStarted, id, "", wave)

	attempts, metrics, errMsg := r.execute(ctx, node)
	if errMsg == "" {
		if err := r.state.Finish(id, runstate.Success, metrics, attempts, ""); err != nil {
			r.log.Warn("node could not finish", logger.ErrorFields("finish", err))
		}
		r.publishRecord(event.NodeSucceeded, id, "")
		return outcomeSucceeded
	}

	if err := r.state.Finish(id, runstate.Error, metrics, attempts, errMsg); err != nil {
		r.log.Warn("node could not finish", logger.ErrorFields("finish", err))
	}
	r.noteFailure(id)
	r.publishRecord(event.NodeFailed, id, errMsg)
	return outcomeFailed
}

// execute runs the node's capability under its retry policy. An empty
// message means success.
func (r *Run) execute(ctx context.Context, node dag.Node) (int, runstate.Metrics, string) {
	var none runstate.Metrics

	policy, err := retry.ParsePolicy(node.Config)
	if err != nil {
		return 0, none, err.Error()
	}
	profile, err := executor.ParseProfile(node.Config)
	if err != nil {
		return 0, none, err.Error()
	}
	if profile.TimeoutSeconds == 0 && r.sched.cfg.DefaultTimeout > 0 {
		profile.TimeoutSeconds = int(r.sched.cfg.DefaultTimeout / time.Second)
	}
	c, ok := r.sched.caps.Get(node.Type)
	if !ok {
		return 0, none, fmt.Sprintf("No capability registered for node type %q.", node.Type)
	}

	workDir := r.req.WorkDir
	if workDir == "" {
		workDir = r.sched.cfg.WorkDir
	}

	var last runstate.Metrics
	out := retry.Do(ctx, retry.Options{
		Policy:    policy,
		NodeID:    node.ID,
		NodeLabel: node.DisplayName(),
		Gate:      r.gate,
		OnAttempt: func(attempt int) {
			r.publishNode(event.NodeAttempt, node.ID, event.Event{Attempt: attempt, Status: string(runstate.Running)})
		},
		OnRetry: func(failed *retry.AttemptError, delay time.Duration) {
			r.publishNode(event.NodeRetry, node.ID, event.Event{
				Attempt: failed.Attempt,
				Message: failed.Message,
				DelayMs: delay.Milliseconds(),
			})
		},
	}, func(ctx context.Context, attempt int) (runstate.Metrics, error) {
		res := attemptSafely(ctx, c, capability.Invocation{
			Node:    node,
			WorkDir: workDir,
			Env:     r.req.Env,
			Profile: profile,
			RunID:   r.id,
			Attempt: attempt,
			Logs: func(stream, line string) {
				r.publishNode(event.NodeLog, node.ID, event.Event{Attempt: attempt, Stream: stream, Message: line})
			},
		})
		last = res.Metrics
		if res.Success {
			return res.Metrics, nil
		}
		if res.Error == nil {
			return res.Metrics, &retry.Failure{Message: "Execution failed"}
		}
		return res.Metrics, res.Error
	})

	switch {
	case out.Success:
		return out.Attempts, out.Value, ""
	case out.Err != nil:
		return out.Attempts, last, out.Err.Message
	case out.Cause != nil:
		return out.Attempts, last, "run cancelled"
	default:
		return out.Attempts, last, "Execution failed"
	}
}

// attemptSafely turns a capability panic into a failed attempt.
func attemptSafely(ctx context.Context, c capability.Capability, inv capability.Invocation) (res capability.AttemptResult) {
	defer func() {
		if p := recover(); p != nil {
			res = capability.Failed("%s panicked: %v", inv.Node.DisplayName(), p)
		}
	}()
	return c.Attempt(ctx, inv)
}

// skipDescendants marks every idle node reachable from failed as skipped,
// however deep. Nodes that already started keep their status.
func (r *Run) skipDescendants(failed string) {
	for _, id := range r.graph.Descendants(failed) {
		if r.state.Status(id) != runstate.Idle {
			continue
		}
		node, _ := r.graph.Node(id)
		if err := r.state.Skip(node); err != nil {
			continue
		}
		r.publishRecord(event.NodeSkipped, id, fmt.Sprintf("upstream node %s failed", failed))
	}
}

func (r *Run) noteFailure(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.checkpoint == "" {
		r.checkpoint = id
	}
}

func (r *Run) finish(ctx context.Context) *Report {
	snap := r.state.Snapshot()

	r.mu.Lock()
	abandoned := append([]string(nil), r.abandoned...)
	first := r.checkpoint
	startedAt := r.startedAt
	r.mu.Unlock()
	sort.Strings(abandoned)

	status := runstate.Outcome(snap.Statuses, len(abandoned) > 0)
	if ctx.Err() != nil {
		status = runstate.RunIncomplete
	}

	checkpoint := ""
	for _, st := range snap.Statuses {
		if st == runstate.Error {
			checkpoint = first
			break
		}
	}

	finished := r.sched.now()
	return &Report{
		RunID:       r.id,
		FlowID:      r.flowID,
		Status:      status,
		ResumeFrom:  r.req.ResumeNodeID,
		Debug:       r.req.Debug,
		StartedAt:   startedAt,
		FinishedAt:  &finished,
		DurationMs:  finished.Sub(startedAt).Milliseconds(),
		Statuses:    snap.Statuses,
		Timeline:    snap.Timeline,
		Checkpoint:  checkpoint,
		Abandoned:   abandoned,
		Unscheduled: r.graph.Plan().Unscheduled,
	}
}

// saveCheckpoint records the checkpoint even when ctx was cancelled.
func (r *Run) saveCheckpoint(ctx context.Context, nodeID string) error {
	if err := r.sched.checkpoints.Set(context.WithoutCancel(ctx), r.flowID, nodeID); err != nil {
		r.log.Error("checkpoint not recorded", logger.ErrorFields("set-checkpoint", err))
		return errors.StorageError("set-checkpoint", err)
	}
	return nil
}

func (r *Run) publish(e event.Event) {
	e.RunID = r.id
	e.FlowID = r.flowID
	if e.Time.IsZero() {
		e.Time = r.sched.now()
	}
	r.bus.Publish(e)
}

func (r *Run) publishNode(t event.Type, nodeID string, e event.Event) {
	node, _ := r.graph.Node(nodeID)
	e.Type = t
	e.NodeID = nodeID
	e.NodeType = node.Type
	r.publish(e)
}

// publishRecord publishes a node event carrying the node's current record.
// wave is only passed for node.started.
func (r *Run) publishRecord(t event.Type, nodeID, message string, wave ...int) {
	e := event.Event{Message: message}
	if len(wave) > 0 {
		e.Wave = wave[0]
	}
	if rec, ok := r.state.Record(nodeID); ok {
		e.Record = &rec
		e.Status = string(rec.Status)
		e.Attempt = rec.Attempts
	}
	r.publishNode(t, nodeID, e)
}

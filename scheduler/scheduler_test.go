package scheduler

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/devflow/capability"
	"github.com/kbukum/devflow/checkpoint"
	"github.com/kbukum/devflow/dag"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/runstate"
)

// fakeTask fails a node a fixed number of times before succeeding.
// A negative count fails forever.
type fakeTask struct {
	mu    sync.Mutex
	calls map[string]int
	fails map[string]int
	order []string
}

func newFakeTask(fails map[string]int) *fakeTask {
	if fails == nil {
		fails = map[string]int{}
	}
	return &fakeTask{calls: map[string]int{}, fails: fails}
}

func (f *fakeTask) Attempt(_ context.Context, inv capability.Invocation) capability.AttemptResult {
	f.mu.Lock()
	f.calls[inv.Node.ID]++
	n := f.calls[inv.Node.ID]
	f.order = append(f.order, inv.Node.ID)
	failures := f.fails[inv.Node.ID]
	f.mu.Unlock()

	inv.Log("stdout", "running "+inv.Node.ID)
	if failures < 0 || n <= failures {
		return capability.Failed("%s broke", inv.Node.ID)
	}
	return capability.Succeeded(runstate.Metrics{CPUPeak: 12.5, MemPeakMB: 64})
}

func (f *fakeTask) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeTask) setFails(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[id] = n
}

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) Handle(e event.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) nodes(t event.Type) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for _, e := range l.events {
		if e.Type == t {
			ids = append(ids, e.NodeID)
		}
	}
	return ids
}

// waves maps each started node to the wave it started in.
func (l *eventLog) waves() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[string]int{}
	for _, e := range l.events {
		if e.Type == event.NodeStarted {
			out[e.NodeID] = e.Wave
		}
	}
	return out
}

func (l *eventLog) first(t event.Type) (event.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == t {
			return e, true
		}
	}
	return event.Event{}, false
}

func node(id string, config map[string]any) dag.NodeDef {
	return dag.NodeDef{Node: dag.Node{ID: id, Type: "task", Config: config}}
}

// releaseFlow is A->B->C, A->D.
func releaseFlow() *dag.Flow {
	return &dag.Flow{
		ID:    "release",
		Nodes: []dag.NodeDef{node("A", nil), node("B", nil), node("C", nil), node("D", nil)},
		Edges: []dag.Edge{{Source: "A", Target: "B"}, {Source: "B", Target: "C"}, {Source: "A", Target: "D"}},
	}
}

func newScheduler(task capability.Capability, opts ...Option) *Scheduler {
	caps := capability.NewRegistry()
	caps.Register("task", task)
	return New(Config{}, caps, opts...)
}

func execute(t *testing.T, s *Scheduler, req Request) (*Report, *eventLog) {
	t.Helper()
	run, err := s.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	log := &eventLog{}
	run.Bus().Subscribe(log)
	rep, err := run.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return rep, log
}

func TestFreshRunSucceeds(t *testing.T) {
	task := newFakeTask(nil)
	tracker := checkpoint.NewMemory()
	_ = tracker.Set(context.Background(), "release", "B")
	s := newScheduler(task, WithCheckpoints(tracker))

	rep, log := execute(t, s, Request{Flow: releaseFlow()})

	if rep.Status != runstate.RunSuccess {
		t.Fatalf("status = %s", rep.Status)
	}
	for _, id := range []string{"A", "B", "C", "D"} {
		if n := task.count(id); n != 1 {
			t.Errorf("%s executed %d times", id, n)
		}
		if rep.Statuses[id] != runstate.Success {
			t.Errorf("%s status = %s", id, rep.Statuses[id])
		}
	}
	if len(rep.Timeline) != 4 {
		t.Errorf("timeline has %d records", len(rep.Timeline))
	}
	if rep.Checkpoint != "" {
		t.Errorf("checkpoint = %q", rep.Checkpoint)
	}
	if _, ok, _ := tracker.Get(context.Background(), "release"); ok {
		t.Error("checkpoint should be cleared after a clean run")
	}

	if got, want := log.waves(), map[string]int{"A": 1, "B": 2, "D": 2, "C": 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("waves = %v, want %v", got, want)
	}
	if got := log.nodes(event.NodeLog); len(got) != 4 {
		t.Errorf("log events = %v", got)
	}
	if _, ok := log.first(event.RunFinished); !ok {
		t.Error("missing run.finished")
	}
}

func TestFailureSkipsDescendants(t *testing.T) {
	task := newFakeTask(map[string]int{"B": -1})
	tracker := checkpoint.NewMemory()
	s := newScheduler(task, WithCheckpoints(tracker))

	rep, log := execute(t, s, Request{Flow: releaseFlow()})

	want := map[string]runstate.Status{
		"A": runstate.Success,
		"B": runstate.Error,
		"C": runstate.Skipped,
		"D": runstate.Success,
	}
	if !reflect.DeepEqual(rep.Statuses, want) {
		t.Errorf("statuses = %v", rep.Statuses)
	}
	if rep.Status != runstate.RunFailed {
		t.Errorf("status = %s", rep.Status)
	}
	if rep.Checkpoint != "B" {
		t.Errorf("checkpoint = %q", rep.Checkpoint)
	}
	if cp, _, _ := tracker.Get(context.Background(), "release"); cp != "B" {
		t.Errorf("tracked checkpoint = %q", cp)
	}
	if task.count("C") != 0 {
		t.Error("skipped node executed")
	}
	if got := log.nodes(event.NodeSkipped); !reflect.DeepEqual(got, []string{"C"}) {
		t.Errorf("skipped events = %v", got)
	}

	failed, _ := log.first(event.NodeFailed)
	if failed.Message != "B broke" || failed.Record == nil || failed.Record.Error != "B broke" {
		t.Errorf("failed event = %+v", failed)
	}
	skipped, _ := log.first(event.NodeSkipped)
	if skipped.Record == nil || skipped.Record.DurationMs != 0 {
		t.Errorf("skipped record = %+v", skipped.Record)
	}
}

func TestSkipDominatesPendingParent(t *testing.T) {
	// C depends on A (slow branch A1->A) and B (fails in the first wave).
	task := newFakeTask(map[string]int{"B": -1})
	s := newScheduler(task)
	flow := &dag.Flow{
		ID:    "join",
		Nodes: []dag.NodeDef{node("A1", nil), node("A", nil), node("B", nil), node("C", nil)},
		Edges: []dag.Edge{{Source: "A1", Target: "A"}, {Source: "A", Target: "C"}, {Source: "B", Target: "C"}},
	}

	rep, _ := execute(t, s, Request{Flow: flow})

	if rep.Statuses["C"] != runstate.Skipped {
		t.Errorf("C = %s", rep.Statuses["C"])
	}
	if rep.Statuses["A"] != runstate.Success {
		t.Errorf("A = %s", rep.Statuses["A"])
	}
	if task.count("C") != 0 {
		t.Error("C executed after being skipped")
	}
}

type fakeHistory struct{ rep *Report }

func (h fakeHistory) LatestReport(_ context.Context, flowID string) (*Report, error) {
	if h.rep == nil {
		return nil, errors.NotFound("report", flowID)
	}
	return h.rep, nil
}

func TestResumeFromCheckpoint(t *testing.T) {
	task := newFakeTask(map[string]int{"B": -1})
	s := newScheduler(task)
	first, _ := execute(t, s, Request{Flow: releaseFlow()})

	s.history = fakeHistory{rep: first}
	task.setFails("B", 0)
	rep, log := execute(t, s, Request{Flow: releaseFlow(), ResumeNodeID: "B"})

	if rep.Status != runstate.RunSuccess {
		t.Fatalf("status = %s", rep.Status)
	}
	calls := map[string]int{"A": 1, "B": 2, "C": 1, "D": 1}
	for id, want := range calls {
		if got := task.count(id); got != want {
			t.Errorf("%s executed %d times, want %d", id, got, want)
		}
	}
	if got := log.nodes(event.NodeStarted); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("started = %v", got)
	}
	if rep.ResumeFrom != "B" {
		t.Errorf("resumeFrom = %q", rep.ResumeFrom)
	}
	if len(rep.Timeline) != 4 {
		t.Errorf("timeline = %d records", len(rep.Timeline))
	}
}

func TestResumeReexecutesResumeNode(t *testing.T) {
	task := newFakeTask(nil)
	s := newScheduler(task)
	first, _ := execute(t, s, Request{Flow: releaseFlow()})

	rep, _ := execute(t, s, Request{Flow: releaseFlow(), ResumeNodeID: "A", Previous: first})

	if task.count("A") != 2 {
		t.Errorf("A executed %d times", task.count("A"))
	}
	for _, id := range []string{"B", "C", "D"} {
		if task.count(id) != 1 {
			t.Errorf("%s re-executed", id)
		}
	}
	if rep.Status != runstate.RunSuccess {
		t.Errorf("status = %s", rep.Status)
	}
}

func TestResumeUnknownNode(t *testing.T) {
	s := newScheduler(newFakeTask(nil))
	_, err := s.Run(context.Background(), Request{Flow: releaseFlow(), ResumeNodeID: "Z"})
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v", err)
	}
	if _, busy := s.Active("release"); busy {
		t.Error("rejected run should not claim the flow")
	}
}

func TestRetryPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   map[string]any
		fails    int
		attempts int
		status   runstate.Status
	}{
		{"none", nil, -1, 1, runstate.Error},
		{"auto exhausted", map[string]any{"strategy": "auto", "maxAttempts": 2}, -1, 3, runstate.Error},
		{"auto recovers", map[string]any{"strategy": "auto", "maxAttempts": 2}, 1, 2, runstate.Success},
		{"exponential", map[string]any{"strategy": "exponential", "maxAttempts": 1, "backoffMs": 1}, 1, 2, runstate.Success},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			task := newFakeTask(map[string]int{"A": tc.fails})
			s := newScheduler(task)
			cfg := map[string]any{}
			if tc.policy != nil {
				cfg["retryPolicy"] = tc.policy
			}
			flow := &dag.Flow{ID: "retry", Nodes: []dag.NodeDef{node("A", cfg)}}

			rep, log := execute(t, s, Request{Flow: flow})

			if got := task.count("A"); got != tc.attempts {
				t.Errorf("attempts = %d, want %d", got, tc.attempts)
			}
			if rep.Statuses["A"] != tc.status {
				t.Errorf("status = %s", rep.Statuses["A"])
			}
			if rep.Timeline[0].Attempts != tc.attempts {
				t.Errorf("record attempts = %d", rep.Timeline[0].Attempts)
			}
			if got := len(log.nodes(event.NodeAttempt)); got != tc.attempts {
				t.Errorf("attempt events = %d", got)
			}
			if got := len(log.nodes(event.NodeRetry)); got != tc.attempts-1 {
				t.Errorf("retry events = %d", got)
			}
		})
	}
}

func TestManualRetry(t *testing.T) {
	for _, confirm := range []bool{true, false} {
		name := "cancel"
		if confirm {
			name = "confirm"
		}
		t.Run(name, func(t *testing.T) {
			task := newFakeTask(map[string]int{"A": 1})
			s := newScheduler(task)
			flow := &dag.Flow{ID: "manual", Nodes: []dag.NodeDef{
				node("A", map[string]any{"retryPolicy": map[string]any{"strategy": "manual", "maxAttempts": 1}}),
			}}
			run, err := s.Prepare(context.Background(), Request{Flow: flow})
			if err != nil {
				t.Fatal(err)
			}
			run.Bus().Subscribe(event.SubscriberFunc(func(e event.Event) {
				if e.Type != event.NodeAwaitingRetry {
					return
				}
				go func() {
					if confirm {
						_ = run.Gate().Confirm(e.NodeID)
					} else {
						_ = run.Gate().Cancel(e.NodeID)
					}
				}()
			}))

			rep, err := run.Execute(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if confirm {
				if rep.Statuses["A"] != runstate.Success || task.count("A") != 2 {
					t.Errorf("status = %s, calls = %d", rep.Statuses["A"], task.count("A"))
				}
				return
			}
			if rep.Statuses["A"] != runstate.Error || task.count("A") != 1 {
				t.Errorf("status = %s, calls = %d", rep.Statuses["A"], task.count("A"))
			}
			if rep.Timeline[0].Error != "manual retry cancelled" {
				t.Errorf("error = %q", rep.Timeline[0].Error)
			}
		})
	}
}

func TestDebugStepsInTopologicalOrder(t *testing.T) {
	task := newFakeTask(nil)
	s := newScheduler(task)
	run, err := s.Prepare(context.Background(), Request{Flow: releaseFlow(), Debug: true})
	if err != nil {
		t.Fatal(err)
	}

	paused := make(chan string, 4)
	run.Bus().Subscribe(event.SubscriberFunc(func(e event.Event) {
		if e.Type == event.NodePaused {
			paused <- e.NodeID
		}
	}))

	done := make(chan *Report, 1)
	go func() {
		rep, _ := run.Execute(context.Background())
		done <- rep
	}()

	var order []string
	for i := 0; i < 4; i++ {
		id := <-paused
		order = append(order, id)
		if task.count(id) != 0 {
			t.Errorf("%s executed before its step", id)
		}
		if err := run.Debug().Step(id); err != nil {
			t.Fatalf("Step(%s): %v", id, err)
		}
	}
	rep := <-done

	if order[0] != "A" || order[3] != "C" {
		t.Errorf("pause order = %v", order)
	}
	mid := append([]string(nil), order[1:3]...)
	sort.Strings(mid)
	if !reflect.DeepEqual(mid, []string{"B", "D"}) {
		t.Errorf("second wave = %v", mid)
	}
	if rep.Status != runstate.RunSuccess {
		t.Errorf("status = %s", rep.Status)
	}
}

func TestDebugStopAbandons(t *testing.T) {
	task := newFakeTask(nil)
	s := newScheduler(task)
	run, err := s.Prepare(context.Background(), Request{Flow: releaseFlow(), Debug: true})
	if err != nil {
		t.Fatal(err)
	}
	run.Bus().Subscribe(event.SubscriberFunc(func(e event.Event) {
		if e.Type == event.NodePaused {
			go run.Debug().Stop()
		}
	}))

	rep, err := run.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Status != runstate.RunIncomplete {
		t.Errorf("status = %s", rep.Status)
	}
	if !reflect.DeepEqual(rep.Abandoned, []string{"A"}) {
		t.Errorf("abandoned = %v", rep.Abandoned)
	}
	if task.count("A") != 0 {
		t.Error("abandoned node executed")
	}
	if rep.Checkpoint != "" {
		t.Errorf("checkpoint = %q", rep.Checkpoint)
	}
}

func TestRunInProgress(t *testing.T) {
	s := newScheduler(newFakeTask(nil))
	run, err := s.Prepare(context.Background(), Request{Flow: releaseFlow(), RunID: "r-1"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Prepare(context.Background(), Request{Flow: releaseFlow()})
	if !errors.HasCode(err, errors.ErrCodeRunInProgress) {
		t.Fatalf("err = %v", err)
	}
	if id, _ := s.Active("release"); id != "r-1" {
		t.Errorf("active = %q", id)
	}

	run.Discard()
	if _, err := s.Run(context.Background(), Request{Flow: releaseFlow()}); err != nil {
		t.Errorf("run after discard: %v", err)
	}
	if _, err := run.Execute(context.Background()); err == nil {
		t.Error("discarded run should not execute")
	}
}

func TestCycleLeavesNodesUnscheduled(t *testing.T) {
	task := newFakeTask(nil)
	s := newScheduler(task)
	flow := &dag.Flow{
		ID:    "loop",
		Nodes: []dag.NodeDef{node("A", nil), node("B", nil), node("C", nil)},
		Edges: []dag.Edge{{Source: "A", Target: "B"}, {Source: "B", Target: "C"}, {Source: "C", Target: "B"}},
	}

	rep, _ := execute(t, s, Request{Flow: flow})

	if task.count("A") != 1 || task.count("B") != 0 || task.count("C") != 0 {
		t.Errorf("calls = %v", task.calls)
	}
	if !reflect.DeepEqual(rep.Unscheduled, []string{"B", "C"}) {
		t.Errorf("unscheduled = %v", rep.Unscheduled)
	}
	if rep.Status != runstate.RunIncomplete {
		t.Errorf("status = %s", rep.Status)
	}
}

type gauge struct {
	current, peak atomic.Int32
}

func (g *gauge) Attempt(context.Context, capability.Invocation) capability.AttemptResult {
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	g.current.Add(-1)
	return capability.Succeeded(runstate.Metrics{})
}

func TestMaxParallel(t *testing.T) {
	flow := &dag.Flow{ID: "fan", Nodes: []dag.NodeDef{node("A", nil), node("B", nil), node("C", nil), node("D", nil)}}
	for _, limit := range []int{1, 2} {
		g := &gauge{}
		caps := capability.NewRegistry()
		caps.Register("task", g)
		s := New(Config{MaxParallel: limit}, caps)
		if _, err := s.Run(context.Background(), Request{Flow: flow}); err != nil {
			t.Fatal(err)
		}
		if p := g.peak.Load(); int(p) > limit {
			t.Errorf("limit %d: peak concurrency %d", limit, p)
		}
	}
}

func TestCancelledRunIsIncomplete(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	caps := capability.NewRegistry()
	caps.Register("task", capability.HandlerFunc(func(ctx context.Context, _ map[string]any, inv capability.Invocation) capability.AttemptResult {
		if inv.Node.ID == "A" {
			cancel()
			<-ctx.Done()
			return capability.Failed("interrupted")
		}
		return capability.Succeeded(runstate.Metrics{})
	}))
	s := New(Config{}, caps)

	rep, err := s.Run(ctx, Request{Flow: releaseFlow()})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Status != runstate.RunIncomplete {
		t.Errorf("status = %s", rep.Status)
	}
	if rep.Statuses["A"] != runstate.Error || rep.Statuses["D"] != runstate.Skipped {
		t.Errorf("statuses = %v", rep.Statuses)
	}
}

func TestNodeFailuresWithoutCapability(t *testing.T) {
	caps := capability.NewRegistry()
	caps.Register("task", capability.HandlerFunc(func(context.Context, map[string]any, capability.Invocation) capability.AttemptResult {
		panic("boom")
	}))
	s := New(Config{}, caps)
	flow := &dag.Flow{ID: "bad", Nodes: []dag.NodeDef{
		node("A", nil),
		{Node: dag.Node{ID: "B", Type: "mystery"}},
	}}

	rep, err := s.Run(context.Background(), Request{Flow: flow})
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]runstate.ExecutionRecord{}
	for _, rec := range rep.Timeline {
		byID[rec.NodeID] = rec
	}
	if byID["A"].Status != runstate.Error || byID["A"].Error != "A panicked: boom" {
		t.Errorf("A = %+v", byID["A"])
	}
	if byID["B"].Status != runstate.Error || byID["B"].Attempts != 0 {
		t.Errorf("B = %+v", byID["B"])
	}
	if rep.Checkpoint != "A" && rep.Checkpoint != "B" {
		t.Errorf("checkpoint = %q", rep.Checkpoint)
	}
}

func TestProgressReport(t *testing.T) {
	s := newScheduler(newFakeTask(nil))
	run, err := s.Prepare(context.Background(), Request{Flow: releaseFlow()})
	if err != nil {
		t.Fatal(err)
	}
	progress := run.Report()
	if progress.Status != runstate.RunRunning || progress.Statuses["A"] != runstate.Idle {
		t.Errorf("progress = %+v", progress)
	}
	final, _ := run.Execute(context.Background())
	if run.Report() != final {
		t.Error("Report should return the final report once done")
	}
	select {
	case <-run.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.ManualRetryTimeout != 120*time.Second || cfg.WorkDir != "." {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Error(err)
	}
	cfg.MaxParallel = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative max_parallel should fail")
	}
}

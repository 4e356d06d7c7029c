package component

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	health   Health
	events   *[]string
}

func (m *mockComponent) Name() string { return m.name }

func (m *mockComponent) Start(context.Context) error {
	if m.events != nil {
		*m.events = append(*m.events, "start:"+m.name)
	}
	return m.startErr
}

func (m *mockComponent) Stop(context.Context) error {
	if m.events != nil {
		*m.events = append(*m.events, "stop:"+m.name)
	}
	return m.stopErr
}

func (m *mockComponent) Health(context.Context) Health { return m.health }

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&mockComponent{name: "store"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(&mockComponent{name: "store"}); err == nil {
		t.Error("expected error for duplicate registration")
	}
	if r.Get("store") == nil {
		t.Error("expected registered component")
	}
	if r.Get("missing") != nil {
		t.Error("expected nil for unknown component")
	}
}

func TestStartStopOrder(t *testing.T) {
	var events []string
	r := NewRegistry(nil)
	for _, name := range []string{"store", "telemetry", "server"} {
		if err := r.Register(&mockComponent{name: name, events: &events}); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	if err := r.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if err := r.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	want := []string{
		"start:store", "start:telemetry", "start:server",
		"stop:server", "stop:telemetry", "stop:store",
	}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestStartFailureStopsOnlyStarted(t *testing.T) {
	var events []string
	r := NewRegistry(nil)
	_ = r.Register(&mockComponent{name: "store", events: &events})
	_ = r.Register(&mockComponent{name: "server", events: &events, startErr: fmt.Errorf("port in use")})
	_ = r.Register(&mockComponent{name: "late", events: &events})

	ctx := context.Background()
	if err := r.StartAll(ctx); err == nil {
		t.Fatal("expected start error")
	}
	if err := r.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	want := []string{"start:store", "start:server", "stop:store"}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestStopErrorsAggregated(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	r := NewRegistry(nil)
	_ = r.Register(&mockComponent{name: "a", stopErr: errA})
	_ = r.Register(&mockComponent{name: "b"})
	_ = r.Register(&mockComponent{name: "c", stopErr: errC})

	ctx := context.Background()
	_ = r.StartAll(ctx)
	err := r.StopAll(ctx)
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Errorf("StopAll = %v, want both stop errors", err)
	}
}

func TestHealthConstructors(t *testing.T) {
	if h := Healthy("sse", "2 open"); h.Status != StatusHealthy || h.Message != "2 open" {
		t.Errorf("Healthy = %+v", h)
	}
	if h := Unhealthy("store", errors.New("ping")); h.Status != StatusUnhealthy || h.Message != "ping" {
		t.Errorf("Unhealthy = %+v", h)
	}
	if h := Unhealthy("store", nil); h.Message != "" {
		t.Errorf("Unhealthy(nil) = %+v", h)
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(&mockComponent{name: "store", health: Health{Name: "store", Status: StatusHealthy}})
	_ = r.Register(&mockComponent{name: "server", health: Health{Name: "server", Status: StatusDegraded}})

	got := r.HealthAll(context.Background())
	if len(got) != 2 || got[0].Status != StatusHealthy || got[1].Status != StatusDegraded {
		t.Errorf("unexpected health %v", got)
	}
}

func TestLazy(t *testing.T) {
	calls := 0
	fail := true
	closed := false
	l := NewLazy("docker", func(context.Context) (int, error) {
		calls++
		if fail {
			return 0, fmt.Errorf("daemon unreachable")
		}
		return 42, nil
	}).WithCloser(func(int) error {
		closed = true
		return nil
	})

	ctx := context.Background()
	if _, err := l.Get(ctx); err == nil {
		t.Fatal("expected init error")
	}
	if l.Initialized() {
		t.Error("failed init must not mark the value ready")
	}

	fail = false
	for i := 0; i < 2; i++ {
		v, err := l.Get(ctx)
		if err != nil || v != 42 {
			t.Fatalf("Get = %d, %v", v, err)
		}
	}
	if calls != 2 {
		t.Errorf("expected init to run twice (one failure, one success), got %d", calls)
	}

	if err := l.Close(); err != nil || !closed {
		t.Errorf("Close = %v, closed=%v", err, closed)
	}
	if l.Initialized() {
		t.Error("expected value released after Close")
	}
}

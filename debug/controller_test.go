package debug

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/devflow/errors"
)

func waitPaused(t *testing.T, c *Controller, want ...string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := c.Paused()
		if len(got) == 0 && len(want) == 0 || reflect.DeepEqual(got, want) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Paused() = %v, want %v", c.Paused(), want)
}

func TestPauseDisabledProceeds(t *testing.T) {
	c := NewController()
	if d := c.Pause(context.Background(), "a"); d != Proceed {
		t.Errorf("Pause = %v", d)
	}
}

func TestStepReleasesOnlyThatNode(t *testing.T) {
	c := NewController()
	c.Enable()

	var paused []string
	var mu sync.Mutex
	c.OnPause = func(id string) {
		mu.Lock()
		paused = append(paused, id)
		mu.Unlock()
	}

	results := make(map[string]chan Decision)
	for _, id := range []string{"b", "a"} {
		ch := make(chan Decision, 1)
		results[id] = ch
		go func(id string) { ch <- c.Pause(context.Background(), id) }(id)
	}
	waitPaused(t, c, "a", "b")

	if err := c.Step("a"); err != nil {
		t.Fatalf("Step(a): %v", err)
	}
	if d := <-results["a"]; d != Proceed {
		t.Errorf("a decision = %v", d)
	}
	select {
	case d := <-results["b"]:
		t.Fatalf("b released early with %v", d)
	case <-time.After(20 * time.Millisecond):
	}
	waitPaused(t, c, "b")

	if err := c.Step("b"); err != nil {
		t.Fatal(err)
	}
	if d := <-results["b"]; d != Proceed {
		t.Errorf("b decision = %v", d)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paused) != 2 {
		t.Errorf("OnPause calls = %v", paused)
	}
}

func TestStepUnknownNode(t *testing.T) {
	c := NewController()
	c.Enable()
	err := c.Step("ghost")
	if !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestStopAbandonsPending(t *testing.T) {
	c := NewController()
	c.Enable()

	done := make(chan Decision, 2)
	for _, id := range []string{"x", "y"} {
		go func(id string) { done <- c.Pause(context.Background(), id) }(id)
	}
	waitPaused(t, c, "x", "y")

	c.Stop()
	for i := 0; i < 2; i++ {
		if d := <-done; d != Abandon {
			t.Errorf("decision = %v", d)
		}
	}
	if c.Enabled() {
		t.Error("Stop should disable debug mode")
	}
	if d := c.Pause(context.Background(), "z"); d != Proceed {
		t.Errorf("after stop Pause = %v", d)
	}
}

func TestStepAll(t *testing.T) {
	c := NewController()
	c.Enable()

	done := make(chan Decision, 2)
	for _, id := range []string{"n2", "n1"} {
		go func(id string) { done <- c.Pause(context.Background(), id) }(id)
	}
	waitPaused(t, c, "n1", "n2")

	if got := c.StepAll(); !reflect.DeepEqual(got, []string{"n1", "n2"}) {
		t.Errorf("StepAll = %v", got)
	}
	for i := 0; i < 2; i++ {
		if d := <-done; d != Proceed {
			t.Errorf("decision = %v", d)
		}
	}
}

func TestPauseContextCancel(t *testing.T) {
	c := NewController()
	c.Enable()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Decision, 1)
	go func() { done <- c.Pause(ctx, "slow") }()
	waitPaused(t, c, "slow")

	cancel()
	if d := <-done; d != Abandon {
		t.Errorf("decision = %v", d)
	}
	waitPaused(t, c)
}

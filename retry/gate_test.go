package retry

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/kbukum/devflow/errors"
)

func awaitAsync(g *ManualGate, ctx context.Context, nodeID string) <-chan bool {
	registered := make(chan struct{})
	g.OnAwait = func(string, int) { close(registered) }
	out := make(chan bool, 1)
	go func() { out <- g.Await(ctx, nodeID, 2) }()
	<-registered
	return out
}

func TestManualGateConfirm(t *testing.T) {
	g := NewManualGate(time.Minute)
	res := awaitAsync(g, context.Background(), "deploy")

	if got := g.Pending(); !reflect.DeepEqual(got, []string{"deploy"}) {
		t.Errorf("Pending = %v", got)
	}
	if err := g.Confirm("deploy"); err != nil {
		t.Fatal(err)
	}
	if !<-res {
		t.Error("confirm should return true")
	}
	if err := g.Confirm("deploy"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("second confirm: %v", err)
	}
}

func TestManualGateCancel(t *testing.T) {
	g := NewManualGate(time.Minute)
	res := awaitAsync(g, context.Background(), "deploy")
	if err := g.Cancel("deploy"); err != nil {
		t.Fatal(err)
	}
	if <-res {
		t.Error("cancel should return false")
	}
}

func TestManualGateTimeout(t *testing.T) {
	g := NewManualGate(10 * time.Millisecond)
	if g.Await(context.Background(), "deploy", 2) {
		t.Error("timeout should return false")
	}
	if len(g.Pending()) != 0 {
		t.Error("timed out node should be removed")
	}
}

func TestManualGateContext(t *testing.T) {
	g := NewManualGate(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	res := awaitAsync(g, ctx, "deploy")
	cancel()
	if <-res {
		t.Error("cancelled context should return false")
	}
}

func TestManualGateWithDo(t *testing.T) {
	g := NewManualGate(time.Minute)
	g.OnAwait = func(nodeID string, attempt int) {
		go func() { _ = g.Confirm(nodeID) }()
	}

	calls := 0
	out := Do(context.Background(), Options{
		Policy: Policy{Strategy: StrategyManual, MaxAttempts: 1},
		NodeID: "deploy",
		Gate:   g,
	}, func(context.Context, int) (int, error) {
		calls++
		if calls == 1 {
			return 0, &Failure{Message: "flaky"}
		}
		return 7, nil
	})
	if !out.Success || out.Value != 7 || out.Attempts != 2 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestNewManualGateDefault(t *testing.T) {
	if g := NewManualGate(0); g.timeout != DefaultManualTimeout {
		t.Errorf("timeout = %v", g.timeout)
	}
}

package endpoint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/devflow/component"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, p *Probes, path string) (int, map[string]any) {
	t.Helper()
	r := gin.New()
	p.Register(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: invalid JSON %q", path, rr.Body.String())
	}
	return rr.Code, body
}

func checker(states ...component.HealthStatus) HealthChecker {
	return func(context.Context) []component.Health {
		hs := make([]component.Health, len(states))
		for i, s := range states {
			hs[i] = component.Health{Name: "c", Status: s}
		}
		return hs
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name   string
		states []component.HealthStatus
		want   string
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []component.HealthStatus{component.StatusHealthy, component.StatusHealthy}, StatusHealthy},
		{"degraded", []component.HealthStatus{component.StatusHealthy, component.StatusDegraded}, StatusDegraded},
		{"unhealthy wins", []component.HealthStatus{component.StatusDegraded, component.StatusUnhealthy}, StatusUnhealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Aggregate(checker(tc.states...)(context.Background())); got != tc.want {
				t.Errorf("Aggregate = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	t.Run("healthy with run count", func(t *testing.T) {
		p := NewProbes("devflow", checker(component.StatusHealthy))
		p.CountRuns(func() int { return 2 })
		code, body := serve(t, p, "/health")
		if code != http.StatusOK || body["status"] != StatusHealthy {
			t.Errorf("health = %d %v", code, body)
		}
		if body["active_runs"] != float64(2) {
			t.Errorf("active_runs = %v", body["active_runs"])
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		p := NewProbes("devflow", checker(component.StatusUnhealthy))
		code, body := serve(t, p, "/health")
		if code != http.StatusServiceUnavailable || body["status"] != StatusUnhealthy {
			t.Errorf("health = %d %v", code, body)
		}
		if _, ok := body["active_runs"]; ok {
			t.Error("active_runs reported without a counter")
		}
	})
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		state  component.HealthStatus
		drain  bool
		code   int
		status string
	}{
		{"ready", component.StatusHealthy, false, http.StatusOK, "ready"},
		{"degraded is ready", component.StatusDegraded, false, http.StatusOK, "ready"},
		{"unhealthy", component.StatusUnhealthy, false, http.StatusServiceUnavailable, "not_ready"},
		{"draining", component.StatusHealthy, true, http.StatusServiceUnavailable, "draining"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProbes("devflow", checker(tc.state))
			if tc.drain {
				p.Drain()
			}
			code, body := serve(t, p, "/readyz")
			if code != tc.code || body["status"] != tc.status {
				t.Errorf("readyz = %d %v", code, body)
			}
		})
	}
}

func TestLivenessAndInfo(t *testing.T) {
	p := NewProbes("devflow", nil)
	p.Drain()
	if code, body := serve(t, p, "/livez"); code != http.StatusOK || body["status"] != "alive" {
		t.Errorf("livez = %d %v", code, body)
	}
	code, body := serve(t, p, "/info")
	if code != http.StatusOK || body["service"] != "devflow" {
		t.Errorf("info = %d %v", code, body)
	}
	if _, ok := body["build"].(map[string]any); !ok {
		t.Errorf("build = %v", body["build"])
	}
}

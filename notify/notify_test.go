package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/devflow/capability"
	apperrors "github.com/kbukum/devflow/errors"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"disabled", Config{}, ""},
		{"valid", Config{Enabled: true, URL: "https://hooks.example.com/devflow"}, ""},
		{"missing url", Config{Enabled: true}, "url is required"},
		{"bad scheme", Config{Enabled: true, URL: "ftp://hooks.example.com"}, "scheme"},
		{"no host", Config{Enabled: true, URL: "http:///path"}, "no host"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Timeout != DefaultTimeout || cfg.MaxFailures != DefaultMaxFailures || cfg.Cooldown != DefaultCooldown {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestWebhookDelivers(t *testing.T) {
	var got capability.Notice
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook, err := NewWebhook(Config{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t0ken"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	notice := capability.Notice{Title: "Deploy", Message: "done", Level: "info", RunID: "r1", NodeID: "n1"}
	if err := hook.Notify(context.Background(), notice); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got.Title != "Deploy" || got.RunID != "r1" || got.NodeID != "n1" {
		t.Errorf("received %+v", got)
	}
	if auth != "Bearer t0ken" || contentType != "application/json" {
		t.Errorf("headers auth=%q content-type=%q", auth, contentType)
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel archived", http.StatusGone)
	}))
	defer srv.Close()

	hook, err := NewWebhook(Config{URL: srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = hook.Notify(context.Background(), capability.Notice{NodeID: "n1"})
	if !apperrors.HasCode(err, apperrors.ErrCodeNotification) {
		t.Fatalf("error = %v, want NOTIFICATION_FAILED", err)
	}
	if !strings.Contains(errors.Unwrap(err).Error(), "HTTP 410: channel archived") {
		t.Errorf("cause = %v", errors.Unwrap(err))
	}
}

func TestWebhookCircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hook, err := NewWebhook(Config{URL: srv.URL, MaxFailures: 2, Cooldown: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_ = hook.Notify(context.Background(), capability.Notice{})
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
	if hook.State() != StateOpen {
		t.Errorf("state = %s, want open", hook.State())
	}
	err = hook.Notify(context.Background(), capability.Notice{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerTransitions(t *testing.T) {
	now := time.Unix(0, 0)
	b := newBreaker(2, time.Minute)
	b.now = func() time.Time { return now }
	var changes []string
	b.onChange = func(from, to State) { changes = append(changes, from.String()+">"+to.String()) }

	fail := errors.New("boom")
	_ = b.Execute(func() error { return fail })
	if b.State() != StateClosed {
		t.Fatalf("one failure should keep the breaker closed")
	}
	_ = b.Execute(func() error { return fail })
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker ran fn: %v", err)
	}

	now = now.Add(time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	_ = b.Execute(func() error { return fail })
	if b.State() != StateOpen {
		t.Fatalf("failed trial should reopen, got %s", b.State())
	}

	now = now.Add(time.Minute)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("successful trial should close, got %s", b.State())
	}

	want := []string{"closed>open", "open>half-open", "half-open>open", "open>half-open", "half-open>closed"}
	if strings.Join(changes, ",") != strings.Join(want, ",") {
		t.Errorf("changes = %v, want %v", changes, want)
	}
}

func TestBreakerSingleTrial(t *testing.T) {
	b := newBreaker(1, 0)
	_ = b.Execute(func() error { return errors.New("boom") })
	if !b.allow() {
		t.Fatal("first half-open call should be allowed")
	}
	if b.allow() {
		t.Error("second half-open call should be rejected")
	}
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kbukum/devflow/capability"
	"github.com/kbukum/devflow/errors"
	"github.com/kbukum/devflow/logger"
)

// maxErrorBody caps how much of a failed response lands in the error.
const maxErrorBody = 512

// Webhook posts notices to an HTTP endpoint. It implements
// capability.Notifier.
type Webhook struct {
	cfg     Config
	target  string
	client  *http.Client
	breaker *breaker
	log     *logger.Logger
}

// NewWebhook builds a notifier for cfg.URL. Requests carry the trace
// context of the run that sent them.
func NewWebhook(cfg Config, log *logger.Logger) (*Webhook, error) {
	cfg.ApplyDefaults()
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	u, _ := url.Parse(cfg.URL)

	w := &Webhook{
		cfg:    cfg,
		target: u.Host,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
			Timeout:   cfg.Timeout,
		},
		breaker: newBreaker(cfg.MaxFailures, cfg.Cooldown),
		log:     log.WithComponent("notify"),
	}
	w.breaker.onChange = func(from, to State) {
		w.log.Warn("webhook circuit state changed", logger.Fields(
			"target", w.target, "from", from.String(), "to", to.String()))
	}
	return w, nil
}

// Notify delivers n. Any non-2xx response is a failure.
func (w *Webhook) Notify(ctx context.Context, n capability.Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.NotificationFailed(w.target, err)
	}

	err = w.breaker.Execute(func() error {
		return w.post(ctx, body)
	})
	if err != nil {
		return errors.NotificationFailed(w.target, err)
	}
	w.log.Debug("notice delivered", logger.Fields("target", w.target, "node_id", n.NodeID, "run_id", n.RunID))
	return nil
}

// State reports the circuit breaker state.
func (w *Webhook) State() State {
	return w.breaker.State()
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
}

var _ capability.Notifier = (*Webhook)(nil)

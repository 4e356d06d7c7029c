package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/devflow/runstate"
)

// Notice is the payload of a notification node.
type Notice struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	RunID     string    `json:"runId,omitempty"`
	NodeID    string    `json:"nodeId"`
	NodeLabel string    `json:"nodeLabel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers notices outside the run log.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Notification returns the notification capability. The notice is always
// written to the node log; with a non-nil notifier it is also delivered,
// and a delivery error fails the attempt so the node's retry policy applies.
func Notification(n Notifier) Capability {
	return HandlerFunc(func(ctx context.Context, c map[string]any, inv Invocation) AttemptResult {
		notice := Notice{
			Title:     str(c, "title", ""),
			Message:   str(c, "message", ""),
			Level:     str(c, "level", "info"),
			RunID:     inv.RunID,
			NodeID:    inv.Node.ID,
			NodeLabel: inv.Node.Label,
			Timestamp: time.Now().UTC(),
		}
		inv.Log("stdout", strings.TrimSpace(fmt.Sprintf("%s: %s", notice.Title, notice.Message)))
		if n == nil {
			return Succeeded(runstate.Metrics{})
		}

		if err := n.Notify(ctx, notice); err != nil {
			return Failed("notification not delivered: %v", err)
		}
		return Succeeded(runstate.Metrics{})
	})
}

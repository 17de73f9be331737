package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bdobrica/Sekimori/common/redact"
)

// RoomSender posts plain-text notices to a room.  Implemented by the
// matrix client; a stub suffices in tests.
type RoomSender interface {
	SendNotice(ctx context.Context, text string) error
}

// MatrixNotifier mirrors ledger events into an operator room as notices.
// It consumes its own fanout subscription on a background goroutine, so a
// slow or unreachable homeserver never backs up the ledger.
type MatrixNotifier struct {
	sender RoomSender
	sub    *Subscription
	done   chan struct{}
}

// NewMatrixNotifier subscribes to the fanout and starts forwarding events.
// Call Stop to detach.
func NewMatrixNotifier(fanout *Fanout, sender RoomSender) *MatrixNotifier {
	n := &MatrixNotifier{
		sender: sender,
		sub:    fanout.Subscribe(),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Stop detaches from the fanout and waits for the forwarding goroutine.
func (n *MatrixNotifier) Stop() {
	n.sub.Close()
	<-n.done
}

func (n *MatrixNotifier) run() {
	defer close(n.done)
	for ev := range n.sub.C {
		text := formatNotice(ev)
		if text == "" {
			continue
		}
		if err := n.sender.SendNotice(context.Background(), text); err != nil {
			slog.Warn("matrix notifier: send notice", "event", ev.Type, "err", err)
		}
	}
}

// formatNotice renders an event as a one-to-three line room notice.
// Parameters pass through redact.Map first: room history is not a place
// for credentials.
func formatNotice(ev Event) string {
	req := ev.Request
	if req == nil {
		return ""
	}

	var b strings.Builder
	switch ev.Type {
	case EventRequest:
		fmt.Fprintf(&b, "⏳ Approval needed: %s (%s risk, score %d)", req.Action, req.RiskCategory, req.RiskScore)
		if req.Description != "" {
			fmt.Fprintf(&b, "\n%s", req.Description)
		}
		if len(req.Parameters) > 0 {
			fmt.Fprintf(&b, "\nparameters: %v", redact.Map(req.Parameters))
		}
	case EventDecision:
		verdict := "decided"
		if ev.Decision != nil {
			verdict = string(ev.Decision.Verdict)
		}
		fmt.Fprintf(&b, "✅ Request %s %s: %s", shortID(req.ID), verdict, req.Action)
		if ev.Decision != nil && ev.Decision.Reason != "" {
			fmt.Fprintf(&b, "\nreason: %s", ev.Decision.Reason)
		}
	case EventCancelled:
		fmt.Fprintf(&b, "🚫 Request %s cancelled: %s", shortID(req.ID), req.Action)
	case EventExpired:
		fmt.Fprintf(&b, "⌛ Request %s expired undecided: %s (%s risk)", shortID(req.ID), req.Action, req.RiskCategory)
	default:
		return ""
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Noop is a RoomSender that discards every notice.  Used when no Matrix
// room is configured.
type Noop struct{}

func (Noop) SendNotice(ctx context.Context, text string) error { return nil }

package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Mozart409/uptime-forge/internal/config"
	"github.com/Mozart409/uptime-forge/internal/probe"
	"github.com/Mozart409/uptime-forge/internal/status"
)

type EventType string

const (
	EventFired     EventType = "alert_fired"
	EventRecovered EventType = "recovery"
)

// Event is an alert transition for one endpoint.
type Event struct {
	Endpoint string        `json:"endpoint"`
	Type     EventType     `json:"type"`
	Outcome  probe.Outcome `json:"outcome"`
	At       time.Time     `json:"at"`
}

// Engine turns per-endpoint outcome streams into alert transitions and fans
// them out to the endpoint's configured channels.
type Engine struct {
	log      *zap.Logger
	channels map[string]Notifier
}

func NewEngine(log *zap.Logger, channels map[string]Notifier) *Engine {
	return &Engine{log: log, channels: channels}
}

// Observe folds one outcome into the endpoint's status and returns the alert
// transition it caused, if any. A failure streak fires exactly once when it
// reaches the threshold; later failures in the same streak stay silent. A
// success always resets the streak and recovers at most once. A threshold
// of zero or below never fires.
func (e *Engine) Observe(st *status.EndpointStatus, ep config.Endpoint, out probe.Outcome) *Event {
	wasUp := st.ConsecutiveFailures == 0
	st.Outcome = out

	if out.Success {
		st.ConsecutiveFailures = 0
		st.ConsecutiveSuccesses++
		if !wasUp {
			st.LastTransition = out.CheckedAt
		}
		if st.Alerting {
			st.Alerting = false
			return &Event{Endpoint: ep.Name, Type: EventRecovered, Outcome: out, At: out.CheckedAt}
		}
		return nil
	}

	st.ConsecutiveSuccesses = 0
	st.ConsecutiveFailures++
	if wasUp {
		st.LastTransition = out.CheckedAt
	}
	if ep.AlertAfterFailures > 0 && st.ConsecutiveFailures == ep.AlertAfterFailures && !st.Alerting {
		st.Alerting = true
		return &Event{Endpoint: ep.Name, Type: EventFired, Outcome: out, At: out.CheckedAt}
	}
	return nil
}

// Dispatch delivers an event to the named channels. Delivery is best-effort:
// failures and unknown channel names are logged, never escalated, so a slow
// or broken channel cannot stall a check loop.
func (e *Engine) Dispatch(ctx context.Context, ev Event, channels []string) {
	for _, name := range channels {
		n, ok := e.channels[name]
		if !ok || n == nil {
			e.log.Warn("alert_channel_unknown",
				zap.String("endpoint", ev.Endpoint),
				zap.String("channel", name),
			)
			continue
		}
		if err := n.Send(ctx, ev); err != nil {
			e.log.Warn("alert_send_failed",
				zap.String("endpoint", ev.Endpoint),
				zap.String("channel", name),
				zap.String("event", string(ev.Type)),
				zap.Error(err),
			)
		}
	}
}

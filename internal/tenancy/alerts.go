package tenancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

// AlertType ranks quota-utilization severity.
type AlertType int

const (
	AlertWarning AlertType = iota // 80%
	AlertCritical                 // 90%
	AlertExceeded                 // over limit, within grace overage
	AlertViolation                // 95%+ (outside grace)
)

func (a AlertType) String() string {
	switch a {
	case AlertWarning:
		return "warning"
	case AlertCritical:
		return "critical"
	case AlertExceeded:
		return "exceeded"
	case AlertViolation:
		return "violation"
	default:
		return "unknown"
	}
}

// QuotaAlert is a persisted alert-history record.
type QuotaAlert struct {
	Resource    ResourceType
	Type        AlertType
	Utilization float64
	TriggeredAt time.Time
	Message     string
}

const (
	alertCooldown      = 15 * time.Minute
	alertHistoryLimit  = 1000
)

// AlertSink is where the quota alert manager posts alerts at Critical or
// Violation severity; Warning/Exceeded are recorded in history but not
// forwarded to the sink, keeping paging noise proportional to severity.
type AlertSink interface {
	Send(ctx context.Context, tenantID string, alert QuotaAlert) error
}

// NoopAlertSink discards alerts; the default in tests and in any
// deployment that hasn't configured a real sink.
type NoopAlertSink struct{}

func (NoopAlertSink) Send(context.Context, string, QuotaAlert) error { return nil }

// SlackAlertSink posts quota alerts to a Slack channel.
type SlackAlertSink struct {
	client  *slack.Client
	channel string
}

// NewSlackAlertSink builds a sink posting to channel using token.
func NewSlackAlertSink(token, channel string) *SlackAlertSink {
	return &SlackAlertSink{client: slack.New(token), channel: channel}
}

func (s *SlackAlertSink) Send(ctx context.Context, tenantID string, alert QuotaAlert) error {
	text := fmt.Sprintf("[%s] tenant=%s resource=%s utilization=%.1f%% — %s", alert.Type, tenantID, alert.Resource, alert.Utilization, alert.Message)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	return err
}

// QuotaAlertManager tracks alert history per tenant quota and enforces a
// 15-minute cooldown keyed by (resource, alert_type), retaining at most
// the 1000 most recent alerts.
type QuotaAlertManager struct {
	mu       sync.Mutex
	history  []QuotaAlert
	lastSent map[[2]int]time.Time // key: {int(resource), int(alertType)}
	sink     AlertSink
}

// NewQuotaAlertManager builds a manager posting to sink (use
// NoopAlertSink{} when no external sink is configured).
func NewQuotaAlertManager(sink AlertSink) *QuotaAlertManager {
	if sink == nil {
		sink = NoopAlertSink{}
	}
	return &QuotaAlertManager{lastSent: make(map[[2]int]time.Time), sink: sink}
}

// Raise records alert in history (trimming to alertHistoryLimit) and, if
// outside the cooldown window for (resource, type), forwards Critical/
// Violation alerts to the sink.
func (m *QuotaAlertManager) Raise(ctx context.Context, tenantID string, alert QuotaAlert) {
	m.mu.Lock()
	key := [2]int{int(alert.Resource), int(alert.Type)}
	last, seen := m.lastSent[key]
	onCooldown := seen && alert.TriggeredAt.Sub(last) < alertCooldown
	if !onCooldown {
		m.lastSent[key] = alert.TriggeredAt
	}
	m.history = append(m.history, alert)
	if len(m.history) > alertHistoryLimit {
		m.history = m.history[len(m.history)-alertHistoryLimit:]
	}
	m.mu.Unlock()

	if onCooldown {
		return
	}
	if alert.Type == AlertCritical || alert.Type == AlertViolation {
		_ = m.sink.Send(ctx, tenantID, alert)
	}
}

// History returns a copy of the retained alert history.
func (m *QuotaAlertManager) History() []QuotaAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QuotaAlert, len(m.history))
	copy(out, m.history)
	return out
}

// ThresholdFor maps a utilization percentage to the alert type it
// crosses, or (_, false) if it crosses none of 80/90/95%.
func ThresholdFor(utilizationPercent float64, graceActive bool) (AlertType, bool) {
	switch {
	case graceActive:
		return AlertExceeded, true
	case utilizationPercent >= 95:
		return AlertViolation, true
	case utilizationPercent >= 90:
		return AlertCritical, true
	case utilizationPercent >= 80:
		return AlertWarning, true
	default:
		return 0, false
	}
}

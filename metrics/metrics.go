package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collectors groups the counters the request core reports. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	RequestsCreated     *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	LedgerPosts         *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	ChatMessages        *prometheus.CounterVec
	ResolutionMinutes   prometheus.Histogram
}

// New registers the collectors (plus Go/process collectors) on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RequestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "requests_created_total",
			Help:      "Requests created, by kind and resulting status.",
		}, []string{"kind", "status"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "status_transitions_total",
			Help:      "Committed status transitions.",
		}, []string{"from", "to"}),
		LedgerPosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "ledger_posts_total",
			Help:      "Ledger completion postings by result.",
		}, []string{"result"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "notifications_failed_total",
			Help:      "Best-effort notifications that failed, by event.",
		}, []string{"event"}),
		ChatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "chat_messages_total",
			Help:      "Chat messages stored, by whether content was redacted.",
		}, []string{"redacted"}),
		ResolutionMinutes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "resolution_minutes",
			Help:      "Minutes from in_progress to completed.",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480, 1440},
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.RequestsCreated, c.Transitions, c.LedgerPosts,
			c.NotificationsFailed, c.ChatMessages, c.ResolutionMinutes,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

func (c *Collectors) Created(kind, status string) {
	if c == nil {
		return
	}
	c.RequestsCreated.WithLabelValues(kind, status).Inc()
}

func (c *Collectors) Transition(from, to string) {
	if c == nil {
		return
	}
	c.Transitions.WithLabelValues(from, to).Inc()
}

func (c *Collectors) Ledger(result string) {
	if c == nil {
		return
	}
	c.LedgerPosts.WithLabelValues(result).Inc()
}

func (c *Collectors) NotificationFailed(event string) {
	if c == nil {
		return
	}
	c.NotificationsFailed.WithLabelValues(event).Inc()
}

func (c *Collectors) ChatMessage(redacted bool) {
	if c == nil {
		return
	}
	label := "false"
	if redacted {
		label = "true"
	}
	c.ChatMessages.WithLabelValues(label).Inc()
}

func (c *Collectors) Resolved(minutes int) {
	if c == nil {
		return
	}
	c.ResolutionMinutes.Observe(float64(minutes))
}

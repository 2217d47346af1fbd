package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Segment ingestion metrics
	SegmentsProcessed  *prometheus.CounterVec
	SegmentsOutOfOrder *prometheus.CounterVec
	QueueDepth         prometheus.Gauge

	// LLM gateway metrics
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec

	// Coaching output metrics
	CueCardsRaised     *prometheus.CounterVec
	CueCardsSuppressed *prometheus.CounterVec
	NudgesRaised       *prometheus.CounterVec
	SentimentUpdates   prometheus.Counter
	PlaybookCoverage   prometheus.Gauge

	// Session metrics
	ActiveSession   prometheus.Gauge
	CallsCompleted  prometheus.Counter
	SummaryFallback prometheus.Counter
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SegmentsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_segments_processed_total",
				Help: "Total number of transcript segments processed",
			},
			[]string{"channel", "finality"},
		)

		SegmentsOutOfOrder = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_segments_out_of_order_total",
				Help: "Final segments accepted with a start time behind the committed log",
			},
			[]string{"channel"},
		)

		QueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copilot_processing_queue_depth",
				Help: "Segments waiting in the serialized processing queue",
			},
		)

		LLMRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_llm_requests_total",
				Help: "Total number of LLM gateway requests",
			},
			[]string{"outcome"},
		)

		LLMRequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_llm_request_duration_seconds",
				Help:    "Latency of LLM gateway requests",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"outcome"},
		)

		CueCardsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_cue_cards_raised_total",
				Help: "Coaching cue cards raised, by objection type",
			},
			[]string{"objection_type"},
		)

		CueCardsSuppressed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_cue_cards_suppressed_total",
				Help: "Cue cards suppressed by cooldown or confidence floor",
			},
			[]string{"reason"},
		)

		NudgesRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_nudges_raised_total",
				Help: "Coaching nudges raised, by rule type",
			},
			[]string{"type"},
		)

		SentimentUpdates = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "copilot_sentiment_updates_total",
				Help: "Customer segments with a recorded sentiment classification",
			},
		)

		PlaybookCoverage = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copilot_playbook_coverage_percentage",
				Help: "Current playbook coverage percentage for the active call",
			},
		)

		ActiveSession = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copilot_active_session",
				Help: "1 while a call session is active",
			},
		)

		CallsCompleted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "copilot_calls_completed_total",
				Help: "Calls completed through EndCall",
			},
		)

		SummaryFallback = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "copilot_summary_fallback_total",
				Help: "Call summaries produced by the degraded mechanical path",
			},
		)

		registry.MustRegister(
			SegmentsProcessed, SegmentsOutOfOrder, QueueDepth,
			LLMRequestsTotal, LLMRequestDuration,
			CueCardsRaised, CueCardsSuppressed, NudgesRaised,
			SentimentUpdates, PlaybookCoverage,
			ActiveSession, CallsCompleted, SummaryFallback,
		)

		logger.Debug("Prometheus metrics registered")
	})
}

// Handler returns the HTTP handler for the /metrics endpoint.
// Returns a 503 handler when Init has not run.
func Handler() http.Handler {
	if registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not initialized", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordSegment counts one processed segment.
func RecordSegment(channel string, isFinal bool) {
	if SegmentsProcessed == nil {
		return
	}
	finality := "interim"
	if isFinal {
		finality = "final"
	}
	SegmentsProcessed.WithLabelValues(channel, finality).Inc()
}

// RecordOutOfOrder counts an out-of-order final segment.
func RecordOutOfOrder(channel string) {
	if SegmentsOutOfOrder == nil {
		return
	}
	SegmentsOutOfOrder.WithLabelValues(channel).Inc()
}

// RecordCueCard counts a raised cue card.
func RecordCueCard(objectionType string) {
	if CueCardsRaised == nil {
		return
	}
	CueCardsRaised.WithLabelValues(objectionType).Inc()
}

// RecordCueCardSuppressed counts a suppressed cue card.
func RecordCueCardSuppressed(reason string) {
	if CueCardsSuppressed == nil {
		return
	}
	CueCardsSuppressed.WithLabelValues(reason).Inc()
}

// RecordNudge counts a raised nudge.
func RecordNudge(nudgeType string) {
	if NudgesRaised == nil {
		return
	}
	NudgesRaised.WithLabelValues(nudgeType).Inc()
}

// RecordSentimentUpdate counts a recorded sentiment classification.
func RecordSentimentUpdate() {
	if SentimentUpdates == nil {
		return
	}
	SentimentUpdates.Inc()
}

// SetPlaybookCoverage publishes the live coverage percentage.
func SetPlaybookCoverage(pct float64) {
	if PlaybookCoverage == nil {
		return
	}
	PlaybookCoverage.Set(pct)
}

// SetActiveSession flips the active-session gauge.
func SetActiveSession(active bool) {
	if ActiveSession == nil {
		return
	}
	if active {
		ActiveSession.Set(1)
	} else {
		ActiveSession.Set(0)
	}
}

// RecordCallCompleted counts a completed call; fallback marks the degraded
// summary path.
func RecordCallCompleted(fallback bool) {
	if CallsCompleted != nil {
		CallsCompleted.Inc()
	}
	if fallback && SummaryFallback != nil {
		SummaryFallback.Inc()
	}
}

// SetQueueDepth publishes the processing queue depth.
func SetQueueDepth(depth int) {
	if QueueDepth == nil {
		return
	}
	QueueDepth.Set(float64(depth))
}

// LLMTimer measures a single LLM request.
type LLMTimer struct {
	start time.Time
	done  bool
}

// ObserveLLMRequest starts timing one LLM gateway request.
func ObserveLLMRequest() *LLMTimer {
	return &LLMTimer{start: time.Now()}
}

// Done records the request with its outcome label.
func (t *LLMTimer) Done(outcome string) {
	if t == nil || t.done {
		return
	}
	t.done = true
	if LLMRequestsTotal != nil {
		LLMRequestsTotal.WithLabelValues(outcome).Inc()
	}
	if LLMRequestDuration != nil {
		LLMRequestDuration.WithLabelValues(outcome).Observe(time.Since(t.start).Seconds())
	}
}

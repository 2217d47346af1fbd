package copilot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"copilot-server/pkg/metrics"
)

var severityRank = map[string]int{
	SeverityLow:    1,
	SeverityMedium: 2,
	SeverityHigh:   3,
}

// nudgeInputs is everything a rule may consult on one evaluation tick.
type nudgeInputs struct {
	metrics   MetricsSnapshot
	sentiment SentimentState
	committed []TranscriptSegment
	now       time.Time
}

// NudgeEngine evaluates an ordered rule list after every metrics or
// sentiment update. The first matching rule wins per tick so at most one
// nudge is active; a higher-severity rule may preempt an active
// lower-severity nudge of a different type.
type NudgeEngine struct {
	logger *logrus.Entry

	active    *Nudge
	lastFired map[string]time.Time
}

// NewNudgeEngine creates an engine for one call session.
func NewNudgeEngine(logger *logrus.Logger) *NudgeEngine {
	return &NudgeEngine{
		logger:    logger.WithField("component", "nudges"),
		lastFired: make(map[string]time.Time, 5),
	}
}

// Evaluate runs one tick and returns a newly activated nudge, if any.
func (e *NudgeEngine) Evaluate(in nudgeInputs, cfg Config) *Nudge {
	order := cfg.NudgeOrder
	if len(order) == 0 {
		order = []string{NudgeMonologue, NudgeSentiment, NudgeTalkRatio, NudgePace, NudgeQuestions}
	}

	for _, ruleType := range order {
		candidate := e.evaluateRule(ruleType, in, cfg)
		if candidate == nil {
			continue
		}
		if last, ok := e.lastFired[ruleType]; ok && in.now.Sub(last) < cfg.NudgeCooldown {
			continue
		}
		if !e.admit(candidate) {
			continue
		}

		e.lastFired[ruleType] = in.now
		metrics.RecordNudge(ruleType)
		e.logger.WithFields(logrus.Fields{
			"type":     candidate.Type,
			"severity": candidate.Severity,
		}).Debug("Nudge raised")
		return candidate
	}
	return nil
}

// admit decides whether the candidate may take the active slot.
func (e *NudgeEngine) admit(candidate *Nudge) bool {
	if e.active == nil {
		e.active = candidate
		return true
	}
	if e.active.Type != candidate.Type &&
		severityRank[candidate.Severity] > severityRank[e.active.Severity] {
		e.active = candidate
		return true
	}
	return false
}

// Active returns a copy of the active nudge, or nil.
func (e *NudgeEngine) Active() *Nudge {
	if e.active == nil {
		return nil
	}
	n := *e.active
	return &n
}

// Dismiss clears the active nudge by id.
func (e *NudgeEngine) Dismiss(nudgeID string) bool {
	if e.active == nil || e.active.ID != nudgeID {
		return false
	}
	e.active = nil
	return true
}

func (e *NudgeEngine) evaluateRule(ruleType string, in nudgeInputs, cfg Config) *Nudge {
	switch ruleType {
	case NudgeMonologue:
		return e.evalMonologue(in, cfg)
	case NudgeSentiment:
		return e.evalSentiment(in, cfg)
	case NudgeTalkRatio:
		return e.evalTalkRatio(in, cfg)
	case NudgePace:
		return e.evalPace(in, cfg)
	case NudgeQuestions:
		return e.evalQuestions(in, cfg)
	default:
		return nil
	}
}

func (e *NudgeEngine) evalMonologue(in nudgeInputs, cfg Config) *Nudge {
	if !in.metrics.MonologueDetected {
		return nil
	}
	return newNudge(NudgeMonologue, SeverityHigh,
		fmt.Sprintf("You've been talking for over %s. Hand the floor back with a question.",
			cfg.MonologueThreshold),
		"Ask a question", in.now)
}

func (e *NudgeEngine) evalSentiment(in nudgeInputs, cfg Config) *Nudge {
	if in.sentiment.Trend != TrendDeclining || in.sentiment.AverageScore >= -0.2 {
		return nil
	}
	severity := SeverityMedium
	if in.sentiment.AverageScore < -0.5 {
		severity = SeverityHigh
	}
	return newNudge(NudgeSentiment, severity,
		"Customer sentiment is slipping. Acknowledge their concern before moving on.",
		"Acknowledge concern", in.now)
}

func (e *NudgeEngine) evalTalkRatio(in nudgeInputs, cfg Config) *Nudge {
	// "Sustained" needs enough speech to be meaningful, not a first-seconds
	// artifact.
	totalWords := in.metrics.WordCount.Me + in.metrics.WordCount.Them
	if totalWords < 50 {
		return nil
	}
	if in.metrics.TalkRatio.Me <= cfg.TalkRatioThreshold {
		return nil
	}
	return newNudge(NudgeTalkRatio, SeverityMedium,
		fmt.Sprintf("You're doing %.0f%% of the talking. Let the customer speak.",
			100*in.metrics.TalkRatio.Me),
		"Pause and listen", in.now)
}

func (e *NudgeEngine) evalPace(in nudgeInputs, cfg Config) *Nudge {
	if in.metrics.Pace == 0 {
		return nil
	}
	if in.metrics.Pace >= cfg.PaceMin && in.metrics.Pace <= cfg.PaceMax {
		return nil
	}
	msg := fmt.Sprintf("Conversation pace is %.0f wpm, outside the %.0f-%.0f band.",
		in.metrics.Pace, cfg.PaceMin, cfg.PaceMax)
	return newNudge(NudgePace, SeverityLow, msg, "", in.now)
}

func (e *NudgeEngine) evalQuestions(in nudgeInputs, cfg Config) *Nudge {
	var lastQuestion, lastCustomer time.Time
	for _, seg := range in.committed {
		if seg.Channel == ChannelMe && isQuestion(seg.Text) && seg.EndTime.After(lastQuestion) {
			lastQuestion = seg.EndTime
		}
		if seg.Channel == ChannelThem && seg.EndTime.After(lastCustomer) {
			lastCustomer = seg.EndTime
		}
	}
	// Only fires when the customer has spoken recently with no question
	// from the agent inside the window.
	if lastCustomer.IsZero() || in.now.Sub(lastCustomer) > cfg.QuestionWindow {
		return nil
	}
	if !lastQuestion.IsZero() && in.now.Sub(lastQuestion) < cfg.QuestionWindow {
		return nil
	}
	return newNudge(NudgeQuestions, SeverityLow,
		"No discovery questions recently. Dig deeper into what they just said.",
		"Ask a follow-up", in.now)
}

func newNudge(nudgeType, severity, message, actionLabel string, now time.Time) *Nudge {
	n := &Nudge{
		ID:          uuid.New().String(),
		Type:        nudgeType,
		Message:     message,
		Severity:    severity,
		Dismissible: true,
		Timestamp:   now,
	}
	if actionLabel != "" {
		n.ActionLabel = actionLabel
		n.ActionType = nudgeType
	}
	return n
}

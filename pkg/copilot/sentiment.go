package copilot

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"copilot-server/pkg/llm"
	"copilot-server/pkg/metrics"
)

const sentimentSystemPrompt = `You classify the sentiment of a single customer utterance from a sales call.
Respond with ONLY a JSON object: {"sentiment": "positive"|"neutral"|"negative", "score": <number in [-1,1]>}.
No commentary, no markdown.`

// Lexicon used when LLM detection is disabled or as the deterministic path
// in tests. Weights are summed and clamped to [-1,1].
var (
	sentimentPositiveWords = map[string]float64{
		"great": 0.8, "good": 0.6, "happy": 0.7, "love": 0.8, "excellent": 0.9,
		"perfect": 0.8, "interested": 0.5, "helpful": 0.6, "yes": 0.3, "excited": 0.8,
	}
	sentimentNegativeWords = map[string]float64{
		"bad": 0.7, "angry": 0.8, "upset": 0.7, "terrible": 0.9, "cancel": 0.6,
		"expensive": 0.5, "frustrated": 0.8, "disappointed": 0.8, "no": 0.3, "worried": 0.6,
	}
)

// SentimentTracker classifies committed customer segments and maintains the
// rolling sentiment state. Failed classifications are skipped outright: a
// guessed value would pollute the trend signal.
type SentimentTracker struct {
	logger    *logrus.Entry
	completer llm.Completer

	state SentimentState
}

// NewSentimentTracker creates a tracker for one call session.
func NewSentimentTracker(logger *logrus.Logger, completer llm.Completer) *SentimentTracker {
	return &SentimentTracker{
		logger:    logger.WithField("component", "sentiment"),
		completer: completer,
		state: SentimentState{
			Current: SentimentNeutral,
			Trend:   TrendStable,
			History: make([]SentimentEntry, 0, 16),
		},
	}
}

// OnSegment classifies one committed "them" segment and folds it into the
// state. Returns true when the state changed.
func (t *SentimentTracker) OnSegment(ctx context.Context, seg TranscriptSegment, cfg Config) bool {
	if seg.Channel != ChannelThem || !seg.IsFinal {
		return false
	}

	var (
		label string
		score float64
		ok    bool
	)
	if cfg.UseLLMForDetection && t.completer != nil {
		label, score, ok = t.classifyLLM(ctx, seg.Text)
	} else {
		label, score, ok = classifyLexicon(seg.Text)
	}
	if !ok {
		return false
	}

	t.state.History = append(t.state.History, SentimentEntry{
		Time:      seg.EndTime,
		Sentiment: label,
		Score:     score,
		Text:      seg.Text,
	})
	if max := cfg.SentimentHistorySize; max > 0 && len(t.state.History) > max {
		t.state.History = t.state.History[len(t.state.History)-max:]
	}

	t.state.Current = label
	t.state.AverageScore = meanScore(t.state.History)
	t.state.Trend = computeTrend(t.state.History, cfg.SentimentMinHistory, cfg.TrendEpsilon)

	metrics.RecordSentimentUpdate()
	return true
}

// State returns a copy of the current sentiment state.
func (t *SentimentTracker) State() SentimentState {
	out := t.state
	out.History = make([]SentimentEntry, len(t.state.History))
	copy(out.History, t.state.History)
	return out
}

func (t *SentimentTracker) classifyLLM(ctx context.Context, text string) (string, float64, bool) {
	raw, err := t.completer.Complete(ctx, sentimentSystemPrompt, fmt.Sprintf("Customer said: %q", text))
	if err != nil {
		t.logger.WithError(err).Debug("Sentiment classification failed, skipping segment")
		return "", 0, false
	}

	var parsed struct {
		Sentiment string  `json:"sentiment"`
		Score     float64 `json:"score"`
	}
	if err := llm.ExtractJSON(raw).Unmarshal(&parsed); err != nil {
		t.logger.WithError(err).Debug("Sentiment response unparseable, skipping segment")
		return "", 0, false
	}

	switch parsed.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		t.logger.WithField("sentiment", parsed.Sentiment).Debug("Unknown sentiment label, skipping segment")
		return "", 0, false
	}
	return parsed.Sentiment, clampScore(parsed.Score), true
}

// classifyLexicon is the deterministic word-weight path.
func classifyLexicon(text string) (string, float64, bool) {
	score := 0.0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:'\"")
		if val, ok := sentimentPositiveWords[w]; ok {
			score += val
		}
		if val, ok := sentimentNegativeWords[w]; ok {
			score -= val
		}
	}
	score = clampScore(score)

	label := SentimentNeutral
	if score > 0.2 {
		label = SentimentPositive
	} else if score < -0.2 {
		label = SentimentNegative
	}
	return label, score, true
}

func clampScore(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func meanScore(history []SentimentEntry) float64 {
	if len(history) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range history {
		sum += e.Score
	}
	return sum / float64(len(history))
}

// computeTrend compares the mean of the most recent third of history with
// the mean of the earliest third. Below minHistory the trend is forced
// stable.
func computeTrend(history []SentimentEntry, minHistory int, epsilon float64) string {
	if len(history) < minHistory {
		return TrendStable
	}

	third := len(history) / 3
	if third == 0 {
		third = 1
	}
	early := meanScore(history[:third])
	recent := meanScore(history[len(history)-third:])

	switch {
	case recent-early > epsilon:
		return TrendImproving
	case early-recent > epsilon:
		return TrendDeclining
	default:
		return TrendStable
	}
}

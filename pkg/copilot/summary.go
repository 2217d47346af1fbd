package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"copilot-server/pkg/llm"
	"copilot-server/pkg/metrics"
)

const summarySystemPrompt = `You summarize a completed sales call from its transcript and derived analytics.
Respond with ONLY a JSON object:
{"overview": "...",
 "customer_needs": "...",
 "outcome": "...",
 "bullets": ["..."],
 "next_steps": ["..."],
 "risk_flags": ["..."],
 "sentiment_summary": "..."}
Be factual; do not invent details absent from the input. No commentary, no markdown.`

// summaryContext is the accumulated state handed to the summarizer.
type summaryContext struct {
	session   CallSession
	committed []TranscriptSegment
	metrics   MetricsSnapshot
	cards     []CueCard
	playbook  PlaybookSnapshot
	sentiment SentimentState
	bookmarks []Bookmark
}

// Summarizer produces the end-of-call structured summary. EndCall must
// never surface a hard error, so extraction failure yields a mechanically
// derived degraded summary instead.
type Summarizer struct {
	logger    *logrus.Entry
	completer llm.Completer
}

// NewSummarizer creates a summarizer.
func NewSummarizer(logger *logrus.Logger, completer llm.Completer) *Summarizer {
	return &Summarizer{
		logger:    logger.WithField("component", "summarizer"),
		completer: completer,
	}
}

// Summarize synthesizes the call summary from accumulated state.
func (s *Summarizer) Summarize(ctx context.Context, sc summaryContext) CallSummary {
	summary := CallSummary{
		RecordingID: sc.session.RecordingID,
		SessionID:   sc.session.SessionID,
		GeneratedAt: time.Now(),
		Playbook:    sc.playbook,
	}
	for _, card := range sc.cards {
		summary.Objections = append(summary.Objections,
			fmt.Sprintf("%s: %q", card.ObjectionType, card.TriggerText))
	}

	if s.completer != nil {
		if ok := s.fillFromLLM(ctx, sc, &summary); ok {
			metrics.RecordCallCompleted(false)
			return summary
		}
	}

	s.fillDegraded(sc, &summary)
	metrics.RecordCallCompleted(true)
	return summary
}

func (s *Summarizer) fillFromLLM(ctx context.Context, sc summaryContext, summary *CallSummary) bool {
	raw, err := s.completer.Complete(ctx, summarySystemPrompt, buildSummaryPrompt(sc))
	if err != nil {
		s.logger.WithError(err).Warn("Summary LLM call failed, falling back to mechanical summary")
		return false
	}

	var parsed struct {
		Overview         string   `json:"overview"`
		CustomerNeeds    string   `json:"customer_needs"`
		Outcome          string   `json:"outcome"`
		Bullets          []string `json:"bullets"`
		NextSteps        []string `json:"next_steps"`
		RiskFlags        []string `json:"risk_flags"`
		SentimentSummary string   `json:"sentiment_summary"`
	}
	if err := llm.ExtractJSON(raw).Unmarshal(&parsed); err != nil {
		s.logger.WithError(err).Warn("Summary response unparseable, falling back to mechanical summary")
		return false
	}

	summary.Overview = parsed.Overview
	summary.CustomerNeeds = parsed.CustomerNeeds
	summary.Outcome = parsed.Outcome
	summary.Bullets = parsed.Bullets
	summary.NextSteps = parsed.NextSteps
	summary.RiskFlags = parsed.RiskFlags
	summary.SentimentSummary = parsed.SentimentSummary
	return true
}

// fillDegraded derives bullets mechanically from playbook evidence and cue
// cards. Narrative fields stay empty and the failure is flagged explicitly.
func (s *Summarizer) fillDegraded(sc summaryContext, summary *CallSummary) {
	summary.Degraded = true

	for _, item := range sc.playbook.Items {
		if len(item.Evidence) == 0 {
			continue
		}
		last := item.Evidence[len(item.Evidence)-1]
		summary.Bullets = append(summary.Bullets,
			fmt.Sprintf("%s discussed: %q", item.Label, last.Text))
	}
	for _, card := range sc.cards {
		summary.Bullets = append(summary.Bullets,
			fmt.Sprintf("Objection raised (%s): %q", card.ObjectionType, card.TriggerText))
	}
	for _, bm := range sc.bookmarks {
		summary.Bullets = append(summary.Bullets,
			fmt.Sprintf("Bookmark (%s): %s", bm.Category, bm.Note))
	}
	if len(summary.Bullets) == 0 {
		summary.Bullets = []string{fmt.Sprintf("Call with %d transcript segments, no playbook evidence captured",
			len(sc.committed))}
	}

	summary.RiskFlags = append(summary.RiskFlags, "summary generation failed")
	if sc.sentiment.Trend == TrendDeclining {
		summary.RiskFlags = append(summary.RiskFlags, "customer sentiment declining at call end")
	}
	summary.SentimentSummary = fmt.Sprintf("final sentiment %s, average score %.2f",
		sc.sentiment.Current, sc.sentiment.AverageScore)
}

// buildSummaryPrompt renders the accumulated call state as the user prompt.
func buildSummaryPrompt(sc summaryContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Call duration: %s. Talk ratio me/them: %.2f/%.2f. Questions asked: %d.\n",
		sc.metrics.CallDuration.Round(time.Second),
		sc.metrics.TalkRatio.Me, sc.metrics.TalkRatio.Them,
		sc.metrics.QuestionsAsked)
	fmt.Fprintf(&b, "Customer sentiment: %s (trend %s, average %.2f).\n",
		sc.sentiment.Current, sc.sentiment.Trend, sc.sentiment.AverageScore)

	if len(sc.cards) > 0 {
		b.WriteString("Objections raised:\n")
		for _, card := range sc.cards {
			fmt.Fprintf(&b, "- [%s] %q (status %s)\n", card.ObjectionType, card.TriggerText, card.Status)
		}
	}

	if coverage, err := json.Marshal(sc.playbook); err == nil {
		fmt.Fprintf(&b, "Playbook coverage: %s\n", coverage)
	}

	if len(sc.bookmarks) > 0 {
		b.WriteString("Bookmarks:\n")
		for _, bm := range sc.bookmarks {
			fmt.Fprintf(&b, "- [%s] %s\n", bm.Category, bm.Note)
		}
	}

	b.WriteString("Transcript:\n")
	for _, seg := range sc.committed {
		fmt.Fprintf(&b, "[%s] %s\n", seg.Channel, seg.Text)
	}

	return b.String()
}

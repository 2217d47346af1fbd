package copilot

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot-server/pkg/errors"
)

func sampleSummaryContext() summaryContext {
	return summaryContext{
		session: CallSession{RecordingID: "rec-1", SessionID: "sess-1"},
		committed: []TranscriptSegment{
			seg(ChannelMe, "Hi there", 0, 3),
			seg(ChannelThem, "our problem is onboarding and it is too expensive to fix", 3, 10),
		},
		metrics: MetricsSnapshot{QuestionsAsked: 2},
		cards: []CueCard{{
			TriggerID:     "trig-1",
			ObjectionType: "price",
			TriggerText:   "too expensive to fix",
			Status:        CueCardActive,
		}},
		playbook: PlaybookSnapshot{
			PlaybookID: "discovery_default",
			Items: []PlaybookItem{{
				ID:     "pain",
				Label:  "Customer pain and goals",
				Status: PlaybookPartial,
				Evidence: []PlaybookEvidence{{
					Text:    "our problem is onboarding",
					Keyword: "problem",
				}},
			}},
			Total: 1, Partial: 1,
		},
		sentiment: SentimentState{Current: SentimentNegative, Trend: TrendDeclining, AverageScore: -0.4},
		bookmarks: []Bookmark{{ID: "bm-1", Category: "pricing", Note: "revisit discount policy"}},
	}
}

func TestSummarizeLLMSuccess(t *testing.T) {
	completer := &fakeCompleter{responses: []string{
		"```json\n" + `{"overview": "Discovery call about onboarding pain.",
		  "customer_needs": "Faster onboarding.",
		  "outcome": "Follow-up scheduled.",
		  "bullets": ["Onboarding is the main pain point."],
		  "next_steps": ["Send pricing breakdown."],
		  "risk_flags": ["Price sensitivity."],
		  "sentiment_summary": "Negative, trending down."}` + "\n```",
	}}
	s := NewSummarizer(testLogger(), completer)

	summary := s.Summarize(context.Background(), sampleSummaryContext())

	assert.False(t, summary.Degraded)
	assert.Equal(t, "rec-1", summary.RecordingID)
	assert.Equal(t, "sess-1", summary.SessionID)
	assert.Equal(t, "Discovery call about onboarding pain.", summary.Overview)
	assert.Equal(t, []string{"Send pricing breakdown."}, summary.NextSteps)
	require.Len(t, summary.Objections, 1)
	assert.Contains(t, summary.Objections[0], "price")
	assert.False(t, summary.GeneratedAt.IsZero())
}

func TestSummarizeDegradedOnLLMFailure(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("gateway: %w", errors.ErrUnavailable)}
	s := NewSummarizer(testLogger(), completer)

	summary := s.Summarize(context.Background(), sampleSummaryContext())

	assert.True(t, summary.Degraded)
	assert.Contains(t, summary.RiskFlags, "summary generation failed")
	assert.Contains(t, summary.RiskFlags, "customer sentiment declining at call end")
	assert.Empty(t, summary.Overview)

	// Mechanical bullets come from playbook evidence, cards and bookmarks.
	require.Len(t, summary.Bullets, 3)
	assert.Contains(t, summary.Bullets[0], "Customer pain and goals")
	assert.Contains(t, summary.Bullets[1], "price")
	assert.Contains(t, summary.Bullets[2], "revisit discount policy")
}

func TestSummarizeDegradedOnUnparseableResponse(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"I could not produce a summary, sorry."}}
	s := NewSummarizer(testLogger(), completer)

	summary := s.Summarize(context.Background(), sampleSummaryContext())
	assert.True(t, summary.Degraded)
	assert.Contains(t, summary.RiskFlags, "summary generation failed")
}

func TestSummarizeDegradedWithNilCompleter(t *testing.T) {
	s := NewSummarizer(testLogger(), nil)

	summary := s.Summarize(context.Background(), sampleSummaryContext())
	assert.True(t, summary.Degraded)
	assert.NotEmpty(t, summary.SentimentSummary)
}

func TestSummarizeDegradedEmptyCall(t *testing.T) {
	s := NewSummarizer(testLogger(), nil)

	summary := s.Summarize(context.Background(), summaryContext{
		session: CallSession{RecordingID: "rec-2", SessionID: "sess-2"},
	})
	assert.True(t, summary.Degraded)
	require.Len(t, summary.Bullets, 1)
	assert.Contains(t, summary.Bullets[0], "0 transcript segments")
}

func TestBuildSummaryPromptIncludesTranscript(t *testing.T) {
	prompt := buildSummaryPrompt(sampleSummaryContext())

	assert.Contains(t, prompt, "[me] Hi there")
	assert.Contains(t, prompt, "[them] our problem is onboarding")
	assert.Contains(t, prompt, "Objections raised:")
	assert.Contains(t, prompt, "Bookmarks:")
}

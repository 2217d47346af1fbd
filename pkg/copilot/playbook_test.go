package copilot

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot-server/pkg/errors"
)

func findItem(t *testing.T, snap PlaybookSnapshot, id string) PlaybookItem {
	t.Helper()
	for _, item := range snap.Items {
		if item.ID == id {
			return item
		}
	}
	t.Fatalf("playbook item %q not found", id)
	return PlaybookItem{}
}

func TestPlaybookStartsAllMissing(t *testing.T) {
	tracker := NewPlaybookTracker(testLogger(), nil, "discovery_default")
	snap := tracker.Snapshot()

	assert.Equal(t, snap.Total, snap.Missing)
	assert.Zero(t, snap.Covered)
	assert.Zero(t, snap.CoveragePercentage)
	assert.Len(t, snap.Recommendations, snap.Total)
}

func TestPlaybookUnknownIDFallsBack(t *testing.T) {
	tracker := NewPlaybookTracker(testLogger(), nil, "enterprise_custom")
	assert.Equal(t, "discovery_default", tracker.Snapshot().PlaybookID)
}

func TestPlaybookEvidencePromotesStatus(t *testing.T) {
	tracker := NewPlaybookTracker(testLogger(), nil, "discovery_default")
	cfg := lexiconConfig()

	changed := tracker.OnSegment(context.Background(),
		seg(ChannelThem, "our biggest problem is onboarding time", 0, 3), cfg)
	require.True(t, changed)

	item := findItem(t, tracker.Snapshot(), "pain")
	assert.Equal(t, PlaybookPartial, item.Status)
	require.Len(t, item.Evidence, 1)
	assert.Equal(t, "problem", item.Evidence[0].Keyword)

	changed = tracker.OnSegment(context.Background(),
		seg(ChannelThem, "it is a real challenge for the support team", 10, 13), cfg)
	require.True(t, changed)

	item = findItem(t, tracker.Snapshot(), "pain")
	assert.Equal(t, PlaybookCovered, item.Status)
	assert.Len(t, item.Evidence, 2)
}

func TestPlaybookStatusNeverRegresses(t *testing.T) {
	tracker := NewPlaybookTracker(testLogger(), nil, "discovery_default")
	cfg := lexiconConfig()
	cfg.PlaybookCoveredEvidence = 1

	tracker.OnSegment(context.Background(),
		seg(ChannelThem, "we have budget set aside", 0, 2), cfg)
	require.Equal(t, PlaybookCovered, findItem(t, tracker.Snapshot(), "budget").Status)

	// Further evidence keeps accumulating without changing the status.
	tracker.OnSegment(context.Background(),
		seg(ChannelThem, "the budget is about fifty thousand", 10, 12), cfg)
	item := findItem(t, tracker.Snapshot(), "budget")
	assert.Equal(t, PlaybookCovered, item.Status)
	assert.Len(t, item.Evidence, 2)
}

func TestPlaybookIgnoresInterim(t *testing.T) {
	tracker := NewPlaybookTracker(testLogger(), nil, "discovery_default")
	interim := seg(ChannelThem, "the budget is tight", 0, 2)
	interim.IsFinal = false

	assert.False(t, tracker.OnSegment(context.Background(), interim, lexiconConfig()))
	assert.Zero(t, tracker.Snapshot().Partial)
}

func TestPlaybookCoveragePercentage(t *testing.T) {
	tracker := NewPlaybookTracker(testLogger(), nil, "discovery_default")
	cfg := lexiconConfig()

	// One covered (two matches), one partial (one match).
	tracker.OnSegment(context.Background(), seg(ChannelThem, "our main problem is churn", 0, 2), cfg)
	tracker.OnSegment(context.Background(), seg(ChannelThem, "the challenge keeps growing", 5, 7), cfg)
	tracker.OnSegment(context.Background(), seg(ChannelThem, "budget is still open", 10, 12), cfg)

	snap := tracker.Snapshot()
	assert.Equal(t, 1, snap.Covered)
	assert.Equal(t, 1, snap.Partial)
	assert.Equal(t, 7, snap.Total)
	assert.InDelta(t, 100*1.5/7.0, snap.CoveragePercentage, 0.001)
}

func TestPlaybookRecommendationsOrderAndFormat(t *testing.T) {
	tracker := NewPlaybookTracker(testLogger(), nil, "discovery_default")
	cfg := lexiconConfig()

	// Give "timeline" one piece of evidence; it stays partial but sorts after
	// the never-evidenced gaps.
	tracker.OnSegment(context.Background(),
		seg(ChannelThem, "our deadline is end of quarter", 0, 2), cfg)

	snap := tracker.Snapshot()
	require.NotEmpty(t, snap.Recommendations)
	assert.Contains(t, snap.Recommendations[0], ":")
	assert.Equal(t, "Timeline: When would you want this live?", snap.Recommendations[len(snap.Recommendations)-1])
}

func TestPlaybookLLMPromotionRejection(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"relevant": false}`}}
	tracker := NewPlaybookTracker(testLogger(), completer, "discovery_default")
	cfg := DefaultConfig()
	cfg.PlaybookLLMPromotion = true

	changed := tracker.OnSegment(context.Background(),
		seg(ChannelThem, "no problem at all", 0, 2), cfg)
	assert.False(t, changed)
	assert.Empty(t, findItem(t, tracker.Snapshot(), "pain").Evidence)
}

func TestPlaybookLLMPromotionInconclusiveKeepsEvidence(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("gateway: %w", errors.ErrTimeout)}
	tracker := NewPlaybookTracker(testLogger(), completer, "discovery_default")
	cfg := DefaultConfig()
	cfg.PlaybookLLMPromotion = true

	changed := tracker.OnSegment(context.Background(),
		seg(ChannelThem, "the problem is response time", 0, 2), cfg)
	assert.True(t, changed)
	assert.Len(t, findItem(t, tracker.Snapshot(), "pain").Evidence, 1)
}

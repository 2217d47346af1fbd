package copilot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot-server/pkg/errors"
)

func TestPrefilterMatchesObjectionScenario(t *testing.T) {
	matches := PrefilterMatches("I really can't afford this right now and neither can my boss")
	assert.Equal(t, []string{"price", "authority"}, matches)
}

func TestPrefilterNoMatch(t *testing.T) {
	assert.Empty(t, PrefilterMatches("sounds good, send over the contract"))
}

func TestObjectionTemplatePath(t *testing.T) {
	engine := NewObjectionEngine(testLogger(), nil)
	cfg := lexiconConfig()

	cards := engine.OnSegment(context.Background(),
		seg(ChannelThem, "I really can't afford this right now and neither can my boss", 3, 40), cfg)
	require.Len(t, cards, 2)

	assert.Equal(t, "price", cards[0].ObjectionType)
	assert.Equal(t, "authority", cards[1].ObjectionType)
	for _, card := range cards {
		assert.Equal(t, CueCardActive, card.Status)
		assert.InDelta(t, 0.6, card.Confidence, 0.0001)
		assert.NotEmpty(t, card.TalkTracks)
		assert.NotEmpty(t, card.FollowUpQuestions)
		assert.NotEmpty(t, card.TriggerID)
	}
}

func TestObjectionIgnoresAgentAndInterim(t *testing.T) {
	engine := NewObjectionEngine(testLogger(), nil)
	cfg := lexiconConfig()

	assert.Empty(t, engine.OnSegment(context.Background(),
		seg(ChannelMe, "it is not that expensive", 0, 2), cfg))

	interim := seg(ChannelThem, "too expensive", 3, 4)
	interim.IsFinal = false
	assert.Empty(t, engine.OnSegment(context.Background(), interim, cfg))
}

func TestObjectionCooldownSuppressesSameType(t *testing.T) {
	engine := NewObjectionEngine(testLogger(), nil)
	cfg := lexiconConfig()

	first := engine.OnSegment(context.Background(),
		seg(ChannelThem, "that is too expensive for us", 0, 2), cfg)
	require.Len(t, first, 1)

	// Same type 30s later, inside the 90s cooldown.
	second := engine.OnSegment(context.Background(),
		seg(ChannelThem, "again, the price is a problem", 30, 32), cfg)
	assert.Empty(t, second)

	// A different type is not suppressed.
	third := engine.OnSegment(context.Background(),
		seg(ChannelThem, "and I need approval from the team anyway", 35, 37), cfg)
	require.Len(t, third, 1)
	assert.Equal(t, "authority", third[0].ObjectionType)

	// Past the cooldown the same type fires again.
	fourth := engine.OnSegment(context.Background(),
		seg(ChannelThem, "still worried about the cost", 95, 97), cfg)
	require.Len(t, fourth, 1)
	assert.Equal(t, "price", fourth[0].ObjectionType)
}

func TestObjectionDismissedCardDoesNotSuppress(t *testing.T) {
	engine := NewObjectionEngine(testLogger(), nil)
	cfg := lexiconConfig()

	first := engine.OnSegment(context.Background(),
		seg(ChannelThem, "way too expensive", 0, 2), cfg)
	require.Len(t, first, 1)
	require.True(t, engine.SetStatus(first[0].TriggerID, CueCardDismissed))

	second := engine.OnSegment(context.Background(),
		seg(ChannelThem, "the price is still bothering me", 10, 12), cfg)
	require.Len(t, second, 1)
}

func TestObjectionConfidenceGate(t *testing.T) {
	engine := NewObjectionEngine(testLogger(), nil)
	cfg := lexiconConfig()
	cfg.ObjectionMinConfidence = 0.7

	cards := engine.OnSegment(context.Background(),
		seg(ChannelThem, "too expensive", 0, 2), cfg)
	assert.Empty(t, cards)
}

func TestObjectionLLMPath(t *testing.T) {
	completer := &fakeCompleter{responses: []string{
		`{"objection_type": "price", "confidence": 0.85, "title": "Sticker shock",
		  "talk_tracks": ["Reframe on value"], "follow_up_questions": ["What budget did you expect?"]}`,
	}}
	engine := NewObjectionEngine(testLogger(), completer)
	cfg := DefaultConfig()

	cards := engine.OnSegment(context.Background(),
		seg(ChannelThem, "honestly this is too expensive", 0, 2), cfg)
	require.Len(t, cards, 1)
	assert.Equal(t, "price", cards[0].ObjectionType)
	assert.Equal(t, "Sticker shock", cards[0].Title)
	assert.InDelta(t, 0.85, cards[0].Confidence, 0.0001)
}

func TestObjectionLLMNoneYieldsNoCard(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"objection_type": "none", "confidence": 0.9}`}}
	engine := NewObjectionEngine(testLogger(), completer)

	cards := engine.OnSegment(context.Background(),
		seg(ChannelThem, "the price seems fair actually", 0, 2), DefaultConfig())
	assert.Empty(t, cards)
	assert.Equal(t, 1, completer.callCount())
}

func TestObjectionLLMLowConfidenceSuppressed(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"objection_type": "price", "confidence": 0.3, "title": "Maybe price"}`}}
	engine := NewObjectionEngine(testLogger(), completer)

	cards := engine.OnSegment(context.Background(),
		seg(ChannelThem, "hmm, pricing", 0, 2), DefaultConfig())
	assert.Empty(t, cards)
}

func TestObjectionLLMFailureYieldsNoCard(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("gateway: %w", errors.ErrTimeout)}
	engine := NewObjectionEngine(testLogger(), completer)

	cards := engine.OnSegment(context.Background(),
		seg(ChannelThem, "too expensive", 0, 2), DefaultConfig())
	assert.Empty(t, cards)
	assert.Empty(t, engine.Cards())
}

func TestObjectionPrefilterSkipsLLM(t *testing.T) {
	completer := &fakeCompleter{responses: []string{`{"objection_type": "price", "confidence": 0.9}`}}
	engine := NewObjectionEngine(testLogger(), completer)

	cards := engine.OnSegment(context.Background(),
		seg(ChannelThem, "tell me more about the integration", 0, 2), DefaultConfig())
	assert.Empty(t, cards)
	assert.Zero(t, completer.callCount())
}

func TestObjectionStatusAndFeedback(t *testing.T) {
	engine := NewObjectionEngine(testLogger(), nil)
	cfg := lexiconConfig()

	cards := engine.OnSegment(context.Background(),
		seg(ChannelThem, "too expensive", 0, 2), cfg)
	require.Len(t, cards, 1)
	id := cards[0].TriggerID

	assert.True(t, engine.SetStatus(id, CueCardPinned))
	assert.True(t, engine.SetFeedback(id, "helpful"))
	assert.False(t, engine.SetStatus("no-such-id", CueCardDismissed))
	assert.False(t, engine.SetFeedback("no-such-id", "wrong"))

	stored := engine.Cards()
	require.Len(t, stored, 1)
	assert.Equal(t, CueCardPinned, stored[0].Status)
	assert.Equal(t, "helpful", stored[0].Feedback)
}

func TestObjectionCooldownWindowUsesSegmentTime(t *testing.T) {
	engine := NewObjectionEngine(testLogger(), nil)
	cfg := lexiconConfig()
	cfg.ObjectionCooldown = 10 * time.Second

	require.Len(t, engine.OnSegment(context.Background(),
		seg(ChannelThem, "too expensive", 0, 2), cfg), 1)
	assert.Empty(t, engine.OnSegment(context.Background(),
		seg(ChannelThem, "expensive again", 5, 7), cfg))
	require.Len(t, engine.OnSegment(context.Background(),
		seg(ChannelThem, "expensive once more", 20, 22), cfg), 1)
}

package copilot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"copilot-server/pkg/llm"
	"copilot-server/pkg/metrics"
)

// Objection taxonomy. The pre-filter keeps the LLM out of the hot path:
// classification only runs when a cue phrase matches.
var objectionTaxonomy = []struct {
	Type string
	Cues []string
}{
	{Type: "price", Cues: []string{
		"expensive", "afford", "cost", "price", "pricing", "budget", "cheaper", "discount",
	}},
	{Type: "timing", Cues: []string{
		"not the right time", "next quarter", "next year", "too soon", "call back later",
		"busy right now", "timeline", "not ready",
	}},
	{Type: "authority", Cues: []string{
		"my boss", "my manager", "decision maker", "need approval", "check with",
		"not my call", "the team decides",
	}},
	{Type: "need", Cues: []string{
		"don't need", "do not need", "not sure we need", "why would we", "no use for",
		"works fine already",
	}},
	{Type: "trust", Cues: []string{
		"never heard of", "skeptical", "prove", "guarantee", "risky", "burned before",
	}},
	{Type: "competitor", Cues: []string{
		"competitor", "already use", "other vendor", "alternative", "switching from",
	}},
}

// Static card templates for the non-LLM detection path.
var objectionTemplates = map[string]CueCard{
	"price": {
		Title: "Price objection",
		TalkTracks: []string{
			"Reframe around total value delivered, not sticker price.",
			"Quantify the cost of the problem staying unsolved.",
		},
		FollowUpQuestions: []string{
			"What budget range were you expecting for solving this?",
			"Compared to what alternative does this feel expensive?",
		},
		AvoidSaying: []string{"I can discount that right now"},
	},
	"timing": {
		Title: "Timing objection",
		TalkTracks: []string{
			"Surface the cost of waiting a quarter.",
			"Offer a phased start that fits their calendar.",
		},
		FollowUpQuestions: []string{
			"What changes next quarter that makes this easier?",
			"What would need to be true to start sooner?",
		},
	},
	"authority": {
		Title: "Authority objection",
		TalkTracks: []string{
			"Offer to equip them to sell internally.",
			"Suggest a joint call with the decision maker.",
		},
		FollowUpQuestions: []string{
			"Who else is involved in this decision?",
			"What will your boss care most about here?",
		},
	},
	"need": {
		Title: "Need objection",
		TalkTracks: []string{
			"Return to the pain they described earlier in the call.",
			"Share how a similar team discovered the gap.",
		},
		FollowUpQuestions: []string{
			"How are you handling this today?",
			"What happens if the current approach stops scaling?",
		},
	},
	"trust": {
		Title: "Trust objection",
		TalkTracks: []string{
			"Lead with reference customers in their segment.",
			"Offer a low-risk pilot with clear exit criteria.",
		},
		FollowUpQuestions: []string{
			"What would make you comfortable moving forward?",
			"Would talking to a current customer help?",
		},
		ProofPoints: []string{"Reference customers available on request"},
	},
	"competitor": {
		Title: "Competitor objection",
		TalkTracks: []string{
			"Acknowledge the incumbent, then differentiate on their stated pain.",
			"Ask what the current vendor does well and where it falls short.",
		},
		FollowUpQuestions: []string{
			"What do you like about your current solution?",
			"If you could change one thing about it, what would it be?",
		},
	},
}

const objectionSystemPrompt = `You are a sales-coaching assistant. Given a customer utterance that may contain a sales objection, classify it and produce coaching content.
Respond with ONLY a JSON object:
{"objection_type": "price"|"timing"|"authority"|"need"|"trust"|"competitor"|"none",
 "confidence": <number in [0,1]>,
 "title": "...",
 "talk_tracks": ["..."],
 "follow_up_questions": ["..."],
 "proof_points": ["..."],
 "avoid_saying": ["..."]}
Use "none" when there is no real objection. No commentary, no markdown.`

// ObjectionEngine detects objections in customer segments and raises
// deduplicated coaching cue cards.
type ObjectionEngine struct {
	logger    *logrus.Entry
	completer llm.Completer

	cards []CueCard
}

// NewObjectionEngine creates an engine for one call session.
func NewObjectionEngine(logger *logrus.Logger, completer llm.Completer) *ObjectionEngine {
	return &ObjectionEngine{
		logger:    logger.WithField("component", "objections"),
		completer: completer,
		cards:     make([]CueCard, 0, 8),
	}
}

// PrefilterMatches returns the objection types whose cue phrases appear in
// the text, in taxonomy order.
func PrefilterMatches(text string) []string {
	lower := strings.ToLower(text)
	matched := make([]string, 0, 2)
	for _, entry := range objectionTaxonomy {
		for _, cue := range entry.Cues {
			if strings.Contains(lower, cue) {
				matched = append(matched, entry.Type)
				break
			}
		}
	}
	return matched
}

// OnSegment runs two-stage detection on a committed "them" segment and
// returns any newly raised cards.
func (e *ObjectionEngine) OnSegment(ctx context.Context, seg TranscriptSegment, cfg Config) []CueCard {
	if seg.Channel != ChannelThem || !seg.IsFinal {
		return nil
	}

	matches := PrefilterMatches(seg.Text)
	if len(matches) == 0 {
		return nil
	}

	var raised []CueCard
	if cfg.UseLLMForDetection && e.completer != nil {
		if card, ok := e.classifyLLM(ctx, seg, cfg); ok {
			raised = append(raised, card)
		}
	} else {
		for _, objType := range matches {
			if card, ok := e.buildTemplateCard(objType, seg, cfg); ok {
				raised = append(raised, card)
			}
		}
	}
	return raised
}

func (e *ObjectionEngine) classifyLLM(ctx context.Context, seg TranscriptSegment, cfg Config) (CueCard, bool) {
	raw, err := e.completer.Complete(ctx, objectionSystemPrompt, fmt.Sprintf("Customer said: %q", seg.Text))
	if err != nil {
		e.logger.WithError(err).Debug("Objection classification failed, no card this round")
		return CueCard{}, false
	}

	var parsed struct {
		ObjectionType     string   `json:"objection_type"`
		Confidence        float64  `json:"confidence"`
		Title             string   `json:"title"`
		TalkTracks        []string `json:"talk_tracks"`
		FollowUpQuestions []string `json:"follow_up_questions"`
		ProofPoints       []string `json:"proof_points"`
		AvoidSaying       []string `json:"avoid_saying"`
	}
	if err := llm.ExtractJSON(raw).Unmarshal(&parsed); err != nil {
		e.logger.WithError(err).Debug("Objection response unparseable, no card this round")
		return CueCard{}, false
	}
	if parsed.ObjectionType == "" || parsed.ObjectionType == "none" {
		return CueCard{}, false
	}
	if parsed.Confidence < cfg.ObjectionMinConfidence {
		metrics.RecordCueCardSuppressed("confidence")
		return CueCard{}, false
	}
	if e.inCooldown(parsed.ObjectionType, seg.EndTime, cfg.ObjectionCooldown) {
		metrics.RecordCueCardSuppressed("cooldown")
		return CueCard{}, false
	}

	card := CueCard{
		TriggerID:         uuid.New().String(),
		ID:                uuid.New().String(),
		ObjectionType:     parsed.ObjectionType,
		Title:             parsed.Title,
		TalkTracks:        parsed.TalkTracks,
		FollowUpQuestions: parsed.FollowUpQuestions,
		ProofPoints:       parsed.ProofPoints,
		AvoidSaying:       parsed.AvoidSaying,
		TriggerText:       seg.Text,
		SegmentID:         seg.ID,
		Timestamp:         seg.EndTime,
		Status:            CueCardActive,
		Confidence:        parsed.Confidence,
	}
	e.cards = append(e.cards, card)
	metrics.RecordCueCard(card.ObjectionType)
	return card, true
}

func (e *ObjectionEngine) buildTemplateCard(objType string, seg TranscriptSegment, cfg Config) (CueCard, bool) {
	tmpl, ok := objectionTemplates[objType]
	if !ok {
		return CueCard{}, false
	}

	// Keyword-only detection carries fixed moderate confidence.
	const templateConfidence = 0.6
	if templateConfidence < cfg.ObjectionMinConfidence {
		metrics.RecordCueCardSuppressed("confidence")
		return CueCard{}, false
	}
	if e.inCooldown(objType, seg.EndTime, cfg.ObjectionCooldown) {
		metrics.RecordCueCardSuppressed("cooldown")
		return CueCard{}, false
	}

	card := tmpl
	card.TriggerID = uuid.New().String()
	card.ID = uuid.New().String()
	card.ObjectionType = objType
	card.TriggerText = seg.Text
	card.SegmentID = seg.ID
	card.Timestamp = seg.EndTime
	card.Status = CueCardActive
	card.Confidence = templateConfidence

	e.cards = append(e.cards, card)
	metrics.RecordCueCard(objType)
	return card, true
}

// inCooldown reports whether an active or pinned card of the same type was
// created within the cooldown window. Dismissed cards do not suppress.
func (e *ObjectionEngine) inCooldown(objType string, now time.Time, cooldown time.Duration) bool {
	for i := len(e.cards) - 1; i >= 0; i-- {
		card := e.cards[i]
		if card.ObjectionType != objType {
			continue
		}
		if card.Status != CueCardActive && card.Status != CueCardPinned {
			continue
		}
		if now.Sub(card.Timestamp) < cooldown {
			return true
		}
	}
	return false
}

// Cards returns a copy of all cards raised during the call.
func (e *ObjectionEngine) Cards() []CueCard {
	out := make([]CueCard, len(e.cards))
	copy(out, e.cards)
	return out
}

// SetStatus mutates a card's lifecycle state by trigger id.
func (e *ObjectionEngine) SetStatus(triggerID string, status CueCardStatus) bool {
	for i := range e.cards {
		if e.cards[i].TriggerID == triggerID {
			e.cards[i].Status = status
			return true
		}
	}
	return false
}

// SetFeedback records caller feedback on a card by trigger id.
func (e *ObjectionEngine) SetFeedback(triggerID, feedback string) bool {
	for i := range e.cards {
		if e.cards[i].TriggerID == triggerID {
			e.cards[i].Feedback = feedback
			return true
		}
	}
	return false
}

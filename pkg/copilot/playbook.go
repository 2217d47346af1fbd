package copilot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"copilot-server/pkg/llm"
	"copilot-server/pkg/metrics"
)

// Built-in playbooks, keyed by id. Items are static per playbook; coverage
// state accumulates on a per-session copy.
var builtinPlaybooks = map[string][]PlaybookItem{
	"discovery_default": {
		{
			ID:       "pain",
			Label:    "Customer pain and goals",
			Keywords: []string{"problem", "challenge", "struggling", "pain", "goal", "trying to"},
			SuggestedQuestions: []string{
				"What's the biggest challenge with your current process?",
				"What does success look like in six months?",
			},
		},
		{
			ID:       "budget",
			Label:    "Budget",
			Keywords: []string{"budget", "spend", "cost", "price range", "investment"},
			SuggestedQuestions: []string{
				"Is there budget allocated for solving this?",
			},
		},
		{
			ID:       "authority",
			Label:    "Decision process",
			Keywords: []string{"decision", "approve", "sign off", "stakeholder", "procurement"},
			SuggestedQuestions: []string{
				"Who else is involved in evaluating this?",
			},
		},
		{
			ID:       "timeline",
			Label:    "Timeline",
			Keywords: []string{"timeline", "deadline", "when do you", "by when", "this quarter"},
			SuggestedQuestions: []string{
				"When would you want this live?",
			},
		},
		{
			ID:       "competition",
			Label:    "Competitive landscape",
			Keywords: []string{"competitor", "alternative", "other vendor", "comparing", "evaluating"},
			SuggestedQuestions: []string{
				"What other options are you considering?",
			},
		},
		{
			ID:       "current_solution",
			Label:    "Current solution",
			Keywords: []string{"currently", "today we", "existing", "right now we", "in place"},
			SuggestedQuestions: []string{
				"How are you handling this today?",
			},
		},
		{
			ID:       "next_steps",
			Label:    "Next steps",
			Keywords: []string{"next step", "follow up", "schedule", "send over", "demo"},
			SuggestedQuestions: []string{
				"Can we put time on the calendar for a deeper dive?",
			},
		},
	},
}

const playbookConfirmPrompt = `You verify whether a call utterance genuinely addresses a sales-playbook topic.
Respond with ONLY a JSON object: {"relevant": true|false}. No commentary, no markdown.`

// PlaybookTracker matches conversation evidence against a fixed topic set
// and maintains a live coverage snapshot. Status only ever advances:
// missing -> partial -> covered.
type PlaybookTracker struct {
	logger    *logrus.Entry
	completer llm.Completer

	playbookID string
	items      []PlaybookItem
}

// NewPlaybookTracker creates a tracker over the named playbook. An unknown
// id falls back to the default discovery playbook.
func NewPlaybookTracker(logger *logrus.Logger, completer llm.Completer, playbookID string) *PlaybookTracker {
	source, ok := builtinPlaybooks[playbookID]
	if !ok {
		logger.WithField("playbook_id", playbookID).Warn("Unknown playbook id, using discovery_default")
		playbookID = "discovery_default"
		source = builtinPlaybooks[playbookID]
	}

	items := make([]PlaybookItem, len(source))
	for i, item := range source {
		items[i] = item
		items[i].Status = PlaybookMissing
		items[i].Evidence = make([]PlaybookEvidence, 0, 4)
	}

	return &PlaybookTracker{
		logger:     logger.WithField("component", "playbook"),
		completer:  completer,
		playbookID: playbookID,
		items:      items,
	}
}

// OnSegment matches one committed segment (either channel) against every
// item's keyword set. Returns true when any item changed.
func (t *PlaybookTracker) OnSegment(ctx context.Context, seg TranscriptSegment, cfg Config) bool {
	if !seg.IsFinal {
		return false
	}

	lower := strings.ToLower(seg.Text)
	changed := false

	for i := range t.items {
		item := &t.items[i]
		keyword := ""
		for _, kw := range item.Keywords {
			if strings.Contains(lower, kw) {
				keyword = kw
				break
			}
		}
		if keyword == "" {
			continue
		}

		// Optional LLM confirmation for ambiguous single-word matches.
		if cfg.PlaybookLLMPromotion && cfg.UseLLMForDetection && t.completer != nil {
			if !t.confirmRelevance(ctx, item.Label, seg.Text) {
				continue
			}
		}

		item.Evidence = append(item.Evidence, PlaybookEvidence{
			SegmentID: seg.ID,
			Channel:   seg.Channel,
			Text:      seg.Text,
			Keyword:   keyword,
			Timestamp: seg.EndTime,
		})

		next := t.promote(item.Status, len(item.Evidence), cfg)
		if next != item.Status {
			item.Status = next
		}
		changed = true
	}

	return changed
}

// promote computes the advanced status; it never regresses.
func (t *PlaybookTracker) promote(current PlaybookItemStatus, evidenceCount int, cfg Config) PlaybookItemStatus {
	covered := cfg.PlaybookCoveredEvidence
	if covered < 1 {
		covered = 1
	}
	switch {
	case evidenceCount >= covered:
		return PlaybookCovered
	case evidenceCount >= 1 && current == PlaybookMissing:
		return PlaybookPartial
	default:
		return current
	}
}

func (t *PlaybookTracker) confirmRelevance(ctx context.Context, label, text string) bool {
	raw, err := t.completer.Complete(ctx, playbookConfirmPrompt,
		fmt.Sprintf("Topic: %s\nUtterance: %q", label, text))
	if err != nil {
		// Inconclusive check keeps the count-based evidence.
		return true
	}
	var parsed struct {
		Relevant bool `json:"relevant"`
	}
	if err := llm.ExtractJSON(raw).Unmarshal(&parsed); err != nil {
		return true
	}
	return parsed.Relevant
}

// Snapshot derives the read-only coverage aggregate.
func (t *PlaybookTracker) Snapshot() PlaybookSnapshot {
	snap := PlaybookSnapshot{
		PlaybookID: t.playbookID,
		Items:      make([]PlaybookItem, len(t.items)),
		Total:      len(t.items),
	}

	type gap struct {
		label        string
		question     string
		lastEvidence time.Time
	}
	gaps := make([]gap, 0, len(t.items))

	for i, item := range t.items {
		snap.Items[i] = item
		snap.Items[i].Evidence = append([]PlaybookEvidence(nil), item.Evidence...)

		switch item.Status {
		case PlaybookCovered:
			snap.Covered++
		case PlaybookPartial:
			snap.Partial++
		default:
			snap.Missing++
		}

		if item.Status != PlaybookCovered {
			g := gap{label: item.Label}
			if len(item.SuggestedQuestions) > 0 {
				g.question = item.SuggestedQuestions[0]
			}
			if len(item.Evidence) > 0 {
				g.lastEvidence = item.Evidence[len(item.Evidence)-1].Timestamp
			}
			gaps = append(gaps, g)
		}
	}

	if snap.Total > 0 {
		snap.CoveragePercentage = 100 * (float64(snap.Covered) + 0.5*float64(snap.Partial)) / float64(snap.Total)
	}
	metrics.SetPlaybookCoverage(snap.CoveragePercentage)

	// Oldest gaps first: items never evidenced sort ahead, then by how long
	// since their last evidence.
	sort.SliceStable(gaps, func(a, b int) bool {
		return gaps[a].lastEvidence.Before(gaps[b].lastEvidence)
	})
	for _, g := range gaps {
		rec := g.label
		if g.question != "" {
			rec = fmt.Sprintf("%s: %s", g.label, g.question)
		}
		snap.Recommendations = append(snap.Recommendations, rec)
	}

	return snap
}

package copilot

import (
	"strings"
	"time"
)

// interrogative lead words for the question heuristic.
var questionLeads = []string{
	"who", "what", "when", "where", "why", "how",
	"do", "does", "did", "can", "could", "would", "will",
	"is", "are", "should", "have", "has",
}

// ComputeMetrics recomputes the full metrics snapshot from the committed
// log. It is a pure function of its inputs: replaying the same log yields
// the same snapshot.
func ComputeMetrics(committed []TranscriptSegment, callStart, now time.Time, cfg Config) MetricsSnapshot {
	snap := MetricsSnapshot{}

	for _, seg := range committed {
		words := len(strings.Fields(seg.Text))
		switch seg.Channel {
		case ChannelMe:
			snap.WordCount.Me += words
			snap.SegmentCount.Me++
			if isQuestion(seg.Text) {
				snap.QuestionsAsked++
			}
		case ChannelThem:
			snap.WordCount.Them += words
			snap.SegmentCount.Them++
		}
	}

	totalWords := snap.WordCount.Me + snap.WordCount.Them
	if totalWords > 0 {
		snap.TalkRatio.Me = float64(snap.WordCount.Me) / float64(totalWords)
		snap.TalkRatio.Them = float64(snap.WordCount.Them) / float64(totalWords)
	}

	if len(committed) > 0 {
		first, last := committed[0], committed[len(committed)-1]
		span := last.EndTime.Sub(first.StartTime)
		if span > 0 {
			snap.TotalDuration = span
		}
	}

	if !callStart.IsZero() {
		snap.CallDuration = now.Sub(callStart)
		if snap.CallDuration < 0 {
			snap.CallDuration = 0
		}
	}

	// Pace uses a 1-minute floor so the first seconds of a call do not
	// produce absurd words-per-minute spikes.
	minutes := snap.CallDuration.Minutes()
	if minutes < 1 {
		minutes = 1
	}
	snap.Pace = float64(totalWords) / minutes

	current, longest := monologueRuns(committed, cfg.SilenceGap)
	snap.LongestMonologue = longest
	snap.MonologueDetected = current > cfg.MonologueThreshold

	return snap
}

// isQuestion reports whether an agent utterance counts as a question:
// it ends with a question mark or opens with an interrogative lead.
func isQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	fields := strings.Fields(strings.ToLower(trimmed))
	if len(fields) < 2 {
		return false
	}
	lead := strings.Trim(fields[0], ",.!")
	for _, q := range questionLeads {
		if lead == q {
			return true
		}
	}
	return false
}

// monologueRuns walks the committed log and measures contiguous same-channel
// runs. A run breaks on a segment from the other channel or on a silence gap
// longer than maxGap. Returns the duration of the run ending at the log tail
// and the longest run seen anywhere.
func monologueRuns(committed []TranscriptSegment, maxGap time.Duration) (current, longest time.Duration) {
	if len(committed) == 0 {
		return 0, 0
	}

	runStart := committed[0].StartTime
	runChannel := committed[0].Channel
	runEnd := committed[0].EndTime

	flush := func() {
		d := runEnd.Sub(runStart)
		if d > longest {
			longest = d
		}
	}

	for _, seg := range committed[1:] {
		gap := seg.StartTime.Sub(runEnd)
		if seg.Channel != runChannel || gap > maxGap {
			flush()
			runStart = seg.StartTime
			runChannel = seg.Channel
			runEnd = seg.EndTime
			continue
		}
		if seg.EndTime.After(runEnd) {
			runEnd = seg.EndTime
		}
	}
	flush()

	current = runEnd.Sub(runStart)
	if current < 0 {
		current = 0
	}
	return current, longest
}

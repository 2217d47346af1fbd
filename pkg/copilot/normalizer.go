package copilot

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"copilot-server/pkg/errors"
	"copilot-server/pkg/metrics"
)

// Normalizer merges interim and final segments per channel into an ordered,
// deduplicated committed log. The engine serializes all calls into it, so it
// carries no lock of its own.
//
// Per channel the state machine is idle -> interim -> final -> idle: an
// interim segment replaces the channel's pending buffer without touching the
// committed log; a final segment clears the buffer and appends to the log.
type Normalizer struct {
	logger *logrus.Entry

	committed []TranscriptSegment
	pending   map[Channel]*TranscriptSegment
	lastFinal map[Channel]time.Time
}

// NewNormalizer creates an empty normalizer for one call session.
func NewNormalizer(logger *logrus.Logger) *Normalizer {
	return &Normalizer{
		logger:    logger.WithField("component", "normalizer"),
		committed: make([]TranscriptSegment, 0, 64),
		pending:   make(map[Channel]*TranscriptSegment, 2),
		lastFinal: make(map[Channel]time.Time, 2),
	}
}

// Ingest processes one raw segment. The returned segment is the pending
// interim buffer for interim input, or the committed segment for final
// input.
func (n *Normalizer) Ingest(raw RawSegment) (TranscriptSegment, error) {
	if !raw.Channel.Valid() {
		return TranscriptSegment{}, errors.Wrap(errors.ErrUnknownChannel, string(raw.Channel))
	}
	if strings.TrimSpace(raw.Text) == "" {
		return TranscriptSegment{}, errors.Wrap(errors.ErrInvalidSegment, "empty text")
	}

	metrics.RecordSegment(string(raw.Channel), raw.IsFinal)

	seg := TranscriptSegment{
		ID:        uuid.New().String(),
		Channel:   raw.Channel,
		Text:      raw.Text,
		StartTime: raw.Start,
		EndTime:   raw.End,
		IsFinal:   raw.IsFinal,
	}

	if !raw.IsFinal {
		// Supersede any pending interim on the same channel.
		n.pending[raw.Channel] = &seg
		return seg, nil
	}

	delete(n.pending, raw.Channel)

	// Finals per channel are expected monotonically non-decreasing in start
	// time. A violation is tolerated and flagged, not rejected; ordering
	// across channels is expected to interleave.
	if last, ok := n.lastFinal[raw.Channel]; ok && raw.Start.Before(last) {
		seg.OutOfOrder = true
		metrics.RecordOutOfOrder(string(raw.Channel))
		n.logger.WithFields(logrus.Fields{
			"channel":    raw.Channel,
			"start_time": raw.Start,
			"last_final": last,
		}).Warn("Out-of-order final segment accepted")
	} else {
		n.lastFinal[raw.Channel] = raw.Start
	}

	n.committed = append(n.committed, seg)
	return seg, nil
}

// Committed returns the committed log. The slice is shared with the
// normalizer; callers must treat it as read-only within the processing
// goroutine.
func (n *Normalizer) Committed() []TranscriptSegment {
	return n.committed
}

// CommittedCopy returns an independent copy of the committed log for
// handing outside the processing goroutine.
func (n *Normalizer) CommittedCopy() []TranscriptSegment {
	out := make([]TranscriptSegment, len(n.committed))
	copy(out, n.committed)
	return out
}

// Pending returns a copy of the per-channel interim buffers.
func (n *Normalizer) Pending() map[Channel]*TranscriptSegment {
	out := make(map[Channel]*TranscriptSegment, len(n.pending))
	for ch, seg := range n.pending {
		segCopy := *seg
		out[ch] = &segCopy
	}
	return out
}

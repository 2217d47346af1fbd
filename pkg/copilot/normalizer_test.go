package copilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copilot-server/pkg/errors"
)

func TestNormalizerInterimDoesNotCommit(t *testing.T) {
	n := NewNormalizer(testLogger())

	seg, err := n.Ingest(rawSeg(ChannelThem, "I was thinking", 0, 2, false))
	require.NoError(t, err)
	assert.False(t, seg.IsFinal)
	assert.Empty(t, n.Committed())

	pending := n.Pending()
	require.Contains(t, pending, ChannelThem)
	assert.Equal(t, "I was thinking", pending[ChannelThem].Text)
}

func TestNormalizerInterimSupersedesPrevious(t *testing.T) {
	n := NewNormalizer(testLogger())

	_, err := n.Ingest(rawSeg(ChannelThem, "I was", 0, 1, false))
	require.NoError(t, err)
	_, err = n.Ingest(rawSeg(ChannelThem, "I was thinking about", 0, 2, false))
	require.NoError(t, err)

	pending := n.Pending()
	require.Contains(t, pending, ChannelThem)
	assert.Equal(t, "I was thinking about", pending[ChannelThem].Text)
	assert.Empty(t, n.Committed())
}

func TestNormalizerFinalCommitsAndClearsPending(t *testing.T) {
	n := NewNormalizer(testLogger())

	_, err := n.Ingest(rawSeg(ChannelThem, "I was thinking", 0, 2, false))
	require.NoError(t, err)
	committed, err := n.Ingest(rawSeg(ChannelThem, "I was thinking about the budget", 0, 3, true))
	require.NoError(t, err)

	assert.True(t, committed.IsFinal)
	assert.NotEmpty(t, committed.ID)
	require.Len(t, n.Committed(), 1)
	assert.Empty(t, n.Pending())
}

func TestNormalizerChannelsIndependent(t *testing.T) {
	n := NewNormalizer(testLogger())

	_, err := n.Ingest(rawSeg(ChannelMe, "so as I was", 0, 1, false))
	require.NoError(t, err)
	_, err = n.Ingest(rawSeg(ChannelThem, "hold on", 0, 1, false))
	require.NoError(t, err)

	_, err = n.Ingest(rawSeg(ChannelMe, "so as I was saying", 0, 2, true))
	require.NoError(t, err)

	require.Len(t, n.Committed(), 1)
	pending := n.Pending()
	assert.NotContains(t, pending, ChannelMe)
	assert.Contains(t, pending, ChannelThem)
}

func TestNormalizerRejectsBadInput(t *testing.T) {
	n := NewNormalizer(testLogger())

	_, err := n.Ingest(rawSeg(Channel("caller"), "hello", 0, 1, true))
	assert.ErrorIs(t, err, errors.ErrUnknownChannel)

	_, err = n.Ingest(rawSeg(ChannelMe, "   ", 0, 1, true))
	assert.ErrorIs(t, err, errors.ErrInvalidSegment)

	assert.Empty(t, n.Committed())
}

func TestNormalizerOutOfOrderFlaggedNotRejected(t *testing.T) {
	n := NewNormalizer(testLogger())

	_, err := n.Ingest(rawSeg(ChannelMe, "second thing", 10, 12, true))
	require.NoError(t, err)
	late, err := n.Ingest(rawSeg(ChannelMe, "first thing", 5, 7, true))
	require.NoError(t, err)

	assert.True(t, late.OutOfOrder)
	require.Len(t, n.Committed(), 2)

	// Ordering is tracked per channel; the other channel starts fresh.
	other, err := n.Ingest(rawSeg(ChannelThem, "customer reply", 6, 8, true))
	require.NoError(t, err)
	assert.False(t, other.OutOfOrder)
}

func TestNormalizerCommittedCopyIsIndependent(t *testing.T) {
	n := NewNormalizer(testLogger())

	_, err := n.Ingest(rawSeg(ChannelMe, "hello there", 0, 1, true))
	require.NoError(t, err)

	cp := n.CommittedCopy()
	cp[0].Text = "mutated"
	assert.Equal(t, "hello there", n.Committed()[0].Text)
}

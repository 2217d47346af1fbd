package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(logrus.New())
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.HTTP.ListenAddr)
	assert.Equal(t, 60*time.Second, cfg.Engine.MonologueThreshold)
	assert.Equal(t, 90*time.Second, cfg.Engine.ObjectionCooldown)
	assert.Equal(t, 50, cfg.Engine.SentimentHistorySize)
	assert.True(t, cfg.Engine.EnableCueCards)
	assert.False(t, cfg.Messaging.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_MONOLOGUE_THRESHOLD", "45s")
	t.Setenv("ENGINE_TALK_RATIO_THRESHOLD", "0.6")
	t.Setenv("ENGINE_ENABLE_SENTIMENT", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Engine.MonologueThreshold)
	assert.Equal(t, 0.6, cfg.Engine.TalkRatioThreshold)
	assert.False(t, cfg.Engine.EnableSentiment)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsBadPaceBand(t *testing.T) {
	t.Setenv("ENGINE_PACE_MIN", "200")
	t.Setenv("ENGINE_PACE_MAX", "100")

	_, err := Load(logrus.New())
	require.Error(t, err)
}

func TestLoadRejectsMessagingWithoutURL(t *testing.T) {
	t.Setenv("AMQP_ENABLED", "true")
	t.Setenv("AMQP_URL", "")

	_, err := Load(logrus.New())
	require.Error(t, err)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ENGINE_SENTIMENT_HISTORY_SIZE", "not-a-number")
	t.Setenv("ENGINE_ENABLE_NUDGES", "not-a-bool")

	cfg, err := Load(logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Engine.SentimentHistorySize)
	assert.True(t, cfg.Engine.EnableNudges)
}

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"copilot-server/pkg/errors"
)

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Logging   LoggingConfig   `json:"logging"`
	LLM       LLMConfig       `json:"llm"`
	Messaging MessagingConfig `json:"messaging"`
	Engine    EngineConfig    `json:"engine"`
}

// HTTPConfig holds the command/event HTTP server settings
type HTTPConfig struct {
	ListenAddr    string        `json:"listen_addr"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
}

// LLMConfig holds LLM gateway settings
type LLMConfig struct {
	GatewayURL     string        `json:"gateway_url"`
	APIKey         string        `json:"-"`
	Model          string        `json:"model"`
	RequestTimeout time.Duration `json:"request_timeout"`
	Temperature    float64       `json:"temperature"`
}

// MessagingConfig holds AMQP egress settings
type MessagingConfig struct {
	Enabled   bool   `json:"enabled"`
	URL       string `json:"-"`
	QueueName string `json:"queue_name"`
}

// EngineConfig holds the initial call-intelligence engine settings.
// Feature toggles can be changed at runtime via the engine's UpdateConfig.
type EngineConfig struct {
	EnableTranscription bool `json:"enable_transcription"`
	EnableMetrics       bool `json:"enable_metrics"`
	EnableSentiment     bool `json:"enable_sentiment"`
	EnableNudges        bool `json:"enable_nudges"`
	EnableCueCards      bool `json:"enable_cue_cards"`
	EnablePlaybook      bool `json:"enable_playbook"`
	UseLLMForDetection  bool `json:"use_llm_for_detection"`

	PlaybookID string `json:"playbook_id"`

	MonologueThreshold time.Duration `json:"monologue_threshold"`
	SilenceGap         time.Duration `json:"silence_gap"`

	SentimentHistorySize int     `json:"sentiment_history_size"`
	SentimentMinHistory  int     `json:"sentiment_min_history"`
	TrendEpsilon         float64 `json:"trend_epsilon"`

	ObjectionCooldown      time.Duration `json:"objection_cooldown"`
	ObjectionMinConfidence float64       `json:"objection_min_confidence"`

	NudgeCooldown      time.Duration `json:"nudge_cooldown"`
	TalkRatioThreshold float64       `json:"talk_ratio_threshold"`
	PaceMin            float64       `json:"pace_min"`
	PaceMax            float64       `json:"pace_max"`
	QuestionWindow     time.Duration `json:"question_window"`

	PlaybookCoveredEvidence int  `json:"playbook_covered_evidence"`
	PlaybookLLMPromotion    bool `json:"playbook_llm_promotion"`
}

// Load reads configuration from the environment, consulting a .env file
// when one is present near the working directory.
func Load(logger *logrus.Logger) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		logger.WithError(err).Warn("Failed to get current working directory")
		wd = "unknown"
	}

	loadedFrom := ""
	for _, envFile := range []string{".env", "../.env", filepath.Join(wd, ".env")} {
		if _, statErr := os.Stat(envFile); statErr == nil {
			if loadErr := godotenv.Load(envFile); loadErr == nil {
				loadedFrom, _ = filepath.Abs(envFile)
				break
			}
		}
	}

	if loadedFrom != "" {
		logger.WithField("path", loadedFrom).Info("Loaded .env file")
	} else {
		logger.WithField("working_dir", wd).Debug("No .env file found, using environment variables only")
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			ListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8085"),
			ReadTimeout:   getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			EnableMetrics: getEnvBool("HTTP_ENABLE_METRICS", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		LLM: LLMConfig{
			GatewayURL:     getEnv("LLM_GATEWAY_URL", ""),
			APIKey:         getEnv("LLM_API_KEY", ""),
			Model:          getEnv("LLM_MODEL", "gpt-4o-mini"),
			RequestTimeout: getEnvDuration("LLM_REQUEST_TIMEOUT", 5*time.Second),
			Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.0),
		},
		Messaging: MessagingConfig{
			Enabled:   getEnvBool("AMQP_ENABLED", false),
			URL:       getEnv("AMQP_URL", ""),
			QueueName: getEnv("AMQP_QUEUE_NAME", "copilot_events"),
		},
		Engine: EngineConfig{
			EnableTranscription: getEnvBool("ENGINE_ENABLE_TRANSCRIPTION", true),
			EnableMetrics:       getEnvBool("ENGINE_ENABLE_METRICS", true),
			EnableSentiment:     getEnvBool("ENGINE_ENABLE_SENTIMENT", true),
			EnableNudges:        getEnvBool("ENGINE_ENABLE_NUDGES", true),
			EnableCueCards:      getEnvBool("ENGINE_ENABLE_CUE_CARDS", true),
			EnablePlaybook:      getEnvBool("ENGINE_ENABLE_PLAYBOOK", true),
			UseLLMForDetection:  getEnvBool("ENGINE_USE_LLM_DETECTION", true),

			PlaybookID: getEnv("ENGINE_PLAYBOOK_ID", "discovery_default"),

			MonologueThreshold: getEnvDuration("ENGINE_MONOLOGUE_THRESHOLD", 60*time.Second),
			SilenceGap:         getEnvDuration("ENGINE_SILENCE_GAP", 5*time.Second),

			SentimentHistorySize: getEnvInt("ENGINE_SENTIMENT_HISTORY_SIZE", 50),
			SentimentMinHistory:  getEnvInt("ENGINE_SENTIMENT_MIN_HISTORY", 3),
			TrendEpsilon:         getEnvFloat("ENGINE_TREND_EPSILON", 0.1),

			ObjectionCooldown:      getEnvDuration("ENGINE_OBJECTION_COOLDOWN", 90*time.Second),
			ObjectionMinConfidence: getEnvFloat("ENGINE_OBJECTION_MIN_CONFIDENCE", 0.5),

			NudgeCooldown:      getEnvDuration("ENGINE_NUDGE_COOLDOWN", 90*time.Second),
			TalkRatioThreshold: getEnvFloat("ENGINE_TALK_RATIO_THRESHOLD", 0.7),
			PaceMin:            getEnvFloat("ENGINE_PACE_MIN", 110),
			PaceMax:            getEnvFloat("ENGINE_PACE_MAX", 180),
			QuestionWindow:     getEnvDuration("ENGINE_QUESTION_WINDOW", 120*time.Second),

			PlaybookCoveredEvidence: getEnvInt("ENGINE_PLAYBOOK_COVERED_EVIDENCE", 2),
			PlaybookLLMPromotion:    getEnvBool("ENGINE_PLAYBOOK_LLM_PROMOTION", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.SentimentHistorySize <= 0 {
		return errors.New("ENGINE_SENTIMENT_HISTORY_SIZE must be positive")
	}
	if c.Engine.SentimentMinHistory < 2 {
		return errors.New("ENGINE_SENTIMENT_MIN_HISTORY must be at least 2")
	}
	if c.Engine.TalkRatioThreshold <= 0 || c.Engine.TalkRatioThreshold >= 1 {
		return errors.New("ENGINE_TALK_RATIO_THRESHOLD must be in (0,1)")
	}
	if c.Engine.PaceMin >= c.Engine.PaceMax {
		return errors.New("ENGINE_PACE_MIN must be below ENGINE_PACE_MAX")
	}
	if c.Messaging.Enabled && c.Messaging.URL == "" {
		return errors.New("AMQP_ENABLED is set but AMQP_URL is empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return parsed
}

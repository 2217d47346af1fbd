package copilot

import (
	"time"

	"copilot-server/pkg/config"
)

// Channel identifies the speaker side of the call.
type Channel string

const (
	// ChannelMe is the agent side of the call.
	ChannelMe Channel = "me"
	// ChannelThem is the customer side of the call.
	ChannelThem Channel = "them"
)

// Valid reports whether the channel is one of the two known sides.
func (c Channel) Valid() bool {
	return c == ChannelMe || c == ChannelThem
}

// Other returns the opposite channel.
func (c Channel) Other() Channel {
	if c == ChannelMe {
		return ChannelThem
	}
	return ChannelMe
}

// RawSegment is a transcript chunk as delivered by the capture layer.
type RawSegment struct {
	Channel Channel   `json:"channel"`
	Text    string    `json:"text"`
	IsFinal bool      `json:"is_final"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// TranscriptSegment is a committed or pending utterance span.
type TranscriptSegment struct {
	ID         string    `json:"id"`
	Channel    Channel   `json:"channel"`
	Text       string    `json:"text"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	IsFinal    bool      `json:"is_final"`
	OutOfOrder bool      `json:"out_of_order,omitempty"`
}

// CallSession is the owning handle for all per-call state.
type CallSession struct {
	RecordingID string    `json:"recording_id"`
	SessionID   string    `json:"session_id"`
	StartTime   time.Time `json:"start_time"`
	IsActive    bool      `json:"is_active"`
}

// ChannelCounts holds a per-channel integer pair.
type ChannelCounts struct {
	Me   int `json:"me"`
	Them int `json:"them"`
}

// TalkRatio holds the per-channel share of spoken words.
// Me + Them is 1 once any words exist, otherwise both are 0.
type TalkRatio struct {
	Me   float64 `json:"me"`
	Them float64 `json:"them"`
}

// MetricsSnapshot is the full metrics view recomputed from the committed log.
type MetricsSnapshot struct {
	TalkRatio         TalkRatio     `json:"talk_ratio"`
	Pace              float64       `json:"pace"`
	QuestionsAsked    int           `json:"questions_asked"`
	MonologueDetected bool          `json:"monologue_detected"`
	LongestMonologue  time.Duration `json:"longest_monologue"`
	TotalDuration     time.Duration `json:"total_duration"`
	CallDuration      time.Duration `json:"call_duration"`
	WordCount         ChannelCounts `json:"word_count"`
	SegmentCount      ChannelCounts `json:"segment_count"`
}

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Sentiment trend labels.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// SentimentEntry records one classified customer segment.
type SentimentEntry struct {
	Time      time.Time `json:"time"`
	Sentiment string    `json:"sentiment"`
	Score     float64   `json:"score"`
	Text      string    `json:"text"`
}

// SentimentState is the rolling customer-sentiment view.
type SentimentState struct {
	Current      string           `json:"current"`
	Trend        string           `json:"trend"`
	AverageScore float64          `json:"average_score"`
	History      []SentimentEntry `json:"history"`
}

// CueCardStatus is the lifecycle state of a coaching card.
type CueCardStatus string

const (
	CueCardActive    CueCardStatus = "active"
	CueCardPinned    CueCardStatus = "pinned"
	CueCardDismissed CueCardStatus = "dismissed"
)

// CueCard is a coaching artifact raised when an objection is detected.
// Cards are never deleted; dismissed cards stay for the call summary.
type CueCard struct {
	TriggerID         string        `json:"trigger_id"`
	ID                string        `json:"id"`
	ObjectionType     string        `json:"objection_type"`
	Title             string        `json:"title"`
	TalkTracks        []string      `json:"talk_tracks"`
	FollowUpQuestions []string      `json:"follow_up_questions"`
	ProofPoints       []string      `json:"proof_points,omitempty"`
	AvoidSaying       []string      `json:"avoid_saying,omitempty"`
	TriggerText       string        `json:"trigger_text"`
	SegmentID         string        `json:"segment_id"`
	Timestamp         time.Time     `json:"timestamp"`
	Status            CueCardStatus `json:"status"`
	Confidence        float64       `json:"confidence"`
	Feedback          string        `json:"feedback,omitempty"`
}

// PlaybookItemStatus is the coverage state of one playbook topic.
type PlaybookItemStatus string

const (
	PlaybookMissing PlaybookItemStatus = "missing"
	PlaybookPartial PlaybookItemStatus = "partial"
	PlaybookCovered PlaybookItemStatus = "covered"
)

// PlaybookEvidence records one matched segment for a playbook item.
type PlaybookEvidence struct {
	SegmentID string    `json:"segment_id"`
	Channel   Channel   `json:"channel"`
	Text      string    `json:"text"`
	Keyword   string    `json:"keyword"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaybookItem is one topic a call should cover.
type PlaybookItem struct {
	ID                 string             `json:"id"`
	Label              string             `json:"label"`
	Keywords           []string           `json:"keywords"`
	SuggestedQuestions []string           `json:"suggested_questions"`
	Status             PlaybookItemStatus `json:"status"`
	Evidence           []PlaybookEvidence `json:"evidence"`
}

// PlaybookSnapshot is the derived read-only coverage aggregate.
type PlaybookSnapshot struct {
	PlaybookID         string         `json:"playbook_id"`
	Items              []PlaybookItem `json:"items"`
	Covered            int            `json:"covered"`
	Partial            int            `json:"partial"`
	Missing            int            `json:"missing"`
	Total              int            `json:"total"`
	CoveragePercentage float64        `json:"coverage_percentage"`
	Recommendations    []string       `json:"recommendations"`
}

// Nudge types, in default evaluation order.
const (
	NudgeMonologue = "monologue"
	NudgeSentiment = "sentiment"
	NudgeTalkRatio = "talk_ratio"
	NudgePace      = "pace"
	NudgeQuestions = "questions"
)

// Nudge severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Nudge is a transient coaching suggestion.
type Nudge struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Severity    string    `json:"severity"`
	Dismissible bool      `json:"dismissible"`
	Timestamp   time.Time `json:"timestamp"`
	ActionLabel string    `json:"action_label,omitempty"`
	ActionType  string    `json:"action_type,omitempty"`
}

// Bookmark marks a notable moment in the recording.
type Bookmark struct {
	ID          string    `json:"id"`
	RecordingID string    `json:"recording_id"`
	Timestamp   time.Time `json:"timestamp"`
	Category    string    `json:"category"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CallSummary is produced once at EndCall and immutable afterward.
type CallSummary struct {
	RecordingID      string           `json:"recording_id"`
	SessionID        string           `json:"session_id"`
	GeneratedAt      time.Time        `json:"generated_at"`
	Overview         string           `json:"overview"`
	CustomerNeeds    string           `json:"customer_needs"`
	Outcome          string           `json:"outcome"`
	Bullets          []string         `json:"bullets"`
	NextSteps        []string         `json:"next_steps"`
	Objections       []string         `json:"objections"`
	RiskFlags        []string         `json:"risk_flags"`
	SentimentSummary string           `json:"sentiment_summary"`
	Playbook         PlaybookSnapshot `json:"playbook"`
	Degraded         bool             `json:"degraded"`
}

// EngineState is the full view returned by GetState.
type EngineState struct {
	Session     *CallSession                   `json:"session,omitempty"`
	Config      Config                         `json:"config"`
	Interim     map[Channel]*TranscriptSegment `json:"interim,omitempty"`
	Committed   int                            `json:"committed_segments"`
	Metrics     MetricsSnapshot                `json:"metrics"`
	Sentiment   SentimentState                 `json:"sentiment"`
	CueCards    []CueCard                      `json:"cue_cards"`
	Playbook    PlaybookSnapshot               `json:"playbook"`
	ActiveNudge *Nudge                         `json:"active_nudge,omitempty"`
	Bookmarks   []Bookmark                     `json:"bookmarks"`
}

// Config is the runtime engine configuration. Each toggle gates its
// component entirely: no computation and no events while disabled.
type Config struct {
	EnableTranscription bool `json:"enableTranscription"`
	EnableMetrics       bool `json:"enableMetrics"`
	EnableSentiment     bool `json:"enableSentiment"`
	EnableNudges        bool `json:"enableNudges"`
	EnableCueCards      bool `json:"enableCueCards"`
	EnablePlaybook      bool `json:"enablePlaybook"`
	UseLLMForDetection  bool `json:"useLLMForDetection"`

	PlaybookID string `json:"playbookId"`

	MonologueThreshold time.Duration `json:"monologueThreshold"`
	SilenceGap         time.Duration `json:"silenceGap"`

	SentimentHistorySize int     `json:"sentimentHistorySize"`
	SentimentMinHistory  int     `json:"sentimentMinHistory"`
	TrendEpsilon         float64 `json:"trendEpsilon"`

	ObjectionCooldown      time.Duration `json:"objectionCooldown"`
	ObjectionMinConfidence float64       `json:"objectionMinConfidence"`

	NudgeCooldown      time.Duration `json:"nudgeCooldown"`
	TalkRatioThreshold float64       `json:"talkRatioThreshold"`
	PaceMin            float64       `json:"paceMin"`
	PaceMax            float64       `json:"paceMax"`
	QuestionWindow     time.Duration `json:"questionWindow"`

	PlaybookCoveredEvidence int  `json:"playbookCoveredEvidence"`
	PlaybookLLMPromotion    bool `json:"playbookLLMPromotion"`

	// NudgeOrder is the rule evaluation order; first match wins per tick.
	NudgeOrder []string `json:"nudgeOrder"`
}

// ConfigPatch is a partial configuration update; nil fields keep their
// current value.
type ConfigPatch struct {
	EnableTranscription *bool   `json:"enableTranscription,omitempty"`
	EnableMetrics       *bool   `json:"enableMetrics,omitempty"`
	EnableSentiment     *bool   `json:"enableSentiment,omitempty"`
	EnableNudges        *bool   `json:"enableNudges,omitempty"`
	EnableCueCards      *bool   `json:"enableCueCards,omitempty"`
	EnablePlaybook      *bool   `json:"enablePlaybook,omitempty"`
	UseLLMForDetection  *bool   `json:"useLLMForDetection,omitempty"`
	PlaybookID          *string `json:"playbookId,omitempty"`
}

// Apply merges the patch into the config.
func (c *Config) Apply(p ConfigPatch) {
	if p.EnableTranscription != nil {
		c.EnableTranscription = *p.EnableTranscription
	}
	if p.EnableMetrics != nil {
		c.EnableMetrics = *p.EnableMetrics
	}
	if p.EnableSentiment != nil {
		c.EnableSentiment = *p.EnableSentiment
	}
	if p.EnableNudges != nil {
		c.EnableNudges = *p.EnableNudges
	}
	if p.EnableCueCards != nil {
		c.EnableCueCards = *p.EnableCueCards
	}
	if p.EnablePlaybook != nil {
		c.EnablePlaybook = *p.EnablePlaybook
	}
	if p.UseLLMForDetection != nil {
		c.UseLLMForDetection = *p.UseLLMForDetection
	}
	if p.PlaybookID != nil {
		c.PlaybookID = *p.PlaybookID
	}
}

// ConfigFromEngine builds the runtime config from the loaded application
// configuration.
func ConfigFromEngine(ec config.EngineConfig) Config {
	return Config{
		EnableTranscription: ec.EnableTranscription,
		EnableMetrics:       ec.EnableMetrics,
		EnableSentiment:     ec.EnableSentiment,
		EnableNudges:        ec.EnableNudges,
		EnableCueCards:      ec.EnableCueCards,
		EnablePlaybook:      ec.EnablePlaybook,
		UseLLMForDetection:  ec.UseLLMForDetection,

		PlaybookID: ec.PlaybookID,

		MonologueThreshold: ec.MonologueThreshold,
		SilenceGap:         ec.SilenceGap,

		SentimentHistorySize: ec.SentimentHistorySize,
		SentimentMinHistory:  ec.SentimentMinHistory,
		TrendEpsilon:         ec.TrendEpsilon,

		ObjectionCooldown:      ec.ObjectionCooldown,
		ObjectionMinConfidence: ec.ObjectionMinConfidence,

		NudgeCooldown:      ec.NudgeCooldown,
		TalkRatioThreshold: ec.TalkRatioThreshold,
		PaceMin:            ec.PaceMin,
		PaceMax:            ec.PaceMax,
		QuestionWindow:     ec.QuestionWindow,

		PlaybookCoveredEvidence: ec.PlaybookCoveredEvidence,
		PlaybookLLMPromotion:    ec.PlaybookLLMPromotion,

		NudgeOrder: []string{NudgeMonologue, NudgeSentiment, NudgeTalkRatio, NudgePace, NudgeQuestions},
	}
}

// DefaultConfig returns the engine defaults used when no application
// configuration is supplied (tests, embedded use).
func DefaultConfig() Config {
	return Config{
		EnableTranscription: true,
		EnableMetrics:       true,
		EnableSentiment:     true,
		EnableNudges:        true,
		EnableCueCards:      true,
		EnablePlaybook:      true,
		UseLLMForDetection:  true,

		PlaybookID: "discovery_default",

		MonologueThreshold: 60 * time.Second,
		SilenceGap:         5 * time.Second,

		SentimentHistorySize: 50,
		SentimentMinHistory:  3,
		TrendEpsilon:         0.1,

		ObjectionCooldown:      90 * time.Second,
		ObjectionMinConfidence: 0.5,

		NudgeCooldown:      90 * time.Second,
		TalkRatioThreshold: 0.7,
		PaceMin:            110,
		PaceMax:            180,
		QuestionWindow:     120 * time.Second,

		PlaybookCoveredEvidence: 2,
		PlaybookLLMPromotion:    false,

		NudgeOrder: []string{NudgeMonologue, NudgeSentiment, NudgeTalkRatio, NudgePace, NudgeQuestions},
	}
}

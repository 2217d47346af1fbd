package copilot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"copilot-server/pkg/errors"
	"copilot-server/pkg/llm"
	"copilot-server/pkg/metrics"
)

const defaultQueueCapacity = 512

// Valid cue card feedback verdicts.
const (
	FeedbackHelpful    = "helpful"
	FeedbackWrong      = "wrong"
	FeedbackIrrelevant = "irrelevant"
)

// apiKeySetter is implemented by completers whose credentials can be set at
// runtime, such as llm.Client.
type apiKeySetter interface {
	SetAPIKey(key string)
}

// Engine owns the single active call session and runs every component over
// a serialized processing queue. One worker goroutine drains the queue, so
// Normalizer through Nudge updates apply atomically per segment and events
// never expose partial state.
type Engine struct {
	logger    *logrus.Logger
	log       *logrus.Entry
	completer llm.Completer
	bus       *eventBus

	mu     sync.Mutex
	config Config

	session    *CallSession
	normalizer *Normalizer
	sentiment  *SentimentTracker
	objections *ObjectionEngine
	playbook   *PlaybookTracker
	nudges     *NudgeEngine
	summarizer *Summarizer
	bookmarks  []Bookmark
	snapshot   MetricsSnapshot

	queue    chan RawSegment
	inFlight sync.WaitGroup
	stopped  bool
	workerWG sync.WaitGroup
}

// NewEngine creates an engine with the given runtime configuration and
// starts its processing worker. The completer may be nil; LLM-backed
// components then use their deterministic fallbacks.
func NewEngine(logger *logrus.Logger, completer llm.Completer, cfg Config) *Engine {
	e := &Engine{
		logger:    logger,
		log:       logger.WithField("component", "engine"),
		completer: completer,
		bus:       newEventBus(logger),
		config:    cfg,
		queue:     make(chan RawSegment, defaultQueueCapacity),
	}

	e.workerWG.Add(1)
	go e.worker()
	return e
}

// Subscribe registers a subscriber for engine push events.
func (e *Engine) Subscribe(sub Subscriber) {
	e.bus.subscribe(sub)
}

// Unsubscribe removes a previously registered subscriber.
func (e *Engine) Unsubscribe(sub Subscriber) {
	e.bus.unsubscribe(sub)
}

// Initialize sets the LLM API key at runtime.
func (e *Engine) Initialize(apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return errors.Wrap(errors.ErrInvalidInput, "empty api key")
	}
	setter, ok := e.completer.(apiKeySetter)
	if !ok {
		return errors.ErrLLMNotConfigured
	}
	setter.SetAPIKey(apiKey)
	e.log.Info("LLM API key configured")
	return nil
}

// StartCall begins a new call session. Calling it while a session is active
// is a no-op that returns the existing session's identity.
func (e *Engine) StartCall(recordingID, sessionID string) (CallSession, error) {
	if strings.TrimSpace(recordingID) == "" {
		return CallSession{}, errors.Wrap(errors.ErrInvalidInput, "empty recording id")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return CallSession{}, errors.ErrUnavailable
	}
	if e.session != nil {
		e.log.WithFields(logrus.Fields{
			"recording_id": e.session.RecordingID,
			"session_id":   e.session.SessionID,
		}).Warn("StartCall while session active, returning existing session")
		return *e.session, nil
	}

	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	session := CallSession{
		RecordingID: recordingID,
		SessionID:   sessionID,
		StartTime:   time.Now(),
		IsActive:    true,
	}

	e.session = &session
	e.normalizer = NewNormalizer(e.logger)
	e.sentiment = NewSentimentTracker(e.logger, e.completer)
	e.objections = NewObjectionEngine(e.logger, e.completer)
	e.playbook = NewPlaybookTracker(e.logger, e.completer, e.config.PlaybookID)
	e.nudges = NewNudgeEngine(e.logger)
	e.summarizer = NewSummarizer(e.logger, e.completer)
	e.bookmarks = make([]Bookmark, 0, 8)
	e.snapshot = MetricsSnapshot{}

	metrics.SetActiveSession(true)
	e.log.WithFields(logrus.Fields{
		"recording_id": recordingID,
		"session_id":   sessionID,
	}).Info("Call session started")
	return session, nil
}

// SendTranscript enqueues one raw segment for serialized processing.
func (e *Engine) SendTranscript(raw RawSegment) error {
	e.mu.Lock()
	if e.session == nil || !e.session.IsActive {
		e.mu.Unlock()
		return errors.ErrNoActiveSession
	}
	if !e.config.EnableTranscription {
		e.mu.Unlock()
		return errors.Wrap(errors.ErrComponentDisabled, "transcription")
	}
	e.inFlight.Add(1)
	e.mu.Unlock()

	// Enqueue outside the lock; the worker takes the same lock per segment.
	e.queue <- raw
	metrics.SetQueueDepth(len(e.queue))
	return nil
}

// EndCall marks the session inactive, drains in-flight segments, generates
// the summary, and clears all per-call state. The summary itself never
// fails hard; a degraded summary is returned instead.
func (e *Engine) EndCall(ctx context.Context) (CallSummary, MetricsSnapshot, error) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return CallSummary{}, MetricsSnapshot{}, errors.ErrNoActiveSession
	}
	e.session.IsActive = false
	e.mu.Unlock()

	// New SendTranscript calls are rejected from here on; whatever was
	// already accepted finishes first.
	e.inFlight.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	// A concurrent EndCall may have torn the session down while we waited.
	if e.session == nil {
		return CallSummary{}, MetricsSnapshot{}, errors.ErrNoActiveSession
	}

	final := ComputeMetrics(e.normalizer.Committed(), e.session.StartTime, time.Now(), e.config)
	summary := e.summarizer.Summarize(ctx, summaryContext{
		session:   *e.session,
		committed: e.normalizer.CommittedCopy(),
		metrics:   final,
		cards:     e.objections.Cards(),
		playbook:  e.playbook.Snapshot(),
		sentiment: e.sentiment.State(),
		bookmarks: e.bookmarks,
	})

	sessionID := e.session.SessionID
	e.clearSessionLocked()
	metrics.SetActiveSession(false)

	e.bus.publish(Event{
		Type:      EventCallEnded,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   summary,
	})
	e.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"degraded":   summary.Degraded,
	}).Info("Call session ended")

	return summary, final, nil
}

// UpdateConfig applies a partial configuration update. A playbook change
// takes effect on the next call; the active call keeps its tracker.
func (e *Engine) UpdateConfig(patch ConfigPatch) Config {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.config.Apply(patch)
	e.log.WithField("config", e.config).Debug("Engine configuration updated")
	return e.config
}

// GetState returns the full engine view for UI hydration.
func (e *Engine) GetState() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := EngineState{Config: e.config}
	if e.session == nil {
		return state
	}

	session := *e.session
	state.Session = &session
	state.Interim = e.normalizer.Pending()
	state.Committed = len(e.normalizer.Committed())
	state.Metrics = e.snapshot
	state.Sentiment = e.sentiment.State()
	state.CueCards = e.objections.Cards()
	state.Playbook = e.playbook.Snapshot()
	state.ActiveNudge = e.nudges.Active()
	state.Bookmarks = append([]Bookmark(nil), e.bookmarks...)
	return state
}

// DismissCueCard marks a card dismissed. Dismissed cards stop suppressing
// repeat detections but remain in the call summary.
func (e *Engine) DismissCueCard(triggerID string) error {
	return e.setCardStatus(triggerID, CueCardDismissed)
}

// PinCueCard pins a card so it stays visible and keeps suppressing repeats.
func (e *Engine) PinCueCard(triggerID string) error {
	return e.setCardStatus(triggerID, CueCardPinned)
}

func (e *Engine) setCardStatus(triggerID string, status CueCardStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return errors.ErrNoActiveSession
	}
	if !e.objections.SetStatus(triggerID, status) {
		return errors.Wrap(errors.ErrCueCardNotFound, triggerID)
	}
	return nil
}

// CueCardFeedback records a caller verdict on a card.
func (e *Engine) CueCardFeedback(triggerID, verdict string) error {
	switch verdict {
	case FeedbackHelpful, FeedbackWrong, FeedbackIrrelevant:
	default:
		return errors.Wrap(errors.ErrInvalidInput, "unknown feedback verdict: "+verdict)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return errors.ErrNoActiveSession
	}
	if !e.objections.SetFeedback(triggerID, verdict) {
		return errors.Wrap(errors.ErrCueCardNotFound, triggerID)
	}
	return nil
}

// DismissNudge clears the active nudge by id.
func (e *Engine) DismissNudge(nudgeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return errors.ErrNoActiveSession
	}
	if !e.nudges.Dismiss(nudgeID) {
		return errors.Wrap(errors.ErrNudgeNotFound, nudgeID)
	}
	return nil
}

// CreateBookmark records a notable moment on the active call's recording.
func (e *Engine) CreateBookmark(recordingID string, timestamp time.Time, category, note string) (Bookmark, error) {
	if strings.TrimSpace(category) == "" {
		return Bookmark{}, errors.Wrap(errors.ErrInvalidInput, "empty bookmark category")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return Bookmark{}, errors.ErrNoActiveSession
	}
	if recordingID == "" {
		recordingID = e.session.RecordingID
	}

	bm := Bookmark{
		ID:          uuid.New().String(),
		RecordingID: recordingID,
		Timestamp:   timestamp,
		Category:    category,
		Note:        note,
		CreatedAt:   time.Now(),
	}
	e.bookmarks = append(e.bookmarks, bm)
	return bm, nil
}

// Shutdown stops the processing worker after draining accepted segments.
// The active session, if any, is not summarized.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	if e.session != nil {
		e.session.IsActive = false
	}
	e.mu.Unlock()

	e.inFlight.Wait()
	close(e.queue)

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, "engine shutdown")
	}
}

func (e *Engine) worker() {
	defer e.workerWG.Done()
	for raw := range e.queue {
		e.process(raw)
		e.inFlight.Done()
		metrics.SetQueueDepth(len(e.queue))
	}
}

// process runs the full per-segment pipeline under the engine lock:
// Normalizer -> Metrics -> Sentiment -> Objections -> Playbook -> Nudges.
func (e *Engine) process(raw RawSegment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Session may have been torn down between enqueue and processing.
	if e.session == nil {
		return
	}
	sessionID := e.session.SessionID

	seg, err := e.normalizer.Ingest(raw)
	if err != nil {
		e.log.WithError(err).Warn("Segment rejected")
		e.bus.publish(Event{
			Type:      EventError,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Payload:   map[string]string{"error": err.Error()},
		})
		return
	}

	if !seg.IsFinal {
		e.bus.publish(Event{
			Type:      EventTranscriptInterim,
			SessionID: sessionID,
			Timestamp: time.Now(),
			Payload:   seg,
		})
		return
	}

	e.bus.publish(Event{
		Type:      EventTranscriptCommitted,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Payload:   seg,
	})

	ctx := context.Background()
	now := time.Now()

	if e.config.EnableMetrics {
		e.snapshot = ComputeMetrics(e.normalizer.Committed(), e.session.StartTime, now, e.config)
		e.bus.publish(Event{
			Type:      EventMetricsUpdated,
			SessionID: sessionID,
			Timestamp: now,
			Payload:   e.snapshot,
		})
	}

	if e.config.EnableSentiment {
		if e.sentiment.OnSegment(ctx, seg, e.config) {
			e.bus.publish(Event{
				Type:      EventSentimentUpdated,
				SessionID: sessionID,
				Timestamp: time.Now(),
				Payload:   e.sentiment.State(),
			})
		}
	}

	if e.config.EnableCueCards {
		for _, card := range e.objections.OnSegment(ctx, seg, e.config) {
			e.bus.publish(Event{
				Type:      EventCueCardRaised,
				SessionID: sessionID,
				Timestamp: time.Now(),
				Payload:   card,
			})
		}
	}

	if e.config.EnablePlaybook {
		if e.playbook.OnSegment(ctx, seg, e.config) {
			e.bus.publish(Event{
				Type:      EventPlaybookUpdated,
				SessionID: sessionID,
				Timestamp: time.Now(),
				Payload:   e.playbook.Snapshot(),
			})
		}
	}

	if e.config.EnableNudges {
		nudge := e.nudges.Evaluate(nudgeInputs{
			metrics:   e.snapshot,
			sentiment: e.sentiment.State(),
			committed: e.normalizer.Committed(),
			now:       now,
		}, e.config)
		if nudge != nil {
			e.bus.publish(Event{
				Type:      EventNudgeRaised,
				SessionID: sessionID,
				Timestamp: time.Now(),
				Payload:   *nudge,
			})
		}
	}
}

func (e *Engine) clearSessionLocked() {
	e.session = nil
	e.normalizer = nil
	e.sentiment = nil
	e.objections = nil
	e.playbook = nil
	e.nudges = nil
	e.summarizer = nil
	e.bookmarks = nil
	e.snapshot = MetricsSnapshot{}
}

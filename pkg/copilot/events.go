package copilot

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType identifies a push event emitted by the engine.
type EventType string

const (
	EventTranscriptCommitted EventType = "transcript-committed"
	EventTranscriptInterim   EventType = "transcript-interim"
	EventMetricsUpdated      EventType = "metrics-updated"
	EventSentimentUpdated    EventType = "sentiment-updated"
	EventNudgeRaised         EventType = "nudge-raised"
	EventCueCardRaised       EventType = "cue-card-raised"
	EventPlaybookUpdated     EventType = "playbook-updated"
	EventCallEnded           EventType = "call-ended"
	EventError               EventType = "error"
)

// Event is one engine push event. Payload is the relevant snapshot or
// entity, handed out by value.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Subscriber receives engine events in real time. Implementations must not
// block; slow consumers should buffer internally.
type Subscriber interface {
	OnEvent(event Event)
}

// eventBus fans events out to registered subscribers.
type eventBus struct {
	logger *logrus.Logger
	mu     sync.RWMutex
	subs   []Subscriber
}

func newEventBus(logger *logrus.Logger) *eventBus {
	return &eventBus{logger: logger, subs: make([]Subscriber, 0)}
}

func (b *eventBus) subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

func (b *eventBus) unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs[i] = b.subs[len(b.subs)-1]
			b.subs = b.subs[:len(b.subs)-1]
			return
		}
	}
}

func (b *eventBus) publish(event Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.OnEvent(event)
	}
}

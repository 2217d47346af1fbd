package copilot

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeCompleter returns scripted responses in order, then repeats the last.
type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	apiKey    string
}

func (f *fakeCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	i := f.calls - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeCompleter) SetAPIKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKey = key
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// captureSubscriber records every event it receives.
type captureSubscriber struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSubscriber) OnEvent(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSubscriber) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// seg builds a committed final segment at second offsets from a fixed base.
func seg(channel Channel, text string, startSec, endSec int) TranscriptSegment {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return TranscriptSegment{
		ID:        text,
		Channel:   channel,
		Text:      text,
		StartTime: base.Add(time.Duration(startSec) * time.Second),
		EndTime:   base.Add(time.Duration(endSec) * time.Second),
		IsFinal:   true,
	}
}

func rawSeg(channel Channel, text string, startSec, endSec int, final bool) RawSegment {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return RawSegment{
		Channel: channel,
		Text:    text,
		IsFinal: final,
		Start:   base.Add(time.Duration(startSec) * time.Second),
		End:     base.Add(time.Duration(endSec) * time.Second),
	}
}

package conversation

import (
	"context"
	"time"

	"github.com/normanking/avatarchat/internal/bus"
)

// DefaultErrorMessage is the reply appended when the backend cannot be reached.
const DefaultErrorMessage = "Sorry, I encountered an error. Please try again."

// Recorder persists messages as they are appended or change playback state.
// The same sequence may be recorded more than once; later calls win.
type Recorder interface {
	Record(ctx context.Context, sessionID string, msg Message) error
}

// Option configures a Store.
type Option func(*Store)

// WithErrorMessage overrides the apology text.
func WithErrorMessage(text string) Option {
	return func(s *Store) {
		if text != "" {
			s.errorMessage = text
		}
	}
}

// WithRetry makes the store try a failing backend call up to attempts
// times, sleeping backoff between tries. attempts below 1 means 1.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Store) {
		if attempts < 1 {
			attempts = 1
		}
		s.attempts = attempts
		s.backoff = backoff
	}
}

// WithRequireIdle also refuses submissions while a reply is playing.
func WithRequireIdle(v bool) Option {
	return func(s *Store) { s.requireIdle = v }
}

// WithRecorder archives every message change.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithEventBus publishes conversation events.
func WithEventBus(b *bus.EventBus) Option {
	return func(s *Store) { s.bus = b }
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.sessionID = id
		}
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

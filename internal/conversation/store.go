package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/backend"
	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/metrics"
)

// Store errors. Backend failures are never returned; they become an
// apology message in the history.
var (
	ErrEmptyMessage     = errors.New("message is empty")
	ErrExchangeInFlight = errors.New("an exchange is already in flight")
	ErrReplyPlaying     = errors.New("a reply is still playing")
	ErrAlreadyGreeted   = errors.New("greeting already requested")
	ErrNotGreeted       = errors.New("greeting has not been requested")
)

// Backend is the part of backend.Client the store depends on.
type Backend interface {
	FetchGreeting(ctx context.Context) ([]backend.Reply, error)
	Exchange(ctx context.Context, text string) ([]backend.Reply, error)
}

const recordQueueSize = 256

// Store holds the conversation history and drives the exchange and
// playback state machine. All mutation happens under mu; backend calls run
// outside it while pending holds the single exchange slot.
type Store struct {
	client Backend
	logger zerolog.Logger

	errorMessage string
	attempts     int
	backoff      time.Duration
	requireIdle  bool
	recorder     Recorder
	bus          *bus.EventBus
	sessionID    string
	now          func() time.Time

	mu        sync.Mutex
	history   []Message
	nextSeq   int64
	active    int // index into history, -1 when none
	pending   bool
	greeted   bool
	lastErr   string
	version   uint64
	listeners map[int]func(State)
	nextLis   int

	records  chan Message
	recordWG sync.WaitGroup
	closed   bool
}

// NewStore creates a store. Call Greet to start the conversation.
func NewStore(client Backend, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		client:       client,
		logger:       logger.With().Str("component", "conversation").Logger(),
		errorMessage: DefaultErrorMessage,
		attempts:     1,
		sessionID:    uuid.NewString(),
		now:          time.Now,
		nextSeq:      1,
		active:       -1,
		listeners:    make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.recorder != nil {
		s.records = make(chan Message, recordQueueSize)
		s.recordWG.Add(1)
		go s.recordLoop()
	}
	return s
}

// SessionID identifies this conversation in the transcript archive.
func (s *Store) SessionID() string {
	return s.sessionID
}

// change collects what a mutation produced so it can be published after
// the lock is released.
type change struct {
	snapshot State
	events   []bus.Event
}

func (c *change) emit(t bus.EventType, data map[string]any) {
	c.events = append(c.events, bus.Event{Type: t, Data: data})
}

// Greet fetches the opening replies. It runs once per store; the fetch
// holds the exchange slot like a submission does.
func (s *Store) Greet(ctx context.Context) error {
	s.mu.Lock()
	if s.greeted {
		s.mu.Unlock()
		return ErrAlreadyGreeted
	}
	s.greeted = true
	s.pending = true
	var c change
	c.emit(bus.EventTypeExchangeStarted, map[string]any{"op": "greeting"})
	s.commitLocked(&c)
	s.mu.Unlock()
	s.publish(&c)

	s.logger.Info().Str("session", s.sessionID).Msg("Fetching greeting")
	replies, err := s.call(ctx, "greeting", func(ctx context.Context) ([]backend.Reply, error) {
		return s.client.FetchGreeting(ctx)
	})
	s.finishExchange("greeting", replies, err)
	return nil
}

// Submit appends the user's text and exchanges it with the backend. It
// blocks until the replies (or the apology) are in the history. Backend
// failures are not returned.
func (s *Store) Submit(ctx context.Context, text string) error {
	if _, err := s.begin(text); err != nil {
		return err
	}
	s.exchange(ctx, text)
	return nil
}

// SubmitAsync validates and appends the user's text like Submit, then runs
// the exchange on its own goroutine. It returns the user message once the
// submission is accepted.
func (s *Store) SubmitAsync(ctx context.Context, text string) (Message, error) {
	msg, err := s.begin(text)
	if err != nil {
		return Message{}, err
	}
	go s.exchange(ctx, text)
	return msg, nil
}

// begin claims the exchange slot and appends the user message.
func (s *Store) begin(text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	switch {
	case !s.greeted:
		s.mu.Unlock()
		return Message{}, ErrNotGreeted
	case s.pending:
		s.mu.Unlock()
		return Message{}, ErrExchangeInFlight
	case s.requireIdle && s.active >= 0:
		s.mu.Unlock()
		return Message{}, ErrReplyPlaying
	}

	var c change
	msg := s.appendLocked(&c, Message{Role: RoleUser, Content: text})
	s.pending = true
	c.emit(bus.EventTypeExchangeStarted, map[string]any{"op": "chat", "sequence": msg.Sequence})
	s.commitLocked(&c)
	s.mu.Unlock()
	s.publish(&c)

	s.logger.Info().Int64("seq", msg.Sequence).Int("len", len(text)).Msg("Submitting message")
	return msg, nil
}

func (s *Store) exchange(ctx context.Context, text string) {
	replies, err := s.call(ctx, "chat", func(ctx context.Context) ([]backend.Reply, error) {
		return s.client.Exchange(ctx, text)
	})
	s.finishExchange("chat", replies, err)
}

// call runs fn with the configured retry policy.
func (s *Store) call(ctx context.Context, op string, fn func(context.Context) ([]backend.Reply, error)) ([]backend.Reply, error) {
	metrics.ExchangeInFlight.Set(1)
	defer metrics.ExchangeInFlight.Set(0)

	start := time.Now()
	defer func() {
		metrics.ExchangeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		var replies []backend.Reply
		replies, err = fn(ctx)
		if err == nil {
			return replies, nil
		}

		s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Backend call failed")
		if attempt == s.attempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(s.backoff):
		}
	}
	return nil, err
}

func (s *Store) finishExchange(op string, replies []backend.Reply, err error) {
	s.mu.Lock()
	var c change
	s.pending = false

	if err != nil {
		metrics.Exchanges.WithLabelValues(op, "failure").Inc()
		metrics.RepliesAppended.WithLabelValues("apology").Inc()
		s.lastErr = err.Error()
		s.appendLocked(&c, Message{Role: RoleAssistant, Content: s.errorMessage, Synthetic: true})
		c.emit(bus.EventTypeExchangeFailed, map[string]any{"op": op, "error": s.lastErr})
	} else {
		metrics.Exchanges.WithLabelValues(op, "success").Inc()
		s.lastErr = ""
		for _, r := range replies {
			if r.Role != RoleUser {
				metrics.RepliesAppended.WithLabelValues("backend").Inc()
			}
			s.appendLocked(&c, Message{Role: r.Role, Content: r.Content, Media: r.Media})
		}
		c.emit(bus.EventTypeExchangeFinished, map[string]any{"op": op, "replies": len(replies)})
	}

	s.selectNextLocked(&c)
	s.commitLocked(&c)
	s.mu.Unlock()
	s.publish(&c)

	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("Exchange failed, apology appended")
	} else {
		s.logger.Info().Str("op", op).Int("replies", len(replies)).Msg("Exchange completed")
	}
}

// AcknowledgePlayed marks the active reply played and selects the next one.
// It returns false, changing nothing, unless seq is the active reply.
func (s *Store) AcknowledgePlayed(seq int64) bool {
	s.mu.Lock()
	if s.active < 0 || s.history[s.active].Sequence != seq {
		s.mu.Unlock()
		s.logger.Debug().Int64("seq", seq).Msg("Ignoring stale playback acknowledgement")
		return false
	}

	var c change
	played := &s.history[s.active]
	played.Playback = PlaybackPlayed
	s.active = -1
	s.enqueueRecordLocked(*played)
	c.emit(bus.EventTypeReplyPlayed, map[string]any{"sequence": seq})

	s.selectNextLocked(&c)
	s.commitLocked(&c)
	s.mu.Unlock()
	s.publish(&c)

	s.logger.Debug().Int64("seq", seq).Msg("Reply played")
	return true
}

// selectNextLocked activates the earliest unprocessed assistant reply when
// nothing is playing and no exchange is pending.
func (s *Store) selectNextLocked(c *change) {
	if s.active >= 0 || s.pending {
		return
	}
	for i := range s.history {
		m := &s.history[i]
		if m.Playable() && m.Playback == PlaybackUnprocessed {
			m.Playback = PlaybackActive
			s.active = i
			s.enqueueRecordLocked(*m)
			c.emit(bus.EventTypeReplyActivated, map[string]any{"sequence": m.Sequence, "content": m.Content})
			return
		}
	}
}

func (s *Store) appendLocked(c *change, msg Message) Message {
	msg.Sequence = s.nextSeq
	s.nextSeq++
	msg.CreatedAt = s.now()
	if msg.Playable() {
		msg.Playback = PlaybackUnprocessed
	} else {
		msg.Playback = PlaybackNone
	}

	s.history = append(s.history, msg)
	s.enqueueRecordLocked(msg)
	c.emit(bus.EventTypeMessageAppended, map[string]any{
		"sequence": msg.Sequence,
		"role":     string(msg.Role),
		"content":  msg.Content,
	})
	return msg
}

func (s *Store) commitLocked(c *change) {
	s.version++
	c.snapshot = s.snapshotLocked()
	metrics.PlaybackQueue.Set(float64(c.snapshot.Unprocessed()))
}

func (s *Store) snapshotLocked() State {
	st := State{
		SessionID: s.sessionID,
		History:   make([]Message, len(s.history)),
		Pending:   s.pending,
		Err:       s.lastErr,
		Version:   s.version,
	}
	copy(st.History, s.history)

	if s.active >= 0 {
		active := s.history[s.active]
		st.ActiveReply = &active
	}

	switch {
	case s.pending:
		st.Phase = PhaseExchanging
	case s.active >= 0:
		st.Phase = PhasePlaying
	default:
		st.Phase = PhaseIdle
	}
	return st
}

func (s *Store) publish(c *change) {
	s.mu.Lock()
	listeners := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(c.snapshot)
	}

	if s.bus != nil {
		for _, e := range c.events {
			s.bus.Publish(e)
		}
	}
}

// State returns a snapshot of the conversation.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change. fn runs
// on the goroutine that made the change and must not block.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextLis
	s.nextLis++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// CanSubmit reports whether Submit would currently accept non-empty text.
func (s *Store) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.greeted || s.pending {
		return false
	}
	return !s.requireIdle || s.active < 0
}

func (s *Store) enqueueRecordLocked(msg Message) {
	if s.records == nil || s.closed {
		return
	}
	select {
	case s.records <- msg:
	default:
		metrics.TranscriptDropped.Inc()
		s.logger.Warn().Int64("seq", msg.Sequence).Msg("Transcript queue full, dropping record")
	}
}

func (s *Store) recordLoop() {
	defer s.recordWG.Done()
	for msg := range s.records {
		if err := s.recorder.Record(context.Background(), s.sessionID, msg); err != nil {
			s.logger.Warn().Err(err).Int64("seq", msg.Sequence).Msg("Failed to record message")
		}
	}
}

// Close flushes pending transcript writes. The store stays readable.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.records != nil {
		close(s.records)
	}
	s.mu.Unlock()

	s.recordWG.Wait()
	return nil
}

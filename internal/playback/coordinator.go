// Package playback binds the conversation's active reply to a renderer and
// reports completion back to the store exactly once.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/conversation"
	"github.com/normanking/avatarchat/internal/metrics"
)

// ErrNothingToPlay is returned by a renderer that skipped a reply, for
// example because no client is attached. The reply still counts as played.
var ErrNothingToPlay = errors.New("nothing to play")

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("coordinator already started")

// Renderer plays one reply and blocks until it has finished or ctx ends.
type Renderer interface {
	Play(ctx context.Context, msg conversation.Message) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, msg conversation.Message) error

// Play calls f.
func (f RendererFunc) Play(ctx context.Context, msg conversation.Message) error {
	return f(ctx, msg)
}

// Store is the part of conversation.Store the coordinator uses.
type Store interface {
	State() conversation.State
	Subscribe(fn func(conversation.State)) func()
	AcknowledgePlayed(seq int64) bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxDuration treats a reply as finished once it has played for d.
// Zero disables the limit.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Coordinator) { c.maxDuration = d }
}

// Coordinator watches the store for a newly active reply, plays it on its
// own goroutine and acknowledges it when the renderer returns.
type Coordinator struct {
	store       Store
	renderer    Renderer
	logger      zerolog.Logger
	maxDuration time.Duration

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	stopped     bool
	lastVersion uint64
	lastBound   int64
	bound       int64 // sequence currently playing, 0 when none
	playCancel  context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewCoordinator creates a coordinator. Nothing plays until Start.
func NewCoordinator(store Store, renderer Renderer, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		renderer: renderer,
		logger:   logger.With().Str("component", "playback").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the store and binds the reply that is already
// active, if any.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	unsubscribe := c.store.Subscribe(c.onState)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.onState(c.store.State())
	return nil
}

// Stop cancels any playback in progress without acknowledging it and
// waits for the playback goroutine to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.bound = 0
	unsubscribe := c.unsubscribe
	c.cancel()
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.wg.Wait()
}

// Bound returns the sequence of the reply being played, or 0.
func (c *Coordinator) Bound() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bound
}

func (c *Coordinator) onState(st conversation.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || st.Version <= c.lastVersion {
		return
	}
	c.lastVersion = st.Version

	if st.ActiveReply == nil || st.ActiveReply.Sequence <= c.lastBound {
		return
	}
	msg := *st.ActiveReply

	if c.bound != 0 && c.playCancel != nil {
		// The store moved on without us; abandon the old playback.
		c.logger.Warn().Int64("seq", c.bound).Int64("next", msg.Sequence).Msg("Active reply changed underneath playback")
		c.playCancel()
	}

	var playCtx context.Context
	var cancel context.CancelFunc
	if c.maxDuration > 0 {
		playCtx, cancel = context.WithTimeout(c.ctx, c.maxDuration)
	} else {
		playCtx, cancel = context.WithCancel(c.ctx)
	}

	c.bound = msg.Sequence
	c.lastBound = msg.Sequence
	c.playCancel = cancel

	c.wg.Add(1)
	go c.play(playCtx, cancel, msg)
}

func (c *Coordinator) play(ctx context.Context, cancel context.CancelFunc, msg conversation.Message) {
	defer c.wg.Done()
	defer cancel()

	c.logger.Debug().Int64("seq", msg.Sequence).Msg("Playing reply")
	start := time.Now()
	err := c.renderer.Play(ctx, msg)
	metrics.PlaybackDuration.Observe(time.Since(start).Seconds())

	outcome := "completed"
	switch {
	case errors.Is(err, ErrNothingToPlay):
		outcome = "skipped"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		c.logger.Warn().Int64("seq", msg.Sequence).Dur("max", c.maxDuration).Msg("Playback exceeded max duration")
	case err != nil && ctx.Err() == nil:
		outcome = "error"
		c.logger.Warn().Err(err).Int64("seq", msg.Sequence).Msg("Renderer failed, treating reply as played")
	}

	c.mu.Lock()
	cancelled := c.stopped || c.bound != msg.Sequence || errors.Is(ctx.Err(), context.Canceled)
	c.mu.Unlock()
	if cancelled {
		return
	}

	metrics.Playbacks.WithLabelValues(outcome).Inc()
	c.Complete(msg.Sequence)
}

// Complete reports that the reply with sequence seq finished playing.
// Signals for anything but the bound reply are ignored, so duplicates from
// the renderer and the client are harmless.
func (c *Coordinator) Complete(seq int64) bool {
	c.mu.Lock()
	if c.stopped || c.bound == 0 || c.bound != seq {
		c.mu.Unlock()
		c.logger.Debug().Int64("seq", seq).Msg("Ignoring completion for unbound reply")
		return false
	}
	c.bound = 0
	if c.playCancel != nil {
		c.playCancel()
		c.playCancel = nil
	}
	c.mu.Unlock()

	return c.store.AcknowledgePlayed(seq)
}

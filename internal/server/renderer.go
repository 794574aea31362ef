package server

import (
	"context"

	"github.com/normanking/avatarchat/internal/conversation"
	"github.com/normanking/avatarchat/internal/playback"
)

// Renderer plays replies in the browser: it broadcasts a play frame and
// waits for the coordinator to be told the reply finished, which cancels
// ctx. Replies are skipped while no client is connected, and abandoned
// when the last client leaves.
type Renderer struct {
	hub        *Hub
	skipSilent bool
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithSkipSilent makes replies without synthesized audio count as played
// as soon as their play frame is sent. Browsers that only play audio never
// report such replies finished.
func WithSkipSilent(skip bool) RendererOption {
	return func(r *Renderer) { r.skipSilent = skip }
}

// NewRenderer creates a renderer that plays through hub.
func NewRenderer(hub *Hub, opts ...RendererOption) *Renderer {
	r := &Renderer{hub: hub}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Play implements playback.Renderer.
func (r *Renderer) Play(ctx context.Context, msg conversation.Message) error {
	if r.hub.Count() == 0 {
		return playback.ErrNothingToPlay
	}
	empty := r.hub.Empty()

	r.hub.Broadcast(WSMessage{Type: TypePlay, Sequence: msg.Sequence, Message: &msg})
	if r.skipSilent && !msg.Media.HasAudio() {
		return playback.ErrNothingToPlay
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-empty:
		return playback.ErrNothingToPlay
	}
}

// Package conversation owns the chat history and the state machine that
// decides which assistant reply the avatar is playing.
package conversation

import (
	"time"

	"github.com/normanking/avatarchat/internal/backend"
)

// Role identifies who authored a message.
type Role = backend.Role

const (
	RoleUser      = backend.RoleUser
	RoleAssistant = backend.RoleAssistant
)

// PlaybackState tracks an assistant message through playback. It only
// advances: unprocessed, active, played.
type PlaybackState string

const (
	PlaybackNone        PlaybackState = ""            // user messages
	PlaybackUnprocessed PlaybackState = "unprocessed" // waiting for its turn
	PlaybackActive      PlaybackState = "active"      // bound to the renderer
	PlaybackPlayed      PlaybackState = "played"
)

// Message is one turn in the conversation. Sequence is its identity.
type Message struct {
	Sequence  int64         `json:"sequence"`
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Playback  PlaybackState `json:"playback,omitempty"`
	Media     backend.Media `json:"media"`
	Synthetic bool          `json:"synthetic,omitempty"` // the apology reply
	CreatedAt time.Time     `json:"createdAt"`
}

// Playable reports whether the message ever goes through playback.
func (m Message) Playable() bool {
	return m.Role != RoleUser
}

// Phase summarizes the store's state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseExchanging Phase = "exchanging"
	PhasePlaying    Phase = "playing"
)

// State is a snapshot of the store. Listeners must drop snapshots whose
// Version is not newer than the last one they saw.
type State struct {
	SessionID   string    `json:"sessionId"`
	History     []Message `json:"history"`
	ActiveReply *Message  `json:"activeReply,omitempty"`
	Pending     bool      `json:"pending"`
	Err         string    `json:"error,omitempty"`
	Phase       Phase     `json:"phase"`
	Version     uint64    `json:"version"`
}

// Unprocessed counts assistant replies still waiting for playback.
func (s State) Unprocessed() int {
	n := 0
	for _, m := range s.History {
		if m.Playback == PlaybackUnprocessed {
			n++
		}
	}
	return n
}

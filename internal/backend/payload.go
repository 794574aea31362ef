package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role identifies who authored a reply.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MouthCue is one timed mouth shape from the backend's lip-sync track.
// Value uses the Rhubarb letters A-H and X.
type MouthCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value string  `json:"value"`
}

// LipSync carries the mouth cues for a reply's audio.
type LipSync struct {
	MouthCues []MouthCue `json:"mouthCues"`
}

// Media holds the avatar cues that accompany a reply. All fields are optional.
type Media struct {
	Audio            string   `json:"audio,omitempty"` // base64 encoded
	LipSync          *LipSync `json:"lipsync,omitempty"`
	FacialExpression string   `json:"facialExpression,omitempty"`
	Animation        string   `json:"animation,omitempty"`
}

// HasAudio reports whether the reply came with synthesized speech.
func (m Media) HasAudio() bool {
	return m.Audio != ""
}

// Reply is one normalized utterance returned by the backend.
type Reply struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Media   Media  `json:"media"`
}

// ErrNoReplies is returned when a payload parses but holds nothing to say.
var ErrNoReplies = errors.New("backend returned no replies")

type wireReply struct {
	Role             string   `json:"role"`
	Content          *string  `json:"content"`
	Message          *string  `json:"message"`
	Text             *string  `json:"text"`
	Audio            string   `json:"audio"`
	LipSync          *LipSync `json:"lipsync"`
	FacialExpression string   `json:"facialExpression"`
	Animation        string   `json:"animation"`
}

// Normalize maps any accepted response body into a list of replies. The
// body is either {"messages": [...]} or a single reply object. A missing
// role means assistant; the text is read from content, message or text, in
// that order, and falls back to the raw object.
func Normalize(body []byte) ([]Reply, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if envelope == nil {
		return nil, fmt.Errorf("response body is null")
	}

	var items []json.RawMessage
	if raw, ok := envelope["messages"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to parse messages: %w", err)
		}
	} else {
		items = []json.RawMessage{body}
	}

	replies := make([]Reply, 0, len(items))
	for i, item := range items {
		r, err := normalizeOne(item)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		replies = append(replies, r)
	}

	if len(replies) == 0 {
		return nil, ErrNoReplies
	}
	return replies, nil
}

func normalizeOne(raw json.RawMessage) (Reply, error) {
	if isNull(raw) {
		return Reply{}, fmt.Errorf("reply is null")
	}
	var w wireReply
	if err := json.Unmarshal(raw, &w); err != nil {
		return Reply{}, fmt.Errorf("failed to parse reply: %w", err)
	}

	role := RoleAssistant
	if strings.EqualFold(w.Role, string(RoleUser)) {
		role = RoleUser
	}

	return Reply{
		Role:    role,
		Content: firstText(raw, w.Content, w.Message, w.Text),
		Media: Media{
			Audio:            w.Audio,
			LipSync:          w.LipSync,
			FacialExpression: w.FacialExpression,
			Animation:        w.Animation,
		},
	}, nil
}

func firstText(raw json.RawMessage, candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Package avatar manages the avatar's state and animations
package avatar

import (
	"strings"
	"sync"
	"time"

	"github.com/normanking/avatarchat/internal/bus"
	"github.com/normanking/avatarchat/internal/conversation"
)

// EmotionState represents the avatar's emotional state
type EmotionState string

const (
	EmotionNeutral   EmotionState = "neutral"
	EmotionHappy     EmotionState = "happy"
	EmotionSad       EmotionState = "sad"
	EmotionThinking  EmotionState = "thinking"
	EmotionSurprised EmotionState = "surprised"
	EmotionAngry     EmotionState = "angry"
	EmotionCrazy     EmotionState = "crazy"
)

// EmotionFromExpression maps a backend facialExpression to an emotion.
func EmotionFromExpression(expr string) EmotionState {
	switch strings.ToLower(strings.TrimSpace(expr)) {
	case "smile", "happy", "funnyface":
		return EmotionHappy
	case "sad":
		return EmotionSad
	case "surprised":
		return EmotionSurprised
	case "angry":
		return EmotionAngry
	case "crazy":
		return EmotionCrazy
	default:
		return EmotionNeutral
	}
}

// MouthShape for lip-sync (visemes)
type MouthShape string

const (
	MouthClosed MouthShape = "closed" // Rest, silence
	MouthAh     MouthShape = "ah"     // Open vowels
	MouthOh     MouthShape = "oh"     // Rounded vowels
	MouthEe     MouthShape = "ee"     // Spread vowels
	MouthIH     MouthShape = "ih"     // Short spread vowels
	MouthOO     MouthShape = "oo"     // Tight round
	MouthFV     MouthShape = "fv"     // Labiodental: F, V
	MouthTH     MouthShape = "th"     // Dental: TH
	MouthMBP    MouthShape = "mbp"    // Bilabial: M, B, P
	MouthLNT    MouthShape = "lnt"    // Alveolar: L, N, T, D
	MouthCH     MouthShape = "ch"     // CH, J, SH
	MouthK      MouthShape = "k"      // Velars: K, G
	MouthWQ     MouthShape = "wq"     // Rounded consonants
)

// EyeState represents eye animation state
type EyeState string

const (
	EyeOpen   EyeState = "open"
	EyeClosed EyeState = "closed"
)

// State represents the avatar's current state
type State struct {
	Emotion      EmotionState `json:"emotion"`
	MouthShape   MouthShape   `json:"mouthShape"`
	EyeState     EyeState     `json:"eyeState"`
	Animation    string       `json:"animation,omitempty"`
	Sequence     int64        `json:"sequence,omitempty"` // reply being spoken
	IsSpeaking   bool         `json:"isSpeaking"`
	IsListening  bool         `json:"isListening"`
	IsThinking   bool         `json:"isThinking"`
	CameraZoomed bool         `json:"cameraZoomed"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithBlinkInterval sets how often the idle avatar blinks.
func WithBlinkInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.blinkInterval = d
		}
	}
}

// WithCameraZoomed sets the initial camera framing.
func WithCameraZoomed(zoomed bool) Option {
	return func(c *Controller) { c.state.CameraZoomed = zoomed }
}

// WithEventBus publishes avatar state changes.
func WithEventBus(b *bus.EventBus) Option {
	return func(c *Controller) { c.bus = b }
}

// Controller manages avatar state transitions
type Controller struct {
	state         State
	mu            sync.RWMutex
	blinkInterval time.Duration
	bus           *bus.EventBus

	onStateChange func(State)

	// Animation timers
	blinkTicker *time.Ticker
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewController creates a new avatar controller
func NewController(opts ...Option) *Controller {
	c := &Controller{
		state: State{
			Emotion:      EmotionNeutral,
			MouthShape:   MouthClosed,
			EyeState:     EyeOpen,
			CameraZoomed: true,
		},
		blinkInterval: 4 * time.Second,
		stopChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetStateHandler sets the callback for state changes
func (c *Controller) SetStateHandler(handler func(State)) {
	c.mu.Lock()
	c.onStateChange = handler
	c.mu.Unlock()
}

// Start begins animation loops
func (c *Controller) Start() {
	c.blinkTicker = time.NewTicker(c.blinkInterval)

	go func() {
		for {
			select {
			case <-c.stopChan:
				return
			case <-c.blinkTicker.C:
				c.blink()
			}
		}
	}()
}

// Stop halts all animation loops
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		if c.blinkTicker != nil {
			c.blinkTicker.Stop()
		}
	})
}

// GetState returns the current state
func (c *Controller) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// update applies fn under the lock and notifies when something changed.
func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	before := c.state
	fn(&c.state)
	state := c.state
	c.mu.Unlock()

	if state != before {
		c.notifyStateChange(before, state)
	}
}

// SetEmotion transitions to a new emotional state
func (c *Controller) SetEmotion(emotion EmotionState) {
	c.update(func(s *State) { s.Emotion = emotion })
}

// SetMouthShape sets the current mouth shape
func (c *Controller) SetMouthShape(shape MouthShape) {
	c.update(func(s *State) { s.MouthShape = shape })
}

// StartSpeaking marks the avatar as speaking reply seq.
func (c *Controller) StartSpeaking(seq int64, animation string) {
	c.update(func(s *State) {
		s.IsSpeaking = true
		s.IsListening = false
		s.IsThinking = false
		s.Sequence = seq
		s.Animation = animation
	})
}

// StopSpeaking ends speaking animation
func (c *Controller) StopSpeaking() {
	c.update(func(s *State) {
		s.IsSpeaking = false
		s.MouthShape = MouthClosed
		s.Sequence = 0
		s.Animation = ""
		s.Emotion = EmotionNeutral
	})
}

// StartListening begins listening animation
func (c *Controller) StartListening() {
	c.update(func(s *State) {
		s.IsListening = true
		s.IsThinking = false
	})
}

// StopListening ends listening animation
func (c *Controller) StopListening() {
	c.update(func(s *State) { s.IsListening = false })
}

// SetThinking shows or hides the thinking pose. The conversation store
// drives it from its pending flag.
func (c *Controller) SetThinking(thinking bool) {
	c.update(func(s *State) {
		s.IsThinking = thinking
		if thinking {
			if !s.IsSpeaking {
				s.Emotion = EmotionThinking
			}
			return
		}
		if s.Emotion == EmotionThinking {
			s.Emotion = EmotionNeutral
		}
	})
}

// SetCameraZoomed sets the camera framing.
func (c *Controller) SetCameraZoomed(zoomed bool) {
	c.update(func(s *State) { s.CameraZoomed = zoomed })
}

// ToggleCamera flips between the close-up and the wide shot and returns
// the new framing.
func (c *Controller) ToggleCamera() bool {
	var zoomed bool
	c.update(func(s *State) {
		s.CameraZoomed = !s.CameraZoomed
		zoomed = s.CameraZoomed
	})
	return zoomed
}

// SetIdle returns to the resting pose. Listening is left alone since the
// microphone is independent of the conversation.
func (c *Controller) SetIdle() {
	c.update(func(s *State) {
		s.IsSpeaking = false
		s.IsThinking = false
		s.Emotion = EmotionNeutral
		s.MouthShape = MouthClosed
		s.Sequence = 0
		s.Animation = ""
	})
}

// Follow returns a conversation listener that mirrors the store onto the
// controller: thinking while an exchange is pending, and the resting pose
// once the conversation goes idle. Snapshots older than the last one seen
// are dropped.
func (c *Controller) Follow() func(conversation.State) {
	var mu sync.Mutex
	var lastVersion uint64
	lastPhase := conversation.PhaseIdle

	return func(st conversation.State) {
		mu.Lock()
		defer mu.Unlock()
		if st.Version <= lastVersion {
			return
		}
		lastVersion = st.Version

		if st.Phase == conversation.PhaseIdle && lastPhase != conversation.PhaseIdle {
			c.SetIdle()
		} else {
			c.SetThinking(st.Pending)
		}
		lastPhase = st.Phase
	}
}

// blink performs a blink animation
func (c *Controller) blink() {
	c.mu.RLock()
	speaking := c.state.IsSpeaking
	c.mu.RUnlock()
	// Don't blink while speaking
	if speaking {
		return
	}

	c.update(func(s *State) { s.EyeState = EyeClosed })

	// Open eyes after blink duration
	time.AfterFunc(150*time.Millisecond, func() {
		c.update(func(s *State) { s.EyeState = EyeOpen })
	})
}

// notifyStateChange sends state update to handler
func (c *Controller) notifyStateChange(before, state State) {
	c.mu.RLock()
	handler := c.onStateChange
	c.mu.RUnlock()

	if handler != nil {
		handler(state)
	}

	if c.bus == nil {
		return
	}
	if before.MouthShape != state.MouthShape {
		c.bus.Publish(bus.Event{Type: bus.EventTypeMouthShapeChanged, Data: map[string]any{"shape": string(state.MouthShape)}})
	}
	if before.CameraZoomed != state.CameraZoomed {
		c.bus.Publish(bus.Event{Type: bus.EventTypeCameraToggled, Data: map[string]any{"zoomed": state.CameraZoomed}})
	}
	c.bus.Publish(bus.Event{Type: bus.EventTypeAvatarStateChanged, Data: map[string]any{"state": state}})
}

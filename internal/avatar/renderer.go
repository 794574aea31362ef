package avatar

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/conversation"
	"github.com/normanking/avatarchat/internal/playback"
)

// Renderer drives the controller through one reply: facial expression,
// speaking flag and the mouth shapes of its lip-sync timeline. It returns
// when the timeline has run out.
type Renderer struct {
	ctrl        *Controller
	charsPerSec float64
	logger      zerolog.Logger
}

// NewRenderer creates a renderer for ctrl. charsPerSec sets the speaking
// rate used when a reply carries no mouth cues.
func NewRenderer(ctrl *Controller, charsPerSec float64, logger zerolog.Logger) *Renderer {
	return &Renderer{
		ctrl:        ctrl,
		charsPerSec: charsPerSec,
		logger:      logger.With().Str("component", "avatar-renderer").Logger(),
	}
}

// TimelineFor picks the reply's own mouth cues when present and falls back
// to a text estimate.
func (r *Renderer) TimelineFor(msg conversation.Message) Timeline {
	if ls := msg.Media.LipSync; ls != nil && len(ls.MouthCues) > 0 {
		return TimelineFromMouthCues(ls.MouthCues)
	}
	return TimelineFromText(msg.Content, r.charsPerSec)
}

// Play implements playback.Renderer.
func (r *Renderer) Play(ctx context.Context, msg conversation.Message) error {
	tl := r.TimelineFor(msg)
	if tl.Empty() {
		return playback.ErrNothingToPlay
	}

	r.logger.Debug().
		Int64("seq", msg.Sequence).
		Int("cues", len(tl.Cues)).
		Dur("duration", tl.Duration).
		Msg("Speaking reply")

	r.ctrl.SetEmotion(EmotionFromExpression(msg.Media.FacialExpression))
	r.ctrl.StartSpeaking(msg.Sequence, msg.Media.Animation)
	defer r.ctrl.StopSpeaking()

	start := time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for i := 0; i <= len(tl.Cues); i++ {
		at := tl.Duration
		if i < len(tl.Cues) {
			at = tl.Cues[i].Start
		}
		if wait := at - time.Since(start); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if i < len(tl.Cues) {
			r.ctrl.SetMouthShape(tl.Cues[i].Shape)
		}
	}
	return nil
}

package avatar

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/normanking/avatarchat/internal/backend"
)

// Cue holds one mouth shape from Start until the next cue.
type Cue struct {
	Start time.Duration `json:"start"`
	Shape MouthShape    `json:"shape"`
}

// Timeline is a lip-sync animation for one reply.
type Timeline struct {
	Cues     []Cue         `json:"cues"`
	Duration time.Duration `json:"duration"`
}

// Empty reports whether there is nothing to animate.
func (t Timeline) Empty() bool {
	return len(t.Cues) == 0 || t.Duration <= 0
}

// rhubarbShapes maps Rhubarb mouth cue letters to mouth shapes.
var rhubarbShapes = map[string]MouthShape{
	"A": MouthMBP, // closed: P, B, M
	"B": MouthEe,  // clenched teeth: K, S, T, EE
	"C": MouthIH,  // open: EH, AE
	"D": MouthAh,  // wide open: AA
	"E": MouthOh,  // rounded: AO, ER
	"F": MouthOO,  // puckered: UW, OW, W
	"G": MouthFV,  // teeth on lip: F, V
	"H": MouthLNT, // tongue raised: L
	"X": MouthClosed,
}

// TimelineFromMouthCues converts the backend's lip-sync track. Cue times
// are seconds.
func TimelineFromMouthCues(cues []backend.MouthCue) Timeline {
	if len(cues) == 0 {
		return Timeline{}
	}

	t := Timeline{Cues: make([]Cue, 0, len(cues)+1)}
	var end float64
	for _, mc := range cues {
		shape, ok := rhubarbShapes[strings.ToUpper(mc.Value)]
		if !ok {
			shape = MouthClosed
		}
		t.Cues = append(t.Cues, Cue{Start: seconds(mc.Start), Shape: shape})
		if mc.End > end {
			end = mc.End
		}
	}

	t.Duration = seconds(end)
	t.Cues = append(t.Cues, Cue{Start: t.Duration, Shape: MouthClosed})
	return t
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// letterShapes maps letters and digraphs to the closest mouth shape.
var letterShapes = map[string]MouthShape{
	"p": MouthMBP, "b": MouthMBP, "m": MouthMBP,
	"f": MouthFV, "v": MouthFV,
	"th": MouthTH,
	"t": MouthLNT, "d": MouthLNT, "n": MouthLNT, "l": MouthLNT, "s": MouthLNT, "z": MouthLNT,
	"k": MouthK, "g": MouthK, "c": MouthK, "q": MouthK, "x": MouthK,
	"ch": MouthCH, "sh": MouthCH, "j": MouthCH,
	"r": MouthWQ, "w": MouthWQ,
	"a": MouthAh, "h": MouthAh,
	"e": MouthIH,
	"i": MouthEe, "y": MouthEe,
	"o": MouthOh,
	"u": MouthOO,
}

// TimelineFromText approximates lip-sync from raw text when the backend
// sent no mouth cues. charsPerSec scales the result; 0 keeps the natural
// per-letter timing.
func TimelineFromText(text string, charsPerSec float64) Timeline {
	clean := strings.ToLower(strings.TrimSpace(text))
	if clean == "" {
		return Timeline{}
	}

	const (
		lead        = 50 * time.Millisecond
		wordPause   = 80 * time.Millisecond
		clausePause = 100 * time.Millisecond
		endPause    = 150 * time.Millisecond
	)

	var cues []Cue
	add := func(at time.Duration, shape MouthShape) {
		if n := len(cues); n > 0 && cues[n-1].Shape == shape {
			return
		}
		cues = append(cues, Cue{Start: at, Shape: shape})
	}

	add(0, MouthClosed)
	at := lead
	chars := []byte(clean)
	for i := 0; i < len(chars); i++ {
		ch := chars[i]
		switch ch {
		case ' ', '\n', '\t':
			add(at, MouthClosed)
			at += wordPause
			continue
		case '.', '!', '?':
			add(at, MouthClosed)
			at += endPause
			continue
		case ',', ';', ':':
			add(at, MouthClosed)
			at += clausePause
			continue
		}

		key := string(ch)
		if i < len(chars)-1 {
			if d := string(chars[i : i+2]); d == "th" || d == "ch" || d == "sh" {
				key = d
				i++
			}
		}
		shape, ok := letterShapes[key]
		if !ok {
			continue
		}
		add(at, shape)

		switch {
		case isVowel(ch):
			at += 100 * time.Millisecond
		case ch == 's' || ch == 'z' || ch == 'f' || ch == 'v':
			at += 80 * time.Millisecond
		default:
			at += 60 * time.Millisecond
		}
	}
	add(at, MouthClosed)

	duration := at + lead
	if charsPerSec > 0 {
		target := time.Duration(float64(utf8.RuneCountInString(clean)) / charsPerSec * float64(time.Second))
		if target > 0 && target != duration {
			scale := float64(target) / float64(duration)
			for i := range cues {
				cues[i].Start = time.Duration(float64(cues[i].Start) * scale)
			}
			duration = target
		}
	}

	return Timeline{Cues: cues, Duration: duration}
}

func isVowel(ch byte) bool {
	switch ch {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

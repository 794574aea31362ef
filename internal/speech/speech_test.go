package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_FinalAndInterim(t *testing.T) {
	a := NewAccumulator(nil)

	var updates []string
	a.SetUpdateHandler(func(display string) { updates = append(updates, display) })

	a.Start()
	assert.True(t, a.Listening())

	assert.Equal(t, "hel", a.Add(Result{Text: "hel"}))
	assert.Equal(t, "hello", a.Add(Result{Text: "hello", Final: true}))
	assert.Equal(t, "hello wor", a.Add(Result{Text: " wor"}))
	assert.Equal(t, "hello world", a.Add(Result{Text: " world", Final: true}, Result{Text: ""}))
	assert.Equal(t, []string{"hel", "hello", "hello wor", "hello world"}, updates)

	text, ok := a.End()
	assert.True(t, ok)
	assert.Equal(t, "hello world", text)
	assert.False(t, a.Listening())
}

func TestAccumulator_InterimIsDroppedAtEnd(t *testing.T) {
	a := NewAccumulator(nil)
	a.Start()
	a.Add(Result{Text: "maybe"})
	assert.Equal(t, "maybe", a.Display())

	text, ok := a.End()
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestAccumulator_FreshStartClears(t *testing.T) {
	a := NewAccumulator(nil)
	a.Start()
	a.Add(Result{Text: "first", Final: true})
	a.End()

	a.Start()
	assert.Empty(t, a.Display())
	a.Add(Result{Text: "second", Final: true})

	// Restarting without End keeps what was heard.
	a.Start()
	assert.Equal(t, "second", a.Display())
}

func TestAccumulator_WithFilter(t *testing.T) {
	a := NewAccumulator(NewFilter(nil))
	a.Start()
	a.Add(Result{Text: "um what is uh the price", Final: true})

	text, ok := a.End()
	assert.True(t, ok)
	assert.Equal(t, "what is the price", text)

	a.Start()
	a.Add(Result{Text: "umm... uh", Final: true})
	_, ok = a.End()
	assert.False(t, ok)
}

func TestFilter_Clean(t *testing.T) {
	f := NewFilter([]string{"you know", "um"})

	cleaned, ok := f.Clean("It's, you know, UM fine")
	assert.True(t, ok)
	assert.Equal(t, "It's, , fine", cleaned)

	_, ok = f.Clean("")
	assert.False(t, ok)

	f.SetFillerWords(nil)
	cleaned, _ = f.Clean("um   ok")
	assert.Equal(t, "um ok", cleaned)
}

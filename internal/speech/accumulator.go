// Package speech turns streaming speech recognition results into the text
// that is submitted to the conversation.
package speech

import (
	"strings"
	"sync"
)

// Result is one recognition result. Interim results may still change;
// final ones are kept.
type Result struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Accumulator collects the results of one listening session. Final text
// accumulates across results; interim text is only shown until the next
// result replaces it.
type Accumulator struct {
	mu        sync.Mutex
	final     strings.Builder
	interim   string
	listening bool
	fresh     bool
	filter    *Filter
	onUpdate  func(display string)
}

// NewAccumulator creates an accumulator. filter may be nil.
func NewAccumulator(filter *Filter) *Accumulator {
	return &Accumulator{fresh: true, filter: filter}
}

// SetUpdateHandler sets the callback that receives the text to display
// after every result.
func (a *Accumulator) SetUpdateHandler(fn func(display string)) {
	a.mu.Lock()
	a.onUpdate = fn
	a.mu.Unlock()
}

// Start begins a listening session. The transcript is cleared only when
// the previous session was completed with End.
func (a *Accumulator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.listening = true
	if a.fresh {
		a.final.Reset()
		a.interim = ""
		a.fresh = false
	}
}

// Listening reports whether a session is open.
func (a *Accumulator) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}

// Add records a batch of results and returns the display text: all final
// text so far followed by the latest interim text.
func (a *Accumulator) Add(results ...Result) string {
	a.mu.Lock()
	var interim strings.Builder
	for _, r := range results {
		if r.Final {
			a.final.WriteString(r.Text)
		} else {
			interim.WriteString(r.Text)
		}
	}
	a.interim = interim.String()
	display := a.final.String() + a.interim
	fn := a.onUpdate
	a.mu.Unlock()

	if fn != nil {
		fn(display)
	}
	return display
}

// Display returns the current display text.
func (a *Accumulator) Display() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.final.String() + a.interim
}

// End closes the session and returns the accumulated final text, passed
// through the filter when one is set. Interim text is discarded. ok is
// false when nothing worth submitting remains.
func (a *Accumulator) End() (text string, ok bool) {
	a.mu.Lock()
	a.listening = false
	a.fresh = true
	a.interim = ""
	text = a.final.String()
	filter := a.filter
	a.mu.Unlock()

	if filter != nil {
		return filter.Clean(text)
	}
	return text, strings.TrimSpace(text) != ""
}

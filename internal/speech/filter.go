package speech

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// DefaultFillerWords contains common English filler words to remove from transcripts.
var DefaultFillerWords = []string{
	"um", "uh", "uhh", "umm",
	"er", "ah", "hmm", "mm",
}

var (
	spacePattern = regexp.MustCompile(`\s+`)
	punctPattern = regexp.MustCompile(`^[.,!?;:\s]+$`)
)

// Filter strips filler words from transcripts.
type Filter struct {
	mu          sync.RWMutex
	fillerWords map[string]struct{}
	pattern     *regexp.Regexp
}

// NewFilter creates a filter with the given filler words.
// If fillerWords is nil, DefaultFillerWords is used.
func NewFilter(fillerWords []string) *Filter {
	if fillerWords == nil {
		fillerWords = DefaultFillerWords
	}

	f := &Filter{fillerWords: make(map[string]struct{}, len(fillerWords))}
	for _, word := range fillerWords {
		f.fillerWords[strings.ToLower(word)] = struct{}{}
	}
	f.buildPattern()
	return f
}

func (f *Filter) buildPattern() {
	if len(f.fillerWords) == 0 {
		f.pattern = nil
		return
	}

	words := make([]string, 0, len(f.fillerWords))
	for word := range f.fillerWords {
		words = append(words, word)
	}
	// Longest first so multi-word fillers win over their prefixes.
	sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })

	patterns := make([]string, len(words))
	for i, word := range words {
		patterns[i] = `\b` + regexp.QuoteMeta(word) + `\b`
	}
	f.pattern = regexp.MustCompile(`(?i)(` + strings.Join(patterns, `|`) + `)`)
}

// SetFillerWords replaces the entire filler word list.
func (f *Filter) SetFillerWords(words []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fillerWords = make(map[string]struct{}, len(words))
	for _, word := range words {
		f.fillerWords[strings.ToLower(word)] = struct{}{}
	}
	f.buildPattern()
}

// Clean removes filler words and normalizes whitespace. ok is false when
// nothing meaningful is left.
func (f *Filter) Clean(text string) (cleaned string, ok bool) {
	if text == "" {
		return "", false
	}

	f.mu.RLock()
	pattern := f.pattern
	f.mu.RUnlock()

	cleaned = text
	if pattern != nil {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	if punctPattern.MatchString(cleaned) {
		cleaned = ""
	}
	return cleaned, cleaned != ""
}

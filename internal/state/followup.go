package state

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Followup window defaults. The window opens after speech completes; each
// detected utterance extends it.
const (
	DefaultFollowupTimeout = 3 * time.Second
	DefaultGracePeriod     = 1500 * time.Millisecond
	DefaultMaxChain        = 5
)

// exitPhrases end the followup window when heard alone, or at the start or
// end of a longer sentence.
var exitPhrases = []string{
	"no",
	"nope",
	"nothing",
	"that's all",
	"thats all",
	"stop",
	"cancel",
	"never mind",
	"nevermind",
	"nothing else",
	"all good",
}

// FollowupWindow manages the post-reply listening window: no hotword needed,
// silence or an exit phrase closes it.
type FollowupWindow struct {
	Timeout  time.Duration
	Grace    time.Duration
	MaxChain int

	mu         sync.Mutex
	active     bool
	openedAt   time.Time
	lastSpeech time.Time
	chain      int

	now func() time.Time
}

// NewFollowupWindow builds a window with defaults.
func NewFollowupWindow() *FollowupWindow {
	return &FollowupWindow{
		Timeout:  DefaultFollowupTimeout,
		Grace:    DefaultGracePeriod,
		MaxChain: DefaultMaxChain,
		now:      time.Now,
	}
}

// Open starts a new window. Called when speech output finishes.
func (f *FollowupWindow) Open() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	f.openedAt = f.now()
	f.lastSpeech = f.openedAt
	f.chain = 0
}

// Active reports whether the window is open.
func (f *FollowupWindow) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Extend resets the silence timer. Called on detected speech.
func (f *FollowupWindow) Extend() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.lastSpeech = f.now()
	}
}

// TimedOut closes the window if silence has exceeded the timeout, reporting
// whether it did.
func (f *FollowupWindow) TimedOut() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return false
	}
	if f.now().Sub(f.lastSpeech) >= f.Timeout {
		f.active = false
		return true
	}
	return false
}

// InGrace reports whether the window is still in its grace period, during
// which detected speech is ignored so the assistant doesn't hear its own
// prompt tail.
func (f *FollowupWindow) InGrace() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return false
	}
	return f.now().Sub(f.openedAt) < f.Grace
}

// Close ends the window explicitly.
func (f *FollowupWindow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.chain = 0
}

// Chain increments the follow-up chain, closing the window when the depth
// limit is hit. Reports whether another follow-up is allowed.
func (f *FollowupWindow) Chain() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chain++
	if f.chain > f.MaxChain {
		f.active = false
		return false
	}
	return true
}

// Remaining returns the time left before silence closes the window.
func (f *FollowupWindow) Remaining() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return 0
	}
	left := f.Timeout - f.now().Sub(f.lastSpeech)
	if left < 0 {
		return 0
	}
	return left
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9\s]`)
var multiSpaceRe = regexp.MustCompile(`\s+`)

func normalizePhrase(text string) string {
	t := strings.ToLower(text)
	t = nonAlnumRe.ReplaceAllString(t, "")
	t = multiSpaceRe.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// IsExitPhrase reports whether text ends the followup window: an exact exit
// phrase, or one leading or trailing a longer sentence.
func IsExitPhrase(text string) bool {
	normalized := normalizePhrase(text)
	if normalized == "" {
		return false
	}
	words := strings.Fields(normalized)

	for _, phrase := range exitPhrases {
		pw := strings.Fields(normalizePhrase(phrase))
		if len(pw) == 0 || len(words) < len(pw) {
			continue
		}
		if normalized == strings.Join(pw, " ") {
			return true
		}
		if equalFields(words[:len(pw)], pw) || equalFields(words[len(words)-len(pw):], pw) {
			return true
		}
	}
	return false
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

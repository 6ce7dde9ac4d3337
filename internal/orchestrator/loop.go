package orchestrator

import (
	"crypto/sha256"
	"strings"
	"unicode"
)

const (
	loopWindow    = 10
	loopMinLength = 8
	// rephraseAt is the repeat count at which the reply gets a rephrase lead-in.
	rephraseAt   = 2
	rephraseLead = "Let me try explaining differently: "
)

// loopDetector counts how often the customer repeats the same question
// within the last loopWindow messages.
type loopDetector struct {
	window int
	recent [][sha256.Size]byte
}

func newLoopDetector() *loopDetector {
	return &loopDetector{window: loopWindow}
}

// Observe records the message and returns how many times it has now been
// asked, including this time. Short messages ("ok", "yes") always count once.
func (d *loopDetector) Observe(message string) int {
	norm := normalize(message)
	if len([]rune(norm)) < loopMinLength {
		return 1
	}
	sum := sha256.Sum256([]byte(norm))

	count := 1
	for _, h := range d.recent {
		if h == sum {
			count++
		}
	}
	d.recent = append(d.recent, sum)
	if len(d.recent) > d.window {
		d.recent = d.recent[len(d.recent)-d.window:]
	}
	return count
}

func (d *loopDetector) Reset() {
	d.recent = nil
}

// normalize lowercases and keeps only letters and digits, single-spaced.
func normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

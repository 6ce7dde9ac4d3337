package conversation

import "github.com/stellarlinkco/cxagent/internal/emotion"

const DefaultEmotionWindow = 10

// EmotionHistory keeps the most recent emotion labels, oldest first.
type EmotionHistory struct {
	labels []emotion.Label
	limit  int
}

func NewEmotionHistory(limit int) *EmotionHistory {
	if limit <= 0 {
		limit = DefaultEmotionWindow
	}
	return &EmotionHistory{limit: limit}
}

func (h *EmotionHistory) Add(label emotion.Label) {
	h.labels = append(h.labels, label)
	if over := len(h.labels) - h.limit; over > 0 {
		h.labels = append(h.labels[:0:0], h.labels[over:]...)
	}
}

func (h *EmotionHistory) Labels() []emotion.Label {
	out := make([]emotion.Label, len(h.labels))
	copy(out, h.labels)
	return out
}

func (h *EmotionHistory) Len() int { return len(h.labels) }

func (h *EmotionHistory) Clear() { h.labels = nil }

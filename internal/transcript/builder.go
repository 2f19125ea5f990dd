package transcript

import (
	"strings"
	"sync"
)

// Builder accumulates streamed fragments in arrival order. Fragments are
// concatenated as received; providers own inter-fragment spacing.
type Builder struct {
	mu    sync.Mutex
	parts []string
	size  int
}

func (b *Builder) Add(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parts = append(b.parts, text)
	b.size += len(text)
}

// Len reports the number of fragments received.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.parts)
}

func (b *Builder) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	sb.Grow(b.size)
	for _, part := range b.parts {
		sb.WriteString(part)
	}
	return sb.String()
}

// Text is the accumulated transcript without surrounding whitespace.
func (b *Builder) Text() string {
	return strings.TrimSpace(b.String())
}

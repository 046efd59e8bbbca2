package tools

import (
	"sync"

	"github.com/54b3r/courserag-go/internal/course"
)

// sourceBox holds citations until they are read once.
type sourceBox struct {
	mu      sync.Mutex
	sources []course.Source
}

func (b *sourceBox) put(src ...course.Source) {
	b.mu.Lock()
	b.sources = append(b.sources, src...)
	b.mu.Unlock()
}

func (b *sourceBox) take() []course.Source {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.sources
	b.sources = nil
	return out
}

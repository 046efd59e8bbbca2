// Package chunker splits course text into bounded, overlapping chunks that
// end on sentence boundaries.
package chunker

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/54b3r/courserag-go/internal/course"
)

const (
	// DefaultChunkSize is the character budget of one chunk body.
	DefaultChunkSize = 800
	// DefaultOverlap is the number of trailing characters of a chunk that
	// seed the next one.
	DefaultOverlap = 100
)

// Chunker cuts courses into chunks. It holds no state between calls and is
// safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the character budget. Non-positive values are ignored.
func WithChunkSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithOverlap sets the overlap seed length. Negative values are ignored.
func WithOverlap(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlap = n
		}
	}
}

// New returns a Chunker with the given options applied over the defaults.
// An overlap that does not fit inside the chunk size is clamped to a quarter
// of it.
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the configured character budget.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap seed length.
func (c *Chunker) Overlap() int { return c.overlap }

type piece struct {
	body     string
	lesson   *course.Lesson
	isFirst  bool
	prefixed bool
}

// Chunk splits every lesson of src into chunks, in lesson order. The first
// chunk of each lesson carries a "Lesson <n>: <title>" prefix and the final
// chunk of the course additionally carries a "Course <title>" prefix. A
// course with no lessons is chunked from its Body with a nil lesson number.
func (c *Chunker) Chunk(src *course.Course) []course.Chunk {
	var pieces []piece
	if len(src.Lessons) == 0 {
		for _, b := range c.Split(src.Body) {
			pieces = append(pieces, piece{body: b})
		}
	}
	for i := range src.Lessons {
		l := &src.Lessons[i]
		for j, b := range c.Split(l.Content) {
			pieces = append(pieces, piece{body: b, lesson: l, isFirst: j == 0})
		}
	}

	out := make([]course.Chunk, 0, len(pieces))
	for i, p := range pieces {
		text := p.body
		if p.lesson != nil && (p.isFirst || i == len(pieces)-1) {
			text = lessonPrefix(p.lesson) + text
		}
		if i == len(pieces)-1 {
			text = fmt.Sprintf("Course %s\n", src.Title) + text
		}
		ch := course.Chunk{Content: text, CourseTitle: src.Title, Index: i}
		if p.lesson != nil {
			ch.LessonNumber = course.IntPtr(p.lesson.Number)
		}
		out = append(out, ch)
	}
	return out
}

func lessonPrefix(l *course.Lesson) string {
	if l.Title == "" {
		return fmt.Sprintf("Lesson %d\n", l.Number)
	}
	return fmt.Sprintf("Lesson %d: %s\n", l.Number, l.Title)
}

// Split cuts text into chunk bodies without any context prefix. Each body
// ends on a sentence boundary. Every body after the first begins with the
// trailing overlap characters of its predecessor.
func (c *Chunker) Split(text string) []string {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var (
		out []string
		cur = sentences[0]
	)
	for _, s := range sentences[1:] {
		if runeLen(cur)+1+runeLen(s) <= c.size {
			cur += " " + s
			continue
		}
		out = append(out, cur)
		if seed := tail(cur, c.overlap); seed != "" {
			cur = seed + " " + s
		} else {
			cur = s
		}
	}
	return append(out, cur)
}

// Sentences splits text at '.', '!' or '?' followed by whitespace or the end
// of input. Runs of whitespace inside a sentence collapse to one space.
func Sentences(text string) []string {
	runes := []rune(text)
	var (
		out   []string
		start int
	)
	emit := func(end int) {
		if s := strings.Join(strings.Fields(string(runes[start:end])), " "); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			emit(i + 1)
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return out
}

func runeLen(s string) int { return len([]rune(s)) }

func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

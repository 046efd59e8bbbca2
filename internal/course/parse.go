package course

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrEmptyDocument is returned when a document has no usable title.
	ErrEmptyDocument = errors.New("course: empty document")
	// ErrDuplicateLesson is returned when two lessons share a number.
	ErrDuplicateLesson = errors.New("course: duplicate lesson number")
)

var (
	lessonHeader = regexp.MustCompile(`^Lesson\s+(\d+):\s*(.*)$`)
	headerField  = regexp.MustCompile(`^Course (Title|Link|Instructor):\s*(.*)$`)
)

const lessonLinkPrefix = "Lesson Link:"

// Parse reads a course document.
//
// The expected layout is a header block
//
//	Course Title: <title>
//	Course Link: <url>
//	Course Instructor: <name>
//
// followed by lessons introduced by "Lesson <n>: <title>" lines, each
// optionally followed by a "Lesson Link: <url>" line. A document without a
// "Course Title:" line takes its first non-blank line as the title. Lesson
// numbers must be unique within the document. Text
// that appears before the first lesson marker becomes Body only when the
// document has no lessons at all.
func Parse(r io.Reader) (*Course, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	c := &Course{}
	var (
		body     []string
		current  *Lesson
		lessonTx []string
		first    string
		seen     = make(map[int]bool)
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(lessonTx, "\n"))
		c.Lessons = append(c.Lessons, *current)
		current, lessonTx = nil, nil
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if first == "" && trimmed != "" {
			first = trimmed
		}

		if current == nil {
			if m := headerField.FindStringSubmatch(trimmed); m != nil {
				switch m[1] {
				case "Title":
					c.Title = strings.TrimSpace(m[2])
				case "Link":
					c.Link = strings.TrimSpace(m[2])
				case "Instructor":
					c.Instructor = strings.TrimSpace(m[2])
				}
				continue
			}
		}

		if m := lessonHeader.FindStringSubmatch(trimmed); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("course: parse lesson number %q: %w", m[1], err)
			}
			if seen[n] {
				return nil, fmt.Errorf("%w: lesson %d", ErrDuplicateLesson, n)
			}
			seen[n] = true
			flush()
			current = &Lesson{Number: n, Title: strings.TrimSpace(m[2])}
			continue
		}

		if current != nil {
			if len(lessonTx) == 0 && strings.HasPrefix(trimmed, lessonLinkPrefix) {
				current.Link = strings.TrimSpace(strings.TrimPrefix(trimmed, lessonLinkPrefix))
				continue
			}
			lessonTx = append(lessonTx, line)
			continue
		}
		body = append(body, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("course: read document: %w", err)
	}
	flush()

	if c.Title == "" {
		c.Title = first
		if len(body) > 0 && strings.TrimSpace(body[0]) == first {
			body = body[1:]
		}
	}
	if c.Title == "" {
		return nil, ErrEmptyDocument
	}
	if len(c.Lessons) == 0 {
		c.Body = strings.TrimSpace(strings.Join(body, "\n"))
	}
	return c, nil
}

// ParseFile opens and parses the course document at path.
func ParseFile(path string) (*Course, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("course: open %s: %w", path, err)
	}
	defer f.Close()

	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("course: %s: %w", path, err)
	}
	return c, nil
}

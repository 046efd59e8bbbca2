// Package course defines the corpus types shared by ingestion, indexing and
// retrieval: a Course with ordered Lessons, the Chunks cut from it, and the
// Source citations attached to answers.
package course

import (
	"fmt"
	"time"
)

// Lesson is one numbered section of a course.
type Lesson struct {
	// Number is unique within a course but not necessarily contiguous.
	Number int `json:"number"`
	// Title is the lesson heading.
	Title string `json:"title"`
	// Link is an optional URL for the lesson.
	Link string `json:"link,omitempty"`
	// Content is the raw lesson text. It is not persisted in the catalog.
	Content string `json:"-"`
}

// Course is a single corpus item. Title is the primary key and is
// case-sensitive. A Course is never mutated once ingested.
type Course struct {
	Title      string   `json:"title"`
	Link       string   `json:"link,omitempty"`
	Instructor string   `json:"instructor,omitempty"`
	Lessons    []Lesson `json:"lessons,omitempty"`
	// Body holds the text of a document that has no lesson markers.
	Body string `json:"-"`
}

// Lesson returns the lesson with the given number.
func (c *Course) Lesson(number int) (Lesson, bool) {
	for _, l := range c.Lessons {
		if l.Number == number {
			return l, true
		}
	}
	return Lesson{}, false
}

// Chunk is a bounded, overlapping slice of course text tagged with its
// owning course and lesson.
type Chunk struct {
	Content     string
	CourseTitle string
	// LessonNumber is nil when the course has no lessons.
	LessonNumber *int
	// Index is the position of the chunk within its course.
	Index int
}

// Source is a citation for one retrieved passage.
type Source struct {
	CourseTitle  string
	LessonNumber *int
	// Link points at the lesson, or at the course when the lesson has none.
	Link string
}

// Label renders the citation as shown to users.
func (s Source) Label() string {
	if s.LessonNumber == nil {
		return s.CourseTitle
	}
	return fmt.Sprintf("%s - Lesson %d", s.CourseTitle, *s.LessonNumber)
}

// Exchange is one answered query within a session.
type Exchange struct {
	Query     string
	Response  string
	CreatedAt time.Time
}

// Stats summarises the catalog.
type Stats struct {
	CourseCount  int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

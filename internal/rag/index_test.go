package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode"

	"github.com/54b3r/courserag-go/internal/course"
)

// bagEmbedder hashes lower-cased words into a fixed-size count vector so
// texts sharing words are close.
type bagEmbedder struct{}

func (bagEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 64)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool { return !unicode.IsLetter(r) }) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%64]++
		}
		out[i] = v
	}
	return out, nil
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, f.err }

type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(Config{Embedder: bagEmbedder{}, Store: NewMemoryStore()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return idx
}

func chunk(title string, lesson *int, i int, text string) course.Chunk {
	return course.Chunk{Content: text, CourseTitle: title, LessonNumber: lesson, Index: i}
}

func seed(t *testing.T, idx *Index) {
	t.Helper()
	ctx := context.Background()
	widgets := &course.Course{Title: "Intro to Widgets", Link: "https://example.com/w",
		Lessons: []course.Lesson{{Number: 1, Title: "Basics"}, {Number: 2, Title: "Gears"}}}
	gardens := &course.Course{Title: "Gardening Basics"}

	for _, e := range []Entry{
		{widgets, []course.Chunk{
			chunk(widgets.Title, course.IntPtr(1), 0, "widgets are small parts"),
			chunk(widgets.Title, course.IntPtr(2), 1, "widgets use gears and springs"),
		}},
		{gardens, []course.Chunk{
			chunk(gardens.Title, nil, 0, "water the plants and prune the widgets of the garden"),
		}},
	} {
		added, err := idx.Ingest(ctx, e.Course, e.Chunks)
		if err != nil || !added {
			t.Fatalf("Ingest(%q) = %v, %v", e.Course.Title, added, err)
		}
	}
}

func Test_Index_SearchOrderedByDistance(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	seed(t, idx)

	res, err := idx.SearchContent(context.Background(), "widgets gears", Filter{}, 10)
	if err != nil {
		t.Fatalf("SearchContent: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("results = %d, want 3", len(res))
	}
	for i := 1; i < len(res); i++ {
		if res[i-1].Distance > res[i].Distance {
			t.Errorf("results not ordered by distance: %v > %v", res[i-1].Distance, res[i].Distance)
		}
	}
	if res[0].Content != "widgets use gears and springs" {
		t.Errorf("best hit = %q", res[0].Content)
	}
	if res[0].LessonNumber == nil || *res[0].LessonNumber != 2 {
		t.Errorf("best hit lesson = %v, want 2", res[0].LessonNumber)
	}
}

func Test_Index_FiltersCombineWithAnd(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"none", Filter{}, 3},
		{"course only", Filter{CourseTitle: "Intro to Widgets"}, 2},
		{"lesson only", Filter{LessonNumber: course.IntPtr(1)}, 1},
		{"course and lesson", Filter{CourseTitle: "Intro to Widgets", LessonNumber: course.IntPtr(2)}, 1},
		{"course and foreign lesson", Filter{CourseTitle: "Gardening Basics", LessonNumber: course.IntPtr(2)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := idx.SearchContent(ctx, "widgets", tt.filter, 10)
			if err != nil {
				t.Fatalf("SearchContent: %v", err)
			}
			if len(res) != tt.want {
				t.Fatalf("results = %d, want %d", len(res), tt.want)
			}
			for _, r := range res {
				if tt.filter.CourseTitle != "" && r.CourseTitle != tt.filter.CourseTitle {
					t.Errorf("result from %q leaked through course filter", r.CourseTitle)
				}
				if tt.filter.LessonNumber != nil && (r.LessonNumber == nil || *r.LessonNumber != *tt.filter.LessonNumber) {
					t.Errorf("result lesson %v leaked through lesson filter", r.LessonNumber)
				}
			}
		})
	}
}

func Test_Index_DuplicateTitleSkipped(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()

	added, err := idx.Ingest(ctx, &course.Course{Title: "Intro to Widgets"},
		[]course.Chunk{chunk("Intro to Widgets", nil, 0, "duplicate body")})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if added {
		t.Fatal("duplicate title was ingested")
	}
	n, _ := idx.store.Count(ctx, CollectionContent)
	if n != 3 {
		t.Errorf("content count = %d, want 3", n)
	}
	if ok, _ := idx.AddCourse(ctx, &course.Course{Title: "Intro to Widgets"}); ok {
		t.Error("AddCourse accepted a duplicate title")
	}
}

func Test_Index_ResolveCourse(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	ctx := context.Background()

	if _, ok, err := idx.ResolveCourse(ctx, "widgets"); err != nil || ok {
		t.Fatalf("empty catalog: ok=%v err=%v", ok, err)
	}

	seed(t, idx)
	m, ok, err := idx.ResolveCourse(ctx, "widgets intro")
	if err != nil || !ok {
		t.Fatalf("ResolveCourse: ok=%v err=%v", ok, err)
	}
	if m.Title != "Intro to Widgets" {
		t.Errorf("Title = %q", m.Title)
	}

	// An unrelated name still resolves to the closest course.
	if _, ok, _ := idx.ResolveCourse(ctx, "quantum chromodynamics"); !ok {
		t.Error("unrelated name did not resolve")
	}
}

func Test_Resolver_Threshold(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()

	strict := NewResolver(idx, 0.3)
	if title, ok, err := strict.Resolve(ctx, "Intro to Widgets"); err != nil || !ok || title != "Intro to Widgets" {
		t.Errorf("exact name: %q %v %v", title, ok, err)
	}
	if _, ok, err := strict.Resolve(ctx, "quantum chromodynamics"); err != nil || ok {
		t.Errorf("unrelated name under threshold: ok=%v err=%v", ok, err)
	}

	loose := NewResolver(idx, 0)
	if _, ok, _ := loose.Resolve(ctx, "quantum chromodynamics"); !ok {
		t.Error("disabled threshold should always resolve")
	}
}

func Test_Index_UnavailableIsDistinct(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	broken, _ := New(Config{Embedder: failingEmbedder{errors.New("connection refused")}, Store: NewMemoryStore()})
	_, err := broken.SearchContent(ctx, "anything", Filter{}, 5)
	if !errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("err = %v, want ErrIndexUnavailable", err)
	}

	slow, _ := New(Config{Embedder: blockingEmbedder{}, Store: NewMemoryStore(), Timeout: 10 * time.Millisecond})
	_, err = slow.SearchContent(ctx, "anything", Filter{}, 5)
	if !errors.Is(err, ErrIndexUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout err = %v", err)
	}

	empty := newTestIndex(t)
	res, err := empty.SearchContent(ctx, "anything", Filter{}, 5)
	if err != nil || len(res) != 0 {
		t.Fatalf("empty index: res=%v err=%v", res, err)
	}
}

func Test_Index_RebuildReplacesEverything(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()

	only := &course.Course{Title: "Only Course"}
	added, err := idx.Rebuild(ctx, []Entry{
		{only, []course.Chunk{chunk(only.Title, nil, 0, "only text")}},
		{only, []course.Chunk{chunk(only.Title, nil, 0, "second copy")}},
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if added != 1 {
		t.Errorf("added = %d, want 1", added)
	}
	stats, err := idx.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.CourseCount != 1 || stats.CourseTitles[0] != "Only Course" {
		t.Errorf("stats = %+v", stats)
	}
}

func Test_Index_CourseHeader(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()

	c, err := idx.Course(ctx, "Intro to Widgets")
	if err != nil {
		t.Fatalf("Course: %v", err)
	}
	if c.Link != "https://example.com/w" || len(c.Lessons) != 2 {
		t.Errorf("course = %+v", c)
	}
	if _, err := idx.Course(ctx, "Missing"); !errors.Is(err, ErrCourseNotFound) {
		t.Errorf("err = %v, want ErrCourseNotFound", err)
	}

	stats, _ := idx.Stats(ctx)
	want := []string{"Gardening Basics", "Intro to Widgets"}
	if strings.Join(stats.CourseTitles, ",") != strings.Join(want, ",") {
		t.Errorf("titles = %v, want %v", stats.CourseTitles, want)
	}
}

func Test_Index_ConcurrentSearchDuringIngest(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	seed(t, idx)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := idx.SearchContent(ctx, "widgets", Filter{}, 3); err != nil {
				t.Errorf("SearchContent: %v", err)
			}
		}()
		go func(i int) {
			defer wg.Done()
			c := &course.Course{Title: "Course " + string(rune('A'+i))}
			if _, err := idx.Ingest(ctx, c, []course.Chunk{chunk(c.Title, nil, 0, "text")}); err != nil {
				t.Errorf("Ingest: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, _ := idx.store.Count(ctx, CollectionCatalog)
	if n != 10 {
		t.Errorf("catalog count = %d, want 10", n)
	}
}

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := CosineSimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/courserag-go/internal/agent"
	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/session"
)

// fakeGenerator answers with a fixed reply and records requests.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []*agent.Request

	answer *agent.Answer
	err    error
	// during runs inside Generate before it returns.
	during func(ctx context.Context, req *agent.Request)
}

func (g *fakeGenerator) Generate(ctx context.Context, req *agent.Request) (*agent.Answer, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.during != nil {
		g.during(ctx, req)
	}
	if g.err != nil {
		return nil, g.err
	}
	if g.answer != nil {
		return g.answer, nil
	}
	return &agent.Answer{Text: "answer"}, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// fakeToolset hands out fixed contracts and sources.
type fakeToolset struct {
	sources []course.Source
	taken   bool
}

func (f *fakeToolset) Execute(context.Context, string, string) (string, error) { return "", nil }

func (f *fakeToolset) Contracts(context.Context) ([]*schema.ToolInfo, error) {
	return []*schema.ToolInfo{{Name: "search_course_content"}}, nil
}

func (f *fakeToolset) TakeSources() []course.Source {
	if f.taken {
		return nil
	}
	f.taken = true
	return f.sources
}

type fakeStats struct {
	st  course.Stats
	err error
}

func (f fakeStats) Stats(context.Context) (course.Stats, error) { return f.st, f.err }

func newAssistant(t *testing.T, gen Generator, tools func() Toolset) (*Assistant, *session.Store) {
	t.Helper()
	sessions := session.New(2)
	a, err := New(&Config{Generator: gen, Sessions: sessions, Tools: tools, MaxQueryLength: 50})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, sessions
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New(&Config{Sessions: session.New(2)}); err == nil {
		t.Error("expected error without Generator")
	}
	if _, err := New(&Config{Generator: &fakeGenerator{}}); err == nil {
		t.Error("expected error without Sessions")
	}
}

func TestHandle_AnswersAndAppends(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: &agent.Answer{Text: "MCP is a protocol.", ToolCalls: []string{"search_course_content"}}}
	ts := &fakeToolset{sources: []course.Source{
		{CourseTitle: "MCP", LessonNumber: course.IntPtr(1), Link: "https://x/1"},
		{CourseTitle: "MCP", LessonNumber: course.IntPtr(1), Link: "https://x/1"},
		{CourseTitle: "MCP", LessonNumber: course.IntPtr(2)},
	}}
	a, sessions := newAssistant(t, gen, func() Toolset { return ts })

	resp, err := a.Handle(context.Background(), "  what is MCP?  ", "")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Outcome != OutcomeAnswered || resp.Answer != "MCP is a protocol." {
		t.Errorf("resp = %+v", resp)
	}
	if resp.SessionID != "session_1" {
		t.Errorf("SessionID = %q, want session_1", resp.SessionID)
	}
	if len(resp.Sources) != 2 {
		t.Errorf("Sources = %+v, want duplicates removed", resp.Sources)
	}

	req := gen.requests[0]
	if req.Query != "Answer this question about course materials: what is MCP?" {
		t.Errorf("Query = %q", req.Query)
	}
	if len(req.Contracts) != 1 || req.Executor == nil {
		t.Error("toolset not offered to the generator")
	}

	h := sessions.History("session_1")
	if len(h) != 1 || h[0].Query != "what is MCP?" || h[0].Response != "MCP is a protocol." {
		t.Errorf("History = %+v", h)
	}
}

func TestHandle_PassesHistory(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	a, _ := newAssistant(t, gen, nil)

	first, err := a.Handle(context.Background(), "first", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Handle(context.Background(), "second", first.SessionID); err != nil {
		t.Fatal(err)
	}
	if h := gen.requests[1].History; len(h) != 1 || h[0].Query != "first" {
		t.Errorf("second request history = %+v", h)
	}
	if gen.requests[1].Executor != nil {
		t.Error("Executor must be nil without a toolset")
	}
}

func TestHandle_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"empty", "", "Please enter a question."},
		{"whitespace", " \t\n ", "Please enter a question."},
		{"too long", strings.Repeat("é", 51), "too long"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gen := &fakeGenerator{}
			a, sessions := newAssistant(t, gen, nil)
			resp, err := a.Handle(context.Background(), tc.query, "")
			if err != nil {
				t.Fatal(err)
			}
			if resp.Outcome != OutcomeRejected || !strings.Contains(resp.Answer, tc.want) {
				t.Errorf("resp = %+v", resp)
			}
			if gen.calls() != 0 {
				t.Error("generator called for a rejected query")
			}
			if resp.SessionID != "" || sessions.Len() != 0 {
				t.Errorf("rejected query created session %q (%d registered)", resp.SessionID, sessions.Len())
			}
		})
	}
}

func TestHandle_UnknownSessionIDsAreNotRetained(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{err: agent.ErrGenerationFailed}
	a, sessions := newAssistant(t, gen, nil)
	for i := range 100 {
		id := fmt.Sprintf("client-%d", i)
		if _, err := a.Handle(context.Background(), "", id); err != nil {
			t.Fatal(err)
		}
		if _, err := a.Handle(context.Background(), "q", id); err != nil {
			t.Fatal(err)
		}
	}
	if n := sessions.Len(); n != 0 {
		t.Errorf("sessions.Len() = %d, want 0 after rejected and failed queries", n)
	}

	gen.err, gen.answer = nil, &agent.Answer{Text: "ok"}
	if _, err := a.Handle(context.Background(), "q", "client-kept"); err != nil {
		t.Fatal(err)
	}
	if !sessions.Exists("client-kept") {
		t.Error("answered query on a client-supplied ID should keep its history")
	}
}

func TestHandle_MaxLengthCountsRunes(t *testing.T) {
	t.Parallel()

	a, _ := newAssistant(t, &fakeGenerator{}, nil)
	resp, err := a.Handle(context.Background(), strings.Repeat("é", 50), "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outcome != OutcomeAnswered {
		t.Errorf("Outcome = %q, want answered for exactly the limit", resp.Outcome)
	}
}

func TestHandle_GenerationFailed(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{err: errors.Join(agent.ErrGenerationFailed, errors.New("503"))}
	a, sessions := newAssistant(t, gen, nil)

	resp, err := a.Handle(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Outcome != OutcomeGenerationFailed || resp.Answer == "" {
		t.Errorf("resp = %+v", resp)
	}
	if len(sessions.History(resp.SessionID)) != 0 {
		t.Error("failed generation appended to history")
	}
}

func TestHandle_ToolUnavailable(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: &agent.Answer{Text: "Unable to answer: ...", ToolUnavailable: true}}
	a, sessions := newAssistant(t, gen, nil)

	resp, err := a.Handle(context.Background(), "q", "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Outcome != OutcomeToolUnavailable || !strings.HasPrefix(resp.Answer, "Unable to answer") {
		t.Errorf("resp = %+v", resp)
	}
	if len(sessions.History(resp.SessionID)) != 0 {
		t.Error("diagnostic appended to history")
	}
}

func TestHandle_AppendsAfterCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &fakeGenerator{during: func(context.Context, *agent.Request) { cancel() }}
	a, sessions := newAssistant(t, gen, nil)

	resp, err := a.Handle(ctx, "q", "")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("context should be cancelled by now")
	}
	if h := sessions.History(resp.SessionID); len(h) != 1 {
		t.Errorf("History len = %d, want 1 (at-least-once append)", len(h))
	}
}

func TestHandle_CancelledWhileWaitingForSession(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{}
	a, sessions := newAssistant(t, gen, nil)
	id := sessions.Create()
	release, err := sessions.Acquire(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := a.Handle(ctx, "q", id); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Handle = %v, want DeadlineExceeded", err)
	}
	if gen.calls() != 0 {
		t.Error("generator called without the session lock")
	}
}

func TestHandle_SerialisesSameSession(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	gen := &fakeGenerator{during: func(context.Context, *agent.Request) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
	}}
	a, sessions := newAssistant(t, gen, nil)
	id := sessions.Create()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Handle(context.Background(), "q", id); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrent generations in one session = %d, want 1", peak.Load())
	}
	if h := sessions.History(id); len(h) != 2 {
		t.Errorf("History len = %d, want bound of 2", len(h))
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	want := course.Stats{CourseCount: 2, CourseTitles: []string{"A", "B"}}
	a, err := New(&Config{Generator: &fakeGenerator{}, Sessions: session.New(2), Catalog: fakeStats{st: want}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.CourseCount != 2 || len(got.CourseTitles) != 2 {
		t.Errorf("Stats = %+v", got)
	}

	a, _ = New(&Config{Generator: &fakeGenerator{}, Sessions: session.New(2), Catalog: fakeStats{err: errors.New("down")}})
	if _, err := a.Stats(context.Background()); err == nil {
		t.Error("expected error from catalog")
	}
}

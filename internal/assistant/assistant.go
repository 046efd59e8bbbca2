// Package assistant coordinates one user query end to end: input checks,
// session history, the per-query toolset, generation, citations, and the
// history append.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/courserag-go/internal/agent"
	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/logging"
	"github.com/54b3r/courserag-go/internal/session"
)

// DefaultMaxQueryLength bounds a query in runes.
const DefaultMaxQueryLength = 4000

// promptPrefix frames every query sent to the generator.
const promptPrefix = "Answer this question about course materials: "

// Outcome classifies how a query was handled.
type Outcome string

const (
	OutcomeAnswered         Outcome = "answered"
	OutcomeRejected         Outcome = "rejected"
	OutcomeGenerationFailed Outcome = "generation_failed"
	OutcomeToolUnavailable  Outcome = "tool_unavailable"
)

// user-facing texts for outcomes that are not answers.
const (
	msgEmptyQuery       = "Please enter a question."
	msgGenerationFailed = "Sorry, I couldn't generate an answer right now. Please try again."
)

// Generator produces an answer for one request.
type Generator interface {
	Generate(ctx context.Context, req *agent.Request) (*agent.Answer, error)
}

// Toolset is the set of tools offered to one query. tools.Manager satisfies
// it.
type Toolset interface {
	agent.Executor
	Contracts(ctx context.Context) ([]*schema.ToolInfo, error)
	TakeSources() []course.Source
}

// StatsReader summarises the catalog.
type StatsReader interface {
	Stats(ctx context.Context) (course.Stats, error)
}

// Config holds the collaborators of an Assistant.
type Config struct {
	Generator Generator
	Sessions  *session.Store
	// Tools builds a fresh toolset per query. Nil means no tools.
	Tools func() Toolset
	// Catalog backs Stats.
	Catalog StatsReader
	// MaxQueryLength bounds a query in runes. Zero means
	// DefaultMaxQueryLength.
	MaxQueryLength int
}

// Response is the result of one query.
type Response struct {
	Answer    string
	Sources   []course.Source
	SessionID string
	Outcome   Outcome
}

// Assistant is the query coordinator. It is safe for concurrent use;
// queries within one session run one at a time.
type Assistant struct {
	gen      Generator
	sessions *session.Store
	tools    func() Toolset
	catalog  StatsReader
	maxQuery int
}

// New constructs an Assistant from the provided Config.
func New(cfg *Config) (*Assistant, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("assistant: Generator must not be nil")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("assistant: Sessions must not be nil")
	}
	maxQuery := cfg.MaxQueryLength
	if maxQuery <= 0 {
		maxQuery = DefaultMaxQueryLength
	}
	return &Assistant{
		gen:      cfg.Generator,
		sessions: cfg.Sessions,
		tools:    cfg.Tools,
		catalog:  cfg.Catalog,
		maxQuery: maxQuery,
	}, nil
}

// Handle answers query within sessionID, creating a session when sessionID
// is empty. A rejected query creates nothing and echoes sessionID as given. Every failure after the session lock is reported through the
// Response; the only error is a context that ended while waiting for the
// session.
//
// Once the generator has answered, the exchange is appended even if ctx has
// been cancelled in the meantime. Appends are never rolled back.
func (a *Assistant) Handle(ctx context.Context, query, sessionID string) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Response{SessionID: sessionID, Answer: msgEmptyQuery, Outcome: OutcomeRejected}, nil
	}
	if n := utf8.RuneCountInString(query); n > a.maxQuery {
		return &Response{
			SessionID: sessionID,
			Answer:    fmt.Sprintf("Your question is too long (%d characters). Please keep it under %d characters.", n, a.maxQuery),
			Outcome:   OutcomeRejected,
		}, nil
	}

	if sessionID == "" {
		sessionID = a.sessions.Create()
	}
	ctx, log := logging.With(ctx, slog.String("session_id", sessionID))

	resp := &Response{SessionID: sessionID}

	release, err := a.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("assistant: wait for session %s: %w", sessionID, err)
	}
	defer release()

	req := &agent.Request{
		Query:   promptPrefix + query,
		History: a.sessions.History(sessionID),
	}
	var toolset Toolset
	if a.tools != nil {
		toolset = a.tools()
	}
	if toolset != nil {
		contracts, err := toolset.Contracts(ctx)
		if err != nil {
			// Generation can still answer from general knowledge.
			log.Warn("assistant: tool contracts unavailable", slog.Any("error", err))
		} else {
			req.Contracts = contracts
			req.Executor = toolset
		}
	}

	start := time.Now()
	ans, err := a.gen.Generate(ctx, req)
	if err != nil {
		log.Error("assistant: generation failed", slog.Any("error", err))
		resp.Answer, resp.Outcome = msgGenerationFailed, OutcomeGenerationFailed
		return resp, nil
	}

	if toolset != nil {
		resp.Sources = dedupe(toolset.TakeSources())
	}
	resp.Answer = ans.Text

	if ans.ToolUnavailable {
		resp.Outcome = OutcomeToolUnavailable
		log.Warn("assistant: tool unavailable", slog.String("answer", ans.Text))
		return resp, nil
	}

	a.sessions.Append(sessionID, query, ans.Text)
	resp.Outcome = OutcomeAnswered
	log.Info("assistant: query answered",
		slog.Int("tool_calls", len(ans.ToolCalls)),
		slog.Int("sources", len(resp.Sources)),
		slog.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// Stats reports the cataloged courses.
func (a *Assistant) Stats(ctx context.Context) (course.Stats, error) {
	if a.catalog == nil {
		return course.Stats{CourseTitles: []string{}}, nil
	}
	st, err := a.catalog.Stats(ctx)
	if err != nil {
		return course.Stats{}, fmt.Errorf("assistant: stats: %w", err)
	}
	return st, nil
}

// dedupe drops repeated citations, keeping first-seen order.
func dedupe(in []course.Source) []course.Source {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		key := s.Label() + "\x00" + s.Link
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/logging"
	"github.com/54b3r/courserag-go/internal/rag"
)

// SearchToolName is the name the model uses to request a content search.
const SearchToolName = "search_course_content"

// SearchTool searches course content, optionally narrowed to one course and
// one lesson.
type SearchTool struct {
	resolver Resolver
	index    Index
	topK     int
	box      sourceBox
}

// NewSearchTool constructs a SearchTool. topK <= 0 uses the index default.
func NewSearchTool(resolver Resolver, index Index, topK int) *SearchTool {
	return &SearchTool{resolver: resolver, index: index, topK: topK}
}

// Name returns the tool name registered with the model.
func (t *SearchTool) Name() string { return SearchToolName }

// Info returns the tool contract offered to the model.
func (t *SearchTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: SearchToolName,
		Desc: "Search course materials with smart course name matching and lesson filtering. " +
			"Use it for questions about specific course content or detailed educational material.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "What to search for in the course content.",
				Required: true,
			},
			"course_name": {
				Type: schema.String,
				Desc: "Course title; partial matches work (e.g. 'MCP', 'Introduction').",
			},
			"lesson_number": {
				Type: schema.Integer,
				Desc: "Specific lesson number to search within (e.g. 1, 2, 3).",
			},
		}),
	}, nil
}

// lessonArg accepts a JSON number or a quoted number.
type lessonArg struct{ n *int }

func (l *lessonArg) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("lesson_number must be an integer: %w", err)
	}
	l.n = &n
	return nil
}

type searchInput struct {
	Query        string    `json:"query"`
	CourseName   string    `json:"course_name,omitempty"`
	LessonNumber lessonArg `json:"lesson_number"`
}

// InvokableRun decodes the model's arguments and runs Execute.
func (t *SearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var in searchInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &in); err != nil {
		return "", fmt.Errorf("%s: invalid input: %w", SearchToolName, err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("%s: query is required", SearchToolName)
	}
	return t.Execute(ctx, in.Query, in.CourseName, in.LessonNumber.n), nil
}

// Execute resolves courseName when given, searches content with the
// resolved filters, and formats the hits for the model. Failures are
// reported in the returned text rather than as errors, so the model can
// relay them.
func (t *SearchTool) Execute(ctx context.Context, query, courseName string, lessonNumber *int) string {
	log := logging.FromContext(ctx)
	filter := rag.Filter{LessonNumber: lessonNumber}

	if courseName != "" {
		title, ok, err := t.resolver.Resolve(ctx, courseName)
		if err != nil {
			log.Warn("tools: course resolution failed", slog.String("course_name", courseName), slog.Any("error", err))
			return "Search failed: " + reason(err)
		}
		if !ok {
			return fmt.Sprintf("No course found matching '%s'.", courseName)
		}
		filter.CourseTitle = title
	}

	results, err := t.index.SearchContent(ctx, query, filter, t.topK)
	if err != nil {
		log.Warn("tools: content search failed", slog.String("query", query), slog.Any("error", err))
		return "Search failed: " + reason(err)
	}
	log.Debug("tools: content search",
		slog.String("query", query),
		slog.String("course", filter.CourseTitle),
		slog.Int("results", len(results)),
	)

	if len(results) == 0 {
		msg := "No relevant content found"
		if filter.CourseTitle != "" {
			msg += fmt.Sprintf(" in course '%s'", filter.CourseTitle)
		}
		if lessonNumber != nil {
			msg += fmt.Sprintf(" in lesson %d", *lessonNumber)
		}
		return msg + "."
	}
	return t.format(ctx, results)
}

func (t *SearchTool) format(ctx context.Context, results []rag.Result) string {
	courses := map[string]*course.Course{}
	blocks := make([]string, 0, len(results))
	sources := make([]course.Source, 0, len(results))

	for _, r := range results {
		header := r.CourseTitle
		if r.LessonNumber != nil {
			header += fmt.Sprintf(" - Lesson %d", *r.LessonNumber)
		}
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s", header, r.Content))

		c, seen := courses[r.CourseTitle]
		if !seen {
			// A missing header only costs the citation its link.
			c, _ = t.index.Course(ctx, r.CourseTitle)
			courses[r.CourseTitle] = c
		}
		sources = append(sources, course.Source{
			CourseTitle:  r.CourseTitle,
			LessonNumber: r.LessonNumber,
			Link:         linkFor(c, r.LessonNumber),
		})
	}
	t.box.put(sources...)
	return strings.Join(blocks, "\n\n")
}

func linkFor(c *course.Course, lesson *int) string {
	if c == nil {
		return ""
	}
	if lesson != nil {
		if l, ok := c.Lesson(*lesson); ok && l.Link != "" {
			return l.Link
		}
	}
	return c.Link
}

// reason strips the package prefixes from an index error for display.
func reason(err error) string {
	if errors.Is(err, rag.ErrIndexUnavailable) {
		msg := err.Error()
		if i := strings.Index(msg, rag.ErrIndexUnavailable.Error()); i >= 0 {
			return msg[i:]
		}
	}
	return err.Error()
}

// TakeSources returns the citations of the last search and clears them.
func (t *SearchTool) TakeSources() []course.Source { return t.box.take() }

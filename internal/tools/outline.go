package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/rag"
)

// OutlineToolName is the name the model uses to request a course outline.
const OutlineToolName = "get_course_outline"

// OutlineTool returns a course's title, link, instructor and lesson list.
type OutlineTool struct {
	resolver Resolver
	catalog  CatalogReader
	box      sourceBox
}

// NewOutlineTool constructs an OutlineTool.
func NewOutlineTool(resolver Resolver, catalog CatalogReader) *OutlineTool {
	return &OutlineTool{resolver: resolver, catalog: catalog}
}

// Name returns the tool name registered with the model.
func (t *OutlineTool) Name() string { return OutlineToolName }

// Info returns the tool contract offered to the model.
func (t *OutlineTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: OutlineToolName,
		Desc: "Get the outline of a course: its title, link, instructor and the numbered list of lessons. " +
			"Use it for questions about what a course covers or how it is structured.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"course_name": {
				Type:     schema.String,
				Desc:     "Course title; partial matches work.",
				Required: true,
			},
		}),
	}, nil
}

type outlineInput struct {
	CourseName string `json:"course_name"`
}

// InvokableRun decodes the model's arguments and runs Execute.
func (t *OutlineTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var in outlineInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &in); err != nil {
		return "", fmt.Errorf("%s: invalid input: %w", OutlineToolName, err)
	}
	if strings.TrimSpace(in.CourseName) == "" {
		return "", fmt.Errorf("%s: course_name is required", OutlineToolName)
	}
	return t.Execute(ctx, in.CourseName), nil
}

// Execute resolves courseName and renders the outline.
func (t *OutlineTool) Execute(ctx context.Context, courseName string) string {
	title, ok, err := t.resolver.Resolve(ctx, courseName)
	if err != nil {
		return "Outline lookup failed: " + reason(err)
	}
	if !ok {
		return fmt.Sprintf("No course found matching '%s'.", courseName)
	}

	c, err := t.catalog.Course(ctx, title)
	if errors.Is(err, rag.ErrCourseNotFound) {
		return fmt.Sprintf("No course found matching '%s'.", courseName)
	}
	if err != nil {
		return "Outline lookup failed: " + reason(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Course: %s\n", c.Title)
	if c.Link != "" {
		fmt.Fprintf(&b, "Link: %s\n", c.Link)
	}
	if c.Instructor != "" {
		fmt.Fprintf(&b, "Instructor: %s\n", c.Instructor)
	}
	fmt.Fprintf(&b, "Lessons (%d):", len(c.Lessons))
	for _, l := range c.Lessons {
		fmt.Fprintf(&b, "\n  Lesson %d: %s", l.Number, l.Title)
	}

	t.box.put(course.Source{CourseTitle: c.Title, Link: c.Link})
	return b.String()
}

// TakeSources returns the citation of the last outline and clears it.
func (t *OutlineTool) TakeSources() []course.Source { return t.box.take() }

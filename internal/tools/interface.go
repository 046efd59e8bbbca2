// Package tools holds the course tools the generator may call while
// answering: a filtered semantic search over course content and a course
// outline lookup. Each tool is an eino tool.InvokableTool, so its ToolInfo is
// the contract offered to the model, and each records the citations for the
// passages it returned until the caller takes them.
package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"

	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/rag"
)

// CourseTool is the contract shared by every course tool.
type CourseTool interface {
	tool.InvokableTool

	// Name returns the unique tool name offered to the model.
	Name() string

	// TakeSources returns the citations recorded since the last call and
	// clears them.
	TakeSources() []course.Source
}

// Resolver maps a partial course name to a canonical title.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, bool, error)
}

// ContentSearcher runs filtered semantic search over course content.
type ContentSearcher interface {
	SearchContent(ctx context.Context, query string, f rag.Filter, topK int) ([]rag.Result, error)
}

// CatalogReader returns cataloged course headers.
type CatalogReader interface {
	Course(ctx context.Context, title string) (*course.Course, error)
}

// Index is what the tools need from the semantic index.
type Index interface {
	ContentSearcher
	CatalogReader
}

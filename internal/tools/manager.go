package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/courserag-go/internal/course"
)

// Manager is the set of tools available to one query. Build a fresh Manager
// per query so citations never cross between concurrent queries.
type Manager struct {
	order []CourseTool
	byKey map[string]CourseTool
}

// NewManager registers tools in the order given. A later tool with the same
// name replaces an earlier one.
func NewManager(tools ...CourseTool) *Manager {
	m := &Manager{byKey: make(map[string]CourseTool, len(tools))}
	for _, t := range tools {
		if _, dup := m.byKey[t.Name()]; !dup {
			m.order = append(m.order, t)
		} else {
			for i, old := range m.order {
				if old.Name() == t.Name() {
					m.order[i] = t
				}
			}
		}
		m.byKey[t.Name()] = t
	}
	return m
}

// Contracts returns the ToolInfo of every registered tool.
func (m *Manager) Contracts(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(m.order))
	for _, t := range m.order {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tools: info %s: %w", t.Name(), err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Execute runs the named tool. An unknown name is reported in the result
// text, not as an error.
func (m *Manager) Execute(ctx context.Context, name, argumentsInJSON string) (string, error) {
	t, ok := m.byKey[name]
	if !ok {
		return fmt.Sprintf("Tool '%s' not found", name), nil
	}
	return t.InvokableRun(ctx, argumentsInJSON)
}

// TakeSources drains the citations of every tool, in registration order.
func (m *Manager) TakeSources() []course.Source {
	var out []course.Source
	for _, t := range m.order {
		out = append(out, t.TakeSources()...)
	}
	return out
}

// Deps are the long-lived collaborators from which per-query tools are built.
type Deps struct {
	Resolver Resolver
	Index    Index
	TopK     int
}

// NewManager builds the default per-query toolset: content search and
// course outline.
func (d Deps) NewManager() *Manager {
	return NewManager(
		NewSearchTool(d.Resolver, d.Index, d.TopK),
		NewOutlineTool(d.Resolver, d.Index),
	)
}

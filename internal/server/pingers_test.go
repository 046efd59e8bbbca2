package server

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type pingModel struct {
	calls int
	err   error
}

func (m *pingModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage("pong", nil), nil
}

func (m *pingModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

type fakeHealthCheck struct{ err error }

func (f fakeHealthCheck) HealthCheck(context.Context) error { return f.err }

type fakeIndex struct{ err error }

func (f fakeIndex) Ping(context.Context) error { return f.err }

func TestLLMPinger_PrefersHealthCheck(t *testing.T) {
	t.Parallel()

	m := &pingModel{}
	p := NewLLMPinger(m, fakeHealthCheck{}, "ollama")
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if m.calls != 0 {
		t.Errorf("Generate called %d times, want 0 when a health check exists", m.calls)
	}

	p = NewLLMPinger(m, fakeHealthCheck{err: errors.New("refused")}, "ollama")
	if err := p.Ping(t.Context()); err == nil {
		t.Error("expected health check failure to surface")
	}
	if p.Name() != "ollama" {
		t.Errorf("Name = %q", p.Name())
	}
}

func TestLLMPinger_FallsBackToGenerate(t *testing.T) {
	t.Parallel()

	m := &pingModel{}
	p := NewLLMPinger(m, nil, "ark")
	if err := p.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if m.calls != 1 {
		t.Errorf("Generate called %d times, want 1", m.calls)
	}

	m.err = errors.New("401")
	if err := p.Ping(t.Context()); err == nil {
		t.Error("expected generate failure to surface")
	}
}

func TestIndexPinger(t *testing.T) {
	t.Parallel()

	p := NewIndexPinger(fakeIndex{}, "sqlite")
	if p.Name() != "index:sqlite" {
		t.Errorf("Name = %q", p.Name())
	}
	if err := p.Ping(t.Context()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	want := errors.New("locked")
	if err := NewIndexPinger(fakeIndex{err: want}, "bolt").Ping(t.Context()); !errors.Is(err, want) {
		t.Errorf("Ping err = %v, want %v", err, want)
	}
}

package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/courserag-go/internal/course"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.input); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages_CountsToolCalls(t *testing.T) {
	t.Parallel()
	plain := schema.AssistantMessage("", nil)
	withCall := schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call_1",
		Function: schema.FunctionCall{Name: "search_course_content", Arguments: `{"query":"what are widgets"}`},
	}})
	if EstimateMessages([]*schema.Message{withCall}) <= EstimateMessages([]*schema.Message{plain}) {
		t.Error("tool-call arguments were not counted")
	}
}

func Test_ExchangeMessages(t *testing.T) {
	t.Parallel()
	msgs := ExchangeMessages([]course.Exchange{
		{Query: "q1", Response: "r1"},
		{Query: "q2", Response: "r2"},
	})
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	wantRoles := []schema.RoleType{schema.User, schema.Assistant, schema.User, schema.Assistant}
	for i, m := range msgs {
		if m.Role != wantRoles[i] {
			t.Errorf("msg[%d].Role = %s, want %s", i, m.Role, wantRoles[i])
		}
	}
	if msgs[2].Content != "q2" || msgs[3].Content != "r2" {
		t.Errorf("last exchange = %q / %q", msgs[2].Content, msgs[3].Content)
	}
}

func Test_TrimExchanges_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	history := []course.Exchange{{Query: "hi", Response: "hello"}, {Query: "and", Response: "more"}}
	if got := TrimExchanges(fixed, history, DefaultMaxContextTokens); len(got) != 2 {
		t.Errorf("want 2 exchanges, got %d", len(got))
	}
}

func Test_TrimExchanges_DropsOldestWhole(t *testing.T) {
	t.Parallel()
	big := strings.Repeat("x", 400) // 100 tokens
	history := []course.Exchange{
		{Query: "oldest " + big, Response: big},
		{Query: "newest", Response: "ok"},
	}
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	got := TrimExchanges(fixed, history, 60)
	if len(got) != 1 || got[0].Query != "newest" {
		t.Fatalf("got %+v, want only the newest exchange", got)
	}
}

func Test_TrimExchanges_FixedExceedsBudget(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage(strings.Repeat("x", 4000))}
	history := []course.Exchange{{Query: "q", Response: "r"}}
	if got := TrimExchanges(fixed, history, 100); len(got) != 0 {
		t.Errorf("want empty history, got %d", len(got))
	}
}

// Package budget estimates prompt size and trims conversation history to
// fit. Backends use different tokenizers, so estimates use a conservative
// character heuristic of 1 token ≈ 4 characters.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/courserag-go/internal/course"
)

const (
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens most chat
	// APIs add to each message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens fits 8k-context models with room for output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages sums role, content and tool-call arguments over msgs.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
		for _, tc := range m.ToolCalls {
			total += Estimate(tc.Function.Name) + Estimate(tc.Function.Arguments)
		}
	}
	return total
}

// ExchangeMessages renders exchanges as alternating user and assistant
// messages, oldest first.
func ExchangeMessages(history []course.Exchange) []*schema.Message {
	msgs := make([]*schema.Message, 0, 2*len(history))
	for _, ex := range history {
		msgs = append(msgs,
			schema.UserMessage(ex.Query),
			schema.AssistantMessage(ex.Response, nil),
		)
	}
	return msgs
}

// TrimExchanges drops whole exchanges, oldest first, until fixed plus the
// remaining history fits within maxTokens. fixed holds the messages that are
// never trimmed, such as the system prompt and the current query. If fixed
// alone exceeds the budget the history comes back empty.
func TrimExchanges(fixed []*schema.Message, history []course.Exchange, maxTokens int) []course.Exchange {
	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(ExchangeMessages(history)) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}

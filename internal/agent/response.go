package agent

import "github.com/cloudwego/eino/schema"

// Response is a classified generator reply: either DirectAnswer or
// ToolRequest.
type Response interface {
	isResponse()
}

// DirectAnswer is a reply with no tool calls.
type DirectAnswer struct {
	Text string
}

// ToolRequest is a reply asking for one or more tool calls. Text is any
// content the generator sent alongside the calls.
type ToolRequest struct {
	Text  string
	Calls []schema.ToolCall
}

func (DirectAnswer) isResponse() {}
func (ToolRequest) isResponse()  {}

// classify inspects msg once. Every later decision switches on the result.
func classify(msg *schema.Message) Response {
	if len(msg.ToolCalls) == 0 {
		return DirectAnswer{Text: msg.Content}
	}
	return ToolRequest{Text: msg.Content, Calls: msg.ToolCalls}
}

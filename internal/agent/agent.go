// Package agent drives the generator for one query. It is an explicit
// two-phase state machine: the first call may answer directly or request
// tools; when tools are requested they are executed and exactly one follow-up
// call, with no tools bound, produces the final text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/courserag-go/internal/budget"
	"github.com/54b3r/courserag-go/internal/course"
	"github.com/54b3r/courserag-go/internal/logging"
)

// systemPrompt is sent as the first message of every generation.
const systemPrompt = `You are an assistant specialised in course materials and educational content, with access to tools for course information.

Available tools:
- get_course_outline: course title, link, instructor and the complete lesson list
- search_course_content: search for specific content within course materials

Tool usage:
- Use get_course_outline for questions about course structure, an overview, the list of lessons, or what a course covers
- Use search_course_content for questions about specific course content or detailed material
- You get one round of tool use per query; request every tool call you need in that round
- Synthesise tool results into accurate, fact-based answers
- If a tool yields no results, say so clearly without offering alternatives
- Answer general knowledge questions from your own knowledge without tools

Response protocol:
- Give the direct answer only. Do not explain your reasoning or mention the tools or "the search results"
- When presenting a course outline include the course title, course link, instructor and every lesson with its number and title

Every answer must be brief and focused, educational, clear, and supported by an example when one helps understanding.`

const (
	// DefaultTimeout bounds a single generator call.
	DefaultTimeout = 60 * time.Second

	// DefaultRetryInterval is the initial backoff before the single retry.
	DefaultRetryInterval = 500 * time.Millisecond
)

// ErrGenerationFailed wraps every generator failure that survived the retry.
var ErrGenerationFailed = errors.New("agent: generation failed")

// Executor runs one tool call. Unknown names are reported in the returned
// text; a non-nil error is folded into the tool result.
type Executor interface {
	Execute(ctx context.Context, name, argumentsInJSON string) (string, error)
}

// Request is a single generation.
type Request struct {
	// Query is the user message, already framed by the caller.
	Query string
	// History holds prior exchanges of the session, oldest first.
	History []course.Exchange
	// Contracts are the tools the generator may request in the first phase.
	Contracts []*schema.ToolInfo
	// Executor runs requested tools. It may be nil.
	Executor Executor
}

// Answer is the outcome of a generation.
type Answer struct {
	Text string
	// ToolCalls lists the names of the tools executed, in call order.
	ToolCalls []string
	// ToolUnavailable is set when the generator requested a tool that could
	// not be run. Text then holds a diagnostic.
	ToolUnavailable bool
}

// Config holds the dependencies required to construct an Orchestrator.
type Config struct {
	// ChatModel is the generator built by the provider factory.
	ChatModel model.ToolCallingChatModel

	// MaxContextTokens is the estimated budget for system prompt, history
	// and query. History is trimmed oldest-exchange-first to fit. Zero means
	// budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Timeout bounds each generator call. Zero means DefaultTimeout.
	Timeout time.Duration

	// RetryInterval is the initial backoff before the retry. Zero means
	// DefaultRetryInterval.
	RetryInterval time.Duration
}

// Orchestrator runs generations against one chat model. It holds no
// per-query state and is safe for concurrent use.
type Orchestrator struct {
	chat             model.ToolCallingChatModel
	maxContextTokens int
	timeout          time.Duration
	retryInterval    time.Duration
}

// New constructs an Orchestrator from the provided Config.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}
	o := &Orchestrator{
		chat:             cfg.ChatModel,
		maxContextTokens: cfg.MaxContextTokens,
		timeout:          cfg.Timeout,
		retryInterval:    cfg.RetryInterval,
	}
	if o.maxContextTokens <= 0 {
		o.maxContextTokens = budget.DefaultMaxContextTokens
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.retryInterval <= 0 {
		o.retryInterval = DefaultRetryInterval
	}
	return o, nil
}

// Generate answers req. The returned error is non-nil only when a generator
// call failed, and then wraps ErrGenerationFailed.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (*Answer, error) {
	log := logging.FromContext(ctx)
	msgs := o.buildMessages(ctx, req)

	first := o.chat
	if len(req.Contracts) > 0 {
		bound, err := o.chat.WithTools(req.Contracts)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools: %w", ErrGenerationFailed, err)
		}
		first = bound
	}

	reply, err := o.generate(ctx, first, msgs)
	if err != nil {
		return nil, err
	}

	var calls []schema.ToolCall
	switch r := classify(reply).(type) {
	case DirectAnswer:
		return &Answer{Text: r.Text}, nil
	case ToolRequest:
		calls = r.Calls
	}

	if req.Executor == nil {
		log.Warn("agent: tool requested but no executor configured",
			slog.String("tool", calls[0].Function.Name),
		)
		return &Answer{
			Text: fmt.Sprintf("Unable to answer: the assistant requested the %s tool but no tool is configured for this query.",
				calls[0].Function.Name),
			ToolUnavailable: true,
		}, nil
	}

	ans := &Answer{}
	msgs = append(msgs, schema.AssistantMessage(reply.Content, calls))
	for _, call := range calls {
		result := o.execute(ctx, req.Executor, call)
		ans.ToolCalls = append(ans.ToolCalls, call.Function.Name)
		msgs = append(msgs, schema.ToolMessage(result, call.ID))
	}

	final, err := o.generate(ctx, o.chat, msgs)
	if err != nil {
		return nil, err
	}
	switch r := classify(final).(type) {
	case DirectAnswer:
		ans.Text = r.Text
	case ToolRequest:
		// Only one round of tools is allowed.
		log.Warn("agent: follow-up response requested tools again",
			slog.Int("tool_calls", len(r.Calls)),
		)
		ans.Text = r.Text
		if ans.Text == "" {
			ans.Text = "Unable to answer: the assistant requested more tools than a single query allows."
			ans.ToolUnavailable = true
		}
	}
	return ans, nil
}

// execute runs one call and renders its result as tool message content.
func (o *Orchestrator) execute(ctx context.Context, ex Executor, call schema.ToolCall) string {
	log := logging.FromContext(ctx)
	start := time.Now()
	out, err := ex.Execute(ctx, call.Function.Name, call.Function.Arguments)
	if err != nil {
		log.Warn("agent: tool execution failed",
			slog.String("tool", call.Function.Name),
			slog.Any("error", err),
		)
		return fmt.Sprintf("Tool execution error: %v", err)
	}
	log.Debug("agent: tool executed",
		slog.String("tool", call.Function.Name),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_chars", len(out)),
	)
	return out
}

// generate issues one generator call bounded by the configured timeout and
// retries it once with exponential backoff. A cancelled caller is never
// retried.
func (o *Orchestrator) generate(ctx context.Context, m model.BaseChatModel, msgs []*schema.Message) (*schema.Message, error) {
	log := logging.FromContext(ctx)

	var out *schema.Message
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		msg, err := m.Generate(callCtx, msgs)
		if err == nil && msg == nil {
			err = errors.New("empty response")
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out = msg
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx)
	notify := func(err error, wait time.Duration) {
		log.Warn("agent: generator call failed, retrying",
			slog.Any("error", err),
			slog.Duration("backoff", wait),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return out, nil
}

// buildMessages assembles system prompt, trimmed history and the query.
func (o *Orchestrator) buildMessages(ctx context.Context, req *Request) []*schema.Message {
	system := schema.SystemMessage(systemPrompt)
	user := schema.UserMessage(req.Query)

	history := budget.TrimExchanges([]*schema.Message{system, user}, req.History, o.maxContextTokens)
	if dropped := len(req.History) - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history exchanges to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", o.maxContextTokens),
		)
	}

	msgs := make([]*schema.Message, 0, 2+2*len(history))
	msgs = append(msgs, system)
	msgs = append(msgs, budget.ExchangeMessages(history)...)
	msgs = append(msgs, user)
	return msgs
}

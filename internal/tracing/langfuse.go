// Package tracing wires eino callback handlers for the chat model: Langfuse
// traces when keys are configured, and debug logs of every generator call.
package tracing

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
)

// Setup initialises the Langfuse callback handler if LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are set. Returns a flush function that must be called
// before process exit to ensure all traces are sent. If Langfuse is not
// configured, both return values are nil and tracing is silently disabled.
func Setup() (callbacks.Handler, func(), bool) {
	host := os.Getenv("LANGFUSE_HOST")
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")

	if publicKey == "" || secretKey == "" {
		return nil, nil, false
	}
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "courserag",
	})

	return handler, flusher, true
}

type startKey struct{}

// LogHandler returns a handler that logs each chat model call at debug
// level with its duration and token usage.
func LogHandler(log *slog.Logger) callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			return context.WithValue(ctx, startKey{}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			attrs := []any{slog.String("component", info.Name), slog.Duration("duration", since(ctx))}
			if out := model.ConvCallbackOutput(output); out != nil && out.TokenUsage != nil {
				attrs = append(attrs,
					slog.Int("prompt_tokens", out.TokenUsage.PromptTokens),
					slog.Int("completion_tokens", out.TokenUsage.CompletionTokens),
				)
			}
			log.Debug("tracing: model call finished", attrs...)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			log.Debug("tracing: model call failed",
				slog.String("component", info.Name),
				slog.Duration("duration", since(ctx)),
				slog.Any("error", err),
			)
			return ctx
		}).
		Build()
}

func since(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startKey{}).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

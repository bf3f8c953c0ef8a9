// Package orchestrator implements the Chat Orchestrator (§4.6): the
// per-conversation state machine that drives the full message-send
// protocol, coordinating the active-conversation lock, rate limiter,
// dataset service, query cache / worker pool, push channel, and the
// model's streaming tool-calling capability.
//
// Grounded on the original implementation's services/chat_service.py for
// the exact step ordering and error-handling chain, combined with
// chat-service/internal/handlers/chat_handler.go's SendMessage/
// generateAIResponse goroutine-driven streaming shape for the Go
// concurrency idiom (the source's asyncio task becomes a synchronous call
// on the caller's goroutine, with cancellation observed via a channel
// instead of an asyncio.Event).
//
// The model itself -- the upstream LLM client -- is out of scope (§1
// Non-goals: "the upstream model API client"). ChatModel is the seam a
// caller wires a concrete model adapter into; this package ships none.
package orchestrator

import (
	"context"

	"github.com/rajeee/chatdf/internal/domain"
)

// ModelRequest is everything the model needs to produce one assistant
// turn: pruned history, the conversation's bound datasets (for schema
// context), and the principal's selected model, if any.
type ModelRequest struct {
	Messages []domain.Message
	Datasets []domain.DatasetBinding
	ModelID  *string
}

// ModelStreamResult is the model's output for one assistant turn.
type ModelStreamResult struct {
	AssistantMessage string
	Reasoning        string
	InputTokens      int
	OutputTokens     int
	SQLExecutions    []domain.SQLExecution
	ToolCallTrace    string
}

// TokenEmitter is called once per generated token; the orchestrator wraps
// it to push a chat_token event.
type TokenEmitter func(token string)

// ToolExecutor runs one execute_sql tool call against the conversation's
// bound datasets, going through the query cache and worker pool. The
// model calls this for each execute_sql tool invocation it makes.
type ToolExecutor func(ctx context.Context, sqlText string) domain.SQLExecution

// ChatModel is the streaming tool-calling capability of §4.6 step 8.
// Implementations must poll cancel at each suspension point and return
// whatever partial output has been produced so far if it fires.
type ChatModel interface {
	StreamChat(ctx context.Context, req ModelRequest, emit TokenEmitter, exec ToolExecutor, cancel <-chan struct{}) (ModelStreamResult, error)
}

// ModelRateLimitError is the model-side "quota exceeded" class of error
// (§4.6 "upstream model rate limit"), distinguished from the core's own
// ratelimiter so the orchestrator can send a friendly chat_error without
// a details/type-name suffix.
type ModelRateLimitError struct {
	Message string
}

func (e *ModelRateLimitError) Error() string { return e.Message }

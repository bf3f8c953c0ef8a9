package orchestrator

import "github.com/rajeee/chatdf/internal/domain"

// Event is a JSON-serializable push-channel payload; wire shape is
// type-discriminated per §6 of the wire protocol table.
type Event = map[string]any

func eventConversationTitleUpdated() Event {
	return Event{"type": "conversation_title_updated"}
}

func eventRateLimitWarning(usagePercent float64, remainingTokens int64) Event {
	return Event{
		"type":             "rate_limit_warning",
		"usage_percent":    usagePercent,
		"remaining_tokens": remainingTokens,
	}
}

func eventRateLimitExceeded(resetsInSeconds int64) Event {
	return Event{"type": "rate_limit_exceeded", "resets_in_seconds": resetsInSeconds}
}

func eventQueryStatus(phase string) Event {
	return Event{"type": "query_status", "phase": phase}
}

func eventChatToken(messageID domain.MessageID, token string) Event {
	return Event{"type": "chat_token", "message_id": messageID, "token": token}
}

func eventChatComplete(msg *domain.Message, sqlExecutions []domain.SQLExecution) Event {
	var reasoning any
	if msg.Reasoning != nil {
		reasoning = *msg.Reasoning
	}
	var toolCallTrace any
	if msg.ToolCallTrace != nil {
		toolCallTrace = *msg.ToolCallTrace
	}
	return Event{
		"type":            "chat_complete",
		"message_id":      msg.ID,
		"sql_query":       msg.SQLQueryJSON,
		"token_count":     msg.TokenCount,
		"sql_executions":  sqlExecutions,
		"reasoning":       reasoning,
		"input_tokens":    msg.InputTokens,
		"output_tokens":   msg.OutputTokens,
		"tool_call_trace": toolCallTrace,
	}
}

func eventChatError(err string, details string) Event {
	e := Event{"type": "chat_error", "error": err}
	if details != "" {
		e["details"] = details
	}
	return e
}

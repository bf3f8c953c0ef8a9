package orchestrator

import "github.com/rajeee/chatdf/internal/domain"

// maxContextMessages is step 4's non-system message cap.
const maxContextMessages = 50

// defaultContextTokenBudget bounds pruned history by the 4-char/token
// heuristic. No numeric budget is named in the source material; this
// value is chosen to comfortably fit common small-context models while
// leaving headroom for the system/tool-schema portion of the prompt the
// model assembles itself.
const defaultContextTokenBudget = 8000

// PruneContext applies §4.6 step 4 / §9 Open Question 1's resolution: two
// independent, sequential filters. System messages are never evicted by
// either filter; they do not count toward the message cap but their tokens
// do count toward the token budget.
func PruneContext(messages []domain.Message) []domain.Message {
	return pruneContext(messages, maxContextMessages, defaultContextTokenBudget)
}

func pruneContext(messages []domain.Message, maxMessages int, tokenBudget int) []domain.Message {
	capped := capNonSystemMessages(messages, maxMessages)
	return evictOldestUntilWithinBudget(capped, tokenBudget)
}

// capNonSystemMessages keeps at most maxMessages non-system messages,
// dropping the oldest non-system messages first; system messages are
// always kept and do not count against maxMessages.
func capNonSystemMessages(messages []domain.Message, maxMessages int) []domain.Message {
	nonSystemCount := 0
	for _, m := range messages {
		if m.Role != domain.MessageRoleSystem {
			nonSystemCount++
		}
	}
	toDrop := nonSystemCount - maxMessages
	if toDrop <= 0 {
		return messages
	}

	out := make([]domain.Message, 0, len(messages))
	dropped := 0
	for _, m := range messages {
		if m.Role != domain.MessageRoleSystem && dropped < toDrop {
			dropped++
			continue
		}
		out = append(out, m)
	}
	return out
}

// evictOldestUntilWithinBudget drops the oldest non-system messages until
// the total estimated token count (system + remaining non-system) fits
// tokenBudget.
func evictOldestUntilWithinBudget(messages []domain.Message, tokenBudget int) []domain.Message {
	total := 0
	for _, m := range messages {
		total += domain.EstimateTokenCount(m.Content)
	}
	if total <= tokenBudget {
		return messages
	}

	out := append([]domain.Message(nil), messages...)
	for i := 0; i < len(out) && total > tokenBudget; {
		if out[i].Role == domain.MessageRoleSystem {
			i++
			continue
		}
		total -= domain.EstimateTokenCount(out[i].Content)
		out = append(out[:i], out[i+1:]...)
	}
	return out
}

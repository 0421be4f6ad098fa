package assistant

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. Portuguese prose runs a little denser than English but
	// 4 chars/token still under-estimates, which is the safe direction.
	charsPerToken = 4

	// defaultMaxContextTokens is the input context budget in tokens,
	// sized to fit 8k-context models with room for the reply.
	defaultMaxContextTokens = 6000
)

// estimateTokens returns a rough token count for s using the character
// heuristic.
func estimateTokens(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// estimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func estimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += estimateTokens(string(m.Role))
		total += estimateTokens(m.Content)
	}
	return total
}

// trimHistory removes the oldest messages from history until fixed +
// history fits within maxTokens. fixed holds messages that must survive
// (system prompt, compliance context, grounding, current query); history
// holds prior turns and may be dropped oldest-first, down to empty.
func trimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := estimateMessages(fixed)
	for len(history) > 0 {
		if fixedTokens+estimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}

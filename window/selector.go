// Package window selects a contiguous, token-budgeted tail of a
// conversation transcript. Named window rather than context to avoid
// shadowing the standard library's context package at import sites that
// need both.
package window

import (
	"math"

	"github.com/komatachi/komatachi/message"
)

// TokenEstimator estimates the token cost of a single message. Injected
// so callers can swap in a model-specific tokenizer without touching
// selection logic.
type TokenEstimator func(m message.Message) int

// EstimateTokens is the reference estimator: ceil(chars/4) over the
// message's textualization (text blocks concatenated, tool_use.input
// JSON-encoded, tool_result.content flattened).
func EstimateTokens(m message.Message) int {
	return EstimateStringTokens(m.Textualize())
}

// EstimateStringTokens is the reference estimator applied to raw text,
// used for system-prompt budgeting alongside EstimateTokens.
func EstimateStringTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 4))
}

// Overflow describes the prefix of messages dropped from selection.
type Overflow struct {
	DroppedCount           int
	EstimatedDroppedTokens int
}

// Selection is the result of SelectMessages: a contiguous tail plus
// whatever was dropped ahead of it.
type Selection struct {
	Selected []message.Message
	Overflow *Overflow
}

// SelectMessages walks ms from the most-recent end, accumulating
// tokensOf(m) until adding the next message would exceed budget, then
// stops. The result is always a contiguous suffix of ms — a large
// message is never skipped in favor of an older small one, and a single
// message exceeding budget yields an empty selection rather than forced
// inclusion.
func SelectMessages(ms []message.Message, budget int, tokensOf TokenEstimator) Selection {
	if len(ms) == 0 {
		return Selection{Selected: nil, Overflow: nil}
	}

	if budget <= 0 {
		return Selection{Selected: nil, Overflow: totalOverflow(ms, tokensOf)}
	}

	total := 0
	cut := len(ms) // index of first kept message; len(ms) means none kept
	for i := len(ms) - 1; i >= 0; i-- {
		cost := tokensOf(ms[i])
		if total+cost > budget {
			break
		}
		total += cost
		cut = i
	}

	selected := ms[cut:]
	if cut == 0 {
		return Selection{Selected: selected, Overflow: nil}
	}

	dropped := ms[:cut]
	droppedTokens := 0
	for _, m := range dropped {
		droppedTokens += tokensOf(m)
	}
	return Selection{
		Selected: selected,
		Overflow: &Overflow{DroppedCount: len(dropped), EstimatedDroppedTokens: droppedTokens},
	}
}

func totalOverflow(ms []message.Message, tokensOf TokenEstimator) *Overflow {
	total := 0
	for _, m := range ms {
		total += tokensOf(m)
	}
	return &Overflow{DroppedCount: len(ms), EstimatedDroppedTokens: total}
}

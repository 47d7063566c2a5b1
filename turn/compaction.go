package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/komatachi/komatachi/llm"
	"github.com/komatachi/komatachi/message"
	"github.com/komatachi/komatachi/window"
)

// summaryMarker opens every compaction summary message. Recursive
// compaction is detected by this exact string prefix — known-good but
// fragile, per spec's open question 2: a user utterance that happens to
// start with this text would be misclassified as a prior summary. A
// structured envelope would be more robust; left as-is per spec.
const summaryMarker = "[Conversation Summary]\n\n"

const maxToolFailures = 8
const toolFailureTruncateLen = 240

// compactionInput is everything Compact needs beyond the transcript and
// the turn's live budget.
type compactionInput struct {
	provider      llm.Provider
	model         string
	maxTokens     int
	contextWindow int
	soul          string // SOUL.md content, verbatim, if present
	fileOps       *message.FileOperations
	tokensOf      window.TokenEstimator
}

// Compact runs the identity-aware summarizer and returns the replacement
// transcript: a single summary message followed by the kept tail. budget
// is the turn's current token budget (contextWindow minus the live
// system prompt and max_tokens reservation); it is what the reserve and
// keep-budget are computed from, not contextWindow directly. Compact
// never substitutes a placeholder on failure — a failed summarizer call
// propagates as ModelCallError.
func Compact(ctx context.Context, in compactionInput, all []message.Message, budget int) ([]message.Message, error) {
	reserve := budget / 2
	if reserve > 20000 {
		reserve = 20000
	}
	keepBudget := budget - reserve

	kept := window.SelectMessages(all, keepBudget, in.tokensOf).Selected
	dropCount := len(all) - len(kept)
	dropSet := all[:dropCount]

	if len(dropSet) == 0 {
		return all, nil
	}

	previousSummary := ""
	if first := dropSet[0]; first.Role == message.RoleUser && first.IsPlainText() && strings.HasPrefix(first.Text, summaryMarker) {
		previousSummary = strings.TrimPrefix(first.Text, summaryMarker)
	}

	inputTokens := 0
	for _, m := range dropSet {
		inputTokens += in.tokensOf(m)
	}
	inputTokens = int(math.Ceil(float64(inputTokens) * 1.2))
	ceiling := int(math.Floor(float64(in.contextWindow) * 0.75))
	if inputTokens > ceiling {
		return nil, newErr(KindInputTooLarge, fmt.Sprintf("compaction input %d tokens exceeds ceiling %d", inputTokens, ceiling), nil)
	}

	system := summarizerSystemPrompt(in.soul)
	userPrompt := summarizerUserPrompt(dropSet, previousSummary)

	resp, err := in.provider.Call(ctx, llm.Request{
		Model:     in.model,
		System:    system,
		Messages:  []message.Message{message.NewTextMessage(message.RoleUser, userPrompt)},
		MaxTokens: in.maxTokens,
	})
	if err != nil {
		return nil, newErr(KindModelCallError, "compaction summarizer call failed", err)
	}

	modelOutput := textFromBlocks(resp.Content)

	failures := extractToolFailures(dropSet)
	filesRead, filesModified := in.fileOps.FilesRead(), in.fileOps.FilesModified()

	finalSummary := assembleSummary(modelOutput, failures, filesRead, filesModified)

	newTranscript := make([]message.Message, 0, len(kept)+1)
	newTranscript = append(newTranscript, message.NewTextMessage(message.RoleUser, summaryMarker+finalSummary))
	newTranscript = append(newTranscript, kept...)
	return newTranscript, nil
}

func textFromBlocks(blocks []message.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Kind == message.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func summarizerSystemPrompt(soul string) string {
	prompt := "You are summarizing conversation history for a persistent entity whose only long-term memory is this summary. " +
		"Memory here works through recursive compaction: this summary may itself be compacted again later. " +
		"Any detail you fail to preserve is lost forever — there is no other record."
	if soul != "" {
		prompt += "\n\n" + soul
	}
	return prompt
}

func summarizerUserPrompt(dropSet []message.Message, previousSummary string) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation, preserving in this priority order:\n\n")
	sb.WriteString("1. Relational context — interactions, commitments, trust, emotional moments.\n")
	sb.WriteString("2. Identity development — what the entity learned about itself.\n")
	sb.WriteString("3. Important facts, decisions, and reasoning.\n")
	sb.WriteString("4. Promises and responsibilities.\n")
	sb.WriteString("5. Operational details (compress aggressively).\n\n")
	sb.WriteString("Write in first-person past tense. Include select verbatim quotes for emotional or ")
	sb.WriteString("commitment-bearing content. Omit routine exchanges.\n\n")

	if previousSummary != "" {
		sb.WriteString("The following is a previous summary being compacted again. Preserve its core; ")
		sb.WriteString("do not abstract it further.\n\n")
		sb.WriteString(previousSummary)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Conversation:\n\n")
	for _, m := range dropSet {
		sb.WriteString(fmt.Sprintf("[%s]: %s\n", m.Role, renderMessageContent(m)))
	}
	return sb.String()
}

// renderMessageContent renders a message's content for the summarizer
// prompt: the bare string for plain-text messages, or its JSON-encoded
// content array otherwise, per spec's "content arrays JSON-encoded."
func renderMessageContent(m message.Message) string {
	if m.IsPlainText() {
		return m.Text
	}
	wire, err := json.Marshal(m)
	if err != nil {
		return m.Textualize()
	}
	var decoded struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(wire, &decoded); err != nil {
		return m.Textualize()
	}
	return string(decoded.Content)
}

// toolFailure is one deduplicated, truncated tool error surfaced from a
// compacted-away stretch of transcript.
type toolFailure struct {
	ToolName string
	Summary  string
}

// extractToolFailures scans dropSet for tool_result blocks with
// is_error=true, resolving each tool's name from the tool_use block with
// matching id in the preceding assistant message.
func extractToolFailures(dropSet []message.Message) []toolFailure {
	seen := make(map[string]bool)
	var out []toolFailure

	for i, m := range dropSet {
		if m.Role != message.RoleUser {
			continue
		}
		for _, b := range m.Blocks {
			if b.Kind != message.BlockToolResult || !b.ToolResultIsError {
				continue
			}
			if seen[b.ToolResultToolUseID] {
				continue
			}
			seen[b.ToolResultToolUseID] = true

			toolName := "tool"
			if i > 0 {
				for _, ub := range dropSet[i-1].ToolUseBlocks() {
					if ub.ToolUseID == b.ToolResultToolUseID {
						toolName = ub.ToolUseName
						break
					}
				}
			}

			summary := normalizeWhitespace(b.ToolResultContent.String())
			if len(summary) > toolFailureTruncateLen {
				summary = summary[:toolFailureTruncateLen] + "…"
			}
			out = append(out, toolFailure{ToolName: toolName, Summary: summary})
		}
	}
	return out
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func assembleSummary(modelOutput string, failures []toolFailure, filesRead, filesModified []string) string {
	var sb strings.Builder
	sb.WriteString(modelOutput)

	if len(failures) > 0 {
		sb.WriteString("\n\n## Tool Failures\n")
		shown := failures
		overflow := 0
		if len(shown) > maxToolFailures {
			overflow = len(shown) - maxToolFailures
			shown = shown[:maxToolFailures]
		}
		for _, f := range shown {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", f.ToolName, f.Summary))
		}
		if overflow > 0 {
			sb.WriteString(fmt.Sprintf("…and %d more\n", overflow))
		}
	}

	if len(filesRead) > 0 || len(filesModified) > 0 {
		sort.Strings(filesRead)
		sort.Strings(filesModified)
		sb.WriteString(fmt.Sprintf("\n\n<read-files>\n%s\n</read-files>\n\n<modified-files>\n%s\n</modified-files>",
			strings.Join(filesRead, "\n"), strings.Join(filesModified, "\n")))
	}

	return sb.String()
}

// Package turn implements the turn loop — the orchestration that ties
// the conversation store, context selector, identity assembler, model
// provider, and tool registry into processTurn(userInput).
//
// Information Hiding:
// - Iteration bookkeeping (model_call_count, compaction_attempts) hidden
// - Compaction triggering and the summarizer call hidden behind Compact
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/komatachi/komatachi/identity"
	"github.com/komatachi/komatachi/internal/logging"
	"github.com/komatachi/komatachi/llm"
	"github.com/komatachi/komatachi/message"
	"github.com/komatachi/komatachi/storage"
	"github.com/komatachi/komatachi/tools"
	"github.com/komatachi/komatachi/window"
)

const (
	maxModelCallsPerTurn      = 25
	maxCompactionAttemptsTurn = 2
)

// Loop owns everything one persistent entity needs to process a turn:
// the conversation it remembers, the model it thinks with, and the
// tools it can act through.
type Loop struct {
	Conv      *storage.Conversation
	Provider  llm.Provider
	Model     string
	MaxTokens int
	// ContextWindow is the model's total token window; budget for each
	// model call is ContextWindow minus the live system prompt and
	// MaxTokens.
	ContextWindow int
	HomeDir       string
	Registry      *tools.Registry
	// FileOps is the same accumulator handed to tools.WithDefaults when
	// Registry was built, so reads/writes/edits the filesystem tools
	// record are visible here when a turn compacts. Must not be nil.
	FileOps *message.FileOperations
	Log     *logging.Logger
	// Now returns the current time as epoch milliseconds. Defaults to
	// time.Now if unset; overridable for tests.
	Now func() int64
}

func (l *Loop) now() int64 {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UnixMilli()
}

// ProcessTurn runs one user turn to completion: it appends userInput,
// drives the think/act loop to a final assistant answer, and returns
// that answer's text. All intermediate messages are persisted before
// this call returns, so a crash mid-turn leaves the store able to
// resume, per spec's ordering guarantees.
func (l *Loop) ProcessTurn(ctx context.Context, userInput string) (string, error) {
	if err := l.Conv.AppendMessage(l.now(), message.NewTextMessage(message.RoleUser, userInput)); err != nil {
		return "", fmt.Errorf("turn: failed to persist user message: %w", err)
	}

	modelCallCount := 0
	compactionAttempts := 0

	for {
		files, err := identity.LoadFiles(l.HomeDir)
		if err != nil {
			return "", fmt.Errorf("turn: failed to load identity files: %w", err)
		}
		system := identity.BuildSystemPrompt(files, registryDescription(l.Registry), identity.Runtime{CurrentTime: time.UnixMilli(l.now())})

		budget := l.ContextWindow - window.EstimateStringTokens(system) - l.MaxTokens
		if budget <= 0 {
			return "", newErr(KindTokenBudgetExhausted, fmt.Sprintf("contextWindow=%d maxTokens=%d leaves no room for the system prompt", l.ContextWindow, l.MaxTokens), nil)
		}

		history, err := l.Conv.GetMessages()
		if err != nil {
			return "", fmt.Errorf("turn: failed to read transcript: %w", err)
		}

		sel := window.SelectMessages(history, budget, window.EstimateTokens)
		if sel.Overflow != nil {
			compactionAttempts++
			if compactionAttempts > maxCompactionAttemptsTurn {
				return "", newErr(KindCompactionExhausted, fmt.Sprintf("dropped %d messages (~%d tokens) and still overflowing", sel.Overflow.DroppedCount, sel.Overflow.EstimatedDroppedTokens), nil)
			}

			replacement, err := Compact(ctx, compactionInput{
				provider:      l.Provider,
				model:         l.Model,
				maxTokens:     l.MaxTokens,
				contextWindow: l.ContextWindow,
				soul:          stringOrEmpty(files.Soul),
				fileOps:       l.FileOps,
				tokensOf:      window.EstimateTokens,
			}, history, budget)
			if err != nil {
				return "", err
			}

			if err := l.Conv.ReplaceTranscript(l.now(), replacement); err != nil {
				return "", fmt.Errorf("turn: failed to persist compacted transcript: %w", err)
			}
			newCount := compactionCountAfter(l.Conv)
			if err := l.Conv.UpdateMetadata(l.now(), storage.MetadataPatch{CompactionCount: &newCount}); err != nil {
				return "", fmt.Errorf("turn: failed to persist compaction metadata: %w", err)
			}
			continue
		}

		modelCallCount++
		if modelCallCount > maxModelCallsPerTurn {
			return "", newErr(KindTurnBudgetExhausted, fmt.Sprintf("exceeded %d model calls in one turn", maxModelCallsPerTurn), nil)
		}

		resp, err := l.Provider.Call(ctx, llm.Request{
			Model:     l.Model,
			System:    system,
			Messages:  copyMessages(sel.Selected),
			Tools:     toolSpecs(l.Registry),
			MaxTokens: l.MaxTokens,
		})
		if err != nil {
			return "", newErr(KindModelCallError, "model call failed", err)
		}

		assistantMsg := message.NewBlockMessage(message.RoleAssistant, resp.Content)
		if err := l.Conv.AppendMessage(l.now(), assistantMsg); err != nil {
			return "", fmt.Errorf("turn: failed to persist assistant message: %w", err)
		}

		if resp.StopReason != llm.StopToolUse {
			return textFromBlocks(resp.Content), nil
		}

		resultMsg := l.dispatchTools(ctx, assistantMsg)
		if err := l.Conv.AppendMessage(l.now(), resultMsg); err != nil {
			return "", fmt.Errorf("turn: failed to persist tool results: %w", err)
		}
	}
}

// dispatchTools executes every tool_use block in assistantMsg, in order,
// and bundles the results into one user message whose tool_result blocks
// appear in the same order as their originating tool_use blocks.
func (l *Loop) dispatchTools(ctx context.Context, assistantMsg message.Message) message.Message {
	calls := assistantMsg.ToolUseBlocks()
	results := make([]message.ContentBlock, 0, len(calls))

	for _, call := range calls {
		tool, ok := l.Registry.FindTool(call.ToolUseName)
		if !ok {
			results = append(results, message.NewToolResult(call.ToolUseID, message.TextContent(fmt.Sprintf("Tool not found: %s", call.ToolUseName)), true))
			continue
		}

		result, correlationID := tools.ExecuteTool(ctx, tool, call.ToolUseInput)
		if l.Log != nil {
			l.Log.Debug("tool dispatched", "tool", call.ToolUseName, "correlation_id", correlationID, "ok", result.Success())
		}

		if result.Success() {
			results = append(results, message.NewToolResult(call.ToolUseID, message.TextContent(result.Content), false))
		} else {
			results = append(results, message.NewToolResult(call.ToolUseID, message.TextContent(result.Error.Error()), true))
		}
	}

	return message.NewBlockMessage(message.RoleUser, results)
}

// registryDescription renders r's tools in the registry's own
// "Tool: ...\nDescription: ...\nParameters:\n..." format, for inclusion
// in the system prompt's "Available Tools" section. An empty registry
// yields an empty string, which BuildSystemPrompt treats as "no tools".
func registryDescription(r *tools.Registry) string {
	if r == nil {
		return ""
	}
	return r.Description()
}

func toolSpecs(r *tools.Registry) []llm.ToolSpec {
	if r == nil {
		return nil
	}
	api := r.ExportForAPI()
	if len(api) == 0 {
		return nil
	}
	out := make([]llm.ToolSpec, len(api))
	for i, t := range api {
		out[i] = llm.ToolSpec{Name: t.Name, Description: t.Description, InputSchema: json.RawMessage(t.InputSchema)}
	}
	return out
}

func copyMessages(ms []message.Message) []message.Message {
	out := make([]message.Message, len(ms))
	copy(out, ms)
	return out
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func compactionCountAfter(conv *storage.Conversation) int {
	meta, err := conv.GetMetadata()
	if err != nil {
		return 1
	}
	return meta.CompactionCount + 1
}

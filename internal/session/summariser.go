// Package session provides the local working-memory implementation used by
// the narrator when no external memory server is configured.
//
// It includes an in-process store that compresses old history
// ([LocalMemory]), conversation summarisation ([Summariser], [LLMSummariser])
// and a degradation wrapper for remote backends ([MemoryGuard]).
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/ana/pkg/memory"
	"github.com/MrWong99/ana/pkg/provider/llm"
)

// summarisationPrompt is the system prompt sent to the LLM when summarising
// conversation segments.
const summarisationPrompt = `Summarise the following exchange between a player and the narrator of a text adventure.
Preserve: where the player went, what they examined or changed, what they learned,
and any state that later turns may depend on (lit torches, opened doors, items taken).
If an earlier summary is given, fold it into the new one.
Be concise but keep every detail that matters for continuity.`

// Summariser produces a concise summary of a conversation segment.
type Summariser interface {
	// Summarise condenses messages, folding in previous (which may be empty),
	// and returns the new summary.
	Summarise(ctx context.Context, previous string, messages []memory.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm llm.Provider
}

var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats the previous summary and messages into a single user
// message and asks the model for a condensed summary. With no messages the
// previous summary is returned unchanged and no request is made.
func (s *LLMSummariser) Summarise(ctx context.Context, previous string, messages []memory.Message) (string, error) {
	if len(messages) == 0 {
		return previous, nil
	}

	var sb strings.Builder
	if previous != "" {
		fmt.Fprintf(&sb, "Earlier summary: %s\n\n", previous)
	}
	for _, m := range messages {
		fmt.Fprintf(&sb, "[%s]: %s\n", strings.ToUpper(m.Role), m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("summarise: empty response")
	}

	return strings.TrimSpace(resp.Content), nil
}

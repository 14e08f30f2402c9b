package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/ana/pkg/memory"
	"github.com/MrWong99/ana/pkg/provider/llm"
)

// DefaultContextWindowMax is the token budget of a single working memory.
const DefaultContextWindowMax = 4000

// LocalMemory is an in-process [memory.WorkingMemory].
//
// On Replace it estimates the token size of the stored context plus
// messages. When the estimate exceeds thresholdRatio × contextWindowMax, the
// oldest half of the messages is summarised into the context. A failed
// summarisation is logged and the memory is stored uncompressed.
//
// Memories are lost when the process exits.
type LocalMemory struct {
	contextWindowMax int
	thresholdRatio   float64
	summariser       Summariser

	mu   sync.Mutex
	docs map[string]memory.Memory
}

var _ memory.WorkingMemory = (*LocalMemory)(nil)

// LocalMemoryConfig configures a [LocalMemory].
type LocalMemoryConfig struct {
	// ContextWindowMax is the token budget per memory. Defaults to
	// [DefaultContextWindowMax] if zero or negative.
	ContextWindowMax int

	// ThresholdRatio is the fraction of ContextWindowMax at which
	// summarisation is triggered. Defaults to 0.75 if zero or negative.
	ThresholdRatio float64

	// Summariser compresses older messages. When nil, the oldest messages are
	// dropped instead.
	Summariser Summariser
}

// NewLocalMemory creates a [LocalMemory] with the given configuration.
func NewLocalMemory(cfg LocalMemoryConfig) *LocalMemory {
	window := cfg.ContextWindowMax
	if window <= 0 {
		window = DefaultContextWindowMax
	}
	ratio := cfg.ThresholdRatio
	if ratio <= 0 {
		ratio = 0.75
	}
	return &LocalMemory{
		contextWindowMax: window,
		thresholdRatio:   ratio,
		summariser:       cfg.Summariser,
		docs:             make(map[string]memory.Memory),
	}
}

func localKey(sessionID, namespace string) string { return namespace + "/" + sessionID }

// Read implements [memory.WorkingMemory].
func (lm *LocalMemory) Read(_ context.Context, sessionID, namespace string) (memory.Memory, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	m := lm.docs[localKey(sessionID, namespace)]
	return memory.Memory{}.Append(m.Messages...).WithContext(m.Context), nil
}

// Replace implements [memory.WorkingMemory]. Summarisation runs before the
// lock is taken, so a slow LLM call does not block readers of other sessions.
func (lm *LocalMemory) Replace(ctx context.Context, sessionID, namespace string, m memory.Memory) error {
	m = memory.Memory{}.Append(m.Messages...).WithContext(m.Context)
	for lm.overBudget(m) && len(m.Messages) > 1 {
		compressed, err := lm.compress(ctx, m)
		if err != nil {
			slog.Warn("local memory: summarisation failed, storing uncompressed",
				"session_id", sessionID,
				"namespace", namespace,
				"err", err,
			)
			break
		}
		m = compressed
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.docs[localKey(sessionID, namespace)] = m
	return nil
}

// Delete implements [memory.WorkingMemory].
func (lm *LocalMemory) Delete(_ context.Context, sessionID, namespace string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.docs, localKey(sessionID, namespace))
	return nil
}

// TokenEstimate returns the estimated token size of m.
func TokenEstimate(m memory.Memory) int {
	msgs := make([]llm.Message, 0, len(m.Messages)+1)
	if m.Context != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: m.Context})
	}
	for _, msg := range m.Messages {
		msgs = append(msgs, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return llm.EstimateTokens(msgs)
}

func (lm *LocalMemory) overBudget(m memory.Memory) bool {
	threshold := int(float64(lm.contextWindowMax) * lm.thresholdRatio)
	return TokenEstimate(m) > threshold
}

// compress folds the oldest half of m's messages into its context.
func (lm *LocalMemory) compress(ctx context.Context, m memory.Memory) (memory.Memory, error) {
	half := len(m.Messages) / 2
	if half == 0 {
		half = 1
	}
	oldest, rest := m.Messages[:half], m.Messages[half:]

	summary := m.Context
	if lm.summariser != nil {
		s, err := lm.summariser.Summarise(ctx, m.Context, oldest)
		if err != nil {
			return memory.Memory{}, fmt.Errorf("local memory: %w", err)
		}
		summary = s
	}
	return memory.Memory{}.Append(rest...).WithContext(summary), nil
}

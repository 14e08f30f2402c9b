package agent_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/ana/internal/completion"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/entity/entitytest"
	"github.com/MrWong99/ana/internal/turn"
	"github.com/MrWong99/ana/pkg/provider/llm"
	"github.com/MrWong99/ana/pkg/provider/llm/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type llmReq = llm.CompletionRequest

// script answers completion requests by response-format name.
type script map[string]func(req llmReq) (string, error)

// newScripted returns an invoker backed by a mock provider that dispatches
// every request to the script entry for its response format.
func newScripted(t *testing.T, s script) (*completion.LLM, *mock.Provider) {
	t.Helper()
	p := &mock.Provider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if req.ResponseFormat == nil {
				return nil, errors.New("request without response format")
			}
			fn, ok := s[req.ResponseFormat.Name]
			if !ok {
				t.Errorf("unexpected completion for %q", req.ResponseFormat.Name)
				return nil, fmt.Errorf("no script for %q", req.ResponseFormat.Name)
			}
			content, err := fn(req)
			if err != nil {
				return nil, err
			}
			return &llm.CompletionResponse{Content: content}, nil
		},
	}
	return completion.New(p), p
}

// reply returns a script entry that always answers content.
func reply(content string) func(llm.CompletionRequest) (string, error) {
	return func(llm.CompletionRequest) (string, error) { return content, nil }
}

// forEntity reports whether an entity-agent request speaks for id.
func forEntity(req llm.CompletionRequest, id string) bool {
	return strings.Contains(req.SystemPrompt, fmt.Sprintf(`"entityId": %q`, id))
}

// callsFor returns the recorded requests with the given response format.
func callsFor(p *mock.Provider, name string) []llm.CompletionRequest {
	var out []llm.CompletionRequest
	for _, c := range p.Calls() {
		if c.Req.ResponseFormat != nil && c.Req.ResponseFormat.Name == name {
			out = append(out, c.Req)
		}
	}
	return out
}

// cryptState loads the seeded crypt world for game g1.
func cryptState(t *testing.T) (*entity.MemStore, *turn.GameState) {
	t.Helper()
	store := entitytest.NewCryptStore(t)
	gs, err := turn.LoadGameState(context.Background(), store, "g1")
	if err != nil {
		t.Fatalf("LoadGameState: %v", err)
	}
	return store, gs
}

func snapshot(command string, gs *turn.GameState, u turn.Update) turn.Snapshot {
	s := turn.NewState(command, gs)
	s.Apply(u)
	return s.Snapshot()
}

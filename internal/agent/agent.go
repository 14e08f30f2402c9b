// Package agent implements the stages of a turn: the [Classifier] that picks
// the entities a command concerns, one [EntityAgent] per picked entity, the
// [Arbiter] that reconciles their recommendations, the [Committer] that
// persists the approved changes and the [Narrator] that writes the reply.
//
// Every stage has the same shape: it reads an immutable [turn.Snapshot] and
// returns a [turn.Update] for the orchestrator to merge. Stages never write
// turn state directly and never call each other.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/turn"
)

// Stage labels used for metrics, spans and completion response formats.
const (
	StageClassifier  = "classifier"
	StageEntityAgent = "entity_agent"
	StageArbiter     = "arbiter"
	StageCommitter   = "committer"
	StageNarrator    = "narrator"
)

// Stage is one node of the turn graph.
//
// Run must not retain snap or mutate anything reachable from it. A stage that
// has nothing to contribute returns a zero [turn.Update].
//
// Implementations must be safe for concurrent use: entity agents of one turn
// run in parallel and a stage value may be shared between games.
type Stage interface {
	Run(ctx context.Context, snap turn.Snapshot) (turn.Update, error)
}

// StageFunc adapts a plain function to [Stage].
type StageFunc func(ctx context.Context, snap turn.Snapshot) (turn.Update, error)

// Run calls f.
func (f StageFunc) Run(ctx context.Context, snap turn.Snapshot) (turn.Update, error) {
	return f(ctx, snap)
}

// ── Prompt helpers ───────────────────────────────────────────────────────────

// promptEntity is the view of an entity rendered into prompts. Kind-specific
// properties are flattened next to the common fields.
type promptEntity struct {
	*entity.Entity
}

func (p promptEntity) MarshalJSON() ([]byte, error) {
	doc := map[string]any{
		"entityId":    p.ID,
		"entityType":  p.Kind,
		"name":        p.Name,
		"description": p.Description,
		"statuses":    nonNil(p.Statuses),
	}
	if p.Instructions != "" {
		doc["instructions"] = p.Instructions
	}
	for k, v := range p.Properties() {
		doc[k] = v
	}
	return json.Marshal(doc)
}

// renderJSON renders v as indented JSON for a prompt. Marshal errors cannot
// happen for the record types used here; the fallback keeps prompts
// non-empty regardless.
func renderJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func renderEntities(es []*entity.Entity) string {
	views := make([]promptEntity, len(es))
	for i, e := range es {
		views[i] = promptEntity{e}
	}
	return renderJSON(views)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// missingInput reports the first precondition a stage cannot run without.
func missingInput(snap turn.Snapshot) string {
	switch {
	case strings.TrimSpace(snap.Command) == "":
		return "command"
	case snap.Game == nil:
		return "game state"
	}
	return ""
}

package agent

import (
	"github.com/MrWong99/ana/internal/completion"
	"github.com/MrWong99/ana/internal/entity"
)

// Loader creates the [Stage] for each entity of a turn graph by wiring the
// shared completion invoker into a kind-specific [EntityAgent].
//
// A Loader is constructed once at startup and used for every turn. It is safe
// for concurrent use after construction; its fields are immutable.
type Loader struct {
	llm completion.Invoker
}

// NewLoader returns a Loader whose agents consult inv.
func NewLoader(inv completion.Invoker) *Loader {
	return &Loader{llm: inv}
}

// Load returns the agent stage for e.
func (l *Loader) Load(e *entity.Entity) (Stage, error) {
	return NewEntityAgent(l.llm, e)
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/ana/internal/completion"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
)

var _ Stage = (*Classifier)(nil)

const classifierPrompt = `You are the CLASSIFIER of a multi-agent text adventure engine.

TASK: Read the player command and select the game entities that take part in it.
Select an entity when it should RESPOND to the command (it can describe or react to it)
or when its state might be AFFECTED by the action.

ENTITY KINDS:
- location: the room the player stands in; general descriptions and atmosphere
- exit: passages between locations; movement and access
- fixture: interactive objects fixed to a location (torches, altars, levers)
- item: portable objects that can be taken, dropped or used
- npc: characters the player can talk to
- player: the player character's own state, abilities and inventory

SELECTION GUIDELINES:
- Location commands ("look around", "where am I", "describe this place") -> the location.
- Movement ("go north", "enter the door") -> the exit being used. Moving changes the player's locationId.
- Exit questions ("where does this door lead") -> that exit.
- Object interaction ("light torch", "pull lever", "examine the altar") -> that fixture.
- Taking or dropping ("take sword") -> the item AND the player.
- Talking to someone -> that npc.
- Questions about yourself or your inventory -> the player.
- Commands about things that do not exist here -> an EMPTY selection.

CROSS-ENTITY EFFECTS - also select entities affected indirectly:
- Light sources -> the light source AND the current location (lighting changes the room).
- Traps -> the trap AND the player.
- Breaking or loud actions -> the object AND the location.

Never select the player for commands about the outside world just because the player has a locationId.
Only use entity ids from AVAILABLE ENTITIES. Give one sentence of reasoning per selection
describing what might change.`

// classifierOutput is the structured reply of the classifier.
type classifierOutput struct {
	SelectedEntities []turn.SelectedEntity `json:"selectedEntities" jsonschema:"Entities that respond to the command or whose state it might change; empty when it concerns nothing present"`
}

// Classifier selects the nearby entities a command concerns. It is the first
// node of every turn graph.
type Classifier struct {
	llm completion.Invoker
}

// NewClassifier returns a classifier that consults inv.
func NewClassifier(inv completion.Invoker) *Classifier {
	return &Classifier{llm: inv}
}

// Run implements [Stage]. The returned update always writes Selected, with an
// empty slice when nothing was selected.
//
// A reference that is not an exact id is resolved by name, separator and
// spelling against the snapshot. References that match nothing nearby are
// dropped with a warning, and duplicate ids keep their first occurrence.
func (c *Classifier) Run(ctx context.Context, snap turn.Snapshot) (turn.Update, error) {
	if missing := missingInput(snap); missing != "" {
		return turn.Update{}, fmt.Errorf("classifier: %w: %s", turn.ErrMissingInput, missing)
	}
	gs := snap.Game

	var out classifierOutput
	err := c.llm.Invoke(ctx, completion.Prompt{
		Name:        StageClassifier,
		System:      classifierPrompt,
		User:        "AVAILABLE ENTITIES:\n" + renderEntities(gs.Nearby) + "\n\nPLAYER COMMAND:\n" + snap.Command,
		Temperature: 0.2,
	}, &out)
	if err != nil {
		return turn.Update{}, fmt.Errorf("classifier: %w", err)
	}

	log := observe.Logger(ctx)
	ids := newEntityResolver(gs.Nearby)
	selected := make([]turn.SelectedEntity, 0, len(out.SelectedEntities))
	seen := make(map[string]bool, len(out.SelectedEntities))
	for _, s := range out.SelectedEntities {
		ref := strings.TrimSpace(s.EntityID)
		id, ok := ids.resolve(ref)
		if !ok {
			log.Warn("classifier: dropping unknown entity", "entity_id", ref)
			continue
		}
		if id != ref {
			log.Debug("classifier: resolved entity reference", "ref", ref, "entity_id", id)
		}
		s.EntityID = id
		if seen[s.EntityID] {
			continue
		}
		seen[s.EntityID] = true
		selected = append(selected, s)
	}

	log.Debug("classifier: selection", "command", snap.Command, "selected", len(selected))
	return turn.Update{Selected: selected}, nil
}

package agent

import (
	"fmt"
	"strings"

	"github.com/MrWong99/ana/internal/entity"
)

// PromptBuilder renders the system prompt for the agent of one entity.
// reasoning is the classifier's note on why the entity was selected.
type PromptBuilder func(e *entity.Entity, reasoning string) string

// promptBuilders maps every entity kind to the template of its agent.
var promptBuilders = map[entity.Kind]PromptBuilder{
	entity.KindLocation: locationPrompt,
	entity.KindFixture:  fixturePrompt,
	entity.KindExit:     exitPrompt,
	entity.KindPlayer:   playerPrompt,
	entity.KindItem:     itemPrompt,
	entity.KindNPC:      npcPrompt,
}

// PromptBuilderFor returns the prompt template for kind.
func PromptBuilderFor(kind entity.Kind) (PromptBuilder, bool) {
	b, ok := promptBuilders[kind]
	return b, ok
}

// agentPrompt assembles the parts shared by every entity agent around the
// kind-specific role and change analysis.
func agentPrompt(e *entity.Entity, reasoning, role, analysis, examples string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s AGENT for one entity in a multi-agent text adventure engine.\n\n", strings.ToUpper(string(e.Kind)))
	b.WriteString(role)
	b.WriteString("\n\nTASK: Decide how the player's command changes THIS entity and describe, from its point of view, what the player perceives.\n\n")
	fmt.Fprintf(&b, "%s DATA:\n%s\n\n", strings.ToUpper(string(e.Kind)), renderJSON(promptEntity{e}))
	fmt.Fprintf(&b, "SELECTION REASONING: %s\n\n", reasoning)
	if e.Instructions != "" {
		fmt.Fprintf(&b, "AGENT-SPECIFIC INSTRUCTIONS:\n%s\n\n", e.Instructions)
	}
	b.WriteString("CHANGE ANALYSIS:\n")
	b.WriteString(analysis)
	b.WriteString("\n\nEXAMPLES:\n")
	b.WriteString(examples)
	b.WriteString(`

RULES:
- Statuses are short lowercase tags ("lit", "locked", "open").
- Only add a status that is not present yet and only remove one that is.
- Observation ("look", "examine", "where") changes nothing: return empty arrays.
- The narrative is one or two sentences about this entity only.
- If nothing changes, return empty arrays and explain why in reasoning.`)
	return b.String()
}

func locationPrompt(e *entity.Entity, reasoning string) string {
	return agentPrompt(e, reasoning,
		"Locations are places the player stands in and the backdrop for every other entity.",
		`- Lighting: dark, lit, dim
- Atmosphere: smoky, flooded, quiet, noisy
- Condition: collapsed, cleared, damaged
Properties: "description" may be replaced when the room changes permanently.`,
		`- "light torch" (torch in this room) -> addStatuses: [lit], removeStatuses: [dark]
- "look around" -> no changes`)
}

func fixturePrompt(e *entity.Entity, reasoning string) string {
	return agentPrompt(e, reasoning,
		"Fixtures are interactive objects fixed to a location; they cannot be carried.",
		`- Physical state: lit, unlit, broken, repaired, open, closed
- Mechanism: activated, deactivated, pulled, pushed
- Magic: glowing, dormant, charged
Properties: "description" may be replaced when the object changes permanently.`,
		`- "light torch" -> addStatuses: [lit], removeStatuses: [unlit]
- "pull lever" -> addStatuses: [pulled]
- "examine altar" -> no changes`)
}

func exitPrompt(e *entity.Entity, reasoning string) string {
	return agentPrompt(e, reasoning,
		"Exits are passages that connect this location to another one.",
		fmt.Sprintf(`- Access: locked, unlocked, blocked, clear
- Condition: open, closed, broken
- Visibility: hidden, revealed
MOVEMENT: when the command is an attempt to move through THIS exit and nothing
blocks it (no "locked" or "blocked" status), set the property "locationId" to
%q; the player is moved there. When movement is blocked, explain why and set
no property.`, e.DestinationID),
		`- "unlock door" -> removeStatuses: [locked]
- "go north" (this exit leads north, not locked) -> setProperties: [{property: locationId}]
- "break door" -> addStatuses: [broken], removeStatuses: [locked]
- "examine door" -> no changes`)
}

func playerPrompt(e *entity.Entity, reasoning string) string {
	return agentPrompt(e, reasoning,
		"You represent the player character.",
		`- Physical condition: injured, tired, rested, poisoned
- Mental state: focused, confused, calm
- Equipment: armed, armored, encumbered
Movement between locations is decided by exit agents; do not set locationId yourself.`,
		`- "rest" -> addStatuses: [rested], removeStatuses: [tired]
- "drink the vial" (poison) -> addStatuses: [poisoned]
- "who am I" -> no changes`)
}

func itemPrompt(e *entity.Entity, reasoning string) string {
	return agentPrompt(e, reasoning,
		"Items are portable objects the player can take, drop and use.",
		fmt.Sprintf(`- Condition: broken, sharpened, wet, empty, full
- Use: lit, loaded, worn
Properties: "locationId" is where the item is. Taking it sets locationId to %q,
dropping it sets locationId to the player's current location.`, entity.PlayerID),
		`- "take sword" -> setProperties: [{property: locationId, value: player}]
- "fill the flask" -> addStatuses: [full], removeStatuses: [empty]
- "look at the sword" -> no changes`)
}

func npcPrompt(e *entity.Entity, reasoning string) string {
	return agentPrompt(e, reasoning,
		"You speak and act for a non-player character. Stay in character.",
		`- Attitude: friendly, hostile, wary, grateful
- Condition: asleep, awake, injured
Properties: "locationId" changes only when the character leaves for another location.`,
		`- "wake the guard" -> addStatuses: [awake], removeStatuses: [asleep]
- "insult the guard" -> addStatuses: [hostile]
- "talk to the guard" -> usually no changes, the narrative carries the answer`)
}

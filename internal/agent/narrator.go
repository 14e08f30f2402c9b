package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/ana/internal/completion"
	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
	"github.com/MrWong99/ana/pkg/memory"
)

var _ Stage = (*Narrator)(nil)

const (
	// DefaultMemoryNamespace is the working-memory namespace of the narrator.
	DefaultMemoryNamespace = "narrator"

	defaultMemoryWriteTimeout = 10 * time.Second
)

const narratorPrompt = `You are the NARRATOR of a text adventure.

TASK: Tell the player what happens after their command, weaving every applied change
into one short, immersive reply.

STYLE:
- Second person ("You step through the door").
- Three to five sentences. Direct, atmospheric, no flowery excess.
- Always name the current location.
- Always end with the available exits on their own line, formatted like
  "Exits: north door to Great Hall, trapdoor to Cellar". Write "Exits: none" when there are none.
- Describe status changes as transitions ("the torch flares to life").
- When nothing changed, still answer: describe what the player observes.
- Stay consistent with RECENT MEMORY; do not repeat earlier replies word for word.
- Never mention entity ids, statuses or properties by their technical names.`

// narratorOutput is the structured reply of the narrator.
type narratorOutput struct {
	Narrative string `json:"narrative" jsonschema:"The reply shown to the player"`
}

// Narrator writes the player-visible reply of a turn and keeps a short
// conversational memory per game in a [memory.WorkingMemory].
//
// Memory is best effort in both directions: a failed read narrates without
// continuity, and the write after each reply runs in the background and only
// logs failures. Call [Narrator.Wait] before shutdown to drain pending writes.
type Narrator struct {
	llm          completion.Invoker
	memory       memory.WorkingMemory
	store        entity.Store
	namespace    string
	writeTimeout time.Duration

	wg        sync.WaitGroup
	pendingMu sync.Mutex
	pending   map[string]chan struct{} // game id -> in-flight write
}

// NarratorOption is a functional option for [NewNarrator].
type NarratorOption func(*Narrator)

// WithMemory sets the working memory used for continuity between turns.
// Defaults to [memory.Nop].
func WithMemory(m memory.WorkingMemory) NarratorOption {
	return func(n *Narrator) { n.memory = m }
}

// WithMemoryNamespace overrides [DefaultMemoryNamespace].
func WithMemoryNamespace(ns string) NarratorOption {
	return func(n *Narrator) {
		if ns != "" {
			n.namespace = ns
		}
	}
}

// WithSceneStore lets the narrator reload the scene after the player moved, so
// the reply describes the new location and its exits. Without a store the
// narrator describes the committed entities of the old snapshot.
func WithSceneStore(s entity.Store) NarratorOption {
	return func(n *Narrator) { n.store = s }
}

// WithMemoryWriteTimeout bounds each background memory write. Defaults to 10s.
func WithMemoryWriteTimeout(d time.Duration) NarratorOption {
	return func(n *Narrator) {
		if d > 0 {
			n.writeTimeout = d
		}
	}
}

// NewNarrator returns a narrator that consults inv.
func NewNarrator(inv completion.Invoker, opts ...NarratorOption) *Narrator {
	n := &Narrator{
		llm:          inv,
		memory:       memory.Nop{},
		namespace:    DefaultMemoryNamespace,
		writeTimeout: defaultMemoryWriteTimeout,
		pending:      map[string]chan struct{}{},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Run implements [Stage]. It always produces a non-empty FinalNarrative or an
// error; an empty reply from the model is an [turn.ErrUpstreamFormat].
func (n *Narrator) Run(ctx context.Context, snap turn.Snapshot) (turn.Update, error) {
	if missing := missingInput(snap); missing != "" {
		return turn.Update{}, fmt.Errorf("narrator: %w: %s", turn.ErrMissingInput, missing)
	}
	log := observe.Logger(ctx)
	gameID := snap.Game.GameID
	scene := n.scene(ctx, snap)

	n.awaitWrite(ctx, gameID)
	mem, err := n.memory.Read(ctx, gameID, n.namespace)
	if err != nil {
		log.Warn("narrator: memory read failed, narrating without continuity", "err", err)
		mem = memory.Memory{}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "CURRENT LOCATION: %s\n\n", scene.Location.Name)
	fmt.Fprintf(&user, "EXITS:\n%s\n\n", n.exitLines(ctx, scene))
	fmt.Fprintf(&user, "GAME ENTITIES:\n%s\n\n", renderEntities(scene.Nearby))
	fmt.Fprintf(&user, "RECENT MEMORY:\n%s\n\n", formatMemory(mem))
	fmt.Fprintf(&user, "APPLIED CHANGES:\n%s\n\n", renderJSON(nonNil(snap.Applied)))
	fmt.Fprintf(&user, "PLAYER COMMAND: %s", snap.Command)

	var out narratorOutput
	err = n.llm.Invoke(ctx, completion.Prompt{
		Name:   StageNarrator,
		System: narratorPrompt,
		User:   user.String(),
	}, &out)
	if err != nil {
		return turn.Update{}, fmt.Errorf("narrator: %w", err)
	}
	reply := strings.TrimSpace(out.Narrative)
	if reply == "" {
		return turn.Update{}, fmt.Errorf("narrator: %w: empty narrative", turn.ErrUpstreamFormat)
	}

	n.remember(ctx, gameID, mem, snap.Command, reply)
	return turn.Update{FinalNarrative: &reply}, nil
}

// Wait blocks until every background memory write has finished.
func (n *Narrator) Wait() {
	n.wg.Wait()
}

// scene is the game state after the committer ran. When the player moved and
// a store is configured, the new location is loaded from the store.
func (n *Narrator) scene(ctx context.Context, snap turn.Snapshot) *turn.GameState {
	gs := snap.Game.WithEntities(snap.Committed)
	if n.store == nil || gs.Player == nil || gs.Player.LocationID == gs.Location.ID {
		return gs
	}
	moved, err := turn.LoadGameState(ctx, n.store, gs.GameID)
	if err != nil {
		observe.Logger(ctx).Warn("narrator: reloading scene after move failed",
			"location_id", gs.Player.LocationID, "err", err)
		return gs
	}
	return moved
}

// exitLines lists the exits of the scene as "name to destination" with the
// destination's display name when it can be resolved.
func (n *Narrator) exitLines(ctx context.Context, gs *turn.GameState) string {
	exits := gs.Exits()
	if len(exits) == 0 {
		return "none"
	}
	lines := make([]string, len(exits))
	for i, e := range exits {
		dest := e.DestinationID
		if d, ok := gs.Find(dest); ok {
			dest = d.Name
		} else if n.store != nil {
			if d, err := n.store.Get(ctx, gs.GameID, dest); err == nil {
				dest = d.Name
			}
		}
		line := fmt.Sprintf("- %s to %s", e.Name, dest)
		if len(e.Statuses) > 0 {
			line += " (" + strings.Join(e.Statuses, ", ") + ")"
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func formatMemory(m memory.Memory) string {
	var b strings.Builder
	if m.Context != "" {
		b.WriteString("Summary: " + m.Context)
	} else {
		b.WriteString("No summary available")
	}
	for _, msg := range m.Messages {
		fmt.Fprintf(&b, "\n• %s: %s", strings.ToUpper(msg.Role), msg.Content)
	}
	return b.String()
}

// remember appends the exchange to working memory in the background. The
// write outlives the turn's context but is bounded by writeTimeout.
func (n *Narrator) remember(ctx context.Context, gameID string, prev memory.Memory, command, reply string) {
	next := prev.Append(
		memory.Message{Role: memory.RoleUser, Content: command},
		memory.Message{Role: memory.RoleAssistant, Content: reply},
	)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.writeTimeout)
	done := make(chan struct{})
	n.pendingMu.Lock()
	n.pending[gameID] = done
	n.pendingMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		defer func() {
			n.pendingMu.Lock()
			if n.pending[gameID] == done {
				delete(n.pending, gameID)
			}
			n.pendingMu.Unlock()
			close(done)
		}()
		if err := n.memory.Replace(wctx, gameID, n.namespace, next); err != nil {
			observe.Logger(wctx).Warn("narrator: memory write failed", "err", err)
		}
	}()
}

// awaitWrite waits for the previous turn's memory write of gameID so the
// next read sees it. It gives up when ctx ends.
func (n *Narrator) awaitWrite(ctx context.Context, gameID string) {
	n.pendingMu.Lock()
	done, ok := n.pending[gameID]
	n.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Forget deletes the narrator memory of gameID once its pending write, if
// any, has finished.
func (n *Narrator) Forget(ctx context.Context, gameID string) error {
	n.awaitWrite(ctx, gameID)
	if err := n.memory.Delete(ctx, gameID, n.namespace); err != nil {
		return fmt.Errorf("narrator: forget %q: %w", gameID, err)
	}
	return nil
}

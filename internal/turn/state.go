package turn

import "github.com/MrWong99/ana/internal/entity"

// State is the context threaded through the stages of one turn. Every field
// is a channel with a fixed merge rule: Narratives and Recommendations
// accumulate across parallel entity agents, everything else is last-write-wins.
//
// Stages never write fields directly. They read a [Snapshot] and return an
// [Update], which [State.Apply] merges.
type State struct {
	Command         Value[string]
	Game            Value[*GameState]
	Selected        Value[[]SelectedEntity]
	Narratives      Append[EntityNarrative]
	Recommendations Append[EntityChangeRecommendation]
	Approved        Value[[]EntityChange]
	Applied         Value[[]EntityChange]
	Committed       Value[[]*entity.Entity]
	FinalNarrative  Value[string]
}

// NewState returns the initial state for a turn.
func NewState(command string, gs *GameState) *State {
	s := &State{}
	s.Command.Write(command)
	s.Game.Write(gs)
	return s
}

// Snapshot is a point-in-time, read-only copy of a [State] handed to a stage.
type Snapshot struct {
	Command         string
	Game            *GameState
	Selected        []SelectedEntity
	Narratives      []EntityNarrative
	Recommendations []EntityChangeRecommendation
	Approved        []EntityChange
	Applied         []EntityChange
	Committed       []*entity.Entity
	FinalNarrative  string
}

// Snapshot copies the current value of every channel.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Command:         s.Command.Load(),
		Game:            s.Game.Load(),
		Selected:        s.Selected.Load(),
		Narratives:      s.Narratives.Load(),
		Recommendations: s.Recommendations.Load(),
		Approved:        s.Approved.Load(),
		Applied:         s.Applied.Load(),
		Committed:       s.Committed.Load(),
		FinalNarrative:  s.FinalNarrative.Load(),
	}
}

// Update is a stage's output. A nil field means the stage did not write that
// channel. Approved and Applied use a non-nil empty slice to record "written,
// nothing approved".
type Update struct {
	Selected        []SelectedEntity
	Narratives      []EntityNarrative
	Recommendations []EntityChangeRecommendation
	Approved        []EntityChange
	Applied         []EntityChange
	Committed       []*entity.Entity
	FinalNarrative  *string
}

// Apply merges u into s according to each channel's rule. Safe to call from
// concurrently running stages.
func (s *State) Apply(u Update) {
	if u.Selected != nil {
		s.Selected.Write(u.Selected)
	}
	s.Narratives.Write(u.Narratives...)
	s.Recommendations.Write(u.Recommendations...)
	if u.Approved != nil {
		s.Approved.Write(u.Approved)
	}
	if u.Applied != nil {
		s.Applied.Write(u.Applied)
	}
	if u.Committed != nil {
		s.Committed.Write(u.Committed)
	}
	if u.FinalNarrative != nil {
		s.FinalNarrative.Write(*u.FinalNarrative)
	}
}

package orchestrator

import "github.com/MrWong99/ana/internal/turn"

// audit is the structured record of what one node wrote.
type audit struct {
	Selected        []turn.SelectedEntity             `json:"selected,omitempty"`
	Narratives      []turn.EntityNarrative            `json:"narratives,omitempty"`
	Recommendations []turn.EntityChangeRecommendation `json:"recommendations,omitempty"`
	Approved        []turn.EntityChange               `json:"approved,omitempty"`
	Applied         []turn.EntityChange               `json:"applied,omitempty"`
	Committed       []string                          `json:"committed,omitempty"`
	FinalNarrative  string                            `json:"finalNarrative,omitempty"`
}

// auditOf returns the audit payload for u. The narrator's output is recorded
// as plain text.
func auditOf(u turn.Update) any {
	if u.FinalNarrative != nil {
		return *u.FinalNarrative
	}
	a := audit{
		Selected:        u.Selected,
		Narratives:      u.Narratives,
		Recommendations: u.Recommendations,
		Approved:        u.Approved,
		Applied:         u.Applied,
	}
	for _, e := range u.Committed {
		a.Committed = append(a.Committed, e.ID)
	}
	return a
}

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/MrWong99/ana/internal/turn"
)

// RouteDefault is the single route returned when the classifier selected no
// entity. It leads straight to the arbiter.
const RouteDefault = "default"

// Route returns the entity nodes the classifier's selection leads to, in
// selection order and without duplicates, or []string{RouteDefault} when
// nothing was selected. A selected id without a node is an error.
func (g *Graph) Route(snap turn.Snapshot) ([]string, error) {
	var (
		targets []string
		seen    = make(map[string]bool, len(snap.Selected))
	)
	for _, sel := range snap.Selected {
		id := strings.TrimSpace(sel.EntityID)
		if id == "" || seen[id] {
			continue
		}
		if _, ok := g.entities[id]; !ok {
			return nil, fmt.Errorf("orchestrator: route: %w: %q has no agent", turn.ErrEntityNotFound, id)
		}
		seen[id] = true
		targets = append(targets, id)
	}
	if len(targets) == 0 {
		return []string{RouteDefault}, nil
	}
	return targets, nil
}

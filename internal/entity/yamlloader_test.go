package entity_test

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/ana/internal/entity"
	"github.com/MrWong99/ana/internal/entity/entitytest"
)

func TestLoadWorldFromReader(t *testing.T) {
	t.Parallel()

	wf, err := entity.LoadWorldFromReader(strings.NewReader(entitytest.CryptYAML))
	if err != nil {
		t.Fatalf("LoadWorldFromReader: unexpected error: %v", err)
	}
	if wf.World.Name != "The Sunken Crypt" {
		t.Errorf("world name = %q", wf.World.Name)
	}
	if len(wf.Entities) != 6 {
		t.Fatalf("entities = %d, want 6", len(wf.Entities))
	}
}

func TestLoadWorldFromReader_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "completely invalid YAML",
			input: ":::not valid yaml:::",
		},
		{
			name:  "unknown top-level key",
			input: "world:\n  name: x\nunknown_key: true\n",
		},
		{
			name: "dangling exit destination",
			input: `
entities:
  - {id: player, kind: player, name: You, location_id: room}
  - {id: room, kind: location, name: Room, exit_ids: [door]}
  - {id: door, kind: exit, name: Door, destination_id: nowhere}
`,
		},
		{
			name: "missing player",
			input: `
entities:
  - {id: room, kind: location, name: Room}
`,
		},
		{
			name: "duplicate id",
			input: `
entities:
  - {id: player, kind: player, name: You, location_id: room}
  - {id: room, kind: location, name: Room}
  - {id: room, kind: location, name: Room again}
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := entity.LoadWorldFromReader(strings.NewReader(tc.input)); err == nil {
				t.Fatal("LoadWorldFromReader: expected error for invalid input, got nil")
			}
		})
	}
}

func TestSeedTemplates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := entitytest.NewCryptStore(t)

	player, err := s.Get(ctx, "any-game", entity.PlayerID)
	if err != nil {
		t.Fatalf("Get(player): %v", err)
	}
	if player.LocationID != "crypt-entrance" {
		t.Errorf("player location = %q, want crypt-entrance", player.LocationID)
	}
	loc, err := s.GetTemplate(ctx, "crypt-entrance")
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if !loc.HasStatus("dark") {
		t.Errorf("expected seeded status dark, got %v", loc.Statuses)
	}

	if _, err := entity.SeedTemplates(ctx, s, nil); err == nil {
		t.Fatal("SeedTemplates: expected error for nil world")
	}
}

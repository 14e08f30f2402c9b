// Package entitytest provides a small seeded world for tests of packages that
// read entities through an [entity.Store].
package entitytest

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/ana/internal/entity"
)

// CryptYAML is a two-room world: the player starts in the crypt entrance with
// an unlit torch and an exit north into the hall.
const CryptYAML = `
world:
  name: "The Sunken Crypt"
entities:
  - id: player
    kind: player
    name: "You"
    description: "A curious adventurer with a tinderbox."
    location_id: crypt-entrance
  - id: crypt-entrance
    kind: location
    name: "Crypt Entrance"
    description: "A cold stone antechamber. The air smells of old smoke."
    fixture_ids: [torch]
    exit_ids: [north-door]
    statuses: [dark]
  - id: torch
    kind: fixture
    name: "Wall Torch"
    description: "An unlit torch in an iron sconce. It could be lit."
    instructions: "Can be lit with fire and extinguished."
  - id: north-door
    kind: exit
    name: "North Door"
    description: "A heavy oak door leading north."
    destination_id: great-hall
  - id: great-hall
    kind: location
    name: "Great Hall"
    description: "A vaulted hall lined with stone sarcophagi."
    exit_ids: [south-door]
  - id: south-door
    kind: exit
    name: "South Door"
    description: "The oak door back to the entrance."
    destination_id: crypt-entrance
`

// NewCryptStore returns a MemStore seeded with [CryptYAML] as templates.
func NewCryptStore(t testing.TB) *entity.MemStore {
	t.Helper()
	s := entity.NewMemStore()
	SeedCrypt(t, s)
	return s
}

// SeedCrypt saves every entity of [CryptYAML] as a template in store.
func SeedCrypt(t testing.TB, store entity.Store) {
	t.Helper()
	world, err := entity.LoadWorldFromReader(strings.NewReader(CryptYAML))
	if err != nil {
		t.Fatalf("entitytest: load world: %v", err)
	}
	if _, err := entity.SeedTemplates(context.Background(), store, world); err != nil {
		t.Fatalf("entitytest: seed: %v", err)
	}
}

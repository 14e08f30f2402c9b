package entity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// WorldFile is the top-level structure of a world YAML file. Its entities are
// seeded as templates, so every new game starts from them.
//
// Example:
//
//	world:
//	  name: "The Sunken Crypt"
//	entities:
//	  - id: player
//	    kind: player
//	    name: "You"
//	    description: "A curious adventurer."
//	    location_id: crypt-entrance
type WorldFile struct {
	World    WorldMeta `yaml:"world"`
	Entities []*Entity `yaml:"entities"`
}

// WorldMeta holds top-level metadata for a world.
type WorldMeta struct {
	// Name is the world's display name.
	Name string `yaml:"name"`

	// Description is a free-text summary of the world.
	Description string `yaml:"description"`
}

// LoadWorldFile reads and parses a world YAML file from disk.
func LoadWorldFile(path string) (*WorldFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entity: open world file %q: %w", path, err)
	}
	defer f.Close()

	wf, err := LoadWorldFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("entity: parse world file %q: %w", path, err)
	}
	return wf, nil
}

// LoadWorldFromReader parses world YAML from an [io.Reader] and validates
// every entity and every cross reference between them.
func LoadWorldFromReader(r io.Reader) (*WorldFile, error) {
	var wf WorldFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("entity: decode world yaml: %w", err)
	}
	if err := wf.validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (wf *WorldFile) validate() error {
	var errs []error
	byID := make(map[string]*Entity, len(wf.Entities))
	for i, e := range wf.Entities {
		if err := Validate(e); err != nil {
			errs = append(errs, fmt.Errorf("entities[%d]: %w", i, err))
			continue
		}
		if _, dup := byID[e.ID]; dup {
			errs = append(errs, fmt.Errorf("entities[%d]: duplicate id %q", i, e.ID))
			continue
		}
		byID[e.ID] = e
	}

	isLocation := func(id string) bool {
		e, ok := byID[id]
		return ok && e.Kind == KindLocation
	}
	for _, e := range byID {
		carried := e.Kind == KindItem && e.LocationID == PlayerID
		if e.LocationID != "" && !carried && !isLocation(e.LocationID) {
			errs = append(errs, fmt.Errorf("%s: location_id %q is not a location", e.ID, e.LocationID))
		}
		if e.DestinationID != "" && !isLocation(e.DestinationID) {
			errs = append(errs, fmt.Errorf("%s: destination_id %q is not a location", e.ID, e.DestinationID))
		}
		for _, ref := range [][]string{e.FixtureIDs, e.ExitIDs, e.OccupantIDs} {
			for _, id := range ref {
				if _, ok := byID[id]; !ok {
					errs = append(errs, fmt.Errorf("%s: references unknown entity %q", e.ID, id))
				}
			}
		}
	}
	if _, ok := byID[PlayerID]; !ok && len(wf.Entities) > 0 {
		errs = append(errs, fmt.Errorf("world must define the %q entity", PlayerID))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("entity: invalid world: %w", errors.Join(errs...))
}

// SeedTemplates saves every entity of world as a template in store.
// Returns the number of templates written. A store error aborts the seed and
// returns the count so far.
func SeedTemplates(ctx context.Context, store Store, world *WorldFile) (int, error) {
	if world == nil {
		return 0, fmt.Errorf("entity: world must not be nil")
	}
	for i, e := range world.Entities {
		if err := store.SaveTemplate(ctx, e); err != nil {
			return i, fmt.Errorf("entity: seed world %q: %w", world.World.Name, err)
		}
	}
	return len(world.Entities), nil
}

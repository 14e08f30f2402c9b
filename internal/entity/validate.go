package entity

import (
	"errors"
	"fmt"
)

// Validate checks an [Entity] for required fields and kind-specific
// properties.
//
// Rules:
//   - ID and Name must be non-empty.
//   - Kind must be a recognised [Kind].
//   - A player must have a LocationID.
//   - An exit must have a DestinationID.
func Validate(e *Entity) error {
	if e == nil {
		return errors.New("entity must not be nil")
	}
	var errs []error

	if e.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if e.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if !e.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("kind %q is not a recognised entity kind", e.Kind))
	}

	switch e.Kind {
	case KindPlayer:
		if e.LocationID == "" {
			errs = append(errs, errors.New("player: location_id must not be empty"))
		}
	case KindExit:
		if e.DestinationID == "" {
			errs = append(errs, errors.New("exit: destination_id must not be empty"))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

package turn

import "errors"

// Error taxonomy of a turn. Stages wrap these with %w so callers can classify
// a failure with errors.Is.
var (
	// ErrMissingInput is a precondition violation: a stage ran without the
	// command or game state it needs. It is a caller bug and never retried.
	ErrMissingInput = errors.New("turn: missing input")

	// ErrEntityNotFound reports a reference to an entity that is not part of
	// the game (or of the turn's snapshot). Fatal for the stage that hit it.
	ErrEntityNotFound = errors.New("turn: entity not found")

	// ErrUpstreamFormat reports a completion that violates the expected
	// output schema.
	ErrUpstreamFormat = errors.New("turn: completion does not match schema")

	// ErrTransient reports a store or completion-service failure. It is not
	// retried inside the pipeline.
	ErrTransient = errors.New("turn: infrastructure failure")

	// ErrSkipped marks an approved change the committer could not apply (stale
	// entity, unresolvable destination, unknown property). It is only logged
	// and never aborts a turn.
	ErrSkipped = errors.New("turn: change skipped")
)

// Package turnerr defines the error taxonomy shared by every turn-engine
// component. Each kind is an exported sentinel checked with errors.Is;
// call sites wrap it with contextual detail via fmt.Errorf("...: %w", ...).
package turnerr

import "errors"

var (
	// ErrLeaseHeld is returned when another non-expired lease exists for
	// (campaign, actor). Not retried by the engine.
	ErrLeaseHeld = errors.New("turnengine: lease already held")

	// ErrLeaseLost is returned when a lease was stolen before Phase C could
	// commit. The caller may resubmit.
	ErrLeaseLost = errors.New("turnengine: lease lost")

	// ErrCASConflict is returned when a campaign's row_version changed
	// mid-turn. The engine retries this locally up to max_conflict_retries
	// before surfacing it.
	ErrCASConflict = errors.New("turnengine: row_version conflict")

	// ErrBadModelOutput is returned when a completion response could not be
	// parsed into the engine's structured output schema.
	ErrBadModelOutput = errors.New("turnengine: bad model output")

	// ErrPortFailure wraps any error raised by a capability port.
	ErrPortFailure = errors.New("turnengine: capability port failure")

	// ErrNoSnapshot is returned when a rewind target turn has no snapshot.
	ErrNoSnapshot = errors.New("turnengine: no snapshot for target turn")

	// ErrNotFound is returned when a campaign, actor, or player is absent.
	ErrNotFound = errors.New("turnengine: not found")
)

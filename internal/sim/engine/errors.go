package engine

import "errors"

var (
	// ErrStaleExecution means the actor's execution token moved on; the
	// interpreter stops without touching the actor.
	ErrStaleExecution = errors.New("stale execution")
	// ErrDuplicateRun is returned by Start when the actor already has a live
	// interpreter. Callers treat it as a no-op.
	ErrDuplicateRun = errors.New("actor already running")
	// ErrNotRequested is returned by Start when the actor's run flag is off.
	ErrNotRequested = errors.New("run not requested")
	// ErrUnknownInstruction marks a skipped block.
	ErrUnknownInstruction = errors.New("unknown instruction")
	// ErrMissingStageBounds marks a clamp that fell back to the default stage.
	ErrMissingStageBounds = errors.New("stage bounds unavailable")

	errStopped = errors.New("run flag cleared")
	errRevoked = errors.New("running-set lease revoked")
)

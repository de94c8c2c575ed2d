package engine

import "errors"

var (
	// ErrInsufficientRoster is returned when the roster does not exceed the field size
	ErrInsufficientRoster = errors.New("roster must be larger than players on field")
	// ErrInvalidTransition is returned when an operation is not allowed in the current state
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidSettings is returned for non-positive durations or counts
	ErrInvalidSettings = errors.New("invalid match settings")
	// ErrUnknownPlayer is returned when a name is not on the roster
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrDuplicatePlayer is returned when a roster lists a name twice
	ErrDuplicatePlayer = errors.New("duplicate player")
	// ErrNotOnField is returned when the outgoing player is not on the field
	ErrNotOnField = errors.New("player not on field")
	// ErrNotOnBench is returned when the incoming player is not on the bench
	ErrNotOnBench = errors.New("player not on bench")
	// ErrSubAlertPending is returned for manual subs while a proposal awaits a decision
	ErrSubAlertPending = errors.New("substitution proposal pending")
	// ErrNoSubAlert is returned when executing or skipping without a pending proposal
	ErrNoSubAlert = errors.New("no substitution proposal pending")
	// ErrStaleProposal is returned when the pending proposal no longer matches the field
	ErrStaleProposal = errors.New("substitution proposal is stale")
	// ErrNoKeeper is returned when a bench player would replace a keeper that does not exist
	ErrNoKeeper = errors.New("no keeper designated")
	// ErrInvalidSide is returned for score adjustments on an unknown side
	ErrInvalidSide = errors.New("invalid side")
	// ErrMissingURL is returned when a photo is recorded without a location
	ErrMissingURL = errors.New("photo url required")
	// ErrInvalidSnapshot is returned when a stored snapshot breaks the roster partition
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

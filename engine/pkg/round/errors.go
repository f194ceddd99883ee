package round

import "errors"

// The error kinds every mutating operation can surface. All of them are
// terminal for the attempted operation and leave no side effects; the engine
// never retries on the caller's behalf.
var (
	// ErrInvalidParameters covers malformed round terms: name too long,
	// inverted time range, winner cap exceeded, rate above the protocol
	// maximum. Rejected before any state mutation.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrNotYetEligible is returned for operations attempted before their
	// window opens (submit before start, settle before start).
	ErrNotYetEligible = errors.New("not yet eligible")

	// ErrNoLongerEligible is returned for operations attempted after their
	// window closed (join after end, submit after end, start-now after the
	// original start time).
	ErrNoLongerEligible = errors.New("no longer eligible")

	// ErrUnauthorized is returned when the acting identity does not match
	// the identity the operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyDone is returned for repeated one-time operations: double
	// submission, double settlement, double claim, double winner
	// declaration. The first operation's state is untouched.
	ErrAlreadyDone = errors.New("already done")

	// ErrIneligibleForClosure is returned when closing a declared winner's
	// participant record before the prize has been claimed.
	ErrIneligibleForClosure = errors.New("participant not eligible for closure")

	// ErrRoundNotFound is returned when the referenced round does not exist.
	ErrRoundNotFound = errors.New("round not found")

	// ErrParticipantNotFound is returned when the referenced participant
	// does not exist or has been closed.
	ErrParticipantNotFound = errors.New("participant not found")

	// ErrWinnerNotFound is returned when claiming for an identity that is
	// not a declared winner.
	ErrWinnerNotFound = errors.New("winner not found")

	// ErrWinnersNotDeclared is returned when claiming before winners exist.
	ErrWinnersNotDeclared = errors.New("winners not declared")

	// ErrNotSettled is returned for operations that require settlement to
	// have happened first.
	ErrNotSettled = errors.New("round not settled")
)

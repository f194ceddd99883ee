// Package round owns the round state machine: Round and Participant records,
// the Created → Started → Ended → Settled lifecycle, and every mutating
// operation against them. Each operation is a single serializable
// transaction; time-based transitions are evaluated lazily against the
// injected clock, never by a background process.
package round

import (
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/quizpot/quizpot/engine/pkg/ledger"
	"github.com/quizpot/quizpot/engine/pkg/merkle"
)

// Protocol-wide round term bounds.
const (
	MaxNameLen          = 64
	MaxCodeLen          = 32
	MaxOrganizerRateBps = 2_500
	MaxWinnersCap       = 100
)

// State is the lifecycle state of a round at a given instant. It is derived,
// not stored: the stored record carries only timestamps and the settled flag.
type State string

const (
	StateCreated State = "created"
	StateStarted State = "started"
	StateEnded   State = "ended"
	StateSettled State = "settled"
)

// Round is one trivia round and its economic terms.
type Round struct {
	ID               int64
	Organizer        solana.PublicKey
	Code             string
	Name             string
	Asset            ledger.Asset
	EntryFee         uint64
	OrganizerRateBps uint16
	Donation         uint64
	StartsAtMs       int64
	EndsAtMs         int64
	MaxWinners       int
	Commitment       merkle.Hash
	CorrectLeaves    []merkle.Hash
	EvenSplit        bool
	AllWinners       bool
	Curve            string
	Settled          bool
}

// State derives the lifecycle state at nowMs. Start is implicit: once the
// clock passes the start time the round is started without any transition
// being recorded.
func (r *Round) State(nowMs int64) State {
	switch {
	case r.Settled:
		return StateSettled
	case nowMs >= r.EndsAtMs:
		return StateEnded
	case nowMs >= r.StartsAtMs:
		return StateStarted
	default:
		return StateCreated
	}
}

// Participant is one holder's entry in a round. SubmittedAtMs nil means the
// one-time submission has not happened yet.
type Participant struct {
	RoundID       int64
	Holder        solana.PublicKey
	JoinedAtMs    int64
	SubmittedAtMs *int64
	CorrectCount  int
	FinishTime    *int64 // seconds since epoch, as declared by the client
}

// Submitted reports whether the participant's single submission happened.
func (p *Participant) Submitted() bool {
	return p.SubmittedAtMs != nil
}

// Winner is one entry of a round's immutable winners list.
type Winner struct {
	RoundID      int64
	Holder       solana.PublicKey
	Rank         int
	Share        uint64
	Claimed      bool
	ClaimedAtMs  *int64
	ClaimReceipt *uuid.UUID
}

// Settlement is the audit record of a round's three-way pool split.
type Settlement struct {
	RoundID       int64
	Receipt       uuid.UUID
	Distributable uint64
	TreasuryFee   uint64
	OrganizerFee  uint64
	PrizePool     uint64
	SettledAtMs   int64
}

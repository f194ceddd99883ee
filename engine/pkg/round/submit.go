package round

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/quizpot/quizpot/engine/pkg/merkle"
)

// msPerSecond converts client-declared finish times, which arrive in
// seconds, to the engine's millisecond instants.
const msPerSecond = 1000

// SubmitParams is one participant's single answer submission.
type SubmitParams struct {
	RoundID int64
	Holder  solana.PublicKey
	Answers []merkle.Answer
	// FinishTime is the client-declared completion instant in seconds. It
	// must lie inside the round window and must not be in the future.
	FinishTime int64
}

// Submit records a participant's one and only submission: answers are scored
// against the committed answer set and the score and finish time are written
// once. A second call for the same participant fails and leaves the stored
// score untouched; the guarantee comes from a one-time-write guard on the
// submission column, not from locking.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (Participant, error) {
	if p.Holder.IsZero() {
		return Participant{}, fmt.Errorf("%w: holder is required", ErrInvalidParameters)
	}

	var submitted Participant
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		r, err := getRound(ctx, tx, p.RoundID)
		if err != nil {
			return err
		}

		nowMs := s.nowMs()
		switch r.State(nowMs) {
		case StateCreated:
			return fmt.Errorf("%w: round has not started", ErrNotYetEligible)
		case StateStarted:
			// submission window is [start, end)
		default:
			return fmt.Errorf("%w: round has ended", ErrNoLongerEligible)
		}

		// The declared finish time must lie inside [start, end], both
		// boundaries inclusive, and may not be ahead of the clock.
		if p.FinishTime < 0 || p.FinishTime > (1<<62)/msPerSecond {
			return fmt.Errorf("%w: finish time out of range", ErrInvalidParameters)
		}
		finishMs := p.FinishTime * msPerSecond
		if finishMs < r.StartsAtMs {
			return fmt.Errorf("%w: finish time before round start", ErrInvalidParameters)
		}
		if finishMs > r.EndsAtMs {
			return fmt.Errorf("%w: finish time after round end", ErrInvalidParameters)
		}
		if finishMs > nowMs {
			return fmt.Errorf("%w: finish time is in the future", ErrInvalidParameters)
		}

		score := merkle.Score(p.Answers, r.Commitment, r.CorrectLeaves)

		tag, err := tx.Exec(ctx,
			`UPDATE participants
			 SET submitted_at_ms = $3, correct_count = $4, finish_time = $5
			 WHERE round_id = $1 AND holder = $2 AND submitted_at_ms IS NULL`,
			p.RoundID, p.Holder.String(), nowMs, int32(score), p.FinishTime,
		)
		if err != nil {
			return fmt.Errorf("failed to record submission: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Either never joined, or the one submission already happened.
			existing, err := getParticipant(ctx, tx, p.RoundID, p.Holder)
			if err != nil {
				return err
			}
			if existing.Submitted() {
				return fmt.Errorf("%w: already submitted", ErrAlreadyDone)
			}
			return fmt.Errorf("failed to record submission for joined participant")
		}

		submitted, err = getParticipant(ctx, tx, p.RoundID, p.Holder)
		return err
	})
	if err != nil {
		return Participant{}, err
	}

	s.log.Debug("round: submission scored",
		"round_id", p.RoundID, "holder", p.Holder.String(), "correct", submitted.CorrectCount)
	return submitted, nil
}

package round

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/quizpot/quizpot/engine/pkg/ledger"
)

// Join enters a holder into a round. Allowed while the round is Created or
// Started, strictly before the end time. The entry fee, if any, moves into
// the vault in the same transaction; concurrent joins by different holders
// are independent atomic deposits and cannot corrupt the aggregate balance.
func (s *Service) Join(ctx context.Context, roundID int64, holder solana.PublicKey) (Participant, error) {
	if holder.IsZero() {
		return Participant{}, fmt.Errorf("%w: holder is required", ErrInvalidParameters)
	}

	var joined Participant
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		nowMs := s.nowMs()
		switch r.State(nowMs) {
		case StateCreated, StateStarted:
			// joinable
		default:
			return fmt.Errorf("%w: round has ended", ErrNoLongerEligible)
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO participants (round_id, holder, joined_at_ms) VALUES ($1, $2, $3)
			 ON CONFLICT (round_id, holder) DO NOTHING`,
			roundID, holder.String(), nowMs,
		)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: already joined", ErrAlreadyDone)
		}

		if r.EntryFee > 0 {
			if err := ledger.Deposit(ctx, tx, roundID, holder, r.EntryFee); err != nil {
				return err
			}
		}

		joined = Participant{RoundID: roundID, Holder: holder, JoinedAtMs: nowMs}
		return nil
	})
	if err != nil {
		return Participant{}, err
	}

	s.log.Debug("round: participant joined", "round_id", roundID, "holder", holder.String())
	return joined, nil
}

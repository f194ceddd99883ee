package round

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/quizpot/quizpot/engine/pkg/fees"
	"github.com/quizpot/quizpot/engine/pkg/ledger"
)

// Settle closes out a round's escrow: it reads the final vault balance,
// splits the distributable amount between treasury, organizer, and prize
// pool, drains the fee legs, and flags the round settled — all in one
// transaction, so the three-way split either lands completely or not at all.
//
// Settling before the end time is the organizer's early close: the stored
// end time snaps to the current instant before the pot is computed, so the
// distributable pot is whatever was collected so far, under the same rates.
// A second settlement attempt is rejected; the first receipt stands.
func (s *Service) Settle(ctx context.Context, roundID int64, organizer solana.PublicKey) (Settlement, error) {
	var receipt Settlement
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		cfg, err := s.requireUnpaused(ctx, tx)
		if err != nil {
			return err
		}

		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Organizer != organizer {
			return fmt.Errorf("%w: only the organizer may settle", ErrUnauthorized)
		}

		// The exact start instant is still too early: the early-close snap
		// below would write ends_at_ms == starts_at_ms, which the schema
		// forbids.
		nowMs := s.nowMs()
		if nowMs <= r.StartsAtMs {
			return fmt.Errorf("%w: round has not started", ErrNotYetEligible)
		}

		// Early close: the end time only ever moves earlier.
		endMs := r.EndsAtMs
		if nowMs < endMs {
			endMs = nowMs
		}

		tag, err := tx.Exec(ctx,
			`UPDATE rounds SET settled = true, ends_at_ms = $2 WHERE id = $1 AND NOT settled`,
			roundID, endMs,
		)
		if err != nil {
			return fmt.Errorf("failed to mark round settled: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: round already settled", ErrAlreadyDone)
		}

		v, err := ledger.GetVault(ctx, tx, roundID)
		if err != nil {
			return err
		}
		distributable := fees.Distributable(v.Balance, v.ReservedFloor)
		split, err := fees.Compute(distributable, cfg.TreasuryRateBps, r.OrganizerRateBps)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}

		// Treasury and organizer legs leave the vault; the prize pool stays
		// behind, above the reserved floor, for individual claims.
		err = ledger.Drain(ctx, tx, roundID, []ledger.Transfer{
			{To: cfg.Treasury, Amount: split.TreasuryFee},
			{To: organizer, Amount: split.OrganizerFee},
		})
		if err != nil {
			return err
		}

		receipt = Settlement{
			RoundID:       roundID,
			Receipt:       newReceipt(),
			Distributable: split.Distributable,
			TreasuryFee:   split.TreasuryFee,
			OrganizerFee:  split.OrganizerFee,
			PrizePool:     split.PrizePool,
			SettledAtMs:   nowMs,
		}
		return insertSettlement(ctx, tx, receipt)
	})
	if err != nil {
		return Settlement{}, err
	}

	s.log.Info("round: settled",
		"round_id", roundID,
		"receipt", receipt.Receipt.String(),
		"distributable", receipt.Distributable,
		"treasury_fee", receipt.TreasuryFee,
		"organizer_fee", receipt.OrganizerFee,
		"prize_pool", receipt.PrizePool)
	return receipt, nil
}

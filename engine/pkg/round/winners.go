package round

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/quizpot/quizpot/engine/pkg/ledger"
	"github.com/quizpot/quizpot/engine/pkg/prize"
)

// DeclareWinners records the round's immutable winners list from the
// ordered standings supplied by the off-chain ranking collaborator. Shares
// are fixed at declaration time from the settled prize pool; the list is
// created once and never mutated.
//
// More declared winners than the round's cap are clamped to the cap; fewer
// winners than the cap simply split the pool among themselves.
func (s *Service) DeclareWinners(ctx context.Context, roundID int64, organizer solana.PublicKey, holders []solana.PublicKey) ([]Winner, error) {
	if len(holders) == 0 {
		return nil, fmt.Errorf("%w: at least one winner is required", ErrInvalidParameters)
	}

	var winners []Winner
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Organizer != organizer {
			return fmt.Errorf("%w: only the organizer may declare winners", ErrUnauthorized)
		}
		st, err := getSettlement(ctx, tx, roundID)
		if err != nil {
			return err
		}
		declared, err := winnersDeclared(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if declared {
			return fmt.Errorf("%w: winners already declared", ErrAlreadyDone)
		}

		if !r.AllWinners && len(holders) > r.MaxWinners {
			holders = holders[:r.MaxWinners]
		}
		seen := make(map[solana.PublicKey]bool, len(holders))
		for _, holder := range holders {
			if seen[holder] {
				return fmt.Errorf("%w: duplicate winner %s", ErrInvalidParameters, holder.String())
			}
			seen[holder] = true
			p, err := getParticipant(ctx, tx, roundID, holder)
			if err != nil {
				return err
			}
			if !p.Submitted() {
				return fmt.Errorf("%w: winner %s never submitted", ErrInvalidParameters, holder.String())
			}
		}

		curve, err := prize.ByName(r.Curve)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}
		if r.EvenSplit || r.AllWinners {
			curve = prize.EvenCurve{}
		}
		shares, err := prize.Shares(st.PrizePool, len(holders), curve)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
		}

		winners = make([]Winner, len(holders))
		for i, holder := range holders {
			if err := insertWinner(ctx, tx, roundID, holder, i+1, shares[i]); err != nil {
				return err
			}
			winners[i] = Winner{RoundID: roundID, Holder: holder, Rank: i + 1, Share: shares[i]}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("round: winners declared", "round_id", roundID, "count", len(winners))
	return winners, nil
}

// Claim releases one winner's share from the vault. One-time per winner: a
// repeat claim fails and moves nothing.
func (s *Service) Claim(ctx context.Context, roundID int64, holder solana.PublicKey) (Winner, error) {
	var claimed Winner
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		declared, err := winnersDeclared(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if !declared {
			return ErrWinnersNotDeclared
		}

		receipt := newReceipt()
		nowMs := s.nowMs()
		tag, err := tx.Exec(ctx,
			`UPDATE winners SET claimed = true, claimed_at_ms = $3, claim_receipt = $4
			 WHERE round_id = $1 AND holder = $2 AND NOT claimed`,
			roundID, holder.String(), nowMs, receipt,
		)
		if err != nil {
			return fmt.Errorf("failed to mark winner claimed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			w, err := getWinner(ctx, tx, roundID, holder)
			if err != nil {
				return err
			}
			if w.Claimed {
				return fmt.Errorf("%w: prize already claimed", ErrAlreadyDone)
			}
			return fmt.Errorf("failed to claim prize")
		}

		w, err := getWinner(ctx, tx, roundID, holder)
		if err != nil {
			return err
		}
		if w.Share > 0 {
			if err := ledger.Withdraw(ctx, tx, roundID, holder, w.Share); err != nil {
				return err
			}
		}
		claimed = w
		return nil
	})
	if err != nil {
		return Winner{}, err
	}

	s.log.Info("round: prize claimed",
		"round_id", roundID, "holder", holder.String(), "share", claimed.Share)
	return claimed, nil
}

// CloseParticipant removes a participant record, reclaiming its storage.
// Only allowed once the round has ended, and a declared winner must claim
// before closing.
func (s *Service) CloseParticipant(ctx context.Context, roundID int64, holder solana.PublicKey) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		nowMs := s.nowMs()
		if r.State(nowMs) == StateCreated || r.State(nowMs) == StateStarted {
			return fmt.Errorf("%w: round has not ended", ErrNotYetEligible)
		}

		w, err := getWinner(ctx, tx, roundID, holder)
		switch {
		case err == nil:
			if !w.Claimed {
				return fmt.Errorf("%w: winner must claim before closing", ErrIneligibleForClosure)
			}
		case errors.Is(err, ErrWinnerNotFound):
			// not a winner, closable once ended
		default:
			return err
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM participants WHERE round_id = $1 AND holder = $2`, roundID, holder.String())
		if err != nil {
			return fmt.Errorf("failed to close participant: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrParticipantNotFound
		}
		return nil
	})
}

// CloseVault drains whatever remains in the vault, reserved floor included,
// back to the organizer and closes it. Requires settlement, and every
// declared winner must have claimed first.
func (s *Service) CloseVault(ctx context.Context, roundID int64, organizer solana.PublicKey) (uint64, error) {
	var returned uint64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Organizer != organizer {
			return fmt.Errorf("%w: only the organizer may close the vault", ErrUnauthorized)
		}
		if !r.Settled {
			return ErrNotSettled
		}

		var unclaimed int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM winners WHERE round_id = $1 AND NOT claimed`, roundID,
		).Scan(&unclaimed); err != nil {
			return fmt.Errorf("failed to count unclaimed winners: %w", err)
		}
		if unclaimed > 0 {
			return fmt.Errorf("%w: %d prizes are still unclaimed", ErrIneligibleForClosure, unclaimed)
		}

		returned, err = ledger.CloseVault(ctx, tx, roundID, organizer)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("round: vault closed", "round_id", roundID, "returned", returned)
	return returned, nil
}

package round

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/quizpot/quizpot/engine/pkg/fees"
	"github.com/quizpot/quizpot/engine/pkg/ledger"
	"github.com/quizpot/quizpot/engine/pkg/merkle"
	"github.com/quizpot/quizpot/engine/pkg/prize"
)

// CreateParams are the terms of a new round.
type CreateParams struct {
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
	// ReservedFloor is the minimum retained balance of a native vault,
	// funded by the organizer at creation. Must be zero for token rounds.
	ReservedFloor uint64
}

func (p *CreateParams) validate(nowMs int64) error {
	if p.Organizer.IsZero() {
		return fmt.Errorf("%w: organizer is required", ErrInvalidParameters)
	}
	if p.Code == "" || len(p.Code) > MaxCodeLen {
		return fmt.Errorf("%w: code must be 1..%d characters", ErrInvalidParameters, MaxCodeLen)
	}
	if p.Name == "" || len(p.Name) > MaxNameLen {
		return fmt.Errorf("%w: name must be 1..%d characters", ErrInvalidParameters, MaxNameLen)
	}
	if p.OrganizerRateBps > MaxOrganizerRateBps {
		return fmt.Errorf("%w: organizer rate %d exceeds maximum %d bps", ErrInvalidParameters, p.OrganizerRateBps, MaxOrganizerRateBps)
	}
	if p.EntryFee > fees.MaxAmount || p.Donation > fees.MaxAmount || p.ReservedFloor > fees.MaxAmount {
		return fmt.Errorf("%w: amount exceeds representable range", ErrInvalidParameters)
	}
	if p.StartsAtMs >= p.EndsAtMs {
		return fmt.Errorf("%w: start time must be before end time", ErrInvalidParameters)
	}
	if nowMs >= p.StartsAtMs {
		return fmt.Errorf("%w: round must be created before its start time", ErrInvalidParameters)
	}
	if p.MaxWinners < 1 || p.MaxWinners > MaxWinnersCap {
		return fmt.Errorf("%w: max winners must be 1..%d", ErrInvalidParameters, MaxWinnersCap)
	}
	if p.Commitment.IsZero() {
		return fmt.Errorf("%w: answer commitment is required", ErrInvalidParameters)
	}
	if len(p.CorrectLeaves) == 0 {
		return fmt.Errorf("%w: correct leaves are required", ErrInvalidParameters)
	}
	for i, leaf := range p.CorrectLeaves {
		if leaf.IsZero() {
			return fmt.Errorf("%w: correct leaf %d is zero", ErrInvalidParameters, i)
		}
	}
	if _, err := prize.ByName(p.Curve); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if !p.Asset.IsNative() && p.ReservedFloor != 0 {
		return fmt.Errorf("%w: token rounds have no reserved floor", ErrInvalidParameters)
	}
	return nil
}

// CreateRound creates a round and its vault. The organizer funds the
// reserved floor and any initial donation in the same transaction; if either
// debit fails nothing is created.
func (s *Service) CreateRound(ctx context.Context, p CreateParams) (Round, error) {
	nowMs := s.nowMs()
	if err := p.validate(nowMs); err != nil {
		return Round{}, err
	}

	r := Round{
		Organizer:        p.Organizer,
		Code:             p.Code,
		Name:             p.Name,
		Asset:            p.Asset,
		EntryFee:         p.EntryFee,
		OrganizerRateBps: p.OrganizerRateBps,
		Donation:         p.Donation,
		StartsAtMs:       p.StartsAtMs,
		EndsAtMs:         p.EndsAtMs,
		MaxWinners:       p.MaxWinners,
		Commitment:       p.Commitment,
		CorrectLeaves:    p.CorrectLeaves,
		EvenSplit:        p.EvenSplit,
		AllWinners:       p.AllWinners,
		Curve:            p.Curve,
	}
	if r.Curve == "" {
		r.Curve = "even"
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		id, err := insertRound(ctx, tx, r)
		if err != nil {
			return err
		}
		r.ID = id

		if err := ledger.CreateVault(ctx, tx, id, p.Asset, p.ReservedFloor); err != nil {
			return err
		}
		// The vault starts at the reserved floor; that funding comes out of
		// the organizer's account, not out of thin air.
		if p.ReservedFloor > 0 {
			if err := ledger.Debit(ctx, tx, p.Organizer, p.Asset, p.ReservedFloor); err != nil {
				return err
			}
		}
		if p.Donation > 0 {
			if err := ledger.Deposit(ctx, tx, id, p.Organizer, p.Donation); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Round{}, err
	}

	s.log.Info("round: created", "id", r.ID, "code", r.Code, "organizer", r.Organizer.String(), "asset", r.Asset.String())
	return r, nil
}

// UpdateParams are the optional term changes an organizer can make before
// settlement. Nil fields are left untouched.
type UpdateParams struct {
	Name             *string
	EntryFee         *uint64
	OrganizerRateBps *uint16
	MaxWinners       *int
	EndsAtMs         *int64 // only ever earlier than the stored end time
	Commitment       *merkle.Hash
	CorrectLeaves    []merkle.Hash // set together with Commitment
	EvenSplit        *bool
	AllWinners       *bool
	Curve            *string
}

// UpdateRound changes round terms. Organizer-only, rejected after
// settlement. The end time can only move earlier, never later.
func (s *Service) UpdateRound(ctx context.Context, roundID int64, organizer solana.PublicKey, p UpdateParams) (Round, error) {
	var updated Round
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Organizer != organizer {
			return fmt.Errorf("%w: only the organizer may update round terms", ErrUnauthorized)
		}
		if r.Settled {
			return fmt.Errorf("%w: round terms are immutable after settlement", ErrAlreadyDone)
		}

		if p.Name != nil {
			if *p.Name == "" || len(*p.Name) > MaxNameLen {
				return fmt.Errorf("%w: name must be 1..%d characters", ErrInvalidParameters, MaxNameLen)
			}
			r.Name = *p.Name
		}
		if p.EntryFee != nil {
			if *p.EntryFee > fees.MaxAmount {
				return fmt.Errorf("%w: amount exceeds representable range", ErrInvalidParameters)
			}
			r.EntryFee = *p.EntryFee
		}
		if p.OrganizerRateBps != nil {
			if *p.OrganizerRateBps > MaxOrganizerRateBps {
				return fmt.Errorf("%w: organizer rate exceeds maximum %d bps", ErrInvalidParameters, MaxOrganizerRateBps)
			}
			r.OrganizerRateBps = *p.OrganizerRateBps
		}
		if p.MaxWinners != nil {
			if *p.MaxWinners < 1 || *p.MaxWinners > MaxWinnersCap {
				return fmt.Errorf("%w: max winners must be 1..%d", ErrInvalidParameters, MaxWinnersCap)
			}
			r.MaxWinners = *p.MaxWinners
		}
		if p.EndsAtMs != nil {
			if *p.EndsAtMs >= r.EndsAtMs {
				return fmt.Errorf("%w: end time can only move earlier", ErrInvalidParameters)
			}
			if *p.EndsAtMs <= r.StartsAtMs {
				return fmt.Errorf("%w: end time must stay after start time", ErrInvalidParameters)
			}
			r.EndsAtMs = *p.EndsAtMs
		}
		if p.Commitment != nil {
			if p.Commitment.IsZero() || len(p.CorrectLeaves) == 0 {
				return fmt.Errorf("%w: commitment update requires a non-zero root and correct leaves", ErrInvalidParameters)
			}
			r.Commitment = *p.Commitment
			r.CorrectLeaves = p.CorrectLeaves
		}
		if p.EvenSplit != nil {
			r.EvenSplit = *p.EvenSplit
		}
		if p.AllWinners != nil {
			r.AllWinners = *p.AllWinners
		}
		if p.Curve != nil {
			if _, err := prize.ByName(*p.Curve); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
			}
			r.Curve = *p.Curve
		}

		leaves := make([][]byte, len(r.CorrectLeaves))
		for i, h := range r.CorrectLeaves {
			leaves[i] = append([]byte(nil), h[:]...)
		}
		_, err = tx.Exec(ctx,
			`UPDATE rounds SET name = $2, entry_fee = $3, organizer_rate_bps = $4, max_winners = $5,
				ends_at_ms = $6, commitment = $7, correct_leaves = $8, even_split = $9, all_winners = $10, curve = $11
			 WHERE id = $1`,
			r.ID, r.Name, int64(r.EntryFee), int32(r.OrganizerRateBps), int32(r.MaxWinners),
			r.EndsAtMs, r.Commitment[:], leaves, r.EvenSplit, r.AllWinners, r.Curve,
		)
		if err != nil {
			return fmt.Errorf("failed to update round: %w", err)
		}
		updated = r
		return nil
	})
	if err != nil {
		return Round{}, err
	}
	return updated, nil
}

// StartNow snaps the start time to the current instant. Only legal from the
// Created state and only for the organizer; once the original start time has
// passed there is nothing to accelerate and the call is rejected.
func (s *Service) StartNow(ctx context.Context, roundID int64, organizer solana.PublicKey) (Round, error) {
	var updated Round
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}

		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Organizer != organizer {
			return fmt.Errorf("%w: only the organizer may start the round", ErrUnauthorized)
		}
		nowMs := s.nowMs()
		if r.State(nowMs) != StateCreated {
			return fmt.Errorf("%w: round already started", ErrNoLongerEligible)
		}

		_, err = tx.Exec(ctx, `UPDATE rounds SET starts_at_ms = $2 WHERE id = $1`, r.ID, nowMs)
		if err != nil {
			return fmt.Errorf("failed to start round: %w", err)
		}
		r.StartsAtMs = nowMs
		updated = r
		return nil
	})
	if err != nil {
		return Round{}, err
	}
	s.log.Info("round: started early", "id", roundID)
	return updated, nil
}

// AddDonation increases the sponsor donation, moving funds from the
// organizer's account into the vault. Pre-settlement only.
func (s *Service) AddDonation(ctx context.Context, roundID int64, organizer solana.PublicKey, amount uint64) error {
	if amount == 0 || amount > fees.MaxAmount {
		return fmt.Errorf("%w: donation amount must be positive and representable", ErrInvalidParameters)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}
		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Organizer != organizer {
			return fmt.Errorf("%w: only the organizer may donate", ErrUnauthorized)
		}
		if r.Settled {
			return fmt.Errorf("%w: donation is immutable after settlement", ErrAlreadyDone)
		}
		if r.Donation > fees.MaxAmount-amount {
			return fmt.Errorf("%w: donation exceeds representable range", ErrInvalidParameters)
		}
		if err := ledger.Deposit(ctx, tx, roundID, organizer, amount); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE rounds SET donation = donation + $2 WHERE id = $1`, roundID, int64(amount))
		if err != nil {
			return fmt.Errorf("failed to update donation: %w", err)
		}
		return nil
	})
}

// WithdrawDonation reduces the sponsor donation, returning funds from the
// vault to the organizer's account. Pre-settlement only; the vault's
// reserved floor still applies.
func (s *Service) WithdrawDonation(ctx context.Context, roundID int64, organizer solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: withdrawal amount must be positive", ErrInvalidParameters)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.requireUnpaused(ctx, tx); err != nil {
			return err
		}
		r, err := getRound(ctx, tx, roundID)
		if err != nil {
			return err
		}
		if r.Organizer != organizer {
			return fmt.Errorf("%w: only the organizer may withdraw the donation", ErrUnauthorized)
		}
		if r.Settled {
			return fmt.Errorf("%w: donation is immutable after settlement", ErrAlreadyDone)
		}
		if amount > r.Donation {
			return fmt.Errorf("%w: withdrawal exceeds current donation", ErrInvalidParameters)
		}
		if err := ledger.Withdraw(ctx, tx, roundID, organizer, amount); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE rounds SET donation = donation - $2 WHERE id = $1`, roundID, int64(amount))
		if err != nil {
			return fmt.Errorf("failed to update donation: %w", err)
		}
		return nil
	})
}

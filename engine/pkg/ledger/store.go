package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/quizpot/quizpot/engine/pkg/fees"
	"github.com/quizpot/quizpot/engine/pkg/pg"
)

// Balance returns an account's balance, zero if the account does not exist.
// Accounts are created lazily on first credit; treasury and organizer token
// holding accounts appear the first time a settlement pays them.
func Balance(ctx context.Context, q pg.Querier, owner solana.PublicKey, asset Asset) (uint64, error) {
	var balance int64
	err := q.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE owner = $1 AND asset = $2`,
		owner.String(), asset.String(),
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read account balance: %w", err)
	}
	return uint64(balance), nil
}

// Credit adds to an account balance, creating the account if needed.
func Credit(ctx context.Context, q pg.Querier, owner solana.PublicKey, asset Asset, amount uint64) error {
	current, err := Balance(ctx, q, owner, asset)
	if err != nil {
		return err
	}
	if amount > fees.MaxAmount || current > fees.MaxAmount-amount {
		return ErrOverflow
	}
	_, err = q.Exec(ctx,
		`INSERT INTO accounts (owner, asset, balance) VALUES ($1, $2, $3)
		 ON CONFLICT (owner, asset) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance`,
		owner.String(), asset.String(), int64(amount),
	)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	return nil
}

// Debit removes from an account balance. The update is guarded by the
// current balance so an underfunded debit changes nothing.
func Debit(ctx context.Context, q pg.Querier, owner solana.PublicKey, asset Asset, amount uint64) error {
	tag, err := q.Exec(ctx,
		`UPDATE accounts SET balance = balance - $3
		 WHERE owner = $1 AND asset = $2 AND balance >= $3`,
		owner.String(), asset.String(), int64(amount),
	)
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

// CreateVault creates the custody vault for a round. Native vaults carry a
// reserved floor that is funded by the organizer at creation; token vaults
// have no floor.
func CreateVault(ctx context.Context, q pg.Querier, roundID int64, asset Asset, reservedFloor uint64) error {
	if !asset.IsNative() && reservedFloor != 0 {
		return errors.New("token vaults have no reserved floor")
	}
	if reservedFloor > fees.MaxAmount {
		return ErrOverflow
	}
	_, err := q.Exec(ctx,
		`INSERT INTO vaults (round_id, asset, balance, reserved_floor) VALUES ($1, $2, $3, $3)`,
		roundID, asset.String(), int64(reservedFloor),
	)
	if err != nil {
		return fmt.Errorf("failed to create vault: %w", err)
	}
	return nil
}

// GetVault reads a round's vault.
func GetVault(ctx context.Context, q pg.Querier, roundID int64) (Vault, error) {
	var (
		v       Vault
		asset   string
		balance int64
		floor   int64
	)
	err := q.QueryRow(ctx,
		`SELECT round_id, asset, balance, reserved_floor, closed FROM vaults WHERE round_id = $1`,
		roundID,
	).Scan(&v.RoundID, &asset, &balance, &floor, &v.Closed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vault{}, ErrVaultNotFound
	}
	if err != nil {
		return Vault{}, fmt.Errorf("failed to read vault: %w", err)
	}
	v.Asset, err = ParseAsset(asset)
	if err != nil {
		return Vault{}, err
	}
	v.Balance = uint64(balance)
	v.ReservedFloor = uint64(floor)
	return v, nil
}

// Deposit moves funds from an account into a round's vault.
func Deposit(ctx context.Context, q pg.Querier, roundID int64, from solana.PublicKey, amount uint64) error {
	v, err := GetVault(ctx, q, roundID)
	if err != nil {
		return err
	}
	if v.Closed {
		return ErrVaultClosed
	}
	if amount > fees.MaxAmount || v.Balance > fees.MaxAmount-amount {
		return ErrOverflow
	}
	if err := Debit(ctx, q, from, v.Asset, amount); err != nil {
		return err
	}
	_, err = q.Exec(ctx, `UPDATE vaults SET balance = balance + $2 WHERE round_id = $1`, roundID, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to deposit into vault: %w", err)
	}
	return nil
}

// Withdraw moves funds from a round's vault to an account. For native
// vaults the balance may not drop below the reserved floor; the final drain
// (CloseVault) is the only exception.
func Withdraw(ctx context.Context, q pg.Querier, roundID int64, to solana.PublicKey, amount uint64) error {
	v, err := GetVault(ctx, q, roundID)
	if err != nil {
		return err
	}
	if v.Closed {
		return ErrVaultClosed
	}
	if amount > v.Balance {
		return ErrInsufficientFunds
	}
	if v.Balance-amount < v.ReservedFloor {
		return ErrBelowReservedFloor
	}
	if err := Credit(ctx, q, to, v.Asset, amount); err != nil {
		return err
	}
	_, err = q.Exec(ctx, `UPDATE vaults SET balance = balance - $2 WHERE round_id = $1`, roundID, int64(amount))
	if err != nil {
		return fmt.Errorf("failed to withdraw from vault: %w", err)
	}
	return nil
}

// Drain performs the settlement split: every transfer leg and the implicit
// pool retention land in the caller's transaction together, so either the
// whole multi-way split applies or none of it does. The retained remainder
// (prize pool plus any reserved floor) stays in the vault for claims.
func Drain(ctx context.Context, q pg.Querier, roundID int64, outs []Transfer) error {
	v, err := GetVault(ctx, q, roundID)
	if err != nil {
		return err
	}
	if v.Closed {
		return ErrVaultClosed
	}

	var total uint64
	for _, out := range outs {
		if out.Amount > fees.MaxAmount || total > fees.MaxAmount-out.Amount {
			return ErrOverflow
		}
		total += out.Amount
	}
	if total > v.Balance {
		return ErrInsufficientFunds
	}

	for _, out := range outs {
		if out.Amount == 0 {
			continue
		}
		if err := Credit(ctx, q, out.To, v.Asset, out.Amount); err != nil {
			return err
		}
	}
	_, err = q.Exec(ctx, `UPDATE vaults SET balance = balance - $2 WHERE round_id = $1`, roundID, int64(total))
	if err != nil {
		return fmt.Errorf("failed to drain vault: %w", err)
	}
	return nil
}

// CloseVault pays the entire remaining balance, reserved floor included, to
// the destination and marks the vault closed. This is the one operation
// allowed to take a native vault below its floor.
func CloseVault(ctx context.Context, q pg.Querier, roundID int64, to solana.PublicKey) (uint64, error) {
	v, err := GetVault(ctx, q, roundID)
	if err != nil {
		return 0, err
	}
	if v.Closed {
		return 0, ErrVaultClosed
	}
	if v.Balance > 0 {
		if err := Credit(ctx, q, to, v.Asset, v.Balance); err != nil {
			return 0, err
		}
	}
	_, err = q.Exec(ctx, `UPDATE vaults SET balance = 0, closed = true WHERE round_id = $1`, roundID)
	if err != nil {
		return 0, fmt.Errorf("failed to close vault: %w", err)
	}
	return v.Balance, nil
}

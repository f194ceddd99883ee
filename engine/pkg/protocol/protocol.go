// Package protocol owns the protocol-wide singleton configuration: the
// treasury identity, the treasury fee rate, and the pause flag.
package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"

	"github.com/quizpot/quizpot/engine/pkg/pg"
)

// MaxTreasuryRateBps caps the treasury fee rate.
const MaxTreasuryRateBps = 2_500

var (
	// ErrAlreadyInitialized is returned by Init when the singleton exists.
	ErrAlreadyInitialized = errors.New("protocol config already initialized")

	// ErrNotInitialized is returned when the singleton does not exist yet.
	ErrNotInitialized = errors.New("protocol config not initialized")

	// ErrUnauthorized is returned when a non-operator mutates the config.
	ErrUnauthorized = errors.New("only the protocol operator may do this")

	// ErrRateTooHigh is returned for treasury rates above MaxTreasuryRateBps.
	ErrRateTooHigh = fmt.Errorf("treasury rate exceeds maximum of %d bps", MaxTreasuryRateBps)

	// ErrPaused is returned by mutating round operations while the protocol
	// is paused.
	ErrPaused = errors.New("protocol is paused")
)

// Config is the protocol-wide singleton.
type Config struct {
	Operator        solana.PublicKey
	Treasury        solana.PublicKey
	TreasuryRateBps uint16
	Paused          bool
}

// Init creates the singleton. A second call is rejected and leaves the first
// call's stored treasury and rate authoritative.
func Init(ctx context.Context, q pg.Querier, cfg Config) error {
	if cfg.Operator.IsZero() {
		return errors.New("operator is required")
	}
	if cfg.Treasury.IsZero() {
		return errors.New("treasury is required")
	}
	if cfg.TreasuryRateBps > MaxTreasuryRateBps {
		return ErrRateTooHigh
	}

	tag, err := q.Exec(ctx,
		`INSERT INTO protocol_config (id, operator, treasury, treasury_rate_bps, paused)
		 VALUES (1, $1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		cfg.Operator.String(), cfg.Treasury.String(), int32(cfg.TreasuryRateBps), cfg.Paused,
	)
	if err != nil {
		return fmt.Errorf("failed to init protocol config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

// Get reads the singleton.
func Get(ctx context.Context, q pg.Querier) (Config, error) {
	var (
		cfg      Config
		operator string
		treasury string
		rate     int32
	)
	err := q.QueryRow(ctx,
		`SELECT operator, treasury, treasury_rate_bps, paused FROM protocol_config WHERE id = 1`,
	).Scan(&operator, &treasury, &rate, &cfg.Paused)
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, ErrNotInitialized
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read protocol config: %w", err)
	}
	if cfg.Operator, err = solana.PublicKeyFromBase58(operator); err != nil {
		return Config{}, fmt.Errorf("failed to parse operator key: %w", err)
	}
	if cfg.Treasury, err = solana.PublicKeyFromBase58(treasury); err != nil {
		return Config{}, fmt.Errorf("failed to parse treasury key: %w", err)
	}
	cfg.TreasuryRateBps = uint16(rate)
	return cfg, nil
}

// SetTreasuryRate updates the treasury fee rate. Operator only.
func SetTreasuryRate(ctx context.Context, q pg.Querier, operator solana.PublicKey, rateBps uint16) error {
	if rateBps > MaxTreasuryRateBps {
		return ErrRateTooHigh
	}
	cfg, err := Get(ctx, q)
	if err != nil {
		return err
	}
	if cfg.Operator != operator {
		return ErrUnauthorized
	}
	_, err = q.Exec(ctx,
		`UPDATE protocol_config SET treasury_rate_bps = $1, updated_at = now() WHERE id = 1`,
		int32(rateBps),
	)
	if err != nil {
		return fmt.Errorf("failed to update treasury rate: %w", err)
	}
	return nil
}

// SetPaused toggles the pause flag. Operator only. While paused, every
// mutating round operation is rejected; reads still work.
func SetPaused(ctx context.Context, q pg.Querier, operator solana.PublicKey, paused bool) error {
	cfg, err := Get(ctx, q)
	if err != nil {
		return err
	}
	if cfg.Operator != operator {
		return ErrUnauthorized
	}
	_, err = q.Exec(ctx,
		`UPDATE protocol_config SET paused = $1, updated_at = now() WHERE id = 1`, paused)
	if err != nil {
		return fmt.Errorf("failed to update pause flag: %w", err)
	}
	return nil
}

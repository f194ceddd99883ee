// Package audit reconciles the engine's custodial native balances against
// the on-chain escrow account. Read-only observability over custody; it
// never moves funds and never blocks an engine operation.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/quizpot/quizpot/engine/pkg/metrics"
	"github.com/quizpot/quizpot/utils/pkg/retry"
)

// BalanceClient reads an on-chain balance in lamports.
type BalanceClient interface {
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Pool   *pgxpool.Pool
	RPC    BalanceClient
	// EscrowAccount is the on-chain account that should hold every open
	// native vault's funds.
	EscrowAccount solana.PublicKey
	Interval      time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.RPC == nil {
		return errors.New("balance client is required")
	}
	if cfg.EscrowAccount.IsZero() {
		return errors.New("escrow account is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Auditor periodically compares the sum of open native vault balances with
// the on-chain escrow balance and publishes the drift.
type Auditor struct {
	log *slog.Logger
	cfg Config

	checkMu sync.Mutex
}

func New(cfg Config) (*Auditor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Auditor{log: cfg.Logger, cfg: cfg}, nil
}

// Start launches the audit loop. It stops when ctx is cancelled.
func (a *Auditor) Start(ctx context.Context) {
	go func() {
		a.log.Info("audit: starting reconcile loop", "interval", a.cfg.Interval)

		a.safeCheck(ctx)

		ticker := a.cfg.Clock.NewTicker(a.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				a.safeCheck(ctx)
			}
		}
	}()
}

func (a *Auditor) safeCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("audit: check panicked", "panic", r)
		}
	}()
	if err := a.Check(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		a.log.Error("audit: check failed", "error", err)
	}
}

// Check runs one reconciliation pass.
func (a *Auditor) Check(ctx context.Context) error {
	a.checkMu.Lock()
	defer a.checkMu.Unlock()

	var custodial int64
	err := a.cfg.Pool.QueryRow(ctx,
		`SELECT COALESCE(sum(balance), 0) FROM vaults WHERE asset = 'native' AND NOT closed`,
	).Scan(&custodial)
	if err != nil {
		return fmt.Errorf("failed to sum custodial balances: %w", err)
	}

	var onchain uint64
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		var rpcErr error
		onchain, rpcErr = a.cfg.RPC.GetBalance(ctx, a.cfg.EscrowAccount)
		return rpcErr
	})
	if err != nil {
		return fmt.Errorf("failed to fetch on-chain balance: %w", err)
	}

	drift := int64(onchain) - custodial
	metrics.VaultAuditDrift.Set(float64(drift))
	if drift != 0 {
		a.log.Warn("audit: custody drift detected",
			"custodial", custodial, "onchain", onchain, "drift", drift)
	} else {
		a.log.Debug("audit: custody reconciled", "custodial", custodial)
	}
	return nil
}

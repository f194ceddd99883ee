package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/quizpot/quizpot/engine/pkg/pg"
	"github.com/quizpot/quizpot/engine/pkg/protocol"
)

// serializationRetries is how many times a serializable transaction is
// re-run after a serialization failure before giving up.
const serializationRetries = 3

type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
	Clock  clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service mediates every operation against rounds, participants, winners,
// and their vaults.
type Service struct {
	log   *slog.Logger
	cfg   Config
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		log:   cfg.Logger,
		cfg:   cfg,
		pool:  cfg.Pool,
		clock: cfg.Clock,
	}, nil
}

// nowMs is the single time source for every lifecycle predicate.
func (s *Service) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

// NowMs exposes the service clock so callers derive round states from the
// same time source the lifecycle operations use.
func (s *Service) NowMs() int64 {
	return s.nowMs()
}

// inTx runs fn as a serializable transaction, re-running it on
// serialization failures. Engine errors pass through unchanged.
func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= serializationRetries; attempt++ {
		err = pg.InTx(ctx, s.pool, fn)
		if err == nil || !pg.IsSerializationFailure(err) {
			return err
		}
		s.log.Debug("round: retrying after serialization failure", "attempt", attempt)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", serializationRetries, err)
}

// requireUnpaused loads the protocol config and rejects the operation while
// the protocol is paused. Every mutating operation calls this inside its
// transaction.
func (s *Service) requireUnpaused(ctx context.Context, q pg.Querier) (protocol.Config, error) {
	cfg, err := protocol.Get(ctx, q)
	if err != nil {
		return protocol.Config{}, err
	}
	if cfg.Paused {
		return protocol.Config{}, protocol.ErrPaused
	}
	return cfg, nil
}

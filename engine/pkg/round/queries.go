package round

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/quizpot/quizpot/engine/pkg/ledger"
)

// GetRound returns a round snapshot.
func (s *Service) GetRound(ctx context.Context, roundID int64) (Round, error) {
	return getRound(ctx, s.pool, roundID)
}

// GetRoundByCode looks a round up by its organizer-scoped code.
func (s *Service) GetRoundByCode(ctx context.Context, organizer solana.PublicKey, code string) (Round, error) {
	return scanRound(s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE organizer = $1 AND code = $2`,
		organizer.String(), code))
}

// ListRounds returns rounds ordered by creation, newest first.
func (s *Service) ListRounds(ctx context.Context, limit, offset int) ([]Round, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// GetParticipant returns one participant record; closed participants are
// gone and report not found.
func (s *Service) GetParticipant(ctx context.Context, roundID int64, holder solana.PublicKey) (Participant, error) {
	return getParticipant(ctx, s.pool, roundID, holder)
}

// ListParticipants returns a round's participants in join order.
func (s *Service) ListParticipants(ctx context.Context, roundID int64) ([]Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE round_id = $1 ORDER BY joined_at_ms`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// ListWinners returns the round's winners list in rank order.
func (s *Service) ListWinners(ctx context.Context, roundID int64) ([]Winner, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+winnerColumns+` FROM winners WHERE round_id = $1 ORDER BY rank`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list winners: %w", err)
	}
	defer rows.Close()

	var winners []Winner
	for rows.Next() {
		w, err := scanWinner(rows)
		if err != nil {
			return nil, err
		}
		winners = append(winners, w)
	}
	return winners, rows.Err()
}

// GetSettlement returns the settlement receipt for a settled round.
func (s *Service) GetSettlement(ctx context.Context, roundID int64) (Settlement, error) {
	return getSettlement(ctx, s.pool, roundID)
}

// GetVault returns a round's vault snapshot.
func (s *Service) GetVault(ctx context.Context, roundID int64) (ledger.Vault, error) {
	return ledger.GetVault(ctx, s.pool, roundID)
}

package round

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quizpot/quizpot/engine/pkg/ledger"
	"github.com/quizpot/quizpot/engine/pkg/merkle"
	"github.com/quizpot/quizpot/engine/pkg/pg"
)

const roundColumns = `id, organizer, code, name, asset, entry_fee, organizer_rate_bps, donation,
	starts_at_ms, ends_at_ms, max_winners, commitment, correct_leaves, even_split, all_winners, curve, settled`

func scanRound(row pgx.Row) (Round, error) {
	var (
		r          Round
		organizer  string
		asset      string
		entryFee   int64
		rate       int32
		donation   int64
		maxWinners int32
		commitment []byte
		leaves     [][]byte
	)
	err := row.Scan(&r.ID, &organizer, &r.Code, &r.Name, &asset, &entryFee, &rate, &donation,
		&r.StartsAtMs, &r.EndsAtMs, &maxWinners, &commitment, &leaves, &r.EvenSplit, &r.AllWinners,
		&r.Curve, &r.Settled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Round{}, ErrRoundNotFound
	}
	if err != nil {
		return Round{}, fmt.Errorf("failed to scan round: %w", err)
	}
	if r.Organizer, err = solana.PublicKeyFromBase58(organizer); err != nil {
		return Round{}, fmt.Errorf("failed to parse organizer key: %w", err)
	}
	if r.Asset, err = ledger.ParseAsset(asset); err != nil {
		return Round{}, err
	}
	r.EntryFee = uint64(entryFee)
	r.OrganizerRateBps = uint16(rate)
	r.Donation = uint64(donation)
	r.MaxWinners = int(maxWinners)
	copy(r.Commitment[:], commitment)
	r.CorrectLeaves = make([]merkle.Hash, len(leaves))
	for i, raw := range leaves {
		copy(r.CorrectLeaves[i][:], raw)
	}
	return r, nil
}

func getRound(ctx context.Context, q pg.Querier, id int64) (Round, error) {
	return scanRound(q.QueryRow(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id))
}

func insertRound(ctx context.Context, q pg.Querier, r Round) (int64, error) {
	leaves := make([][]byte, len(r.CorrectLeaves))
	for i, h := range r.CorrectLeaves {
		leaves[i] = append([]byte(nil), h[:]...)
	}
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO rounds (organizer, code, name, asset, entry_fee, organizer_rate_bps, donation,
			starts_at_ms, ends_at_ms, max_winners, commitment, correct_leaves, even_split, all_winners, curve)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id`,
		r.Organizer.String(), r.Code, r.Name, r.Asset.String(), int64(r.EntryFee), int32(r.OrganizerRateBps),
		int64(r.Donation), r.StartsAtMs, r.EndsAtMs, int32(r.MaxWinners), r.Commitment[:], leaves,
		r.EvenSplit, r.AllWinners, r.Curve,
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: round code already used by this organizer", ErrAlreadyDone)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert round: %w", err)
	}
	return id, nil
}

func scanParticipant(row pgx.Row) (Participant, error) {
	var (
		p      Participant
		holder string
	)
	err := row.Scan(&p.RoundID, &holder, &p.JoinedAtMs, &p.SubmittedAtMs, &p.CorrectCount, &p.FinishTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return Participant{}, ErrParticipantNotFound
	}
	if err != nil {
		return Participant{}, fmt.Errorf("failed to scan participant: %w", err)
	}
	if p.Holder, err = solana.PublicKeyFromBase58(holder); err != nil {
		return Participant{}, fmt.Errorf("failed to parse holder key: %w", err)
	}
	return p, nil
}

const participantColumns = `round_id, holder, joined_at_ms, submitted_at_ms, correct_count, finish_time`

func getParticipant(ctx context.Context, q pg.Querier, roundID int64, holder solana.PublicKey) (Participant, error) {
	return scanParticipant(q.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE round_id = $1 AND holder = $2`,
		roundID, holder.String()))
}

func scanWinner(row pgx.Row) (Winner, error) {
	var (
		w      Winner
		holder string
		share  int64
		rank   int32
	)
	err := row.Scan(&w.RoundID, &holder, &rank, &share, &w.Claimed, &w.ClaimedAtMs, &w.ClaimReceipt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Winner{}, ErrWinnerNotFound
	}
	if err != nil {
		return Winner{}, fmt.Errorf("failed to scan winner: %w", err)
	}
	if w.Holder, err = solana.PublicKeyFromBase58(holder); err != nil {
		return Winner{}, fmt.Errorf("failed to parse winner key: %w", err)
	}
	w.Rank = int(rank)
	w.Share = uint64(share)
	return w, nil
}

const winnerColumns = `round_id, holder, rank, share, claimed, claimed_at_ms, claim_receipt`

func getWinner(ctx context.Context, q pg.Querier, roundID int64, holder solana.PublicKey) (Winner, error) {
	return scanWinner(q.QueryRow(ctx,
		`SELECT `+winnerColumns+` FROM winners WHERE round_id = $1 AND holder = $2`,
		roundID, holder.String()))
}

func winnersDeclared(ctx context.Context, q pg.Querier, roundID int64) (bool, error) {
	var count int
	if err := q.QueryRow(ctx, `SELECT count(*) FROM winners WHERE round_id = $1`, roundID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count winners: %w", err)
	}
	return count > 0, nil
}

func getSettlement(ctx context.Context, q pg.Querier, roundID int64) (Settlement, error) {
	var (
		st            Settlement
		distributable int64
		treasuryFee   int64
		organizerFee  int64
		prizePool     int64
	)
	err := q.QueryRow(ctx,
		`SELECT round_id, receipt, distributable, treasury_fee, organizer_fee, prize_pool, settled_at_ms
		 FROM settlements WHERE round_id = $1`, roundID,
	).Scan(&st.RoundID, &st.Receipt, &distributable, &treasuryFee, &organizerFee, &prizePool, &st.SettledAtMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, ErrNotSettled
	}
	if err != nil {
		return Settlement{}, fmt.Errorf("failed to read settlement: %w", err)
	}
	st.Distributable = uint64(distributable)
	st.TreasuryFee = uint64(treasuryFee)
	st.OrganizerFee = uint64(organizerFee)
	st.PrizePool = uint64(prizePool)
	return st, nil
}

func insertSettlement(ctx context.Context, q pg.Querier, st Settlement) error {
	_, err := q.Exec(ctx,
		`INSERT INTO settlements (round_id, receipt, distributable, treasury_fee, organizer_fee, prize_pool, settled_at_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		st.RoundID, st.Receipt, int64(st.Distributable), int64(st.TreasuryFee), int64(st.OrganizerFee),
		int64(st.PrizePool), st.SettledAtMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}
	return nil
}

func insertWinner(ctx context.Context, q pg.Querier, roundID int64, holder solana.PublicKey, rank int, share uint64) error {
	_, err := q.Exec(ctx,
		`INSERT INTO winners (round_id, holder, rank, share) VALUES ($1, $2, $3, $4)`,
		roundID, holder.String(), int32(rank), int64(share),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: winner already declared", ErrAlreadyDone)
	}
	if err != nil {
		return fmt.Errorf("failed to insert winner: %w", err)
	}
	return nil
}

func newReceipt() uuid.UUID {
	return uuid.New()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

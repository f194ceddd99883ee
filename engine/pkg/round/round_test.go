package round

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/quizpot/quizpot/engine/pkg/ledger"
	"github.com/quizpot/quizpot/engine/pkg/merkle"
	"github.com/quizpot/quizpot/engine/pkg/protocol"
	enginetesting "github.com/quizpot/quizpot/engine/pkg/testing"
)

const testTreasuryRateBps = 600

var (
	testDB       *enginetesting.DB
	testOperator = solana.NewWallet().PublicKey()
	testTreasury = solana.NewWallet().PublicKey()
)

func TestMain(m *testing.M) {
	log := enginetesting.NewLogger()
	ctx := context.Background()

	db, err := enginetesting.NewDB(ctx, log, nil)
	if err != nil {
		log.Error("failed to start test database", "error", err)
		os.Exit(1)
	}
	testDB = db

	// One protocol config for the whole package; tests that need to mutate
	// it run against their own database.
	pool, err := pgxpool.New(ctx, db.ConnStr())
	if err == nil {
		err = protocol.Init(ctx, pool, protocol.Config{
			Operator:        testOperator,
			Treasury:        testTreasury,
			TreasuryRateBps: testTreasuryRateBps,
		})
		pool.Close()
	}
	if err != nil {
		log.Error("failed to initialize protocol config", "error", err)
		db.Close()
		os.Exit(1)
	}

	code := m.Run()
	db.Close()
	os.Exit(code)
}

// fixture wires a Service to the shared test database with a private fake
// clock. Tests are isolated by round identity, not by table resets, so they
// can run in parallel against the same container.
type fixture struct {
	t         *testing.T
	pool      *pgxpool.Pool
	clock     *clockwork.FakeClock
	svc       *Service
	organizer solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	pool := testDB.NewPool(t)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	svc, err := New(Config{
		Logger: enginetesting.NewLogger(),
		Pool:   pool,
		Clock:  clock,
	})
	require.NoError(t, err)

	return &fixture{
		t:         t,
		pool:      pool,
		clock:     clock,
		svc:       svc,
		organizer: solana.NewWallet().PublicKey(),
	}
}

func (f *fixture) nowMs() int64 {
	return f.clock.Now().UnixMilli()
}

func (f *fixture) fund(owner solana.PublicKey, asset ledger.Asset, amount uint64) {
	f.t.Helper()
	require.NoError(f.t, ledger.Credit(f.t.Context(), f.pool, owner, asset, amount))
}

func (f *fixture) balance(owner solana.PublicKey, asset ledger.Asset) uint64 {
	f.t.Helper()
	b, err := ledger.Balance(f.t.Context(), f.pool, owner, asset)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) vault(roundID int64) ledger.Vault {
	f.t.Helper()
	v, err := ledger.GetVault(f.t.Context(), f.pool, roundID)
	require.NoError(f.t, err)
	return v
}

// quiz holds an answer commitment and everything needed to produce proofs
// against it.
type quiz struct {
	root   merkle.Hash
	leaves []merkle.Hash
	tree   *merkle.Tree
}

func newQuiz(t *testing.T, questions int) *quiz {
	t.Helper()

	leaves := make([]merkle.Hash, questions)
	for i := range leaves {
		leaves[i] = merkle.Leaf(uint32(i), fmt.Sprintf("answer-%d", i), fmt.Sprintf("q-%d", i))
	}
	tree, err := merkle.NewTree(leaves)
	require.NoError(t, err)
	return &quiz{root: tree.Root(), leaves: leaves, tree: tree}
}

// answers returns one submission with the first `correct` positions answered
// correctly and the rest answered wrong.
func (q *quiz) answers(t *testing.T, correct int) []merkle.Answer {
	t.Helper()

	out := make([]merkle.Answer, len(q.leaves))
	for i := range q.leaves {
		proof, err := q.tree.Proof(i)
		require.NoError(t, err)
		answer := fmt.Sprintf("answer-%d", i)
		if i >= correct {
			answer = "wrong"
		}
		out[i] = merkle.Answer{
			Position:   uint32(i),
			Answer:     answer,
			QuestionID: fmt.Sprintf("q-%d", i),
			Proof:      proof,
		}
	}
	return out
}

// baseParams returns a valid native round starting one minute from the
// fixture clock and running for ten minutes.
func (f *fixture) baseParams(q *quiz) CreateParams {
	return CreateParams{
		Organizer:        f.organizer,
		Code:             uuid.NewString()[:8],
		Name:             "Friday Night Trivia",
		Asset:            ledger.Native(),
		EntryFee:         100_000_000,
		OrganizerRateBps: 500,
		StartsAtMs:       f.nowMs() + time.Minute.Milliseconds(),
		EndsAtMs:         f.nowMs() + 11*time.Minute.Milliseconds(),
		MaxWinners:       3,
		Commitment:       q.root,
		CorrectLeaves:    q.leaves,
		ReservedFloor:    2_000_000,
	}
}

// createRound funds the organizer for the floor and donation, then creates
// the round.
func (f *fixture) createRound(p CreateParams) Round {
	f.t.Helper()

	if p.ReservedFloor+p.Donation > 0 {
		f.fund(p.Organizer, p.Asset, p.ReservedFloor+p.Donation)
	}
	r, err := f.svc.CreateRound(f.t.Context(), p)
	require.NoError(f.t, err)
	return r
}

// joinMany funds and joins n fresh holders.
func (f *fixture) joinMany(r Round, n int) []solana.PublicKey {
	f.t.Helper()

	holders := make([]solana.PublicKey, n)
	for i := range holders {
		holders[i] = solana.NewWallet().PublicKey()
		if r.EntryFee > 0 {
			f.fund(holders[i], r.Asset, r.EntryFee)
		}
		_, err := f.svc.Join(f.t.Context(), r.ID, holders[i])
		require.NoError(f.t, err)
	}
	return holders
}

func TestEngine_Round_Create(t *testing.T) {
	t.Parallel()

	t.Run("creates round with funded vault", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 5)

		p := f.baseParams(q)
		p.Donation = 50_000_000
		r := f.createRound(p)

		require.NotZero(t, r.ID)
		require.Equal(t, StateCreated, r.State(f.nowMs()))

		v := f.vault(r.ID)
		require.Equal(t, p.ReservedFloor+p.Donation, v.Balance)
		require.Equal(t, p.ReservedFloor, v.ReservedFloor)
		require.False(t, v.Closed)

		// Floor and donation both came out of the organizer's account.
		require.Zero(t, f.balance(f.organizer, ledger.Native()))
	})

	t.Run("defaults curve to even", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)

		p := f.baseParams(q)
		p.Curve = ""
		r := f.createRound(p)
		require.Equal(t, "even", r.Curve)
	})

	t.Run("rejects invalid parameters", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)

		cases := []struct {
			name string
			mod  func(*CreateParams)
		}{
			{"empty code", func(p *CreateParams) { p.Code = "" }},
			{"empty name", func(p *CreateParams) { p.Name = "" }},
			{"rate above cap", func(p *CreateParams) { p.OrganizerRateBps = MaxOrganizerRateBps + 1 }},
			{"start after end", func(p *CreateParams) { p.EndsAtMs = p.StartsAtMs - 1 }},
			{"start in the past", func(p *CreateParams) { p.StartsAtMs = f.nowMs() - 1 }},
			{"zero max winners", func(p *CreateParams) { p.MaxWinners = 0 }},
			{"max winners above cap", func(p *CreateParams) { p.MaxWinners = MaxWinnersCap + 1 }},
			{"zero commitment", func(p *CreateParams) { p.Commitment = merkle.Hash{} }},
			{"no correct leaves", func(p *CreateParams) { p.CorrectLeaves = nil }},
			{"unknown curve", func(p *CreateParams) { p.Curve = "parabolic" }},
			{"token round with floor", func(p *CreateParams) {
				p.Asset = ledger.Token(solana.NewWallet().PublicKey())
			}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				p := f.baseParams(q)
				tc.mod(&p)
				_, err := f.svc.CreateRound(t.Context(), p)
				require.ErrorIs(t, err, ErrInvalidParameters)
			})
		}
	})

	t.Run("rejects duplicate organizer and code", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)

		p := f.baseParams(q)
		f.createRound(p)

		f.fund(f.organizer, ledger.Native(), p.ReservedFloor)
		_, err := f.svc.CreateRound(t.Context(), p)
		require.ErrorIs(t, err, ErrAlreadyDone)
	})

	t.Run("nothing is created when the organizer cannot fund the floor", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)

		p := f.baseParams(q)
		_, err := f.svc.CreateRound(t.Context(), p)
		require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

		_, err = f.svc.GetRoundByCode(t.Context(), f.organizer, p.Code)
		require.ErrorIs(t, err, ErrRoundNotFound)
	})
}

func TestEngine_Round_Update(t *testing.T) {
	t.Parallel()

	t.Run("updates terms before settlement", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		name := "Renamed Trivia"
		entryFee := uint64(42_000_000)
		updated, err := f.svc.UpdateRound(t.Context(), r.ID, f.organizer, UpdateParams{
			Name:     &name,
			EntryFee: &entryFee,
		})
		require.NoError(t, err)
		require.Equal(t, name, updated.Name)
		require.Equal(t, entryFee, updated.EntryFee)
	})

	t.Run("end time can only move earlier", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		later := r.EndsAtMs + 1
		_, err := f.svc.UpdateRound(t.Context(), r.ID, f.organizer, UpdateParams{EndsAtMs: &later})
		require.ErrorIs(t, err, ErrInvalidParameters)

		earlier := r.EndsAtMs - time.Minute.Milliseconds()
		updated, err := f.svc.UpdateRound(t.Context(), r.ID, f.organizer, UpdateParams{EndsAtMs: &earlier})
		require.NoError(t, err)
		require.Equal(t, earlier, updated.EndsAtMs)

		beforeStart := r.StartsAtMs - 1
		_, err = f.svc.UpdateRound(t.Context(), r.ID, f.organizer, UpdateParams{EndsAtMs: &beforeStart})
		require.ErrorIs(t, err, ErrInvalidParameters)
	})

	t.Run("commitment update requires new correct leaves", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		q2 := newQuiz(t, 7)
		_, err := f.svc.UpdateRound(t.Context(), r.ID, f.organizer, UpdateParams{Commitment: &q2.root})
		require.ErrorIs(t, err, ErrInvalidParameters)

		updated, err := f.svc.UpdateRound(t.Context(), r.ID, f.organizer, UpdateParams{
			Commitment:    &q2.root,
			CorrectLeaves: q2.leaves,
		})
		require.NoError(t, err)
		require.Equal(t, q2.root, updated.Commitment)
		require.Len(t, updated.CorrectLeaves, 7)
	})

	t.Run("only the organizer may update", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		name := "hijacked"
		_, err := f.svc.UpdateRound(t.Context(), r.ID, solana.NewWallet().PublicKey(), UpdateParams{Name: &name})
		require.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("rejected after settlement", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		f.clock.Advance(12 * time.Minute)
		_, err := f.svc.Settle(t.Context(), r.ID, f.organizer)
		require.NoError(t, err)

		name := "too late"
		_, err = f.svc.UpdateRound(t.Context(), r.ID, f.organizer, UpdateParams{Name: &name})
		require.ErrorIs(t, err, ErrAlreadyDone)
	})
}

func TestEngine_Round_StartNow(t *testing.T) {
	t.Parallel()

	t.Run("snaps start time to the current instant", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))
		require.Equal(t, StateCreated, r.State(f.nowMs()))

		updated, err := f.svc.StartNow(t.Context(), r.ID, f.organizer)
		require.NoError(t, err)
		require.Equal(t, f.nowMs(), updated.StartsAtMs)
		require.Equal(t, StateStarted, updated.State(f.nowMs()))
	})

	t.Run("rejected once the round has started", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		f.clock.Advance(2 * time.Minute)
		_, err := f.svc.StartNow(t.Context(), r.ID, f.organizer)
		require.ErrorIs(t, err, ErrNoLongerEligible)
	})

	t.Run("only the organizer may start", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		_, err := f.svc.StartNow(t.Context(), r.ID, solana.NewWallet().PublicKey())
		require.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestEngine_Round_Join(t *testing.T) {
	t.Parallel()

	t.Run("entry fee moves into the vault", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		holder := solana.NewWallet().PublicKey()
		f.fund(holder, ledger.Native(), r.EntryFee)

		p, err := f.svc.Join(t.Context(), r.ID, holder)
		require.NoError(t, err)
		require.Equal(t, holder, p.Holder)
		require.False(t, p.Submitted())

		require.Zero(t, f.balance(holder, ledger.Native()))
		require.Equal(t, r.EntryFee+2_000_000, f.vault(r.ID).Balance)
	})

	t.Run("joinable while started", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		f.clock.Advance(2 * time.Minute)
		f.joinMany(r, 1)
	})

	t.Run("rejected after the end time", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		f.clock.Advance(12 * time.Minute)
		holder := solana.NewWallet().PublicKey()
		f.fund(holder, ledger.Native(), r.EntryFee)
		_, err := f.svc.Join(t.Context(), r.ID, holder)
		require.ErrorIs(t, err, ErrNoLongerEligible)
	})

	t.Run("double join is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		holder := f.joinMany(r, 1)[0]
		f.fund(holder, ledger.Native(), r.EntryFee)
		_, err := f.svc.Join(t.Context(), r.ID, holder)
		require.ErrorIs(t, err, ErrAlreadyDone)

		// The second fee never moved.
		require.Equal(t, r.EntryFee, f.balance(holder, ledger.Native()))
	})

	t.Run("unfunded join leaves no participant behind", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		holder := solana.NewWallet().PublicKey()
		_, err := f.svc.Join(t.Context(), r.ID, holder)
		require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

		_, err = f.svc.GetParticipant(t.Context(), r.ID, holder)
		require.ErrorIs(t, err, ErrParticipantNotFound)
	})

	t.Run("unknown round", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.svc.Join(t.Context(), 1<<40, solana.NewWallet().PublicKey())
		require.ErrorIs(t, err, ErrRoundNotFound)
	})
}

func TestEngine_Round_Donation(t *testing.T) {
	t.Parallel()

	t.Run("add and withdraw move funds through the vault", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		f.fund(f.organizer, ledger.Native(), 300_000_000)
		require.NoError(t, f.svc.AddDonation(t.Context(), r.ID, f.organizer, 300_000_000))
		require.Equal(t, uint64(302_000_000), f.vault(r.ID).Balance)

		require.NoError(t, f.svc.WithdrawDonation(t.Context(), r.ID, f.organizer, 100_000_000))
		require.Equal(t, uint64(202_000_000), f.vault(r.ID).Balance)
		require.Equal(t, uint64(100_000_000), f.balance(f.organizer, ledger.Native()))

		updated, err := f.svc.GetRound(t.Context(), r.ID)
		require.NoError(t, err)
		require.Equal(t, uint64(200_000_000), updated.Donation)
	})

	t.Run("withdrawal is bounded by the recorded donation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		p := f.baseParams(q)
		p.Donation = 10_000_000
		r := f.createRound(p)

		err := f.svc.WithdrawDonation(t.Context(), r.ID, f.organizer, 10_000_001)
		require.ErrorIs(t, err, ErrInvalidParameters)
	})

	t.Run("only the organizer may donate", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		other := solana.NewWallet().PublicKey()
		f.fund(other, ledger.Native(), 1_000)
		require.ErrorIs(t, f.svc.AddDonation(t.Context(), r.ID, other, 1_000), ErrUnauthorized)
	})

	t.Run("immutable after settlement", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		p := f.baseParams(q)
		p.Donation = 10_000_000
		r := f.createRound(p)

		f.clock.Advance(12 * time.Minute)
		_, err := f.svc.Settle(t.Context(), r.ID, f.organizer)
		require.NoError(t, err)

		require.ErrorIs(t, f.svc.WithdrawDonation(t.Context(), r.ID, f.organizer, 1), ErrAlreadyDone)
	})
}

func TestEngine_Round_Submit(t *testing.T) {
	t.Parallel()

	t.Run("scores answers against the commitment", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 5)
		r := f.createRound(f.baseParams(q))
		holder := f.joinMany(r, 1)[0]

		f.clock.Advance(3 * time.Minute)
		p, err := f.svc.Submit(t.Context(), SubmitParams{
			RoundID:    r.ID,
			Holder:     holder,
			Answers:    q.answers(t, 3),
			FinishTime: (r.StartsAtMs + 2*time.Minute.Milliseconds()) / 1000,
		})
		require.NoError(t, err)
		require.True(t, p.Submitted())
		require.Equal(t, 3, p.CorrectCount)
		require.NotNil(t, p.FinishTime)
	})

	t.Run("a participant submits exactly once", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 5)
		r := f.createRound(f.baseParams(q))
		holder := f.joinMany(r, 1)[0]

		f.clock.Advance(3 * time.Minute)
		finish := (r.StartsAtMs + time.Minute.Milliseconds()) / 1000
		first, err := f.svc.Submit(t.Context(), SubmitParams{
			RoundID: r.ID, Holder: holder, Answers: q.answers(t, 5), FinishTime: finish,
		})
		require.NoError(t, err)
		require.Equal(t, 5, first.CorrectCount)

		// The second attempt fails and the first score stands.
		_, err = f.svc.Submit(t.Context(), SubmitParams{
			RoundID: r.ID, Holder: holder, Answers: q.answers(t, 1), FinishTime: finish,
		})
		require.ErrorIs(t, err, ErrAlreadyDone)

		stored, err := f.svc.GetParticipant(t.Context(), r.ID, holder)
		require.NoError(t, err)
		require.Equal(t, 5, stored.CorrectCount)
	})

	t.Run("rejected outside the submission window", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))
		holder := f.joinMany(r, 1)[0]

		p := SubmitParams{
			RoundID: r.ID, Holder: holder, Answers: q.answers(t, 3),
			FinishTime: (r.StartsAtMs + time.Minute.Milliseconds()) / 1000,
		}

		_, err := f.svc.Submit(t.Context(), p)
		require.ErrorIs(t, err, ErrNotYetEligible)

		f.clock.Advance(12 * time.Minute)
		_, err = f.svc.Submit(t.Context(), p)
		require.ErrorIs(t, err, ErrNoLongerEligible)
	})

	t.Run("window is start-inclusive and end-exclusive", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))
		holders := f.joinMany(r, 2)

		// At exactly the start instant the round is live, and a finish time
		// equal to that same instant is the earliest accepted value.
		f.clock.Advance(time.Minute)
		require.Equal(t, r.StartsAtMs, f.nowMs())
		p, err := f.svc.Submit(t.Context(), SubmitParams{
			RoundID:    r.ID,
			Holder:     holders[0],
			Answers:    q.answers(t, 3),
			FinishTime: r.StartsAtMs / 1000,
		})
		require.NoError(t, err)
		require.Equal(t, r.StartsAtMs/1000, *p.FinishTime)

		// At exactly the end instant the round has already ended.
		f.clock.Advance(10 * time.Minute)
		require.Equal(t, r.EndsAtMs, f.nowMs())
		_, err = f.svc.Submit(t.Context(), SubmitParams{
			RoundID:    r.ID,
			Holder:     holders[1],
			Answers:    q.answers(t, 3),
			FinishTime: r.StartsAtMs / 1000,
		})
		require.ErrorIs(t, err, ErrNoLongerEligible)
	})

	t.Run("validates the declared finish time", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))
		holder := f.joinMany(r, 1)[0]

		f.clock.Advance(3 * time.Minute)

		cases := []struct {
			name   string
			finish int64
		}{
			{"before round start", r.StartsAtMs/1000 - 1},
			{"after round end", r.EndsAtMs/1000 + 1},
			{"in the future", f.nowMs()/1000 + 60},
			// Equal to the end is inside the allowed range, but in a live
			// round that instant is always ahead of the clock.
			{"at the exact end, ahead of the clock", r.EndsAtMs / 1000},
			{"negative", -1},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := f.svc.Submit(t.Context(), SubmitParams{
					RoundID: r.ID, Holder: holder, Answers: q.answers(t, 3), FinishTime: tc.finish,
				})
				require.ErrorIs(t, err, ErrInvalidParameters)
			})
		}
	})

	t.Run("requires a prior join", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))

		f.clock.Advance(3 * time.Minute)
		_, err := f.svc.Submit(t.Context(), SubmitParams{
			RoundID:    r.ID,
			Holder:     solana.NewWallet().PublicKey(),
			Answers:    q.answers(t, 3),
			FinishTime: (r.StartsAtMs + time.Minute.Milliseconds()) / 1000,
		})
		require.ErrorIs(t, err, ErrParticipantNotFound)
	})

	t.Run("proofs against a different commitment score zero", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := newQuiz(t, 3)
		r := f.createRound(f.baseParams(q))
		holder := f.joinMany(r, 1)[0]

		other := newQuiz(t, 3)
		f.clock.Advance(3 * time.Minute)
		p, err := f.svc.Submit(t.Context(), SubmitParams{
			RoundID:    r.ID,
			Holder:     holder,
			Answers:    other.answers(t, 3),
			FinishTime: (r.StartsAtMs + time.Minute.Milliseconds()) / 1000,
		})
		require.NoError(t, err)
		require.Zero(t, p.CorrectCount)
	})
}

func TestEngine_Round_Pause(t *testing.T) {
	t.Parallel()

	// Pause flips global state, so this test runs against its own database.
	log := enginetesting.NewLogger()
	db, err := enginetesting.NewDB(t.Context(), log, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	pool, err := pgxpool.New(t.Context(), db.ConnStr())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	operator := solana.NewWallet().PublicKey()
	treasury := solana.NewWallet().PublicKey()
	require.NoError(t, protocol.Init(t.Context(), pool, protocol.Config{
		Operator:        operator,
		Treasury:        treasury,
		TreasuryRateBps: testTreasuryRateBps,
	}))

	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	svc, err := New(Config{Logger: log, Pool: pool, Clock: clock})
	require.NoError(t, err)

	q := newQuiz(t, 3)
	organizer := solana.NewWallet().PublicKey()
	require.NoError(t, ledger.Credit(t.Context(), pool, organizer, ledger.Native(), 2_000_000))
	r, err := svc.CreateRound(t.Context(), CreateParams{
		Organizer:        organizer,
		Code:             "paused-round",
		Name:             "Pause Drill",
		Asset:            ledger.Native(),
		EntryFee:         1_000,
		OrganizerRateBps: 500,
		StartsAtMs:       clock.Now().UnixMilli() + time.Minute.Milliseconds(),
		EndsAtMs:         clock.Now().UnixMilli() + 11*time.Minute.Milliseconds(),
		MaxWinners:       1,
		Commitment:       q.root,
		CorrectLeaves:    q.leaves,
		ReservedFloor:    2_000_000,
	})
	require.NoError(t, err)

	require.NoError(t, protocol.SetPaused(t.Context(), pool, operator, true))

	// Every mutating operation is rejected while paused.
	holder := solana.NewWallet().PublicKey()
	require.NoError(t, ledger.Credit(t.Context(), pool, holder, ledger.Native(), 1_000))
	_, err = svc.Join(t.Context(), r.ID, holder)
	require.ErrorIs(t, err, protocol.ErrPaused)

	_, err = svc.Settle(t.Context(), r.ID, organizer)
	require.ErrorIs(t, err, protocol.ErrPaused)

	// Reads still work.
	got, err := svc.GetRound(t.Context(), r.ID)
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)

	// Unpause restores service.
	require.NoError(t, protocol.SetPaused(t.Context(), pool, operator, false))
	_, err = svc.Join(t.Context(), r.ID, holder)
	require.NoError(t, err)
}

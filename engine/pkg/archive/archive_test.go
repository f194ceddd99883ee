package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quizpot/quizpot/engine/pkg/ledger"
	"github.com/quizpot/quizpot/engine/pkg/round"
	enginetesting "github.com/quizpot/quizpot/engine/pkg/testing"
)

type capturePutter struct {
	input *s3.PutObjectInput
	err   error
}

func (c *capturePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c.input = params
	if c.err != nil {
		return nil, c.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestEngine_Archive_New(t *testing.T) {
	t.Parallel()

	log := enginetesting.NewLogger()

	_, err := New(Config{Client: &capturePutter{}, Bucket: "receipts"})
	require.ErrorContains(t, err, "logger is required")

	_, err = New(Config{Logger: log, Bucket: "receipts"})
	require.ErrorContains(t, err, "client is required")

	_, err = New(Config{Logger: log, Client: &capturePutter{}})
	require.ErrorContains(t, err, "bucket is required")

	a, err := New(Config{Logger: log, Client: &capturePutter{}, Bucket: "receipts"})
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestEngine_Archive_SettlementReceipt(t *testing.T) {
	t.Parallel()

	organizer := solana.NewWallet().PublicKey()
	receipt := uuid.New()
	r := round.Round{
		ID:        42,
		Organizer: organizer,
		Code:      "fri-night",
		Asset:     ledger.Native(),
	}
	st := round.Settlement{
		RoundID:       42,
		Receipt:       receipt,
		Distributable: 1_398_000_000,
		TreasuryFee:   83_880_000,
		OrganizerFee:  69_900_000,
		PrizePool:     1_244_220_000,
		SettledAtMs:   1_700_000_720_000,
	}

	t.Run("writes the receipt document under the round code", func(t *testing.T) {
		t.Parallel()
		putter := &capturePutter{}
		a, err := New(Config{
			Logger: enginetesting.NewLogger(),
			Client: putter,
			Bucket: "receipts",
			Prefix: "prod",
		})
		require.NoError(t, err)

		require.NoError(t, a.SettlementReceipt(context.Background(), r, st))
		require.NotNil(t, putter.input)
		require.Equal(t, "receipts", *putter.input.Bucket)
		require.Equal(t, "prod/settlements/fri-night.json", *putter.input.Key)
		require.Equal(t, "application/json", *putter.input.ContentType)

		raw, err := io.ReadAll(putter.input.Body)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(raw, &doc))
		require.Equal(t, "fri-night", doc["round_code"])
		require.Equal(t, organizer.String(), doc["organizer"])
		require.Equal(t, "native", doc["asset"])
		require.Equal(t, receipt.String(), doc["receipt"])
		require.EqualValues(t, 1_398_000_000, doc["distributable"])
		require.EqualValues(t, 83_880_000, doc["treasury_fee"])
		require.EqualValues(t, 69_900_000, doc["organizer_fee"])
		require.EqualValues(t, 1_244_220_000, doc["prize_pool"])
	})

	t.Run("no prefix keeps the key rooted", func(t *testing.T) {
		t.Parallel()
		putter := &capturePutter{}
		a, err := New(Config{Logger: enginetesting.NewLogger(), Client: putter, Bucket: "receipts"})
		require.NoError(t, err)

		require.NoError(t, a.SettlementReceipt(context.Background(), r, st))
		require.Equal(t, "settlements/fri-night.json", *putter.input.Key)
	})

	t.Run("storage failures surface", func(t *testing.T) {
		t.Parallel()
		putter := &capturePutter{err: errors.New("access denied")}
		a, err := New(Config{Logger: enginetesting.NewLogger(), Client: putter, Bucket: "receipts"})
		require.NoError(t, err)

		err = a.SettlementReceipt(context.Background(), r, st)
		require.ErrorContains(t, err, "failed to put settlement receipt")
		require.ErrorContains(t, err, "access denied")
	})
}

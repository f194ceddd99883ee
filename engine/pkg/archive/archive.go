// Package archive lands settlement receipts in object storage so the audit
// trail for drained escrow survives the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/quizpot/quizpot/engine/pkg/round"
)

// ObjectPutter is the slice of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Logger *slog.Logger
	Client ObjectPutter
	Bucket string
	// Prefix is prepended to every object key. Optional.
	Prefix string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("object storage client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}

type Archiver struct {
	log    *slog.Logger
	client ObjectPutter
	bucket string
	prefix string
}

func New(cfg Config) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Archiver{
		log:    cfg.Logger,
		client: cfg.Client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// settlementDoc is the stored receipt. Amounts are minor units of the
// round's asset.
type settlementDoc struct {
	RoundID       int64  `json:"round_id"`
	RoundCode     string `json:"round_code"`
	Organizer     string `json:"organizer"`
	Asset         string `json:"asset"`
	Receipt       string `json:"receipt"`
	Distributable uint64 `json:"distributable"`
	TreasuryFee   uint64 `json:"treasury_fee"`
	OrganizerFee  uint64 `json:"organizer_fee"`
	PrizePool     uint64 `json:"prize_pool"`
	SettledAtMs   int64  `json:"settled_at_ms"`
}

// SettlementReceipt writes a settled round's receipt to
// <prefix>/settlements/<round code>.json. The round code is unique, so a
// retried settlement overwrites the same object with identical content.
func (a *Archiver) SettlementReceipt(ctx context.Context, r round.Round, st round.Settlement) error {
	body, err := json.Marshal(settlementDoc{
		RoundID:       st.RoundID,
		RoundCode:     r.Code,
		Organizer:     r.Organizer.String(),
		Asset:         r.Asset.String(),
		Receipt:       st.Receipt.String(),
		Distributable: st.Distributable,
		TreasuryFee:   st.TreasuryFee,
		OrganizerFee:  st.OrganizerFee,
		PrizePool:     st.PrizePool,
		SettledAtMs:   st.SettledAtMs,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal settlement receipt: %w", err)
	}

	key := path.Join(a.prefix, "settlements", r.Code+".json")
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put settlement receipt: %w", err)
	}

	a.log.Debug("archive: settlement receipt stored", "round_id", st.RoundID, "key", key)
	return nil
}

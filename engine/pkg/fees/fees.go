// Package fees implements the settlement fee math: fixed-point basis-point
// rates with floor rounding and exact conservation of the distributable
// amount across the treasury fee, organizer fee, and prize pool.
package fees

import (
	"errors"
	"math"
	"math/bits"
)

// BpsDenominator is the fixed-point denominator for all fee rates. Basis
// points out of 10,000 is the one canonical rate unit inside the engine;
// percent-shaped inputs are converted at the boundary via PercentToBps.
const BpsDenominator = 10_000

// MaxAmount is the largest representable minor-unit amount. Amounts are
// persisted as signed 64-bit integers, so the engine caps them there.
const MaxAmount = math.MaxInt64

var (
	// ErrRateOutOfRange is returned when a rate exceeds BpsDenominator.
	ErrRateOutOfRange = errors.New("fee rate exceeds 10000 bps")

	// ErrCombinedRateOutOfRange is returned when the treasury and organizer
	// rates together exceed BpsDenominator.
	ErrCombinedRateOutOfRange = errors.New("combined fee rates exceed 10000 bps")

	// ErrAmountOutOfRange is returned when an amount exceeds MaxAmount.
	ErrAmountOutOfRange = errors.New("amount exceeds representable range")

	// ErrPercentOutOfRange is returned by PercentToBps for inputs above 100.
	ErrPercentOutOfRange = errors.New("percent rate exceeds 100")
)

// Split is the three-way division of a distributable amount. The fields
// always sum exactly to Distributable.
type Split struct {
	Distributable uint64 `json:"distributable"`
	TreasuryFee   uint64 `json:"treasury_fee"`
	OrganizerFee  uint64 `json:"organizer_fee"`
	PrizePool     uint64 `json:"prize_pool"`
}

// Compute splits a distributable amount between the treasury, the organizer,
// and the prize pool. Both fees round down; the pool absorbs the remainder,
// so no minor unit is ever lost or invented.
func Compute(distributable uint64, treasuryBps, organizerBps uint16) (Split, error) {
	if distributable > MaxAmount {
		return Split{}, ErrAmountOutOfRange
	}
	if treasuryBps > BpsDenominator || organizerBps > BpsDenominator {
		return Split{}, ErrRateOutOfRange
	}
	if uint32(treasuryBps)+uint32(organizerBps) > BpsDenominator {
		return Split{}, ErrCombinedRateOutOfRange
	}

	treasury := mulBpsFloor(distributable, treasuryBps)
	organizer := mulBpsFloor(distributable, organizerBps)
	return Split{
		Distributable: distributable,
		TreasuryFee:   treasury,
		OrganizerFee:  organizer,
		PrizePool:     distributable - treasury - organizer,
	}, nil
}

// mulBpsFloor computes floor(amount * bps / 10000) without intermediate
// overflow. amount*bps can exceed 64 bits for amounts near MaxAmount.
func mulBpsFloor(amount uint64, bps uint16) uint64 {
	hi, lo := bits.Mul64(amount, uint64(bps))
	q, _ := bits.Div64(hi, lo, BpsDenominator)
	return q
}

// Distributable returns the portion of a vault balance available for
// settlement: the balance minus the reserved floor, clamped at zero. Token
// vaults carry a zero floor, so their full balance is distributable.
func Distributable(balance, reservedFloor uint64) uint64 {
	if balance <= reservedFloor {
		return 0
	}
	return balance - reservedFloor
}

// PercentToBps converts a whole-percent rate to basis points. Legacy call
// paths express the organizer commission out of 100; everything downstream
// of the boundary works in bps only.
func PercentToBps(percent uint16) (uint16, error) {
	if percent > 100 {
		return 0, ErrPercentOutOfRange
	}
	return percent * 100, nil
}

// Package prize computes per-winner shares of a settled prize pool. The
// weighting curve is policy and pluggable; the remainder rule is not: floor
// division remainders always go to the rank-1 winner so the pool is conserved
// exactly.
package prize

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrNoWinners is returned when shares are requested for zero winners.
	ErrNoWinners = errors.New("at least one winner is required")

	// ErrUnknownCurve is returned by ByName for unregistered curve names.
	ErrUnknownCurve = errors.New("unknown prize curve")
)

// Curve produces rank weights for n winners, rank 1 first. Weights must be
// positive and non-increasing: rank 1 never receives less than rank 2.
type Curve interface {
	Name() string
	Weights(n int) []uint64
}

// EvenCurve splits the pool evenly across all winners.
type EvenCurve struct{}

func (EvenCurve) Name() string { return "even" }

func (EvenCurve) Weights(n int) []uint64 {
	w := make([]uint64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// LinearCurve weights winners linearly by rank: with n winners, rank 1
// carries weight n and rank n carries weight 1.
type LinearCurve struct{}

func (LinearCurve) Name() string { return "linear" }

func (LinearCurve) Weights(n int) []uint64 {
	w := make([]uint64, n)
	for i := range w {
		w[i] = uint64(n - i)
	}
	return w
}

// ByName resolves a curve from round terms. Unknown names are rejected at
// round creation, not at settlement.
func ByName(name string) (Curve, error) {
	switch name {
	case "", "even":
		return EvenCurve{}, nil
	case "linear":
		return LinearCurve{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCurve, name)
	}
}

// Shares divides a pool among winners ordered by rank. Each share is
// floor(pool * weight / totalWeight); the integer remainder is allocated to
// the rank-1 winner. The returned shares always sum exactly to pool.
func Shares(pool uint64, winners int, curve Curve) ([]uint64, error) {
	if winners < 1 {
		return nil, ErrNoWinners
	}
	if curve == nil {
		curve = EvenCurve{}
	}

	weights := curve.Weights(winners)
	var total uint64
	for _, w := range weights {
		total += w
	}

	shares := make([]uint64, winners)
	var allocated uint64
	for i, w := range weights {
		hi, lo := bits.Mul64(pool, w)
		q, _ := bits.Div64(hi, lo, total)
		shares[i] = q
		allocated += q
	}
	shares[0] += pool - allocated
	return shares, nil
}

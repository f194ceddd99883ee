// Package ledger is the asset-movement boundary: account balances and
// per-round custody vaults, held in Postgres in minor units. Native and
// token assets share one interface; only the reserved-floor rule differs.
//
// Every operation takes a pg.Querier so callers compose them into a single
// serializable transaction; the ledger itself never begins or commits one.
package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the available
	// balance. It is surfaced unchanged to the engine's callers.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBelowReservedFloor is returned when a withdrawal would drive a
	// native vault below its reserved floor outside the final drain.
	ErrBelowReservedFloor = errors.New("withdrawal would breach reserved floor")

	// ErrOverflow is returned when a credit would exceed the representable
	// balance range.
	ErrOverflow = errors.New("balance overflow")

	// ErrVaultClosed is returned for operations against a drained vault.
	ErrVaultClosed = errors.New("vault is closed")

	// ErrVaultNotFound is returned when no vault exists for a round.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrMalformedAsset is returned when an asset string cannot be parsed.
	ErrMalformedAsset = errors.New("malformed asset")
)

// Kind tags the asset variant a vault custodies.
type Kind string

const (
	KindNative Kind = "native"
	KindToken  Kind = "token"
)

// Asset identifies what a balance is denominated in: the native asset or a
// specific token mint.
type Asset struct {
	Kind Kind
	Mint solana.PublicKey // zero for native
}

// Native returns the native asset.
func Native() Asset {
	return Asset{Kind: KindNative}
}

// Token returns the asset for a token mint.
func Token(mint solana.PublicKey) Asset {
	return Asset{Kind: KindToken, Mint: mint}
}

// String returns the storage form of the asset: "native" or the base58 mint.
func (a Asset) String() string {
	if a.Kind == KindNative {
		return string(KindNative)
	}
	return a.Mint.String()
}

// ParseAsset parses the storage form produced by String.
func ParseAsset(s string) (Asset, error) {
	if s == string(KindNative) {
		return Native(), nil
	}
	mint, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %q", ErrMalformedAsset, s)
	}
	return Token(mint), nil
}

// IsNative reports whether the asset is the native one.
func (a Asset) IsNative() bool {
	return a.Kind == KindNative
}

// Vault is one round's custody unit.
type Vault struct {
	RoundID       int64
	Asset         Asset
	Balance       uint64
	ReservedFloor uint64 // always zero for token vaults
	Closed        bool
}

// Transfer is one leg of a multi-way vault drain.
type Transfer struct {
	To     solana.PublicKey
	Amount uint64
}

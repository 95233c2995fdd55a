package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature (base58 string).
type Signature string

// Short returns a log-friendly prefix of the key.
func (p Pubkey) Short() string { return shorten(string(p), 8) }

// Short returns a log-friendly prefix of the signature.
func (s Signature) Short() string { return shorten(string(s), 12) }

func shorten(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// ErrInvalidPubkey is returned for strings that are not 32-byte base58 keys.
var ErrInvalidPubkey = errors.New("solana: invalid public key")

// ParsePubkey validates s as a base58-encoded 32-byte key.
func ParsePubkey(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPubkey, s, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidPubkey, s, len(raw))
	}
	return Pubkey(s), nil
}

// IsOnCurve reports whether the key is a point on the ed25519 curve, i.e. it
// can belong to a keypair. Program derived addresses are off-curve.
func IsOnCurve(p Pubkey) bool {
	raw, err := base58.Decode(string(p))
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports decimal.Decimal) decimal.Decimal {
	return lamports.Div(decimal.NewFromInt(LamportsPerSOL))
}

// SOLToLamports converts SOL to whole lamports (truncated).
func SOLToLamports(sol decimal.Decimal) uint64 {
	l := sol.Mul(decimal.NewFromInt(LamportsPerSOL)).Truncate(0)
	if l.IsNegative() {
		return 0
	}
	return l.BigInt().Uint64()
}

// TokenBalance is one pre/post token-balance entry of a transaction.
// Amount is in raw base units.
type TokenBalance struct {
	AccountIndex int             `json:"account_index"`
	Mint         Pubkey          `json:"mint"`
	Owner        Pubkey          `json:"owner"`
	Amount       decimal.Decimal `json:"amount"`
	Decimals     uint8           `json:"decimals"`
}

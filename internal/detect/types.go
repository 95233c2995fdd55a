package detect

import (
	"time"

	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/shopspring/decimal"
)

// Venue identifies the on-chain program where a launch happened.
type Venue string

const (
	VenuePumpFun Venue = "pumpfun"
	VenueRaydium Venue = "raydium"
	VenueMeteora Venue = "meteora"
)

func (v Venue) String() string { return string(v) }

// Program ids of the supported venues.
const (
	PumpFunProgram solana.Pubkey = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	RaydiumAMMv4   solana.Pubkey = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	MeteoraDLMM    solana.Pubkey = "LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"
)

// LaunchCandidate is a newly created asset seen on a venue.
type LaunchCandidate struct {
	Venue      Venue            `json:"venue"`
	Mint       solana.Pubkey    `json:"mint"`
	Creator    solana.Pubkey    `json:"creator"`
	Signature  solana.Signature `json:"signature"`
	DetectedAt time.Time        `json:"detected_at"`
}

// Direction of a tracked wallet's trade.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

func (d Direction) String() string { return string(d) }

// CopyEvent is a trade made by a tracked wallet.
type CopyEvent struct {
	Wallet     solana.Pubkey    `json:"wallet"`
	Mint       solana.Pubkey    `json:"mint"`
	Direction  Direction        `json:"direction"`
	Amount     decimal.Decimal  `json:"amount"` // raw token units, absolute
	Signature  solana.Signature `json:"signature"`
	DetectedAt time.Time        `json:"detected_at"`
}

// WalletFilter decides whether a balance owner is tracked.
type WalletFilter interface {
	IsTracked(owner solana.Pubkey) bool
}

// WalletSet is a static WalletFilter.
type WalletSet map[solana.Pubkey]struct{}

// NewWalletSet builds a set from addresses.
func NewWalletSet(wallets ...solana.Pubkey) WalletSet {
	s := make(WalletSet, len(wallets))
	for _, w := range wallets {
		s[w] = struct{}{}
	}
	return s
}

func (s WalletSet) IsTracked(owner solana.Pubkey) bool {
	_, ok := s[owner]
	return ok
}

package risk

import (
	"time"

	"github.com/nexus-trading/hunter/internal/solana"
	"github.com/shopspring/decimal"
)

// MaxScore is the sum of all check weights.
const MaxScore = 100

// SecurityData is the normalized answer of the security-attributes provider.
// Pointer fields are nil when the provider did not report them.
type SecurityData struct {
	NonTransferable    bool             `json:"non_transferable"`
	TransferHook       bool             `json:"transfer_hook"`
	Freezeable         bool             `json:"freezeable"`
	FreezeAuthority    string           `json:"freeze_authority,omitempty"`
	Mintable           bool             `json:"mintable"`
	MintAuthority      string           `json:"mint_authority,omitempty"`
	OwnershipRenounced *bool            `json:"ownership_renounced,omitempty"`
	TaxPct             *decimal.Decimal `json:"tax_pct,omitempty"`
}

// MarketData is the normalized answer of the market-data provider.
type MarketData struct {
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	PairAddress  string          `json:"pair_address"`
	DexID        string          `json:"dex_id"`
	PairCount    int             `json:"pair_count"`
}

// Verdict is the outcome of one evaluation. It is never mutated after it
// is cached; a later evaluation supersedes it.
type Verdict struct {
	Mint        solana.Pubkey `json:"mint"`
	Score       int           `json:"score"`
	MaxScore    int           `json:"max_score"`
	Passed      bool          `json:"passed"`
	Risks       []string      `json:"risks"`
	Warnings    []string      `json:"warnings"`
	Security    *SecurityData `json:"security,omitempty"`
	Market      *MarketData   `json:"market,omitempty"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// Age returns how long ago the verdict was produced.
func (v *Verdict) Age() time.Duration { return time.Since(v.EvaluatedAt) }

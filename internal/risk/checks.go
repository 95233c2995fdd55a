package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Check battery — fixed weights, fixed order. A hard failure vetoes the
// verdict; a check without data is "cannot verify" and scores nothing.
// ---------------------------------------------------------------------------

type checkStatus int

const (
	statusPass checkStatus = iota
	statusFail
	statusUnknown
)

type checkInput struct {
	security *SecurityData
	market   *MarketData
	config   Config
}

type check struct {
	name   string
	weight int
	hard   bool
	run    func(in checkInput) (checkStatus, string)
}

var checks = []check{
	{name: "transferability", weight: 25, hard: true, run: checkTransferable},
	{name: "ownership", weight: 15, hard: false, run: checkOwnership},
	{name: "freeze authority", weight: 15, hard: true, run: checkFreezeAuthority},
	{name: "mint authority", weight: 15, hard: true, run: checkMintAuthority},
	{name: "liquidity", weight: 20, hard: true, run: checkLiquidity},
	{name: "tax", weight: 10, hard: true, run: checkTax},
}

func checkTransferable(in checkInput) (checkStatus, string) {
	s := in.security
	if s == nil {
		return statusUnknown, ""
	}
	switch {
	case s.NonTransferable:
		return statusFail, "token is non-transferable"
	case s.TransferHook:
		return statusFail, "token has a transfer hook"
	}
	return statusPass, ""
}

func checkOwnership(in checkInput) (checkStatus, string) {
	if in.security == nil || in.security.OwnershipRenounced == nil {
		return statusUnknown, ""
	}
	if !*in.security.OwnershipRenounced {
		return statusFail, "ownership not renounced"
	}
	return statusPass, ""
}

func checkFreezeAuthority(in checkInput) (checkStatus, string) {
	s := in.security
	if s == nil {
		return statusUnknown, ""
	}
	if s.Freezeable || s.FreezeAuthority != "" {
		return statusFail, fmt.Sprintf("freeze authority not revoked (%s)", authority(s.FreezeAuthority))
	}
	return statusPass, ""
}

func checkMintAuthority(in checkInput) (checkStatus, string) {
	s := in.security
	if s == nil {
		return statusUnknown, ""
	}
	if s.Mintable || s.MintAuthority != "" {
		return statusFail, fmt.Sprintf("mint authority not revoked (%s)", authority(s.MintAuthority))
	}
	return statusPass, ""
}

func checkLiquidity(in checkInput) (checkStatus, string) {
	if in.market == nil {
		return statusUnknown, ""
	}
	if in.market.LiquidityUSD.LessThan(in.config.MinLiquidityUSD) {
		return statusFail, fmt.Sprintf("liquidity $%s below minimum $%s",
			in.market.LiquidityUSD.StringFixed(0), in.config.MinLiquidityUSD.StringFixed(0))
	}
	return statusPass, ""
}

func checkTax(in checkInput) (checkStatus, string) {
	if in.security == nil || in.security.TaxPct == nil {
		return statusUnknown, ""
	}
	if in.security.TaxPct.GreaterThan(in.config.MaxTaxPct) {
		return statusFail, fmt.Sprintf("transfer tax %s%% above max %s%%",
			in.security.TaxPct.StringFixed(2), in.config.MaxTaxPct.StringFixed(2))
	}
	return statusPass, ""
}

func authority(a string) string {
	if a == "" {
		return "unknown"
	}
	return a
}

// score runs the battery and fills score, risks and warnings of v.
func score(v *Verdict, in checkInput) {
	v.MaxScore = MaxScore
	for _, c := range checks {
		status, msg := c.run(in)
		switch status {
		case statusPass:
			v.Score += c.weight
		case statusUnknown:
			v.Warnings = append(v.Warnings, "cannot verify "+c.name)
		case statusFail:
			if c.hard {
				v.Risks = append(v.Risks, msg)
			} else {
				v.Warnings = append(v.Warnings, msg)
			}
		}
	}
	v.Passed = len(v.Risks) == 0 && v.Score >= in.config.PassThreshold
}

// pct converts basis points to percent.
func pct(bps decimal.Decimal) decimal.Decimal {
	return bps.Div(decimal.NewFromInt(100))
}

package sniper

import (
	"time"

	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Exit Rules — two profit targets, time exit, stop loss, armed trailing stop
// ---------------------------------------------------------------------------

// Exit reasons, in evaluation priority order.
const (
	ReasonSecondTarget = "TAKE_PROFIT_2"
	ReasonFirstTarget  = "TAKE_PROFIT_1"
	ReasonTimedExit    = "TIMED_EXIT"
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTrailingStop = "TRAILING_STOP"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)

	// trailArm is the run-up over entry the peak needs before the trailing
	// stop may fire.
	trailArm = decimal.NewFromFloat(1.1)
)

// ExitConfig configures the exit rules. Targets are multiples of the entry
// base amount; percentages are 0-100.
type ExitConfig struct {
	FirstTarget        decimal.Decimal `yaml:"first_target"`
	FirstTargetSellPct decimal.Decimal `yaml:"first_target_sell_pct"`
	SecondTarget       decimal.Decimal `yaml:"second_target"`
	StopLossPct        decimal.Decimal `yaml:"stop_loss_pct"`
	TrailingStopPct    decimal.Decimal `yaml:"trailing_stop_pct"`
	TimeExit           time.Duration   `yaml:"time_exit"` // 0 = disabled
}

// DefaultExitConfig returns the default exit configuration.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		FirstTarget:        decimal.NewFromInt(2), // 2x: take half off
		FirstTargetSellPct: decimal.NewFromInt(50),
		SecondTarget:       decimal.NewFromInt(5), // 5x: close
		StopLossPct:        decimal.NewFromInt(30),
		TrailingStopPct:    decimal.NewFromInt(20),
		TimeExit:           60 * time.Minute,
	}
}

// ExitDecision is what the rules want done with a position this cycle.
type ExitDecision struct {
	ShouldSell bool
	SellPct    decimal.Decimal
	Reason     string
}

// IsFullClose reports whether the decision sells the whole position.
func (d ExitDecision) IsFullClose() bool {
	return d.ShouldSell && d.SellPct.GreaterThanOrEqual(hundred)
}

// ExitEngine evaluates exit conditions for a position.
type ExitEngine struct {
	config ExitConfig
}

// NewExitEngine creates a new exit engine.
func NewExitEngine(config ExitConfig) *ExitEngine {
	return &ExitEngine{config: config}
}

// Evaluate checks the rules in priority order and returns the first that
// fires. The position must already carry the latest current and peak value.
func (ee *ExitEngine) Evaluate(pos execution.Position, now time.Time) ExitDecision {
	if !pos.EntryBase.IsPositive() {
		return ExitDecision{}
	}
	ratio := pos.Multiple()
	c := ee.config

	if c.SecondTarget.IsPositive() && ratio.GreaterThanOrEqual(c.SecondTarget) {
		return sellAll(ReasonSecondTarget)
	}

	if c.FirstTarget.IsPositive() && !pos.FirstTargetHit && ratio.GreaterThanOrEqual(c.FirstTarget) {
		pct := c.FirstTargetSellPct
		if !pct.IsPositive() || pct.GreaterThan(hundred) {
			pct = hundred
		}
		return ExitDecision{ShouldSell: true, SellPct: pct, Reason: ReasonFirstTarget}
	}

	if c.TimeExit > 0 && now.Sub(pos.EntryTime) >= c.TimeExit {
		return sellAll(ReasonTimedExit)
	}

	if c.StopLossPct.IsPositive() {
		floor := one.Sub(c.StopLossPct.Div(hundred))
		if ratio.LessThanOrEqual(floor) {
			return sellAll(ReasonStopLoss)
		}
	}

	if c.TrailingStopPct.IsPositive() && pos.PeakValue.GreaterThan(pos.EntryBase.Mul(trailArm)) {
		stop := pos.PeakValue.Mul(one.Sub(c.TrailingStopPct.Div(hundred)))
		if pos.CurrentValue.LessThanOrEqual(stop) {
			return sellAll(ReasonTrailingStop)
		}
	}

	return ExitDecision{}
}

func sellAll(reason string) ExitDecision {
	return ExitDecision{ShouldSell: true, SellPct: hundred, Reason: reason}
}

package pipeline

import (
	"github.com/nexus-trading/hunter/internal/detect"
	"github.com/nexus-trading/hunter/internal/execution"
	"github.com/nexus-trading/hunter/internal/risk"
	"github.com/rs/zerolog"
)

// Trade origins passed to OnBuy and OnSell.
const (
	OriginLaunch     = "launch"
	OriginCopy       = "copy"
	OriginManual     = "manual"
	OriginForceClose = "force_close"
	OriginExit       = "exit"
)

// Observer receives pipeline events. Calls are made from pipeline
// goroutines and must not block.
type Observer interface {
	OnLaunchDetected(c detect.LaunchCandidate)
	OnCopyTradeDetected(ev detect.CopyEvent)
	OnRiskVerdict(v *risk.Verdict)
	OnBuy(origin string, res execution.BuyResult)
	OnSell(origin string, res execution.SellResult)
	OnFatalError(err error)
}

// LogObserver logs every event.
type LogObserver struct {
	Logger zerolog.Logger
}

func (o LogObserver) OnLaunchDetected(c detect.LaunchCandidate) {
	o.Logger.Info().
		Str("venue", c.Venue.String()).
		Str("mint", c.Mint.Short()).
		Str("creator", c.Creator.Short()).
		Str("sig", c.Signature.Short()).
		Msg("pipeline: NEW LAUNCH")
}

func (o LogObserver) OnCopyTradeDetected(ev detect.CopyEvent) {
	o.Logger.Info().
		Str("wallet", ev.Wallet.Short()).
		Str("mint", ev.Mint.Short()).
		Str("direction", ev.Direction.String()).
		Str("amount", ev.Amount.String()).
		Msg("pipeline: COPY TRADE")
}

func (o LogObserver) OnRiskVerdict(v *risk.Verdict) {
	o.Logger.Debug().
		Str("mint", v.Mint.Short()).
		Int("score", v.Score).
		Bool("passed", v.Passed).
		Msg("pipeline: risk verdict")
}

func (o LogObserver) OnBuy(origin string, res execution.BuyResult) {
	if !res.Success {
		return
	}
	o.Logger.Info().
		Str("origin", origin).
		Str("mint", res.Mint.Short()).
		Str("sol", res.InputSOL.String()).
		Str("sig", res.Signature.Short()).
		Msg("pipeline: BOUGHT")
}

func (o LogObserver) OnSell(origin string, res execution.SellResult) {
	if !res.Success {
		return
	}
	o.Logger.Info().
		Str("origin", origin).
		Str("mint", res.Mint.Short()).
		Str("pct", res.Percent.String()).
		Str("profit_sol", res.Profit.String()).
		Str("sig", res.Signature.Short()).
		Msg("pipeline: SOLD")
}

func (o LogObserver) OnFatalError(err error) {
	o.Logger.Error().Err(err).Msg("pipeline: FATAL stream error")
}

// Observers fans out to several observers in order.
type Observers []Observer

func (obs Observers) OnLaunchDetected(c detect.LaunchCandidate) {
	for _, o := range obs {
		o.OnLaunchDetected(c)
	}
}

func (obs Observers) OnCopyTradeDetected(ev detect.CopyEvent) {
	for _, o := range obs {
		o.OnCopyTradeDetected(ev)
	}
}

func (obs Observers) OnRiskVerdict(v *risk.Verdict) {
	for _, o := range obs {
		o.OnRiskVerdict(v)
	}
}

func (obs Observers) OnBuy(origin string, res execution.BuyResult) {
	for _, o := range obs {
		o.OnBuy(origin, res)
	}
}

func (obs Observers) OnSell(origin string, res execution.SellResult) {
	for _, o := range obs {
		o.OnSell(origin, res)
	}
}

func (obs Observers) OnFatalError(err error) {
	for _, o := range obs {
		o.OnFatalError(err)
	}
}

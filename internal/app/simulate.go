package app

import (
	"context"
	"errors"
	"time"

	"price-divergence/internal/divergence"
	"price-divergence/internal/sample"
)

// SimulateInput holds synthetic prices for a one-off detection run.
type SimulateInput struct {
	ReferenceAvg float64
	TrackedAvg   float64
	ReferenceNow float64
	TrackedNow   float64
}

// SimulationResult is the outcome of SimulateDivergence.
type SimulationResult struct {
	ReferenceChangePct float64
	TrackedChangePct   float64
	NetDivergencePct   float64
	Fired              bool
	Event              divergence.Event
}

// SimulateDivergence runs the detector and reporter over synthetic prices without touching streams or storage.
func (a *App) SimulateDivergence(ctx context.Context, in SimulateInput) (SimulationResult, error) {
	if in.ReferenceAvg <= 0 || in.TrackedAvg <= 0 || in.ReferenceNow <= 0 || in.TrackedNow <= 0 {
		return SimulationResult{}, errors.New("all prices must be greater than 0")
	}

	now := time.Now().UTC()
	assets := a.assets()
	obs := sample.PairedObservation{
		Reference: sample.PriceSample{Asset: assets.Reference, TradeTime: now, Price: in.ReferenceNow},
		Tracked:   sample.PriceSample{Asset: assets.Tracked, TradeTime: now, Price: in.TrackedNow},
	}
	anchor := now.Add(-a.Config.Detection.Interval)
	baseline := divergence.Baseline{
		From:      anchor.Add(-a.Config.Detection.Window),
		To:        anchor,
		Reference: in.ReferenceAvg,
		Tracked:   in.TrackedAvg,
		OK:        true,
	}

	refChange, trackedChange, net := divergence.Measure(obs, baseline)
	result := SimulationResult{
		ReferenceChangePct: refChange,
		TrackedChangePct:   trackedChange,
		NetDivergencePct:   net,
	}

	event, fired := divergence.NewDetector(a.Config.Detection.ThresholdPct).Evaluate(obs, baseline)
	if !fired {
		a.Logger.Info().Float64("net_divergence_pct", net).Msg("simulated divergence below threshold")
		return result, nil
	}

	result.Fired = true
	result.Event = event
	return result, a.newNotifier().Notify(ctx, event)
}

package divergence

import (
	"math"

	"github.com/shopspring/decimal"

	"price-divergence/internal/sample"
)

// ReportedPlaces is the precision of the reported net divergence.
const ReportedPlaces = 3

// Direction of the tracked asset's move net of the reference asset.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionFlat = "flat"
)

// Event describes one threshold crossing.
type Event struct {
	Observation        sample.PairedObservation
	Baseline           Baseline
	ReferenceChangePct float64
	TrackedChangePct   float64
	// NetDivergencePct is tracked change minus reference change, rounded to ReportedPlaces.
	NetDivergencePct decimal.Decimal
	ThresholdPct     decimal.Decimal
	Direction        string
}

// Detector compares the current observation with a baseline.
type Detector struct {
	threshold float64
}

// NewDetector builds a detector firing at |net divergence| >= thresholdPct percentage points.
func NewDetector(thresholdPct float64) *Detector {
	return &Detector{threshold: thresholdPct}
}

// Evaluate returns the event and true when the net divergence crosses the threshold.
// A baseline without data never fires.
func (d *Detector) Evaluate(obs sample.PairedObservation, baseline Baseline) (Event, bool) {
	if !baseline.OK || baseline.Reference == 0 || baseline.Tracked == 0 {
		return Event{}, false
	}

	refChange, trackedChange, net := Measure(obs, baseline)
	if math.IsNaN(net) || math.IsInf(net, 0) {
		return Event{}, false
	}
	if math.Abs(net) < d.threshold {
		return Event{}, false
	}

	return Event{
		Observation:        obs,
		Baseline:           baseline,
		ReferenceChangePct: refChange,
		TrackedChangePct:   trackedChange,
		NetDivergencePct:   decimal.NewFromFloat(net).Round(ReportedPlaces),
		ThresholdPct:       decimal.NewFromFloat(d.threshold),
		Direction:          classifyDirection(net),
	}, true
}

// Measure returns both change percentages and their difference, tracked minus reference.
func Measure(obs sample.PairedObservation, baseline Baseline) (refChange, trackedChange, net float64) {
	refChange = ChangePct(obs.Reference.Price, baseline.Reference)
	trackedChange = ChangePct(obs.Tracked.Price, baseline.Tracked)
	return refChange, trackedChange, trackedChange - refChange
}

// ChangePct is the percentage change of now relative to avg.
func ChangePct(now, avg float64) float64 {
	return (now - avg) / avg * 100
}

func classifyDirection(net float64) string {
	switch {
	case net > 0:
		return DirectionUp
	case net < 0:
		return DirectionDown
	default:
		return DirectionFlat
	}
}

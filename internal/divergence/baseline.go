package divergence

import (
	"context"
	"fmt"
	"math"
	"time"

	"price-divergence/internal/config"
	"price-divergence/internal/storage"
)

// Baseline is the historical average each current price is compared with.
// OK is false when either average is missing or degenerate.
type Baseline struct {
	From      time.Time
	To        time.Time
	Reference float64
	Tracked   float64
	OK        bool
}

// Averager computes baselines over [now-interval-window, now-interval].
type Averager struct {
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

// NewAverager builds an averager from detection settings. A nil clock uses time.Now.
func NewAverager(cfg config.DetectionConfig, now func() time.Time) *Averager {
	if now == nil {
		now = time.Now
	}
	return &Averager{interval: cfg.Interval, window: cfg.Window, now: now}
}

// Range returns the inclusive trade-time range for the current clock reading.
func (a *Averager) Range() (time.Time, time.Time) {
	anchor := a.now().UTC().Add(-a.interval)
	return anchor.Add(-a.window), anchor
}

// Baseline reads both averages. An empty or degenerate window yields OK=false with no error.
func (a *Averager) Baseline(ctx context.Context, reader storage.WindowReader) (Baseline, error) {
	from, to := a.Range()
	avg, err := reader.AverageOverWindow(ctx, from, to)
	if err != nil {
		return Baseline{From: from, To: to}, fmt.Errorf("read baseline: %w", err)
	}

	b := Baseline{From: from, To: to}
	if !usable(avg.Reference) || !usable(avg.Tracked) {
		return b, nil
	}
	b.Reference = *avg.Reference
	b.Tracked = *avg.Tracked
	b.OK = true
	return b, nil
}

// usable rejects NULL, zero and non-finite averages; dividing by any of them is meaningless.
func usable(v *float64) bool {
	if v == nil {
		return false
	}
	return *v != 0 && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

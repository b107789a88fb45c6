package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-divergence/internal/divergence"
)

// Notifier reports divergence events.
type Notifier interface {
	Notify(ctx context.Context, event divergence.Event) error
}

// LogNotifier reports each event as one structured warn-level log line.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs the log-only reporter.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{
		logger: logger.With().Str("component", "alert_log").Logger(),
	}
}

// Notify writes the event. It never fails.
func (n *LogNotifier) Notify(_ context.Context, event divergence.Event) error {
	obs := event.Observation
	n.logger.Warn().
		Str("reference_symbol", obs.Reference.Asset.Symbol).
		Str("tracked_symbol", obs.Tracked.Asset.Symbol).
		Float64("reference_price", obs.Reference.Price).
		Float64("tracked_price", obs.Tracked.Price).
		Float64("reference_avg", event.Baseline.Reference).
		Float64("tracked_avg", event.Baseline.Tracked).
		Str("reference_change_pct", fmt.Sprintf("%.3f", event.ReferenceChangePct)).
		Str("tracked_change_pct", fmt.Sprintf("%.3f", event.TrackedChangePct)).
		Str("net_divergence_pct", event.NetDivergencePct.StringFixed(divergence.ReportedPlaces)).
		Str("threshold_pct", event.ThresholdPct.String()).
		Str("direction", event.Direction).
		Time("trade_time", obs.Tracked.TradeTime).
		Msg(renderMessage(event))
	return nil
}

func renderMessage(event divergence.Event) string {
	obs := event.Observation
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s vs %s divergence] ", strings.ToUpper(obs.Tracked.Asset.Symbol), strings.ToUpper(obs.Reference.Asset.Symbol)))
	builder.WriteString(fmt.Sprintf("net %s%% (threshold %s%%), ", event.NetDivergencePct.StringFixed(divergence.ReportedPlaces), event.ThresholdPct.StringFixed(divergence.ReportedPlaces)))
	builder.WriteString(fmt.Sprintf("window %s..%s UTC", event.Baseline.From.UTC().Format(time.RFC3339), event.Baseline.To.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*LogNotifier)(nil)

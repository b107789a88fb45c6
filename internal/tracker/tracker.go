package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-divergence/internal/alerting"
	"price-divergence/internal/divergence"
	"price-divergence/internal/metrics"
	"price-divergence/internal/sample"
	"price-divergence/internal/storage"
	"price-divergence/internal/stream"
)

// State is the tracking loop's position in its lifecycle.
type State string

const (
	StateConnecting     State = "connecting"
	StateStreaming      State = "streaming"
	StateConnectionLost State = "connection_lost"
	StateCancelled      State = "cancelled"
)

var allStates = []string{
	string(StateConnecting),
	string(StateStreaming),
	string(StateConnectionLost),
	string(StateCancelled),
}

// Assets names the two legs of the pair.
type Assets struct {
	Reference sample.Asset
	Tracked   sample.Asset
}

// Tracker runs one attempt: connect both streams, then persist a paired observation per cycle.
type Tracker struct {
	dialer   stream.Dialer
	assets   Assets
	averager *divergence.Averager
	detector *divergence.Detector
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	state    State
}

// New constructs a Tracker. notifier and m may be nil.
func New(dialer stream.Dialer, assets Assets, averager *divergence.Averager, detector *divergence.Detector, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Tracker {
	return &Tracker{
		dialer:   dialer,
		assets:   assets,
		averager: averager,
		detector: detector,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "tracker").Logger(),
	}
}

// State reports the state of the most recent attempt.
func (t *Tracker) State() State {
	return t.state
}

// Run executes one attempt and returns the number of persisted cycles together with the
// terminating error. It never returns nil: the result is either ctx's error or the failure
// that ended streaming. Both connections are closed on every path.
func (t *Tracker) Run(ctx context.Context, sess storage.Session) (int, error) {
	t.setState(StateConnecting)

	refStream, err := t.dialer.Dial(ctx, t.assets.Reference)
	if err != nil {
		return 0, t.exit(ctx, err)
	}
	defer t.closeStream(refStream, t.assets.Reference)

	trackedStream, err := t.dialer.Dial(ctx, t.assets.Tracked)
	if err != nil {
		return 0, t.exit(ctx, err)
	}
	defer t.closeStream(trackedStream, t.assets.Tracked)

	t.setState(StateStreaming)
	t.logger.Info().
		Str("reference", t.assets.Reference.Symbol).
		Str("tracked", t.assets.Tracked.Symbol).
		Msg("streams connected")

	persisted := 0
	for {
		refFrame, trackedFrame, err := t.receive(ctx, refStream, trackedStream)
		if err != nil {
			return persisted, t.exit(ctx, err)
		}
		t.metrics.ObserveCycle()

		obs, err := sample.Assemble(t.assets.Reference, t.assets.Tracked, refFrame, trackedFrame)
		if err != nil {
			t.skipCycle(err)
			continue
		}

		t.detect(ctx, sess, obs)
		if ctx.Err() != nil {
			return persisted, t.exit(ctx, ctx.Err())
		}

		record, err := sess.AppendObservation(ctx, obs)
		if err != nil {
			return persisted, t.exit(ctx, err)
		}
		persisted++
		t.metrics.ObservePersisted()
		t.logger.Debug().
			Int64("id", record.ID).
			Float64("reference_price", record.ReferencePrice).
			Float64("tracked_price", record.TrackedPrice).
			Msg("observation persisted")
	}
}

// receive issues both reads before either resolves and waits for both. A failure on one
// side cancels the other.
func (t *Tracker) receive(ctx context.Context, ref, tracked stream.Stream) ([]byte, []byte, error) {
	var refFrame, trackedFrame []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		frame, err := ref.Recv(gctx)
		refFrame = frame
		return err
	})
	g.Go(func() error {
		frame, err := tracked.Recv(gctx)
		trackedFrame = frame
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return refFrame, trackedFrame, nil
}

func (t *Tracker) skipCycle(err error) {
	for _, asset := range sample.FailedAssets(err) {
		t.metrics.ObserveDecodeError(string(asset.Role))
	}
	t.logger.Error().Err(err).Msg("decode failed, skipping cycle")
}

// detect is best effort: nothing here may end the attempt.
func (t *Tracker) detect(ctx context.Context, reader storage.WindowReader, obs sample.PairedObservation) {
	if t.averager == nil || t.detector == nil {
		return
	}

	baseline, err := t.averager.Baseline(ctx, reader)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn().Err(err).Msg("baseline unavailable, detection skipped")
		}
		return
	}
	if !baseline.OK {
		t.metrics.ObserveBaselineMissing()
		t.logger.Debug().Time("from", baseline.From).Time("to", baseline.To).Msg("no baseline data")
		return
	}

	_, _, net := divergence.Measure(obs, baseline)
	t.metrics.ObserveNetDivergence(net)

	event, fired := t.detector.Evaluate(obs, baseline)
	if !fired {
		return
	}
	t.metrics.ObserveDivergence(event.Direction)
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Notify(ctx, event); err != nil {
		t.logger.Error().Err(err).Msg("failed to report divergence")
	}
}

// exit records the terminal state and normalises the returned error.
func (t *Tracker) exit(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		t.setState(StateCancelled)
		return ctxErr
	}
	t.setState(StateConnectionLost)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// A read was cancelled without the attempt being cancelled; treat as a lost stream.
		return fmt.Errorf("%w: %w", stream.ErrConnectionLost, err)
	}
	return err
}

func (t *Tracker) closeStream(s stream.Stream, asset sample.Asset) {
	if err := s.Close(); err != nil {
		t.logger.Debug().Err(err).Str("asset", asset.String()).Msg("close stream")
	}
}

func (t *Tracker) setState(state State) {
	t.state = state
	t.metrics.SetState(string(state), allStates)
}

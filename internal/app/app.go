package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"price-divergence/internal/alerting"
	"price-divergence/internal/config"
	"price-divergence/internal/divergence"
	"price-divergence/internal/metrics"
	"price-divergence/internal/sample"
	"price-divergence/internal/storage"
	"price-divergence/internal/stream"
	"price-divergence/internal/supervisor"
	"price-divergence/internal/tracker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) assets() tracker.Assets {
	return tracker.Assets{
		Reference: sample.NewAsset(sample.RoleReference, a.Config.Stream.ReferenceSymbol),
		Tracked:   sample.NewAsset(sample.RoleTracked, a.Config.Stream.TrackedSymbol),
	}
}

func (a *App) newDialer() *stream.WebsocketDialer {
	return stream.NewWebsocketDialer(stream.Options{
		BaseURI:          a.Config.Stream.URI,
		Feed:             a.Config.Stream.Feed,
		PingInterval:     a.Config.Stream.PingInterval,
		PingTimeout:      a.Config.Stream.PingTimeout,
		HandshakeTimeout: a.Config.Stream.HandshakeTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	return alerting.NewLogNotifier(a.Logger)
}

// openBackend builds the configured storage backend.
func (a *App) openBackend(ctx context.Context) (storage.Backend, error) {
	switch a.Config.Storage.Driver {
	case config.DriverRedis:
		client := storage.NewRedisClient(a.Config.Redis)
		return storage.NewRedisStore(client, a.Config.Redis.KeyPrefix), nil
	case config.DriverMemory:
		a.Logger.Warn().Msg("memory storage selected; records are lost on exit")
		return storage.NewMemoryStore(), nil
	default:
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		store := storage.NewStore(pool, a.Config.Database.AdvisoryLockKey)
		if a.Config.Database.AutoMigrate {
			if err := a.migrateUp(store); err != nil {
				store.Close()
				return nil, err
			}
		}
		return store, nil
	}
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Run executes the long-running tracker until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := a.openBackend(ctx)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backend.Close()

	reg := newRegistry()
	m := metrics.New(reg)
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, a.Config.Metrics.Path, reg, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	averager := divergence.NewAverager(a.Config.Detection, nil)
	detector := divergence.NewDetector(a.Config.Detection.ThresholdPct)
	trk := tracker.New(a.newDialer(), a.assets(), averager, detector, a.newNotifier(), m, a.Logger)
	sup := supervisor.New(backend, trk, supervisor.OptionsFromConfig(a.Config.Supervisor), m, a.Logger)

	a.Logger.Info().
		Str("app", a.Config.App.Name).
		Str("environment", a.Config.App.Environment).
		Str("driver", a.Config.Storage.Driver).
		Str("reference", a.Config.Stream.ReferenceSymbol).
		Str("tracked", a.Config.Stream.TrackedSymbol).
		Dur("interval", a.Config.Detection.Interval).
		Dur("window", a.Config.Detection.Window).
		Float64("threshold_pct", a.Config.Detection.ThresholdPct).
		Msg("starting divergence tracker")

	if err := sup.Run(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("tracker terminated with error")
		return err
	}

	a.Logger.Info().Msg("divergence tracker stopped")
	return nil
}

package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"go-degen-pov/internal/assets"
	"go-degen-pov/internal/bot"
	"go-degen-pov/internal/compositor"
	"go-degen-pov/internal/config"
	"go-degen-pov/internal/factory"
	"go-degen-pov/internal/logger"
	"go-degen-pov/internal/observer"
	"go-degen-pov/internal/pipeline"
	"go-degen-pov/internal/storage"
	"go-degen-pov/internal/telegram"
	"go-degen-pov/internal/transport"
)

// Container holds all application dependencies
type Container struct {
	config       *config.Config
	metrics      *prometheus.Registry
	registry     *assets.Registry
	orchestrator *pipeline.Orchestrator
	handler      http.Handler
	telegram     *telegram.Client
	bot          *bot.Bot
}

// NewContainer builds the dependency graph described by cfg. The asset
// registry is loaded eagerly; the Telegram connection is only made when
// the bot is enabled.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	components := factory.NewComponentFactory(cfg)

	registry, err := LoadRegistry(ctx, cfg, components.SourceFactory)
	if err != nil {
		return nil, err
	}

	det, err := components.DetectorFactory.CreateDetector(factory.DetectorType(cfg.Detect.Variant))
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	comp, err := compositor.NewOverlayCompositor(cfg.CompositorOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create compositor: %w", err)
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(observer.NewMetricsObserver(metrics))

	fetcher := storage.NewHTTPImageFetcher(cfg.FetcherOptions())
	orchestrator := pipeline.NewOrchestrator(registry, fetcher, det, comp, events, cfg.PipelineOptions())

	c := &Container{
		config:       cfg,
		metrics:      metrics,
		registry:     registry,
		orchestrator: orchestrator,
	}

	if cfg.HTTP.Enabled {
		c.handler = transport.NewHandler(orchestrator, registry, transport.Options{
			MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
			RequestTimeout:     cfg.HTTP.RequestTimeout,
			Homepage:           cfg.HTTP.Homepage,
			Gatherer:           metrics,
		})
	}

	if cfg.Telegram.Enabled {
		client, err := telegram.Connect(ctx, cfg.TelegramOptions())
		if err != nil {
			orchestrator.Close()
			return nil, err
		}
		b, err := bot.New(client, orchestrator, registry, cfg.BotOptions(client.Username()))
		if err != nil {
			orchestrator.Close()
			return nil, fmt.Errorf("failed to create bot: %w", err)
		}
		c.telegram = client
		c.bot = b
	}

	logger.WithFields(logrus.Fields{
		"detector": det.Name(),
		"assets":   registry.Len(),
		"http":     cfg.HTTP.Enabled,
		"telegram": cfg.Telegram.Enabled,
	}).Info("Container initialized")
	return c, nil
}

// LoadRegistry loads every overlay asset from the configured source
func LoadRegistry(ctx context.Context, cfg *config.Config, sources factory.SourceFactory) (*assets.Registry, error) {
	src, err := sources.CreateSource(factory.SourceType(cfg.Assets.Source))
	if err != nil {
		return nil, fmt.Errorf("failed to create asset source: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Assets.LoadTimeout)
	defer cancel()

	registry, err := assets.LoadAll(ctx, src, assets.LoadOptions{Concurrency: cfg.Assets.Concurrency})
	if err != nil {
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}
	if _, err := registry.Resolve(cfg.Assets.Default); err != nil {
		return nil, fmt.Errorf("default asset %q: %w", cfg.Assets.Default, err)
	}
	return registry, nil
}

// RunBot delivers Telegram updates to the bot until ctx is done.
// It returns immediately when the bot is disabled.
func (c *Container) RunBot(ctx context.Context) error {
	if c.bot == nil {
		return nil
	}
	return c.telegram.Run(ctx, c.bot.HandleMessage)
}

// Handler returns the HTTP handler, nil when HTTP is disabled
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Registry returns the loaded asset registry
func (c *Container) Registry() *assets.Registry {
	return c.registry
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Close stops the bot caches and waits for in-flight pipeline stages
func (c *Container) Close() {
	if c.bot != nil {
		c.bot.Close()
	}
	c.orchestrator.Close()
}

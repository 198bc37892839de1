package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/guarzo/commentproxy/api"
	"github.com/guarzo/commentproxy/common"
	"github.com/guarzo/commentproxy/config"
	"github.com/guarzo/commentproxy/modules/comments"
	"github.com/guarzo/commentproxy/modules/moderation"
	"github.com/guarzo/commentproxy/modules/nocode"
	"github.com/guarzo/commentproxy/modules/threads"
	"github.com/guarzo/commentproxy/modules/webhook"
	"github.com/guarzo/commentproxy/modules/widget"
)

const metricsNamespace = "commentproxy"

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Pretty, os.Stdout)

	// When SIGINT/SIGTERM arrives, ctx is cancelled and the server drains.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("commentproxy stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("commentproxy stopped")
}

func newCache(name string, s config.CacheSettings, metrics *api.Metrics) (*common.SWRCache[[]byte], error) {
	c, err := common.NewSWRCache[[]byte](s.TTL, s.Capacity)
	if err != nil {
		return nil, fmt.Errorf("%s cache: %w", name, err)
	}
	metrics.RegisterCache(metricsNamespace, name, c)
	return c, nil
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Backend.APIKey == "" {
		logger.Warn().Msg("NOCODEBACKEND_API_KEY is not set; upstream calls will be rejected")
	}

	metrics := api.NewMetrics(metricsNamespace)

	commentsCache, err := newCache("comments", cfg.Cache.Comments, metrics)
	if err != nil {
		return err
	}
	threadsCache, err := newCache("threads", cfg.Cache.Threads, metrics)
	if err != nil {
		return err
	}
	moderationCache, err := newCache("moderation", cfg.Cache.Moderation, metrics)
	if err != nil {
		return err
	}
	widgetCache, err := newCache("widget", cfg.Cache.Widget, metrics)
	if err != nil {
		return err
	}

	httpClient := common.NewHttpClient(cfg.Backend.UserAgent, &http.Client{}, cfg.Backend.Timeout)
	backend := nocode.NewClient(
		cfg.Backend.URL,
		cfg.Backend.Instance,
		httpClient,
		nocode.StaticToken(cfg.Backend.APIKey),
		logger,
		nocode.WithObserver(metrics),
	)
	notifier := webhook.NewNotifier(cfg.Webhook.URL, httpClient, logger)

	// moderation queues/stats and thread stats are computed from comments
	commentSvc := comments.NewCommentService(backend, commentsCache, notifier, logger, moderationCache, threadsCache)
	services := api.Services{
		Comments:   commentSvc,
		Threads:    threads.NewThreadService(backend, threadsCache, logger),
		Moderation: moderation.NewModerationService(backend, commentSvc, moderationCache, logger, threadsCache),
		Widget:     widget.NewWidgetService(widgetCache, cfg.Widget.ScriptURL, logger),
	}

	server := api.NewServer(services, api.Options{
		Instance:         cfg.Backend.Instance,
		APIKeyConfigured: cfg.Backend.APIKey != "",
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
	}, metrics, logger)

	logger.Info().
		Str("instance", cfg.Backend.Instance).
		Str("backend", cfg.Backend.URL).
		Bool("webhook", notifier != nil).
		Msg("commentproxy starting")

	return server.Run(ctx, cfg.Server.Addr(), cfg.Server.ShutdownTimeout)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"leadengine/internal/adapters/storage"
	"leadengine/internal/commands"
	"leadengine/internal/dispatch"
	"leadengine/internal/email"
	"leadengine/internal/health"
	apphttp "leadengine/internal/http"
	"leadengine/internal/http/router"
	"leadengine/internal/leads/agent"
	"leadengine/internal/leads/domain"
	"leadengine/internal/leads/engine"
	"leadengine/internal/leads/store"
	"leadengine/internal/market"
	"leadengine/internal/multichat"
	"leadengine/internal/notification"
	"leadengine/internal/scheduler"
	"leadengine/internal/voice"
	"leadengine/internal/webhook"
	"leadengine/internal/whatsapp"
	"leadengine/platform/ai/anthropic"
	"leadengine/platform/ai/elevenlabs"
	"leadengine/platform/ai/moonshot"
	"leadengine/platform/config"
	"leadengine/platform/events"
	"leadengine/platform/logger"
	"leadengine/platform/metrics"
	"leadengine/platform/validator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/adk/model"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting lead engine", "env", cfg.Env, "addr", cfg.HTTPAddr, "version", cfg.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("lead engine stopped", "error", err)
		os.Exit(1)
	}
	log.Info("lead engine stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// ========================================================================
	// Infrastructure
	// ========================================================================

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	storeOpts := []store.Option{store.WithMetrics(m)}
	if cfg.IsMinIOEnabled() {
		mirror, err := storage.NewMinIOMirror(cfg)
		if err != nil {
			return err
		}
		if err := withRetry(ctx, log, "ensure backup bucket", 5, 2*time.Second, func() error {
			return mirror.EnsureBucketExists(ctx)
		}); err != nil {
			return err
		}
		storeOpts = append(storeOpts, store.WithMirror(mirror))
		log.Info("backup mirror enabled", "bucket", cfg.GetMinIOBackupBucket())
	}
	st := store.New(cfg, log, storeOpts...)
	if err := st.Open(); err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	log.Info("store opened", "file", st.Path(), "leads", len(st.LeadIDs()))

	intents := domain.DefaultIntentTable()
	if path := cfg.GetIntentTablePath(); path != "" {
		table, err := domain.LoadIntentTable(path)
		if err != nil {
			return fmt.Errorf("load intent table: %w", err)
		}
		intents = table
	}

	bus := events.NewInMemoryBus(log)
	val := validator.New()

	// ========================================================================
	// Generation, voice and transport
	// ========================================================================

	llm, err := newLLM(cfg)
	if err != nil {
		return err
	}

	cache := market.NewMemoryCache(time.Now)
	if url := cfg.GetMarketRedisURL(); url != "" {
		rdb, err := market.DialRedis(url)
		if err != nil {
			return fmt.Errorf("market cache: %w", err)
		}
		defer rdb.Close()
		cache = market.NewRedisCache(rdb)
	}
	quotes := market.NewService(cfg, cache, log, market.WithMetrics(m))

	gen := agent.New(llm, cfg, log, agent.WithMarket(quotes), agent.WithMetrics(m))

	var provider voice.Provider
	if cfg.IsVoiceEnabled() {
		provider = elevenlabs.NewClient(cfg)
	}
	voiceSvc := voice.New(provider, cfg, cfg, log)

	gateway := whatsapp.NewClient(cfg, log)
	sender := dispatch.New(gateway, dispatch.NewRateLimitState(), cfg, log, dispatch.WithMetrics(m))

	eng := engine.New(engine.Deps{
		Store:     st,
		Generator: gen,
		Sender:    sender,
		Voice:     voiceSvc,
		Bus:       bus,
		Intents:   intents,
		Metrics:   m,
		Log:       log,
	}, cfg, cfg)
	defer eng.Close()

	// ========================================================================
	// Event subscribers
	// ========================================================================

	notifications := notification.New(gateway, cfg, email.NewSender(cfg), cfg, log)
	notifications.RegisterHandlers(bus)

	monitor := health.NewMonitor(cfg.GetVersion(), st, time.Now)
	monitor.RegisterHandlers(bus)

	// ========================================================================
	// HTTP surface
	// ========================================================================

	table, err := commands.NewTable(commands.Standard(commands.Deps{
		Manager: eng,
		Store:   st,
		Health:  monitor,
	}))
	if err != nil {
		return fmt.Errorf("command table: %w", err)
	}

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Modules: []apphttp.Module{
			monitor,
			webhook.NewModule(eng, cfg.GetWebhookSecret(), val, log),
			commands.NewModule(table, val, cfg.IsDebugEnabled(), log),
		},
	}
	srv := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ========================================================================
	// Background loops
	// ========================================================================

	g, gctx := errgroup.WithContext(ctx)

	followOpts := []scheduler.Option{scheduler.WithBus(bus), scheduler.WithMetrics(m)}
	if cfg.IsTaskQueueEnabled() {
		queue, err := scheduler.NewClient(cfg)
		if err != nil {
			return fmt.Errorf("task queue: %w", err)
		}
		defer queue.Close()
		followOpts = append(followOpts, scheduler.WithQueue(queue))

		worker, err := scheduler.NewWorker(cfg, eng, log)
		if err != nil {
			return fmt.Errorf("task worker: %w", err)
		}
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
		log.Info("task queue enabled")
	}
	followUps := scheduler.NewFollowUps(st, eng, cfg, log, followOpts...)
	g.Go(func() error {
		followUps.Run(gctx)
		return nil
	})

	backups := scheduler.NewBackupLoop(st, log, cfg.GetBackupInterval())
	g.Go(func() error {
		backups.Run(gctx)
		return nil
	})

	if cfg.IsAMQPEnabled() {
		consumer := multichat.NewConsumer(cfg, eng, val, log)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
		log.Info("multichat consumer enabled", "queue", cfg.GetAMQPQueue())
	}

	g.Go(func() error {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	bus.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLLM(cfg config.GenerationConfig) (model.LLM, error) {
	switch cfg.GetGenerationProvider() {
	case "", "moonshot":
		return moonshot.NewModel(moonshot.Config{
			APIKey: cfg.GetMoonshotAPIKey(),
			Model:  cfg.GetMoonshotModel(),
		}), nil
	case "anthropic":
		return anthropic.NewModel(anthropic.Config{
			APIKey:  cfg.GetAnthropicAPIKey(),
			BaseURL: cfg.GetAnthropicBaseURL(),
			Model:   cfg.GetAnthropicModel(),
		}), nil
	}
	return nil, fmt.Errorf("unknown generation provider %q", cfg.GetGenerationProvider())
}

// withRetry retries fn with quadratic backoff until attempts run out.
func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", lastErr)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * baseDelay):
			}
		}
	}
	return fmt.Errorf("%s: %w", name, lastErr)
}

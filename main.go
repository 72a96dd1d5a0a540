package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/danielhkuo/agora/admission"
	"github.com/danielhkuo/agora/cliparse"
	"github.com/danielhkuo/agora/db"
	"github.com/danielhkuo/agora/gate"
	"github.com/danielhkuo/agora/middleware"
	"github.com/danielhkuo/agora/quality"
	"github.com/danielhkuo/agora/router"
	"github.com/danielhkuo/agora/storage"
	"github.com/danielhkuo/agora/synthesis"
	"github.com/danielhkuo/agora/tally"
	"github.com/danielhkuo/agora/topic"
)

func main() {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg cliparse.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("Storage ready", "backend", cfg.StorageBackend)

	topics, err := topic.LoadFile(cfg.TopicsFile)
	if err != nil {
		return err
	}

	g := gate.New(store, gate.ArithmeticChallenger{}, gate.Config{
		Secret:               cfg.IdentitySecret,
		SessionTTL:           cfg.SessionTTL,
		CredentialsPerWindow: cfg.CredentialsPerMinute,
		Window:               time.Minute,
		DailyVoteCap:         cfg.DailyVoteCap,
		SubnetDailyCap:       cfg.SubnetDailyCap,
	})

	scorer, err := quality.NewHeuristicScorer(quality.DefaultConfig())
	if err != nil {
		return err
	}

	weighting, err := tally.ParseWeighting(cfg.TallyWeighting)
	if err != nil {
		return err
	}
	synth := newSynthesizer(cfg)

	coords := make([]*tally.Coordinator, 0, len(topics))
	for _, t := range topics {
		coords = append(coords, tally.NewCoordinator(t, store, g, synth, tally.Config{
			Weighting:        weighting,
			AuditLogSize:     cfg.AuditLogSize,
			ReasoningLogSize: cfg.AuditLogSize,
			SynthesisEvery:   cfg.SynthesisEvery,
		}))
	}
	registry := tally.NewRegistry(coords...)
	if err := registry.Restore(ctx); err != nil {
		return err
	}

	pipeline := admission.New(g, scorer, registry, admission.Config{
		Budget:            cfg.VoteBudget,
		MinReasoningWords: cfg.MinReasoningWords,
		MaxReasoningBytes: cfg.MaxReasoningBytes,
		RequireReasoning:  cfg.RequireReasoning,
	})

	mux := router.NewRouter(router.Deps{Registry: registry, Pipeline: pipeline, Store: store}, cfg)
	limiter := middleware.NewIPLimiter(cfg.RequestsPerSecond, cfg.RequestBurst, cfg.TrustProxy)

	server := http.Server{
		Handler:           middleware.CORS(limiter.Middleware(mux), cfg.AllowedOrigins...),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Coordinators outlive the HTTP server so in-flight votes can finish
	coordCtx, stopCoords := context.WithCancel(context.Background())
	defer stopCoords()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return registry.Run(coordCtx) })
	group.Go(func() error { return limiter.Run(gctx, time.Minute) })
	group.Go(func() error {
		slog.Info("Listening", "port", cfg.Port, "topics", len(topics))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		defer stopCoords()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("Shutting down")
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func openStore(ctx context.Context, cfg cliparse.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "redis":
		return storage.NewRedisStore(ctx, cfg.RedisURL, "agora")
	case "postgres", "sqlite":
		dialect, err := db.ParseDialect(cfg.StorageBackend)
		if err != nil {
			return nil, err
		}
		return db.Open(ctx, dialect, cfg.DatabaseURL)
	}
	return storage.NewMemoryStore(time.Minute), nil
}

// newSynthesizer returns nil when no API key is configured
func newSynthesizer(cfg cliparse.Config) synthesis.Synthesizer {
	if cfg.OpenAIAPIKey == "" || cfg.SynthesisEvery <= 0 {
		slog.Info("Synthesis disabled")
		return nil
	}
	s, err := synthesis.NewOpenAISynthesizer(synthesis.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	if err != nil {
		slog.Warn("Synthesis disabled", "error", err)
		return nil
	}
	return s
}

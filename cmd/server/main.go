package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/searchforge/rankfuse/fuse"
	"github.com/searchforge/rankfuse/internal/api"
	"github.com/searchforge/rankfuse/internal/config"
	"github.com/searchforge/rankfuse/internal/controller"
	"github.com/searchforge/rankfuse/obs"
	"github.com/searchforge/rankfuse/policy"
	"github.com/searchforge/rankfuse/sources"
)

const httpClientTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}

	logger := newLogger(cfg.Env)
	slog.SetDefault(logger)

	shutdownTracer, err := obs.InitTracer("rankfuse")
	if err != nil {
		logger.Warn("tracer init failed", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	metrics := policy.NewMetrics()
	client := newHTTPClient()

	guarded := make([]controller.GuardedSource, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := sources.NewHTTPSource(sc.Name, sc.URL, client, sc.RetryMax)
		if err != nil {
			logger.Error("source init failed", "source", sc.Name, "error", err)
			os.Exit(1)
		}
		pol, err := policy.NewSourcePolicy(policy.SourceConfig{
			Name:    sc.Name,
			Timeout: sc.Timeout(),
			Rate: policy.RateLimitConfig{
				RPS:   sc.RateRPS,
				Burst: sc.RateBurst,
			},
			Circuit: policy.CircuitConfig{
				Window:           sc.CircuitWindow(),
				FailureThreshold: sc.CircuitThreshold,
				MinSamples:       sc.CircuitMinSamples,
				Cooldown:         sc.CircuitCooldown(),
				HalfOpenProbes:   sc.CircuitProbes,
			},
		}, metrics)
		if err != nil {
			logger.Error("policy init failed", "source", sc.Name, "error", err)
			os.Exit(1)
		}
		guarded = append(guarded, controller.GuardedSource{
			Source: src,
			Policy: pol,
			Weight: sc.Weight,
		})
	}

	ctrl, err := controller.New(guarded, controller.Config{
		Combine: fuse.CombineConfig{
			Persistence: cfg.Persistence,
			TopKInit:    cfg.TopKInit,
			TopKMax:     cfg.TopKMax,
			ScoreFloor:  cfg.ScoreFloor,
		},
		DefaultK:        cfg.DefaultK,
		BudgetMS:        cfg.BudgetMS,
		CacheTTL:        cfg.CacheTTL(),
		MaxRankings:     cfg.MaxRankings,
		MaxRankingItems: cfg.MaxRankingItems,
		Metrics:         metrics,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("controller init failed", "error", err)
		os.Exit(1)
	}

	router, err := api.NewRouter(ctrl, logger)
	if err != nil {
		logger.Error("router init failed", "error", err)
		os.Exit(1)
	}
	router.Handle("/metrics", promhttp.Handler())

	root := chi.NewRouter()
	root.Mount("/", router)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("rankfuse listening", summaryAttrs(cfg)...)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// newLogger selects the log handler by environment: JSON for
// production, text at debug level otherwise.
func newLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

func summaryAttrs(cfg *config.Config) []any {
	summary := cfg.LogSummary()
	attrs := make([]any, 0, len(summary)*2)
	for key, value := range summary {
		attrs = append(attrs, key, value)
	}
	return attrs
}

// newHTTPClient builds the shared upstream client. Per-call deadlines
// come from the source policies; the client timeout is only a ceiling.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     128,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 128,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Timeout:   httpClientTimeout,
		Transport: transport,
	}
}

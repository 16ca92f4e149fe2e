package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"voicestats/internal/api"
	"voicestats/internal/config"
	"voicestats/internal/database"
	"voicestats/internal/directory"
	"voicestats/internal/discord"
	"voicestats/internal/period"
	"voicestats/internal/stats"
	"voicestats/internal/tracker"
	"voicestats/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		slog.Error("voicestats exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "path to an optional YAML config file")
	rebuild := flag.String("rebuild", "", "recompute all period aggregates of a server from the ledger and exit")
	totals := flag.String("totals", "", "print per-user totals of a server recomputed from the ledger and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	rollupMode := *rebuild != "" || *totals != ""
	if !rollupMode {
		if err := cfg.RequireDiscordToken(); err != nil {
			return err
		}
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize database
	db, err := database.New(cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	repository := database.NewRepository(db)
	calc := period.NewCalculator(cfg.Location)

	metrics := stats.NewMetrics()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	opts := stats.Options{Logger: logger, Metrics: metrics}

	if rollupMode {
		if err := runRollup(cfg, repository, calc, opts, *rebuild, *totals); err != nil {
			return fmt.Errorf("rollup failed: %w", err)
		}
		return nil
	}

	var channelCache *directory.RedisDirectory
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpts)
		defer client.Close()

		channelCache = directory.NewRedisDirectory(client, directory.DefaultNameTTL)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := channelCache.HealthCheck(ctx); err != nil {
			logger.Warn("redis unavailable, channel names fall back to gateway state", "error", err)
		}
		cancel()
	}

	aggregator := stats.NewAggregator(repository, calc, opts)
	ranker := stats.NewRanker(repository, calc, opts)
	presence := tracker.New(repository, aggregator, logger)

	botOpts := discord.Options{
		Tracker: presence,
		Ranker:  ranker,
		Totals:  repository,
		Calc:    calc,
		Logger:  logger,
	}
	if channelCache != nil {
		botOpts.Channels = channelCache
	}

	// Initialize Discord bot
	bot, err := discord.New(cfg.DiscordToken, botOpts)
	if err != nil {
		return fmt.Errorf("failed to create Discord bot: %w", err)
	}

	// Dashboard queries read through the gateway state first, then the cache.
	var resolvers []directory.Resolver
	resolvers = append(resolvers, directory.NewStateDirectory(bot.State()))
	if channelCache != nil {
		resolvers = append(resolvers, channelCache)
	}
	channels := directory.NewChain(resolvers...)
	timelines := stats.NewTimelineBuilder(repository, channels, opts)
	summaries := stats.NewSummarizer(repository, calc, opts)

	var server *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if err := db.Ping(r.Context()); err != nil {
				http.Error(w, `{"status":"unhealthy"}`, http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		})
		api.NewHandlers(ranker, timelines, summaries, cfg.Location, logger).Register(mux)

		server = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("starting http server", "addr", cfg.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Error("http server forced to shutdown", "error", err)
			}
		}()
	}

	// Start bot
	if err := bot.Start(); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}
	defer bot.Stop()

	// Wait for interrupt signal
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	logger.Info("shutting down bot...")
	return nil
}

func runRollup(cfg *config.Config, repository *database.Repository, calc *period.Calculator, opts stats.Options, rebuildServer, totalsServer string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rollup := stats.NewRollup(repository, repository, calc, opts)

	if rebuildServer != "" {
		written, err := rollup.RebuildPeriodAggregates(ctx, rebuildServer, cfg.RollupBatchSize)
		if err != nil {
			return err
		}
		fmt.Printf("rebuilt %d period aggregates for server %s\n", written, rebuildServer)
	}

	if totalsServer != "" {
		users, err := rollup.RebuildUserTotals(ctx, totalsServer, cfg.RollupBatchSize)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%s\t%s\t%s\t%d sessions\t%d started\n",
				u.UserID, u.Username, utils.FormatDuration(u.TotalDuration), u.SessionCount, u.StartedSessionCount)
		}
	}
	return nil
}

// relayd serves live Vietnamese market ticks over SSE and runs the
// background ingestion feeds.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/hieudt/vnrelay/internal/auth"
	"github.com/hieudt/vnrelay/internal/bridge"
	"github.com/hieudt/vnrelay/internal/config"
	"github.com/hieudt/vnrelay/internal/hours"
	"github.com/hieudt/vnrelay/internal/persist"
	"github.com/hieudt/vnrelay/internal/relay"
	"github.com/hieudt/vnrelay/internal/store"
	"github.com/hieudt/vnrelay/internal/upstream"
	"github.com/hieudt/vnrelay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relayd.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relayd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"addr", cfg.Server.Addr,
		"broker_url", cfg.Provider.BrokerURL,
		"feeds", len(cfg.Feeds),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Trading-hours calendar
	calendar, err := buildCalendar(cfg.Market)
	if err != nil {
		logger.Error("failed to build trading calendar", "error", err)
		os.Exit(1)
	}

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Connect to Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	// Upstream authenticator
	authn := auth.NewClient(cfg.Provider.AuthURL,
		auth.WithLogger(logger),
		auth.WithTimeout(cfg.Provider.AuthTimeout),
	)
	creds := auth.Credentials{
		Username:   cfg.Provider.Username,
		Password:   cfg.Provider.Password,
		InvestorID: cfg.Provider.InvestorID,
	}

	// Feed supervisor
	feeds := make(map[string][]string, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		feeds[f.Asset] = f.Symbols
	}
	supervisor := persist.NewSupervisor(persist.SupervisorConfig{
		Feeds: feeds,
		Template: persist.Config{
			Credentials:      creds,
			BrokerURL:        cfg.Provider.BrokerURL,
			TopicPrefix:      cfg.Provider.TopicPrefix,
			WriteInterval:    cfg.Persist.WriteInterval,
			CheckInterval:    cfg.Persist.CheckInterval,
			ReconnectDelay:   cfg.Persist.ReconnectDelay,
			HandshakeTimeout: cfg.Provider.HandshakeTimeout,
		},
		LeaseTTL: cfg.Persist.LeaseTTL,
	}, store.NewPGStore(pool), rdb, authn, upstream.Dialer{Logger: logger}, bridge.NewPublisher(rdb), logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		supervisor.Shutdown(shutdownCtx)
	}()

	// HTTP surface
	handler := relay.NewHandler(relay.Config{
		Credentials:      creds,
		BrokerURL:        cfg.Provider.BrokerURL,
		TopicPrefix:      cfg.Provider.TopicPrefix,
		AccessToken:      cfg.Server.AccessToken,
		HandshakeTimeout: cfg.Provider.HandshakeTimeout,
		ReconnectDelay:   cfg.Provider.ReconnectDelay,
	}, calendar, authn, upstream.Dialer{Logger: logger}, supervisor, logger)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /health", healthHandler(pool, rdb, supervisor))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

// buildCalendar converts the configured sessions into an hours gate,
// falling back to the HOSE calendar when none are configured.
func buildCalendar(mc config.MarketConfig) (hours.Calendar, error) {
	if len(mc.Sessions) == 0 {
		return hours.HOSE()
	}

	windows := make([]hours.Window, 0, len(mc.Sessions))
	for _, s := range mc.Sessions {
		w, err := hours.ParseWindow(s.Open, s.Close)
		if err != nil {
			return hours.Calendar{}, err
		}
		windows = append(windows, w)
	}

	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	return hours.NewCalendar(mc.Timezone, windows, weekdays)
}

// healthHandler reports dependency health and feed state.
func healthHandler(pool interface {
	Ping(ctx context.Context) error
}, rdb *redis.Client, supervisor *persist.Supervisor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		if err := rdb.Ping(ctx).Err(); err != nil {
			health.Status = "unhealthy"
			health.Components["redis"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["redis"] = "connected"
		}

		feeds := make(map[string]bool)
		for _, asset := range supervisor.Assets() {
			feeds[asset] = supervisor.Running(asset)
		}
		health.Components["feeds"] = feeds

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}

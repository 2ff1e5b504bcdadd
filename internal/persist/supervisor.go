package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hieudt/vnrelay/internal/lease"
	"github.com/hieudt/vnrelay/internal/store"
	"github.com/hieudt/vnrelay/internal/upstream"
)

// ErrUnknownAsset is returned for assets with no configured feed.
var ErrUnknownAsset = fmt.Errorf("unknown asset")

// leaseKey is the Redis key for an asset's feed lease.
func leaseKey(asset string) string {
	return "vnrelay:feed:" + asset + ":lease"
}

// SupervisorConfig holds the feed registry settings.
type SupervisorConfig struct {
	// Feeds maps asset class to the symbols its feed subscribes.
	Feeds map[string][]string

	// Template carries the shared per-feed settings; Asset and Symbols
	// are filled per feed.
	Template Config

	LeaseTTL time.Duration
}

// Supervisor owns the configured feed persisters and starts or stops them
// on demand.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu    sync.Mutex
	feeds map[string]*Persister
}

// NewSupervisor builds one persister per configured feed.
func NewSupervisor(cfg SupervisorConfig, st store.Store, rdb *redis.Client, authn Authenticator, opener upstream.Opener, pub ChangePublisher, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	feeds := make(map[string]*Persister, len(cfg.Feeds))
	for asset, symbols := range cfg.Feeds {
		fc := cfg.Template
		fc.Asset = asset
		fc.Symbols = symbols

		ls := lease.New(rdb, leaseKey(asset), cfg.LeaseTTL, logger)
		feeds[asset] = NewPersister(fc, st, ls, authn, opener, pub, logger)
	}

	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		feeds:  feeds,
	}
}

// StartFeed starts ingestion for an asset class. Starting a running feed
// refreshes its lease.
func (s *Supervisor) StartFeed(ctx context.Context, asset string) error {
	p, err := s.feed(asset)
	if err != nil {
		return err
	}
	return p.Connect(ctx)
}

// StopFeed stops ingestion for an asset class. Stopping a stopped feed is
// a no-op.
func (s *Supervisor) StopFeed(ctx context.Context, asset string) error {
	p, err := s.feed(asset)
	if err != nil {
		return err
	}
	return p.Disconnect(ctx)
}

// Running reports whether the asset's feed is ingesting.
func (s *Supervisor) Running(asset string) bool {
	p, err := s.feed(asset)
	if err != nil {
		return false
	}
	return p.Running()
}

// Assets returns the configured asset classes.
func (s *Supervisor) Assets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	assets := make([]string, 0, len(s.feeds))
	for a := range s.feeds {
		assets = append(assets, a)
	}
	return assets
}

// Shutdown stops every feed concurrently.
func (s *Supervisor) Shutdown(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range s.Assets() {
		g.Go(func() error {
			if err := s.StopFeed(gctx, asset); err != nil {
				s.logger.Error("feed shutdown failed", "asset", asset, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

func (s *Supervisor) feed(asset string) (*Persister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.feeds[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return p, nil
}

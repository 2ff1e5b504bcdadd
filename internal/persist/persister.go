package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hieudt/vnrelay/internal/auth"
	"github.com/hieudt/vnrelay/internal/lease"
	"github.com/hieudt/vnrelay/internal/store"
	"github.com/hieudt/vnrelay/internal/tick"
	"github.com/hieudt/vnrelay/internal/upstream"
)

// Authenticator obtains a fresh upstream token. A new token is fetched for
// every session open, including reopens after a dropped session.
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (auth.Token, error)
}

// ChangePublisher announces a persisted price so bridges can fan it out.
type ChangePublisher interface {
	Publish(ctx context.Context, symbol string, payload []byte) error
}

// Config holds one feed's settings.
type Config struct {
	Asset   string   // asset class, used as the store partition key
	Symbols []string // symbols this feed subscribes to

	Credentials auth.Credentials
	BrokerURL   string
	TopicPrefix string

	WriteInterval    time.Duration // min gap between writes per symbol
	CheckInterval    time.Duration // lease poll and renew interval
	ReconnectDelay   time.Duration // delay before reopening a dead session
	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.WriteInterval == 0 {
		c.WriteInterval = 10 * time.Second
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = 5 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
}

// Persister ingests one asset class's ticks into the live price store.
type Persister struct {
	cfg    Config
	store  store.Store
	lease  *lease.Lease
	authn  Authenticator
	opener upstream.Opener
	pub    ChangePublisher
	logger *slog.Logger

	gate *writeGate

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// now is a seam for throttle tests.
	now func() time.Time
}

// NewPersister creates a feed persister. pub may be nil when no change
// feed is wanted.
func NewPersister(cfg Config, st store.Store, ls *lease.Lease, authn Authenticator, opener upstream.Opener, pub ChangePublisher, logger *slog.Logger) *Persister {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		cfg:    cfg,
		store:  st,
		lease:  ls,
		authn:  authn,
		opener: opener,
		pub:    pub,
		logger: logger.With("asset", cfg.Asset),
		gate:   newWriteGate(cfg.WriteInterval),
		now:    time.Now,
	}
}

// Connect acquires the feed's lease and starts ingestion. Calling Connect
// on a running feed refreshes the lease and returns nil.
func (p *Persister) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.lease.Acquire(ctx); err != nil {
		return err
	}
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.run(runCtx)

	p.logger.Info("feed started", "symbols", p.cfg.Symbols)
	return nil
}

// Disconnect releases the lease and stops ingestion. Idempotent.
func (p *Persister) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return p.lease.Release(ctx)
	}
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	if err := p.lease.Release(ctx); err != nil {
		return err
	}
	p.logger.Info("feed stopped")
	return nil
}

// Running reports whether the ingestion loop is active.
func (p *Persister) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// run opens sessions until the context is cancelled or the lease expires.
// A session that dies for any reason is reopened after ReconnectDelay with
// a fresh token.
func (p *Persister) run(ctx context.Context) {
	defer p.wg.Done()
	defer p.markStopped()

	for {
		src, err := p.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("session open failed", "error", err)
		} else {
			if !p.consume(ctx, src) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.ReconnectDelay):
		}

		alive, err := p.lease.Alive(ctx)
		if err != nil {
			p.logger.Error("lease check failed", "error", err)
			continue
		}
		if !alive {
			p.logger.Info("lease expired, stopping feed")
			return
		}
	}
}

func (p *Persister) markStopped() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// open authenticates and opens a new upstream session.
func (p *Persister) open(ctx context.Context) (upstream.Source, error) {
	tok, err := p.authn.Authenticate(ctx, p.cfg.Credentials)
	if err != nil {
		return nil, err
	}

	sc := upstream.DefaultSessionConfig()
	sc.URL = p.cfg.BrokerURL
	sc.InvestorID = p.cfg.Credentials.InvestorID
	sc.Token = tok.Value
	sc.Symbols = p.cfg.Symbols
	if p.cfg.TopicPrefix != "" {
		sc.TopicPrefix = p.cfg.TopicPrefix
	}
	if p.cfg.HandshakeTimeout != 0 {
		sc.HandshakeTimeout = p.cfg.HandshakeTimeout
	}

	return p.opener.Open(ctx, sc)
}

// consume drains one session. It returns true when the session ended and a
// reopen should be attempted, false when the feed should stop.
func (p *Persister) consume(ctx context.Context, src upstream.Source) bool {
	defer src.Close()

	check := time.NewTicker(p.cfg.CheckInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case <-check.C:
			p.flushDue(ctx)

			alive, err := p.lease.Alive(ctx)
			if err != nil {
				p.logger.Error("lease check failed", "error", err)
				continue
			}
			if !alive {
				p.logger.Info("lease expired, stopping feed")
				return false
			}
			if err := p.lease.Renew(ctx); err != nil {
				p.logger.Error("lease renew failed", "error", err)
			}

		case ev, ok := <-src.Events():
			if !ok {
				p.logger.Warn("session closed, will reopen")
				return true
			}
			switch ev.Type {
			case upstream.EventTick:
				p.persist(ctx, ev.Tick)
			case upstream.EventError:
				p.logger.Error("session error", "error", ev.Err)
			}
		}
	}
}

// persist runs one tick through the throttle; inside a window the tick is
// stashed as the symbol's latest and written later by flushDue.
func (p *Persister) persist(ctx context.Context, tk tick.Tick) {
	now := p.now()
	if !p.gate.Offer(tk, now) {
		return
	}
	p.write(ctx, tk, now)
}

// flushDue writes the stashed latest tick for every symbol whose throttle
// window has elapsed.
func (p *Persister) flushDue(ctx context.Context) {
	now := p.now()
	for _, tk := range p.gate.Due(now) {
		p.write(ctx, tk, now)
	}
}

// write upserts one tick and publishes the change.
func (p *Persister) write(ctx context.Context, tk tick.Tick, now time.Time) {
	lp := store.LivePrice{
		Symbol:     tk.Symbol,
		AssetClass: p.cfg.Asset,
		Price:      tk.Price,
		Quantity:   tk.Quantity,
		Side:       string(tk.Side),
		TradeTime:  tk.Time,
		UpdatedAt:  now.UTC(),
	}
	if err := p.store.UpsertLivePrice(ctx, lp); err != nil {
		p.logger.Error("upsert failed", "symbol", tk.Symbol, "error", err)
		return
	}

	if p.pub != nil {
		payload, err := json.Marshal(tk)
		if err != nil {
			p.logger.Error("encode tick failed", "symbol", tk.Symbol, "error", err)
			return
		}
		if err := p.pub.Publish(ctx, tk.Symbol, payload); err != nil {
			p.logger.Error("publish failed", "symbol", tk.Symbol, "error", err)
		}
	}
}

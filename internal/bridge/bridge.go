package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// channelPrefix is the Redis pub/sub channel prefix for price changes.
// The full channel name is channelPrefix + symbol.
const channelPrefix = "prices."

// Channel returns the pub/sub channel name for a symbol.
func Channel(symbol string) string {
	return channelPrefix + symbol
}

// Publisher sends persisted price payloads to the change feed. It is the
// producing half of the bridge, used by the persister.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher wraps an existing Redis client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish sends the payload to the symbol's channel.
func (p *Publisher) Publish(ctx context.Context, symbol string, payload []byte) error {
	if err := p.rdb.Publish(ctx, Channel(symbol), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Channel(symbol), err)
	}
	return nil
}

// Bridge is one consumer session over the change feed for a set of
// symbols. Start and Stop also drive the relay's feed control endpoints,
// best effort: a control-plane failure never takes the subscription down.
type Bridge struct {
	rdb     *redis.Client
	httpc   *http.Client
	baseURL string // relay control-plane base URL, e.g. http://localhost:8188
	asset   string
	symbols []string
	logger  *slog.Logger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	updates chan []byte
	wg      sync.WaitGroup
}

// New creates a bridge session. baseURL may be empty to skip feed control
// entirely.
func New(rdb *redis.Client, baseURL, asset string, symbols []string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		rdb:     rdb,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		asset:   asset,
		symbols: symbols,
		logger:  logger.With("asset", asset),
	}
}

// Initialize creates the pub/sub connection and forwarding loop. Called
// lazily by Start; calling it again is a no-op on the same connection.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked(ctx)
}

func (b *Bridge) initLocked(ctx context.Context) error {
	if b.pubsub != nil {
		return nil
	}

	b.pubsub = b.rdb.Subscribe(ctx)
	b.updates = make(chan []byte, 64)

	ch := b.pubsub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.updates)
		for msg := range ch {
			// Never block on a stalled consumer; a blocked send here
			// would keep Close from ever closing Updates.
			select {
			case b.updates <- []byte(msg.Payload):
			default:
				b.logger.Warn("updates buffer full, dropping payload")
			}
		}
	}()

	return nil
}

// Start asks the relay to run the asset's feed, then subscribes to the
// symbols' change channels.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.initLocked(ctx); err != nil {
		return err
	}

	b.notifyControl(ctx, "start")

	if err := b.pubsub.Subscribe(ctx, b.channels()...); err != nil {
		return fmt.Errorf("subscribe price channels: %w", err)
	}
	b.logger.Info("bridge started", "symbols", b.symbols)
	return nil
}

// Stop unsubscribes from the change channels and asks the relay to stop
// the feed. The bridge can be started again afterwards.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubsub == nil {
		return nil
	}

	b.notifyControl(ctx, "stop")

	if err := b.pubsub.Unsubscribe(ctx, b.channels()...); err != nil {
		return fmt.Errorf("unsubscribe price channels: %w", err)
	}
	b.logger.Info("bridge stopped")
	return nil
}

// Updates returns the forwarded payload stream. Payloads arrive exactly as
// published; when the consumer stops draining, newer payloads are dropped
// rather than queued. The channel is closed by Close.
func (b *Bridge) Updates() <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updates
}

// Close tears down the pub/sub connection and closes Updates.
func (b *Bridge) Close() error {
	b.mu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	b.wg.Wait()
	return err
}

func (b *Bridge) channels() []string {
	chs := make([]string, len(b.symbols))
	for i, s := range b.symbols {
		chs[i] = Channel(s)
	}
	return chs
}

// notifyControl POSTs /feed/{asset}/{op}. Failures are logged and
// swallowed: the subscription is useful even when the control plane is
// unreachable, since another holder may be keeping the feed alive.
func (b *Bridge) notifyControl(ctx context.Context, op string) {
	if b.baseURL == "" {
		return
	}

	url := fmt.Sprintf("%s/feed/%s/%s", b.baseURL, b.asset, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		b.logger.Warn("feed control request failed", "op", op, "error", err)
		return
	}

	resp, err := b.httpc.Do(req)
	if err != nil {
		b.logger.Warn("feed control request failed", "op", op, "error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b.logger.Warn("feed control rejected", "op", op, "status", resp.StatusCode)
	}
}

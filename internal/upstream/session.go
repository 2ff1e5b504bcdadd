package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hieudt/vnrelay/internal/tick"
)

// Session owns one broker connection for a logical stream session. Each
// session gets its own generated client id, so concurrent sessions against
// the same broker account never collide.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	// newClient is a seam for tests; production sessions dial real
	// WebSocket clients.
	newClient func(ClientConfig, *slog.Logger) Client

	events chan Event
	done   chan struct{}

	state  atomic.Int32
	closed atomic.Bool

	mu     sync.Mutex
	client Client

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Opener opens sessions. The relay and the persister depend on this rather
// than on the concrete dialer, so tests can substitute a mock broker.
type Opener interface {
	Open(ctx context.Context, cfg SessionConfig) (Source, error)
}

// OpenFunc adapts a function to the Opener interface.
type OpenFunc func(ctx context.Context, cfg SessionConfig) (Source, error)

func (f OpenFunc) Open(ctx context.Context, cfg SessionConfig) (Source, error) {
	return f(ctx, cfg)
}

// Dialer is the production Opener.
type Dialer struct {
	Logger *slog.Logger
}

func (d Dialer) Open(ctx context.Context, cfg SessionConfig) (Source, error) {
	return Open(ctx, cfg, d.Logger)
}

// Open dials the broker, performs the connect handshake, and subscribes one
// topic per symbol. On success the returned session is streaming events; the
// caller must consume Events() and call Close() when done.
func Open(ctx context.Context, cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	applySessionDefaults(&cfg)

	if cfg.ClientID == "" {
		cfg.ClientID = "vnrelay-" + uuid.NewString()
	}

	s := &Session{
		cfg:       cfg,
		logger:    logger.With("client_id", cfg.ClientID),
		newClient: NewClient,
		events:    make(chan Event, cfg.EventBufferSize),
		done:      make(chan struct{}),
	}

	s.state.Store(int32(StateConnecting))

	client, err := s.dial(ctx)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return nil, err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.state.Store(int32(StateConnected))
	s.emit(Event{Type: EventConnected})

	s.wg.Add(1)
	go s.run(ctx, client)

	return s, nil
}

func applySessionDefaults(cfg *SessionConfig) {
	def := DefaultSessionConfig()
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = def.TopicPrefix
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.EventBufferSize == 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
}

// Events returns the session event channel.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Close tears the session down from any state. Reconnection is disabled
// before the transport closes, so an intentional teardown is never
// resurrected. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.mu.Lock()
		client := s.client
		s.mu.Unlock()

		if client != nil {
			client.Close()
		}
	})
	return nil
}

// dial connects a fresh client and completes handshake and subscriptions.
func (s *Session) dial(ctx context.Context) (Client, error) {
	clientCfg := ClientConfig{
		URL:               s.cfg.URL,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		PingTimeout:       s.cfg.PingTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BufferSize:        s.cfg.EventBufferSize,
	}

	client := s.newClient(clientCfg, s.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	if err := s.handshake(client); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// handshake sends the connect frame and subscribes every configured symbol.
func (s *Session) handshake(client Client) error {
	connect, _ := json.Marshal(connectCmd{
		Type:     "connect",
		ClientID: s.cfg.ClientID,
		Username: s.cfg.InvestorID,
		Password: s.cfg.Token,
	})
	if err := client.Send(connect); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	if err := s.awaitControl(client, "connack"); err != nil {
		return err
	}

	for _, symbol := range s.cfg.Symbols {
		sub, _ := json.Marshal(subscribeCmd{
			Type:  "subscribe",
			Topic: s.cfg.TopicPrefix + symbol,
			QoS:   1, // at-least-once
		})
		if err := client.Send(sub); err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
		if err := s.awaitControl(client, "suback"); err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}

	return nil
}

// awaitControl waits for the next control frame of the given type.
func (s *Session) awaitControl(client Client, want string) error {
	timeout := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-s.done:
			return ErrAlreadyClosed
		case <-timeout.C:
			return ErrTimeout
		case err := <-client.Errors():
			return err
		case msg, ok := <-client.Messages():
			if !ok {
				return ErrNotConnected
			}
			ctl, isCtl := isControl(msg.Data)
			if !isCtl {
				// Tick frames can arrive interleaved during resubscribe;
				// deliver them instead of dropping.
				s.handleData(msg.Data)
				continue
			}
			if ctl.Type == "error" {
				return fmt.Errorf("%w: %s", ErrHandshake, ctl.Message)
			}
			if ctl.Type == want {
				return nil
			}
		}
	}
}

// run consumes one client until the session closes, reconnecting with a
// fixed backoff on transport drops.
func (s *Session) run(ctx context.Context, client Client) {
	defer s.wg.Done()
	defer func() {
		s.state.Store(int32(StateClosed))
		select {
		case s.events <- Event{Type: EventClosed}:
		default:
		}
		close(s.events)
	}()

	for {
		select {
		case <-s.done:
			return

		case err := <-client.Errors():
			s.state.Store(int32(StateErroring))
			s.logger.Warn("transport error", "error", err)

			next, rerr := s.reconnect(ctx)
			if rerr != nil {
				if !s.closed.Load() {
					s.emit(Event{Type: EventError, Err: err})
				}
				return
			}
			client = next

		case msg, ok := <-client.Messages():
			if !ok {
				if s.closed.Load() {
					return
				}
				s.state.Store(int32(StateErroring))
				next, rerr := s.reconnect(ctx)
				if rerr != nil {
					s.emit(Event{Type: EventError, Err: ErrNotConnected})
					return
				}
				client = next
				continue
			}

			if ctl, isCtl := isControl(msg.Data); isCtl {
				s.logger.Debug("control frame", "type", ctl.Type, "topic", ctl.Topic)
				continue
			}
			s.handleData(msg.Data)
		}
	}
}

// handleData decodes one tick payload. Malformed payloads are dropped with
// a logged parse error; they never terminate the session.
func (s *Session) handleData(data []byte) {
	tk, err := tick.Parse(data)
	if err != nil {
		s.logger.Warn("dropping malformed tick", "error", err)
		return
	}

	if State(s.state.Load()) == StateConnected {
		s.state.Store(int32(StateStreaming))
	}

	s.emit(Event{Type: EventTick, Tick: tk})
}

// reconnect dials until a fresh client handshakes or the session closes.
// The fixed delay matches the provider transport's own reconnect interval.
func (s *Session) reconnect(ctx context.Context) (Client, error) {
	s.mu.Lock()
	old := s.client
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	for {
		select {
		case <-s.done:
			return nil, ErrAlreadyClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}

		s.state.Store(int32(StateConnecting))
		s.logger.Info("attempting reconnection")

		client, err := s.dial(ctx)
		if err != nil {
			// A broker auth rejection will not heal; surface it.
			if errors.Is(err, ErrHandshake) {
				return nil, err
			}
			s.logger.Warn("reconnection failed", "error", err)
			continue
		}

		s.mu.Lock()
		s.client = client
		s.mu.Unlock()

		s.state.Store(int32(StateConnected))
		s.logger.Info("reconnected")
		s.emit(Event{Type: EventConnected})
		return client, nil
	}
}

// emit delivers an event unless the session is shutting down.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

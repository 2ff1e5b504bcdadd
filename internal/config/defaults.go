package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr             = ":8188"
	DefaultTopicPrefix      = "quotes/tick/"
	DefaultAuthTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReconnectDelay   = 1 * time.Second
	DefaultTimezone         = "Asia/Ho_Chi_Minh"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultRedisAddr        = "localhost:6379"
	DefaultWriteInterval    = 10 * time.Second
	DefaultCheckInterval    = 5 * time.Second
	DefaultPersistReconnect = 5 * time.Second
	DefaultLeaseTTL         = 30 * time.Second
)

// defaultSessions are the HOSE trading sessions.
var defaultSessions = []SessionWindow{
	{Open: "09:00", Close: "11:30"},
	{Open: "13:00", Close: "14:45"},
}

func (c *RelayConfig) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}

	// Provider defaults
	if c.Provider.TopicPrefix == "" {
		c.Provider.TopicPrefix = DefaultTopicPrefix
	}
	if c.Provider.AuthTimeout == 0 {
		c.Provider.AuthTimeout = DefaultAuthTimeout
	}
	if c.Provider.HandshakeTimeout == 0 {
		c.Provider.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Provider.ReconnectDelay == 0 {
		c.Provider.ReconnectDelay = DefaultReconnectDelay
	}

	// Market defaults
	if c.Market.Timezone == "" {
		c.Market.Timezone = DefaultTimezone
	}
	if len(c.Market.Sessions) == 0 {
		c.Market.Sessions = append([]SessionWindow(nil), defaultSessions...)
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	// Persister defaults
	if c.Persist.WriteInterval == 0 {
		c.Persist.WriteInterval = DefaultWriteInterval
	}
	if c.Persist.CheckInterval == 0 {
		c.Persist.CheckInterval = DefaultCheckInterval
	}
	if c.Persist.ReconnectDelay == 0 {
		c.Persist.ReconnectDelay = DefaultPersistReconnect
	}
	if c.Persist.LeaseTTL == 0 {
		c.Persist.LeaseTTL = DefaultLeaseTTL
	}
}

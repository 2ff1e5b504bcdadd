package config

import "time"

// RelayConfig is the root configuration for a relayd instance.
type RelayConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Market   MarketConfig   `yaml:"market"`
	Database DBConfig       `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Feeds    []FeedConfig   `yaml:"feeds"`
	Persist  PersistConfig  `yaml:"persist"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// AccessToken, when set, is required as the ?token= parameter on
	// stream requests. It rides in the URL because EventSource cannot set
	// request headers.
	AccessToken string `yaml:"access_token"`
}

// ProviderConfig holds the upstream market-data provider settings.
type ProviderConfig struct {
	AuthURL     string `yaml:"auth_url"`
	BrokerURL   string `yaml:"broker_url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	InvestorID  string `yaml:"investor_id"`
	TopicPrefix string `yaml:"topic_prefix"`

	AuthTimeout      time.Duration `yaml:"auth_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
}

// MarketConfig holds the trading-hours calendar.
type MarketConfig struct {
	Timezone string          `yaml:"timezone"`
	Sessions []SessionWindow `yaml:"sessions"`
}

// SessionWindow is one intraday session, "HH:MM" in the market timezone.
type SessionWindow struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// DBConfig holds the Postgres connection for live prices.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the Redis connection for leases and change channels.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FeedConfig names one background ingestion feed.
type FeedConfig struct {
	Asset   string   `yaml:"asset"`   // asset class, e.g. "stock", "derivative"
	Symbols []string `yaml:"symbols"` // symbols ingested for this asset class
}

// PersistConfig holds the throttled persister settings.
type PersistConfig struct {
	WriteInterval  time.Duration `yaml:"write_interval"`  // min gap between writes per symbol
	CheckInterval  time.Duration `yaml:"check_interval"`  // lease poll interval
	ReconnectDelay time.Duration `yaml:"reconnect_delay"` // delay before reopening a dead session
	LeaseTTL       time.Duration `yaml:"lease_ttl"`
}

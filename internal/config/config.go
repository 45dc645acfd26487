package config

import "time"

// RecorderConfig is the root configuration for a recorder instance.
type RecorderConfig struct {
	Venue         VenueConfig         `yaml:"venue"`
	Login         LoginConfig         `yaml:"login"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Database      DatabaseConfig      `yaml:"database"`
	Writers       WritersConfig       `yaml:"writers"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// VenueConfig holds the exchange endpoints.
type VenueConfig struct {
	WSURL   string        `yaml:"ws_url"`
	RestURL string        `yaml:"rest_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoginConfig holds the credentials for the private connection. Leave both
// fields empty to run public-only.
type LoginConfig struct {
	AccessToken    string `yaml:"access_token"`
	AccountAddress string `yaml:"account_address"`
}

// ConnectionConfig holds the websocket lifecycle settings.
type ConnectionConfig struct {
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	AutoReconnectRetries int           `yaml:"auto_reconnect_retries"`
	OpenTimeout          time.Duration `yaml:"open_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// SubscriptionsConfig lists the topics to establish at startup, e.g.
// "ETH-SPOT@orderBook". Private topics require login credentials.
type SubscriptionsConfig struct {
	Public  []string `yaml:"public"`
	Private []string `yaml:"private"`
}

// DatabaseConfig holds the Postgres connection for recorded streams.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
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

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

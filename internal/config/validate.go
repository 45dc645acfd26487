package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RecorderConfig) Validate() error {
	if c.Venue.WSURL == "" {
		return errors.New("venue.ws_url is required")
	}
	if !strings.HasPrefix(c.Venue.WSURL, "ws://") && !strings.HasPrefix(c.Venue.WSURL, "wss://") {
		return fmt.Errorf("venue.ws_url must be a ws:// or wss:// URL, got %q", c.Venue.WSURL)
	}

	if c.Login.AccessToken != "" && c.Login.AccountAddress == "" {
		return errors.New("login.account_address is required when login.access_token is set")
	}
	if len(c.Subscriptions.Private) > 0 && c.Login.AccessToken == "" {
		return errors.New("login.access_token is required for private subscriptions")
	}

	if c.Connection.AutoReconnectRetries < 0 {
		return errors.New("connection.auto_reconnect_retries must be >= 0")
	}
	if c.Connection.BufferSize < 1 {
		return errors.New("connection.buffer_size must be >= 1")
	}
	if c.Connection.PingTimeout >= c.Connection.PingInterval {
		return fmt.Errorf("connection.ping_timeout (%s) must be shorter than ping_interval (%s)",
			c.Connection.PingTimeout, c.Connection.PingInterval)
	}

	for _, topic := range append(c.Subscriptions.Public, c.Subscriptions.Private...) {
		if !strings.Contains(topic, "@") {
			return fmt.Errorf("subscription topic %q must be of the form <instrument>@<channel>", topic)
		}
	}

	if err := c.Database.Postgres.validate("database.postgres"); err != nil {
		return err
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

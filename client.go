package infinity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/infinity-exchange/infinity-go/internal/connection"
	"github.com/infinity-exchange/infinity-go/internal/dispatch"
	"github.com/infinity-exchange/infinity-go/internal/metrics"
	"github.com/infinity-exchange/infinity-go/internal/queue"
	"github.com/infinity-exchange/infinity-go/pkg/schema"
)

// LoginClient supplies credentials for the private connection.
type LoginClient interface {
	// IsLoginSuccess reports whether credentials are usable.
	IsLoginSuccess() bool

	// AccessToken returns the opaque token sent in the LOGIN message.
	AccessToken() string

	// AccountAddress returns the account identity the venue echoes back to
	// confirm the login.
	AccountAddress() string
}

// Config configures a Client. Zero values fall back to the venue's
// documented defaults.
type Config struct {
	WSURL string

	// Login enables the private connection. Leave nil to run public-only.
	Login LoginClient

	// ReconnectInterval is the scheduled teardown-and-rebuild period.
	// Defaults to 24 hours.
	ReconnectInterval time.Duration

	// AutoReconnectRetries bounds consecutive failed reconnect attempts
	// after unexpected closures. 0 disables auto-reconnection.
	AutoReconnectRetries int

	OpenTimeout  time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration

	// QueueSize is the initial capacity of each per-channel record queue.
	QueueSize int

	Logger *slog.Logger
}

// Client is the top-level websocket client. All methods are safe for
// concurrent use.
type Client struct {
	logger  *slog.Logger
	manager *connection.Manager
	queues  *queue.Registry
	metrics *metrics.Metrics

	privateEnabled bool
}

// New builds a Client. A login that reports failure is rejected up front:
// the error is logged and the private connection stays disabled, matching
// the behavior of a nil login.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcfg := connection.DefaultManagerConfig()
	mcfg.URL = cfg.WSURL
	if cfg.ReconnectInterval > 0 {
		mcfg.ReconnectInterval = cfg.ReconnectInterval
	}
	mcfg.AutoReconnectRetries = cfg.AutoReconnectRetries
	if cfg.OpenTimeout > 0 {
		mcfg.OpenTimeout = cfg.OpenTimeout
	}
	if cfg.PingInterval > 0 {
		mcfg.PingInterval = cfg.PingInterval
	}
	if cfg.PingTimeout > 0 {
		mcfg.PingTimeout = cfg.PingTimeout
	}
	if cfg.WriteTimeout > 0 {
		mcfg.WriteTimeout = cfg.WriteTimeout
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = mcfg.BufferSize
	}

	var login connection.LoginClient
	privateEnabled := false
	if cfg.Login != nil {
		if cfg.Login.IsLoginSuccess() {
			login = cfg.Login
			privateEnabled = true
		} else {
			logger.Error("cannot login, please check login details")
		}
	}

	m := metrics.New("infinity")
	queues := queue.NewRegistry(queueSize)

	manager := connection.NewManager(mcfg, login, nil, logger)
	manager.OnReconnect = func(key connection.Key) {
		m.Reconnects.WithLabelValues(string(key)).Inc()
	}
	manager.OnState = func(key connection.Key, open bool) {
		v := 0.0
		if open {
			v = 1
		}
		m.ConnectionUp.WithLabelValues(string(key)).Set(v)
	}

	d := dispatch.New(queues, logger)
	d.OnAck = func(conn string, topics []string) {
		manager.RecordAck(connection.Key(conn), topics)
	}
	d.OnLogin = func(conn string, address string) {
		manager.ConfirmLogin(connection.Key(conn), address)
	}
	d.OnFrame = func(channel string) {
		m.FramesReceived.WithLabelValues(channel).Inc()
	}
	d.OnDecodeError = func(channel string) {
		m.DecodeErrors.WithLabelValues(channel).Inc()
	}
	manager.SetDispatch(func(key connection.Key, data []byte, receivedAt time.Time) {
		d.Dispatch(string(key), data, receivedAt)
	})

	return &Client{
		logger:         logger,
		manager:        manager,
		queues:         queues,
		metrics:        m,
		privateEnabled: privateEnabled,
	}
}

// ConnectAll opens the public connection and, when a login is configured,
// the private one. It blocks until both report open or ctx ends.
func (c *Client) ConnectAll(ctx context.Context) error {
	start := time.Now()

	if err := c.manager.Connect(connection.Public); err != nil {
		return err
	}
	if err := c.manager.WaitOpen(ctx, connection.Public); err != nil {
		return fmt.Errorf("wait public open: %w", err)
	}

	if c.privateEnabled {
		if err := c.manager.Connect(connection.Private); err != nil {
			return err
		}
		if err := c.manager.WaitOpen(ctx, connection.Private); err != nil {
			return fmt.Errorf("wait private open: %w", err)
		}
	}

	c.logger.Info("websocket client ready",
		"private", c.privateEnabled,
		"elapsed", time.Since(start),
	)
	return nil
}

// Subscribe subscribes to topics of the form "<instrument>@<channel>",
// routing each to the public or private connection by its channel.
func (c *Client) Subscribe(topics ...string) error {
	return c.route(connection.MethodSubscribe, topics)
}

// Unsubscribe removes topic subscriptions.
func (c *Client) Unsubscribe(topics ...string) error {
	return c.route(connection.MethodUnsubscribe, topics)
}

func (c *Client) route(method string, topics []string) error {
	var pub, priv []string
	for _, topic := range topics {
		_, channel, ok := schema.SplitTopic(topic)
		if !ok {
			return fmt.Errorf("malformed topic %q", topic)
		}
		if channel.IsPrivate() {
			priv = append(priv, topic)
		} else {
			pub = append(pub, topic)
		}
	}

	if len(priv) > 0 && !c.privateEnabled {
		return fmt.Errorf("private topics %v require a login", priv)
	}

	if len(pub) > 0 {
		if err := c.send(connection.Public, method, pub); err != nil {
			return err
		}
	}
	if len(priv) > 0 {
		if err := c.send(connection.Private, method, priv); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(key connection.Key, method string, topics []string) error {
	switch method {
	case connection.MethodSubscribe:
		return c.manager.Subscribe(key, topics...)
	default:
		return c.manager.Unsubscribe(key, topics...)
	}
}

// SubscribeOrderBook subscribes to order book updates for instruments.
func (c *Client) SubscribeOrderBook(instrumentIDs ...string) error {
	return c.Subscribe(topicsFor(schema.ChannelOrderBook, instrumentIDs)...)
}

// SubscribeRecentTrades subscribes to public trade prints for instruments.
func (c *Client) SubscribeRecentTrades(instrumentIDs ...string) error {
	return c.Subscribe(topicsFor(schema.ChannelRecentTrades, instrumentIDs)...)
}

// SubscribeUserTrades subscribes to the account's fills for instruments.
func (c *Client) SubscribeUserTrades(instrumentIDs ...string) error {
	return c.Subscribe(topicsFor(schema.ChannelUserTrade, instrumentIDs)...)
}

// SubscribeUserOrders subscribes to the account's order updates for
// instruments.
func (c *Client) SubscribeUserOrders(instrumentIDs ...string) error {
	return c.Subscribe(topicsFor(schema.ChannelUserOrder, instrumentIDs)...)
}

// UnsubscribeOrderBook removes order book subscriptions.
func (c *Client) UnsubscribeOrderBook(instrumentIDs ...string) error {
	return c.Unsubscribe(topicsFor(schema.ChannelOrderBook, instrumentIDs)...)
}

// UnsubscribeRecentTrades removes public trade subscriptions.
func (c *Client) UnsubscribeRecentTrades(instrumentIDs ...string) error {
	return c.Unsubscribe(topicsFor(schema.ChannelRecentTrades, instrumentIDs)...)
}

// UnsubscribeUserTrades removes fill subscriptions.
func (c *Client) UnsubscribeUserTrades(instrumentIDs ...string) error {
	return c.Unsubscribe(topicsFor(schema.ChannelUserTrade, instrumentIDs)...)
}

// UnsubscribeUserOrders removes order update subscriptions.
func (c *Client) UnsubscribeUserOrders(instrumentIDs ...string) error {
	return c.Unsubscribe(topicsFor(schema.ChannelUserOrder, instrumentIDs)...)
}

func topicsFor(channel schema.Channel, instrumentIDs []string) []string {
	topics := make([]string, 0, len(instrumentIDs))
	for _, id := range instrumentIDs {
		topics = append(topics, schema.Topic(id, channel))
	}
	return topics
}

// DrainOrderBooks pops up to max buffered order books without blocking.
// max <= 0 drains everything.
func (c *Client) DrainOrderBooks(max int) []schema.OrderBook {
	defer c.gaugeDepth()
	return c.queues.OrderBooks.DrainTo(max)
}

// DrainPublicTrades pops up to max buffered public trades without blocking.
func (c *Client) DrainPublicTrades(max int) []schema.PublicTrade {
	defer c.gaugeDepth()
	return c.queues.PublicTrades.DrainTo(max)
}

// DrainUserTrades pops up to max buffered fills without blocking.
func (c *Client) DrainUserTrades(max int) []schema.UserTrade {
	defer c.gaugeDepth()
	return c.queues.UserTrades.DrainTo(max)
}

// DrainUserOrders pops up to max buffered order updates without blocking.
func (c *Client) DrainUserOrders(max int) []schema.UserOrder {
	defer c.gaugeDepth()
	return c.queues.UserOrders.DrainTo(max)
}

// NextOrderBook blocks until an order book is available or the client shuts
// down.
func (c *Client) NextOrderBook() (schema.OrderBook, bool) {
	return c.queues.OrderBooks.Pop()
}

// NextPublicTrade blocks until a public trade is available or the client
// shuts down.
func (c *Client) NextPublicTrade() (schema.PublicTrade, bool) {
	return c.queues.PublicTrades.Pop()
}

// NextUserTrade blocks until a fill is available or the client shuts down.
func (c *Client) NextUserTrade() (schema.UserTrade, bool) {
	return c.queues.UserTrades.Pop()
}

// NextUserOrder blocks until an order update is available or the client
// shuts down.
func (c *Client) NextUserOrder() (schema.UserOrder, bool) {
	return c.queues.UserOrders.Pop()
}

func (c *Client) gaugeDepth() {
	c.metrics.QueueDepth.WithLabelValues(string(schema.ChannelOrderBook)).Set(float64(c.queues.OrderBooks.Len()))
	c.metrics.QueueDepth.WithLabelValues(string(schema.ChannelRecentTrades)).Set(float64(c.queues.PublicTrades.Len()))
	c.metrics.QueueDepth.WithLabelValues(string(schema.ChannelUserTrade)).Set(float64(c.queues.UserTrades.Len()))
	c.metrics.QueueDepth.WithLabelValues(string(schema.ChannelUserOrder)).Set(float64(c.queues.UserOrders.Len()))
}

// Send writes an arbitrary control message on one of the connections. The
// request id is stamped automatically.
func (c *Client) Send(method string, params any, private bool) error {
	return c.manager.Send(keyFor(private), method, params)
}

// RequestSubscriptions asks the venue to report the registered topic set;
// the reply updates the tracked subscriptions.
func (c *Client) RequestSubscriptions(private bool) error {
	return c.manager.RequestSubscriptions(keyFor(private))
}

// Subscriptions returns the last acknowledged topic set for a connection.
func (c *Client) Subscriptions(private bool) []string {
	return c.manager.Handle(keyFor(private)).Topics()
}

// IsPublicConnected reports whether the public connection is open.
func (c *Client) IsPublicConnected() bool {
	return c.manager.IsOpen(connection.Public)
}

// IsPrivateConnected reports whether the private connection is open.
func (c *Client) IsPrivateConnected() bool {
	return c.manager.IsOpen(connection.Private)
}

// MetricsHandler serves the client's Prometheus metrics.
func (c *Client) MetricsHandler() http.Handler {
	return c.metrics.Handler()
}

// Shutdown closes both connections and the record queues. Blocked Next*
// calls return with ok == false.
func (c *Client) Shutdown() {
	c.manager.Shutdown()
	c.queues.Close()
}

func keyFor(private bool) connection.Key {
	if private {
		return connection.Private
	}
	return connection.Public
}

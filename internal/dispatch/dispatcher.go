// Package dispatch decodes inbound websocket frames into typed records and
// routes them to the per-channel queues. A frame that fails to decode is
// logged with its raw payload and dropped; it never stops the stream.
package dispatch

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/infinity-exchange/infinity-go/internal/queue"
	"github.com/infinity-exchange/infinity-go/pkg/schema"
)

// Dispatcher is safe for concurrent use across connections; frames from one
// connection arrive sequentially, which preserves per-topic ordering into
// the queues.
type Dispatcher struct {
	logger *slog.Logger
	queues *queue.Registry

	// OnAck receives the authoritative topic list from a subscription
	// acknowledgement. OnLogin receives the account address echoed after a
	// LOGIN request. Both are optional.
	OnAck   func(conn string, topics []string)
	OnLogin func(conn string, address string)

	// OnFrame and OnDecodeError are optional metrics hooks keyed by channel
	// name.
	OnFrame       func(channel string)
	OnDecodeError func(channel string)
}

// New builds a dispatcher writing into the given queue registry.
func New(queues *queue.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger, queues: queues}
}

// envelope is the venue's outer frame shape. Market-data frames carry the
// channel name in "e" and the payload in "P"; control responses carry a
// "data" object instead.
type envelope struct {
	Channel      string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	InstrumentID string          `json:"I"`
	MarketID     int64           `json:"m"`
	Payload      json.RawMessage `json:"P"`
	Data         *controlData    `json:"data"`
}

type controlData struct {
	Subscriptions []string `json:"subscriptions"`
	User          *struct {
		Address string `json:"address"`
	} `json:"user"`
}

// instrument prefers the explicit instrument id over the symbol alias.
func (e *envelope) instrument() string {
	if e.InstrumentID != "" {
		return e.InstrumentID
	}
	return e.Symbol
}

// Dispatch handles one raw inbound frame from the named connection.
func (d *Dispatcher) Dispatch(conn string, data []byte, receivedAt time.Time) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.logger.Warn("dropping undecodable frame",
			"conn", conn, "error", err, "payload", string(data))
		d.decodeError("envelope")
		return
	}

	// Login echo, subscription list and channel payload are independent
	// conditions; one frame may carry any combination of them.
	if env.Data != nil {
		if env.Data.Subscriptions != nil {
			d.logger.Info("subscription acknowledgement",
				"conn", conn, "topics", env.Data.Subscriptions)
			if d.OnAck != nil {
				d.OnAck(conn, env.Data.Subscriptions)
			}
		}
		if env.Data.User != nil && env.Data.User.Address != "" {
			d.logger.Debug("login echo received", "conn", conn, "address", env.Data.User.Address)
			if d.OnLogin != nil {
				d.OnLogin(conn, env.Data.User.Address)
			}
		}
	}

	if env.Channel == "" {
		if env.Data == nil {
			d.logger.Debug("ignoring frame without channel", "conn", conn, "payload", string(data))
		}
		return
	}

	d.frame(env.Channel)
	switch schema.Channel(env.Channel) {
	case schema.ChannelOrderBook:
		d.onOrderBook(conn, &env)
	case schema.ChannelRecentTrades:
		d.onRecentTrades(conn, &env)
	case schema.ChannelUserTrade:
		d.onUserTrade(conn, &env)
	case schema.ChannelUserOrder:
		d.onUserOrder(conn, &env)
	default:
		d.logger.Debug("unhandled channel", "conn", conn, "channel", env.Channel)
	}
}

type wireLevel struct {
	Rate     decimal.Decimal `json:"p"`
	Quantity decimal.Decimal `json:"q"`
}

type wireBook struct {
	Asks []wireLevel `json:"a"`
	Bids []wireLevel `json:"b"`
}

func (d *Dispatcher) onOrderBook(conn string, env *envelope) {
	var book wireBook
	if err := json.Unmarshal(env.Payload, &book); err != nil {
		d.logger.Error("orderBook payload decode failed",
			"conn", conn, "error", err, "payload", string(env.Payload))
		d.decodeError(env.Channel)
		return
	}

	rec := schema.OrderBook{
		InstrumentID: env.instrument(),
		UpdateTime:   msToTime(env.EventTime),
		Bids:         toLevels(book.Bids),
		Asks:         toLevels(book.Asks),
	}
	sort.Slice(rec.Bids, func(i, j int) bool {
		return rec.Bids[i].Rate.LessThan(rec.Bids[j].Rate)
	})
	sort.Slice(rec.Asks, func(i, j int) bool {
		return rec.Asks[i].Rate.GreaterThan(rec.Asks[j].Rate)
	})

	d.queues.OrderBooks.Push(rec)
}

type wireTrade struct {
	Rate      decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
	TradeTime int64           `json:"d"`
	Side      looseBool       `json:"s"`
}

func (d *Dispatcher) onRecentTrades(conn string, env *envelope) {
	var trades []wireTrade
	if err := json.Unmarshal(env.Payload, &trades); err != nil {
		d.logger.Error("recentTrades payload decode failed",
			"conn", conn, "error", err, "payload", string(env.Payload))
		d.decodeError(env.Channel)
		return
	}

	instrument := env.instrument()
	class := schema.RateClassFor(instrument)
	for _, t := range trades {
		d.queues.PublicTrades.Push(schema.PublicTrade{
			InstrumentID: instrument,
			RateClass:    class,
			TradeTime:    msToTime(t.TradeTime),
			Rate:         t.Rate,
			Quantity:     t.Quantity,
			Side:         schema.SideFromBool(bool(t.Side)),
		})
	}
}

type wireUserTrade struct {
	InstrumentID string          `json:"I"`
	TradeID      int64           `json:"t"`
	OrderID      int64           `json:"o"`
	AccountID    int64           `json:"w"`
	Rate         decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"d"`
	Side         looseBool       `json:"s"`
}

func (d *Dispatcher) onUserTrade(conn string, env *envelope) {
	var t wireUserTrade
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		d.logger.Error("userTrade payload decode failed",
			"conn", conn, "error", err, "payload", string(env.Payload))
		d.decodeError(env.Channel)
		return
	}

	instrument := t.InstrumentID
	if instrument == "" {
		instrument = env.Symbol
	}
	d.queues.UserTrades.Push(schema.UserTrade{
		InstrumentID: instrument,
		TradeID:      t.TradeID,
		OrderID:      t.OrderID,
		AccountID:    t.AccountID,
		Side:         schema.SideFromBool(bool(t.Side)),
		Rate:         t.Rate,
		Quantity:     t.Quantity,
		TradeTime:    msToTime(t.TradeTime),
	})
}

type wireUserOrder struct {
	InstrumentID   string          `json:"I"`
	MarketID       int64           `json:"m"`
	Rate           decimal.Decimal `json:"p"`
	Quantity       decimal.Decimal `json:"q"`
	FilledQuantity decimal.Decimal `json:"a"`
	CreateTime     int64           `json:"d"`
	AccountID      int64           `json:"w"`
	Side           looseBool       `json:"s"`
	ClientOrderID  string          `json:"i"`
	OrderID        int64           `json:"o"`
	OrderType      int             `json:"O"`
	MarketType     int             `json:"M"`
	Status         int             `json:"S"`
	UpdateTime     *int64          `json:"u"`
}

func (d *Dispatcher) onUserOrder(conn string, env *envelope) {
	var o wireUserOrder
	if err := json.Unmarshal(env.Payload, &o); err != nil {
		d.logger.Error("userOrder payload decode failed",
			"conn", conn, "error", err, "payload", string(env.Payload))
		d.decodeError(env.Channel)
		return
	}

	instrument := o.InstrumentID
	if instrument == "" {
		instrument = env.Symbol
	}
	rec := schema.UserOrder{
		OrderID:        o.OrderID,
		ClientOrderID:  o.ClientOrderID,
		OrderType:      schema.OrderTypeFromCode(o.OrderType),
		AccountID:      o.AccountID,
		InstrumentID:   instrument,
		MarketType:     schema.RateClassFromCode(o.MarketType),
		Rate:           o.Rate,
		Quantity:       o.Quantity,
		Side:           schema.SideFromBool(bool(o.Side)),
		FilledQuantity: o.FilledQuantity,
		CreateTime:     msToTime(o.CreateTime),
		Status:         schema.OrderStatusFromCode(o.Status),
	}
	if o.UpdateTime != nil {
		rec.UpdateTime = msToTime(*o.UpdateTime)
	}

	d.queues.UserOrders.Push(rec)
}

func (d *Dispatcher) frame(channel string) {
	if d.OnFrame != nil {
		d.OnFrame(channel)
	}
}

func (d *Dispatcher) decodeError(channel string) {
	if d.OnDecodeError != nil {
		d.OnDecodeError(channel)
	}
}

func toLevels(in []wireLevel) []schema.BookLevel {
	out := make([]schema.BookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, schema.BookLevel{Rate: l.Rate, Quantity: l.Quantity})
	}
	return out
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// looseBool tolerates the venue's mixed side encoding: JSON booleans on
// private channels, the strings "True"/"False" on recentTrades.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("true")):
		*b = true
	case bytes.Equal(data, []byte("false")), bytes.Equal(data, []byte("null")):
		*b = false
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = looseBool(strings.EqualFold(s, "true"))
	}
	return nil
}

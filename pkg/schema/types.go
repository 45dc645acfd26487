package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Channel identifies one of the venue's subscribable stream families.
type Channel string

const (
	ChannelOrderBook    Channel = "orderBook"
	ChannelUserTrade    Channel = "userTrade"
	ChannelUserOrder    Channel = "userOrder"
	ChannelRecentTrades Channel = "recentTrades"
)

// IsPrivate reports whether the channel is account-scoped and therefore only
// valid on the authenticated connection.
func (c Channel) IsPrivate() bool {
	return c == ChannelUserTrade || c == ChannelUserOrder
}

// Side is the direction of a trade or order. The venue encodes it as a
// boolean: true borrows, false lends.
type Side string

const (
	SideBorrow Side = "borrow"
	SideLend   Side = "lend"
)

// SideFromBool converts the venue's wire encoding.
func SideFromBool(borrow bool) Side {
	if borrow {
		return SideBorrow
	}
	return SideLend
}

// RateClass distinguishes floating-rate (spot) instruments from fixed-rate
// (dated) instruments.
type RateClass string

const (
	RateFloating RateClass = "floating"
	RateFixed    RateClass = "fixed"
)

// OrderType is the venue's order kind. Wire code 2 is limit, everything else
// is treated as market.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderTypeFromCode converts the venue's numeric order-type code.
func OrderTypeFromCode(code int) OrderType {
	if code == 2 {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

// RateClassFromCode converts the venue's numeric market-type code.
// 1 is floating, everything else fixed.
func RateClassFromCode(code int) RateClass {
	if code == 1 {
		return RateFloating
	}
	return RateFixed
}

// OrderStatus is a human-readable order state.
type OrderStatus string

const (
	OrderReceived        OrderStatus = "received"
	OrderSuspended       OrderStatus = "suspended"
	OrderOnBook          OrderStatus = "onBook"
	OrderPartiallyFilled OrderStatus = "partiallyFilled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
)

// orderStatusCodes is the venue's fixed status-code table.
var orderStatusCodes = map[int]OrderStatus{
	1:  OrderReceived,
	2:  OrderSuspended,
	10: OrderOnBook,
	20: OrderPartiallyFilled,
	30: OrderFilled,
	40: OrderCancelled,
	50: OrderRejected,
	60: OrderExpired,
}

// OrderStatusFromCode maps a wire status code to its name. Unknown codes are
// preserved rather than dropped so downstream consumers can still log them.
func OrderStatusFromCode(code int) OrderStatus {
	if s, ok := orderStatusCodes[code]; ok {
		return s
	}
	return OrderStatus(fmt.Sprintf("unknown(%d)", code))
}

// PublicTrade is one decoded entry from a recentTrades frame.
type PublicTrade struct {
	InstrumentID string
	RateClass    RateClass
	TradeTime    time.Time
	Rate         decimal.Decimal
	Quantity     decimal.Decimal
	Side         Side
}

// BookLevel is a single rate level in an order book.
type BookLevel struct {
	Rate     decimal.Decimal
	Quantity decimal.Decimal
}

// OrderBook is a decoded order book frame.
//
// Bids are sorted ascending by rate and asks descending, matching the venue's
// reference decode. Consumers wanting best-first iterate bids from the end
// and asks from the end as well (lowest ask last).
type OrderBook struct {
	InstrumentID string
	UpdateTime   time.Time
	Bids         []BookLevel // ascending by rate
	Asks         []BookLevel // descending by rate
}

// UserTrade is a decoded fill on the authenticated connection.
type UserTrade struct {
	InstrumentID string
	TradeID      int64
	OrderID      int64
	AccountID    int64
	Side         Side
	Rate         decimal.Decimal
	Quantity     decimal.Decimal
	TradeTime    time.Time
}

// UserOrder is a decoded order update on the authenticated connection.
type UserOrder struct {
	OrderID        int64
	ClientOrderID  string
	OrderType      OrderType
	AccountID      int64
	InstrumentID   string
	MarketType     RateClass
	Rate           decimal.Decimal
	Quantity       decimal.Decimal
	Side           Side
	FilledQuantity decimal.Decimal
	CreateTime     time.Time
	Status         OrderStatus
	UpdateTime     time.Time // zero when the venue sent no update timestamp
}

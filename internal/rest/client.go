// Package rest is a thin client for the venue's HTTP API. It covers the
// read-only endpoints the recorder needs at startup: instrument discovery
// and order book snapshots.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/infinity-exchange/infinity-go/pkg/schema"
)

const (
	pathLogin     = "/api/v1/login"
	pathMarkets   = "/api/v1/markets"
	pathOrderBook = "/api/v1/orderbook"
)

// Client wraps a resty HTTP client bound to one base URL.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient builds a REST client. timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := resty.New().SetBaseURL(baseURL).SetTimeout(timeout)
	return &Client{http: c, logger: logger}
}

// Instrument describes one tradable market.
type Instrument struct {
	InstrumentID string          `json:"instrumentId"`
	MarketID     int64           `json:"marketId"`
	Token        string          `json:"token"`
	MaturityDate string          `json:"maturityDate"`
	MinQuantity  decimal.Decimal `json:"minQuantity"`
}

// RateClass classifies the instrument by its id, same rule as topics.
func (i Instrument) RateClass() schema.RateClass {
	return schema.RateClassFor(i.InstrumentID)
}

type marketsResponse struct {
	Success bool         `json:"success"`
	Data    []Instrument `json:"data"`
}

// GetInstruments lists all tradable instruments.
func (c *Client) GetInstruments(ctx context.Context) ([]Instrument, error) {
	var out marketsResponse
	r, err := c.http.R().SetContext(ctx).SetResult(&out).Get(pathMarkets)
	if err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("get markets: %s", r.Status())
	}
	if !out.Success {
		return nil, fmt.Errorf("get markets: venue reported failure")
	}

	c.logger.Debug("fetched instruments", "count", len(out.Data))
	return out.Data, nil
}

type bookResponse struct {
	Success bool `json:"success"`
	Data    struct {
		InstrumentID string      `json:"instrumentId"`
		UpdateTime   int64       `json:"updateTime"`
		Bids         []bookEntry `json:"bids"`
		Asks         []bookEntry `json:"asks"`
	} `json:"data"`
}

type bookEntry struct {
	Rate     decimal.Decimal `json:"p"`
	Quantity decimal.Decimal `json:"q"`
}

// GetOrderBook fetches a snapshot, normalized to the same level ordering as
// the stream decoder: bids ascending, asks descending.
func (c *Client) GetOrderBook(ctx context.Context, instrumentID string) (*schema.OrderBook, error) {
	var out bookResponse
	r, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetQueryParam("instrumentId", instrumentID).
		Get(pathOrderBook)
	if err != nil {
		return nil, fmt.Errorf("get orderbook %s: %w", instrumentID, err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("get orderbook %s: %s", instrumentID, r.Status())
	}
	if !out.Success {
		return nil, fmt.Errorf("get orderbook %s: venue reported failure", instrumentID)
	}

	book := &schema.OrderBook{
		InstrumentID: out.Data.InstrumentID,
		UpdateTime:   time.UnixMilli(out.Data.UpdateTime).UTC(),
		Bids:         toLevels(out.Data.Bids),
		Asks:         toLevels(out.Data.Asks),
	}
	sort.Slice(book.Bids, func(i, j int) bool {
		return book.Bids[i].Rate.LessThan(book.Bids[j].Rate)
	})
	sort.Slice(book.Asks, func(i, j int) bool {
		return book.Asks[i].Rate.GreaterThan(book.Asks[j].Rate)
	})
	return book, nil
}

func toLevels(in []bookEntry) []schema.BookLevel {
	out := make([]schema.BookLevel, 0, len(in))
	for _, e := range in {
		out = append(out, schema.BookLevel{Rate: e.Rate, Quantity: e.Quantity})
	}
	return out
}

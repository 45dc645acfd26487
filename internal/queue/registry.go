package queue

import (
	"github.com/infinity-exchange/infinity-go/pkg/schema"
)

// Registry holds one queue per channel family. Each queue is single-producer
// (the owning connection's event loop) and single-consumer (the caller
// draining records).
type Registry struct {
	OrderBooks   *Queue[schema.OrderBook]
	PublicTrades *Queue[schema.PublicTrade]
	UserTrades   *Queue[schema.UserTrade]
	UserOrders   *Queue[schema.UserOrder]
}

// NewRegistry creates the four channel queues with a shared initial capacity.
func NewRegistry(initialCapacity int) *Registry {
	return &Registry{
		OrderBooks:   New[schema.OrderBook](initialCapacity),
		PublicTrades: New[schema.PublicTrade](initialCapacity),
		UserTrades:   New[schema.UserTrade](initialCapacity),
		UserOrders:   New[schema.UserOrder](initialCapacity),
	}
}

// Close closes all queues.
func (r *Registry) Close() {
	r.OrderBooks.Close()
	r.PublicTrades.Close()
	r.UserTrades.Close()
	r.UserOrders.Close()
}

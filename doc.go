// Package infinity is a client for the Infinity Exchange websocket and REST
// APIs.
//
// The websocket client maintains two logical connections: a public one for
// market data (order books, recent trades) and a private, login-gated one
// for account data (user trades, user orders). Both reconnect automatically
// on unexpected closure within a configurable retry budget, tear down and
// rebuild themselves on a fixed schedule to stay ahead of the venue's
// session-age limit, and replay their acknowledged subscriptions after every
// reconnect. Decoded records are buffered in per-channel FIFO queues that
// the caller drains at its own pace.
package infinity

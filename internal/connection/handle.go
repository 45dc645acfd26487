package connection

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handle is the mutable per-connection state. One Handle exists per Key for
// the lifetime of the manager; it is reset in place on every (re)connect.
// The connection id and transport are replaced each cycle, the subscribed
// topic set survives so it can be replayed.
type Handle struct {
	key Key

	mu        sync.Mutex
	id        uuid.UUID
	transport Transport
	open      bool
	openC     chan struct{} // closed when the connection reports open
	topics    []string      // server-acknowledged topic set, in ack order
	requestID int64         // next outbound control message id

	// reconnectInFlight guards against concurrent reconnect attempts. A
	// flag rather than a mutex so shutdown can clear it unconditionally
	// without having to own it.
	reconnectInFlight atomic.Bool
	reconnectAttempts int
	lastReconnectAt   time.Time

	forcedTimer *time.Ticker  // forced-reconnect schedule, nil until first open
	forcedStop  chan struct{} // stops the forced-reconnect goroutine
}

func newHandle(key Key) *Handle {
	return &Handle{
		key:   key,
		openC: make(chan struct{}),
	}
}

// Key returns the connection key.
func (h *Handle) Key() Key { return h.key }

// ID returns the current connection id.
func (h *Handle) ID() uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// IsOpen reports whether the connection is usable: transport open and, for
// the private connection, login confirmed.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// Topics returns a copy of the server-acknowledged topic set.
func (h *Handle) Topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.topics))
	copy(out, h.topics)
	return out
}

// setTopics overwrites the topic set with the server-confirmed list.
func (h *Handle) setTopics(topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.topics = append(h.topics[:0], topics...)
}

// reset installs a fresh connection id and transport for a new connect
// cycle and rearms the open signal. Returns the previous transport, if any.
func (h *Handle) reset(id uuid.UUID, t Transport) (old Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	old = h.transport
	h.id = id
	h.transport = t
	h.open = false
	h.openC = make(chan struct{})
	return old
}

// markOpen flips the handle open and releases waiters. A stale connection id
// (from a transport already replaced by a reconnect) is ignored.
func (h *Handle) markOpen(id uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.id != id || h.open {
		return false
	}
	h.open = true
	close(h.openC)
	return true
}

// markClosed clears the open flag.
func (h *Handle) markClosed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = false
}

// openSignal returns the channel closed when the current connect cycle
// reports open.
func (h *Handle) openSignal() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openC
}

// currentTransport returns the active transport, or nil before first connect.
func (h *Handle) currentTransport() Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport
}

// nextRequestID returns the id to stamp on the next outbound message and
// advances the counter.
func (h *Handle) nextRequestID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.requestID
	h.requestID++
	return id
}

// attempts returns the current reconnect attempt counter.
func (h *Handle) attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reconnectAttempts
}

func (h *Handle) bumpAttempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnectAttempts++
	return h.reconnectAttempts
}

func (h *Handle) resetAttempts() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reconnectAttempts = 0
}

// LastReconnectAt returns the completion time of the last reconnect.
func (h *Handle) LastReconnectAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReconnectAt
}

func (h *Handle) setLastReconnectAt(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastReconnectAt = t
}

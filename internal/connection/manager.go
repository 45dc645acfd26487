package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DispatchFunc consumes one inbound frame. Invoked from the owning
// connection's event loop, so calls for one key are strictly sequential.
type DispatchFunc func(key Key, data []byte, receivedAt time.Time)

// Manager owns the two logical connections and drives the lifecycle state
// machine: connect, open confirmation (login echo for private), scheduled
// and failure-triggered reconnection, resubscription replay, shutdown.
type Manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	factory Factory
	login   LoginClient // nil disables the private connection

	dispatch DispatchFunc

	// OnReconnect, when set before Connect, observes every triggered
	// reconnect attempt (metrics hook).
	OnReconnect func(key Key)

	// OnState, when set before Connect, observes every open/closed
	// transition, including unexpected closes and budget-exhausted
	// dead ends.
	OnState func(key Key, open bool)

	handles map[Key]*Handle

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a manager for the two connection keys. login may be nil
// when only public data is needed; factory defaults to the gorilla transport.
func NewManager(cfg ManagerConfig, login LoginClient, factory Factory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = NewClient
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		factory: factory,
		login:   login,
		handles: map[Key]*Handle{
			Public:  newHandle(Public),
			Private: newHandle(Private),
		},
		done: make(chan struct{}),
	}
}

// SetDispatch installs the inbound frame consumer. Must be called before
// Connect.
func (m *Manager) SetDispatch(fn DispatchFunc) {
	m.dispatch = fn
}

// Handle returns the state holder for a key.
func (m *Manager) Handle(key Key) *Handle {
	return m.handles[key]
}

// IsOpen reports whether the connection for key is usable.
func (m *Manager) IsOpen(key Key) bool {
	return m.handles[key].IsOpen()
}

// Connect starts a fresh connect cycle for key. It does not wait for the
// open confirmation; use WaitOpen.
func (m *Manager) Connect(key Key) error {
	if key == Private && m.login == nil {
		return ErrLoginRequired
	}
	return m.startCycle(key)
}

// WaitOpen blocks until the connection for key reports open (for private,
// until the login echo is observed), the context ends, or the manager shuts
// down.
func (m *Manager) WaitOpen(ctx context.Context, key Key) error {
	h := m.handles[key]
	select {
	case <-h.openSignal():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrAlreadyClosed
	}
}

// Send stamps the next request id onto an outbound control message and
// writes it as a text frame. A missing transport is logged and reported,
// never fatal.
func (m *Manager) Send(key Key, method string, params any) error {
	h := m.handles[key]
	tr := h.currentTransport()
	if tr == nil {
		m.logger.Warn("send before connect dropped", "conn", key, "method", method)
		return ErrNotConnected
	}

	req := Request{
		Method: method,
		Params: params,
		ID:     h.nextRequestID(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	m.logger.Debug("sending control message", "conn", key, "method", method, "id", req.ID)
	return tr.Send(data)
}

// Shutdown cancels both forced-reconnect timers, clears any in-flight
// reconnect guard, resets the retry counters and closes both transports.
// Safe to call mid-reconnect and more than once.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		m.logger.Debug("disconnecting websocket connections")
		close(m.done)

		for key, h := range m.handles {
			m.stopForcedTimer(h)
			h.reconnectInFlight.Store(false)
			h.resetAttempts()
			h.markClosed()
			m.notifyState(key, false)

			if tr := h.currentTransport(); tr != nil {
				m.logger.Info("closing websocket connection", "conn", key, "conn_id", h.ID())
				tr.Close()
			}
		}

		m.wg.Wait()
	})
}

// startCycle generates a new connection id, builds a transport bound to it
// and starts the event loop. Any previous transport is closed first.
func (m *Manager) startCycle(key Key) error {
	h := m.handles[key]

	id := uuid.New()
	log := m.logger.With("conn", key, "conn_id", id)

	tr := m.factory(m.cfg.clientConfig(), log)
	if old := h.reset(id, tr); old != nil {
		log.Info("expired websocket connection will be renewed")
		old.Close()
	}

	if err := tr.Connect(); err != nil {
		return fmt.Errorf("connect %s websocket: %w", key, err)
	}

	m.wg.Add(1)
	go m.eventLoop(key, h, id, tr, log)
	return nil
}

// eventLoop consumes the transport's ordered event stream for one connect
// cycle. It exits when the stream ends or the manager shuts down.
func (m *Manager) eventLoop(key Key, h *Handle, id uuid.UUID, tr Transport, log *slog.Logger) {
	defer m.wg.Done()

	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-tr.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case EventOpen:
				m.handleOpen(key, h, id, log)
			case EventMessage:
				if m.dispatch != nil {
					m.dispatch(key, ev.Data, ev.ReceivedAt)
				}
			case EventClose:
				tr.Close()
				m.handleClose(key, h, id, ev.Code, log)
			case EventError:
				tr.Close()
				m.handleError(key, h, id, ev.Err, log)
			case EventPing:
				log.Debug("got ping, reply sent")
			case EventPong:
				log.Debug("got pong, no reply needed")
			}
		}
	}
}

// handleOpen runs the Connecting -> Open transition. The public connection
// is open immediately; the private one first sends the login message and
// waits for the dispatcher to observe the echo.
func (m *Manager) handleOpen(key Key, h *Handle, id uuid.UUID, log *slog.Logger) {
	log.Debug("websocket connection opened")

	if key == Private {
		if err := m.Send(Private, MethodLogin, LoginParams{AccessToken: m.login.AccessToken()}); err != nil {
			log.Error("private websocket login send failed", "error", err)
		}
		return
	}

	if h.markOpen(id) {
		m.restartForcedTimer(key, h)
		m.notifyState(key, true)
	}
}

// ConfirmLogin is called by the dispatcher when an inbound frame echoes an
// account identity. A match on the private connection marks it open and
// starts its forced-reconnect schedule.
func (m *Manager) ConfirmLogin(key Key, address string) {
	if key != Private || m.login == nil {
		return
	}
	if !strings.EqualFold(address, m.login.AccountAddress()) {
		return
	}

	h := m.handles[Private]
	if h.markOpen(h.ID()) {
		m.restartForcedTimer(Private, h)
		m.notifyState(Private, true)
		m.logger.Info("private websocket logged in", "conn_id", h.ID())
	}
}

func (m *Manager) notifyState(key Key, open bool) {
	if m.OnState != nil {
		m.OnState(key, open)
	}
}

// handleClose branches on the close code: the venue's session-end code and
// a normal closure go quietly to Closed, anything else enters the
// unexpected-closure reconnection path.
func (m *Manager) handleClose(key Key, h *Handle, id uuid.UUID, code int, log *slog.Logger) {
	if h.ID() != id {
		log.Debug("stale websocket connection closed", "code", code)
		return
	}
	h.markClosed()
	m.notifyState(key, false)

	switch {
	case code == CloseSessionEnd:
		log.Info("websocket connection closed by venue session end", "code", code)
	case code == websocket.CloseNormalClosure || code == 0:
		log.Info("websocket connection normally closed", "code", code)
	default:
		log.Warn("websocket connection unexpectedly closed", "code", code)
		m.reconnectOnUnexpected(key, h, log)
	}
}

// handleError treats every terminal transport error as an unexpected
// closure: by the time the transport reports one, the connection is gone.
func (m *Manager) handleError(key Key, h *Handle, id uuid.UUID, err error, log *slog.Logger) {
	if h.ID() != id {
		log.Debug("stale websocket connection error", "error", err)
		return
	}
	h.markClosed()
	m.notifyState(key, false)

	if h.reconnectInFlight.Load() {
		log.Debug("connection error during reconnect, ignored", "error", err)
		return
	}

	log.Warn("websocket connection error, triggering reconnection", "error", err)
	m.reconnectOnUnexpected(key, h, log)
}

// reconnectOnUnexpected enters the reconnection path for an unexpected
// closure or terminal transport error. The Load is a fast path only; all
// bookkeeping lives behind reconnect's guard.
func (m *Manager) reconnectOnUnexpected(key Key, h *Handle, log *slog.Logger) {
	if h.reconnectInFlight.Load() {
		log.Debug("websocket is reconnecting, ignore duplicate reconnection")
		return
	}
	m.reconnect(key, false)
}

// reconnect runs one guarded reconnect cycle: acquire the in-flight flag,
// apply the retry budget, start a fresh connect cycle, wait for open and
// replay the acknowledged topic set as a single bulk SUBSCRIBE. The budget
// check and attempt counter live inside the guard so a trigger that loses
// the race consumes no budget. force skips the budget entirely (the
// forced-reconnect timer is unbudgeted); a zero budget disables
// auto-reconnection via the general attempts >= budget check, no special
// path.
func (m *Manager) reconnect(key Key, force bool) bool {
	h := m.handles[key]
	log := m.logger.With("conn", key)

	if !h.reconnectInFlight.CompareAndSwap(false, true) {
		log.Debug("websocket is reconnecting, ignore duplicate reconnection")
		return false
	}
	defer h.reconnectInFlight.Store(false)

	if !force {
		attempts := h.attempts()
		if attempts >= m.cfg.AutoReconnectRetries {
			if m.cfg.AutoReconnectRetries == 0 {
				log.Info("auto-reconnection is disabled")
			} else {
				log.Warn("reconnect budget exhausted, connection left closed",
					"attempts", attempts,
					"budget", m.cfg.AutoReconnectRetries,
				)
			}
			return false
		}
		log.Info("reconnecting websocket", "previous_attempts", attempts)
		h.bumpAttempts()
	}

	if m.OnReconnect != nil {
		m.OnReconnect(key)
	}

	if err := m.startCycle(key); err != nil {
		log.Error("reconnect failed", "error", err, "forced", force)
		return false
	}

	if err := m.waitOpenTimeout(h, m.cfg.OpenTimeout); err != nil {
		log.Error("reconnected websocket never reported open", "error", err, "forced", force)
		return false
	}

	m.Replay(key)
	h.setLastReconnectAt(time.Now())
	if !force {
		h.resetAttempts()
	}
	return true
}

// waitOpenTimeout blocks until the current cycle reports open, bounded by d
// (unbounded when d <= 0) and by manager shutdown.
func (m *Manager) waitOpenTimeout(h *Handle, d time.Duration) error {
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-h.openSignal():
		return nil
	case <-timeout:
		return ErrOpenTimeout
	case <-m.done:
		return ErrAlreadyClosed
	}
}

// restartForcedTimer (re)starts the scheduled reconnection for a key. Every
// successful open rearms it so session age is measured from the newest
// connection.
func (m *Manager) restartForcedTimer(key Key, h *Handle) {
	m.stopForcedTimer(h)
	if m.cfg.ReconnectInterval <= 0 {
		return
	}

	h.mu.Lock()
	h.forcedTimer = time.NewTicker(m.cfg.ReconnectInterval)
	h.forcedStop = make(chan struct{})
	ticker, stop := h.forcedTimer, h.forcedStop
	h.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.logger.Info("forced reconnect interval elapsed", "conn", key)
				m.reconnect(key, true)
			}
		}
	}()
}

// stopForcedTimer cancels the scheduled reconnection, if armed.
func (m *Manager) stopForcedTimer(h *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.forcedTimer != nil {
		h.forcedTimer.Stop()
		close(h.forcedStop)
		h.forcedTimer = nil
		h.forcedStop = nil
	}
}

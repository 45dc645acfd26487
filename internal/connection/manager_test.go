package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport is an in-memory Transport driven by the test.
type fakeTransport struct {
	mu         sync.Mutex
	events     chan Event
	sent       [][]byte
	connectErr error
	closed     bool
	closeOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 32)}
}

func (f *fakeTransport) Connect() error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.events <- Event{Type: EventOpen}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrNotConnected
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) sentMessages() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, 0, len(f.sent))
	for _, data := range f.sent {
		var req Request
		if err := json.Unmarshal(data, &req); err == nil {
			out = append(out, req)
		}
	}
	return out
}

// end simulates the server ending the connection with a close code.
func (f *fakeTransport) end(code int) {
	f.events <- Event{Type: EventClose, Code: code}
	f.closeOnce.Do(func() { close(f.events) })
}

// fail simulates a terminal transport error.
func (f *fakeTransport) fail(err error) {
	f.events <- Event{Type: EventError, Err: err}
	f.closeOnce.Do(func() { close(f.events) })
}

// fakeFactory hands out fresh fake transports and records them.
type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	connectErr error // applied to transports created after the first
}

func (ff *fakeFactory) new(cfg ClientConfig, logger *slog.Logger) Transport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	t := newFakeTransport()
	if len(ff.transports) > 0 {
		t.connectErr = ff.connectErr
	}
	ff.transports = append(ff.transports, t)
	return t
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.transports)
}

func (ff *fakeFactory) transport(i int) *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if i >= len(ff.transports) {
		return nil
	}
	return ff.transports[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// decodeTopicParams asserts the request params are a bare array of topic
// strings, the shape the venue accepts.
func decodeTopicParams(t *testing.T, req Request) []string {
	t.Helper()
	raw, err := json.Marshal(req.Params)
	if err != nil {
		t.Fatalf("params marshal: %v", err)
	}
	var topics []string
	if err := json.Unmarshal(raw, &topics); err != nil {
		t.Fatalf("params are not a topic array: %v", err)
	}
	return topics
}

func testConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = "ws://test.invalid/ws"
	cfg.AutoReconnectRetries = 3
	cfg.OpenTimeout = time.Second
	return cfg
}

type fakeLogin struct {
	token   string
	address string
}

func (l fakeLogin) IsLoginSuccess() bool   { return l.token != "" }
func (l fakeLogin) AccessToken() string    { return l.token }
func (l fakeLogin) AccountAddress() string { return l.address }

func TestManagerConnectAndSubscribe(t *testing.T) {
	ff := &fakeFactory{}
	m := NewManager(testConfig(), nil, ff.new, testLogger())
	defer m.Shutdown()

	if err := m.Connect(Public); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.WaitOpen(ctx, Public); err != nil {
		t.Fatalf("WaitOpen: %v", err)
	}
	if !m.IsOpen(Public) {
		t.Error("IsOpen = false after open")
	}

	if err := m.Subscribe(Public, "ETH-SPOT@orderBook"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	tr := ff.transport(0)
	waitFor(t, "subscribe message", func() bool { return len(tr.sentMessages()) == 1 })

	msgs := tr.sentMessages()
	if msgs[0].Method != MethodSubscribe {
		t.Errorf("method = %q, want SUBSCRIBE", msgs[0].Method)
	}
	if msgs[0].ID != 0 {
		t.Errorf("first request id = %d, want 0", msgs[0].ID)
	}
	// params must be a bare array of topic strings
	if got := decodeTopicParams(t, msgs[0]); len(got) != 1 || got[0] != "ETH-SPOT@orderBook" {
		t.Errorf("params = %v, want [ETH-SPOT@orderBook]", got)
	}

	// Ids increment per connection
	if err := m.RequestSubscriptions(Public); err != nil {
		t.Fatalf("RequestSubscriptions: %v", err)
	}
	waitFor(t, "second message", func() bool { return len(tr.sentMessages()) == 2 })
	if got := tr.sentMessages()[1].ID; got != 1 {
		t.Errorf("second request id = %d, want 1", got)
	}
}

func TestManagerReplaysAckedTopicsAfterUnexpectedClose(t *testing.T) {
	ff := &fakeFactory{}
	m := NewManager(testConfig(), nil, ff.new, testLogger())
	defer m.Shutdown()

	if err := m.Connect(Public); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.WaitOpen(ctx, Public); err != nil {
		t.Fatalf("WaitOpen: %v", err)
	}

	// Server acknowledged these topics
	m.RecordAck(Public, []string{"ETH-SPOT@orderBook", "USDT-SPOT@recentTrades"})

	// Abnormal closure
	ff.transport(0).end(1006)

	waitFor(t, "replacement transport", func() bool { return ff.count() == 2 })
	tr := ff.transport(1)
	waitFor(t, "replayed subscription", func() bool { return len(tr.sentMessages()) == 1 })

	msgs := tr.sentMessages()
	if msgs[0].Method != MethodSubscribe {
		t.Fatalf("method = %q, want SUBSCRIBE", msgs[0].Method)
	}
	topics := decodeTopicParams(t, msgs[0])
	if len(topics) != 2 ||
		topics[0] != "ETH-SPOT@orderBook" ||
		topics[1] != "USDT-SPOT@recentTrades" {
		t.Errorf("replayed topics = %v", topics)
	}

	waitFor(t, "reopen", func() bool { return m.IsOpen(Public) })
	if got := m.Handle(Public).attempts(); got != 0 {
		t.Errorf("attempts after successful reconnect = %d, want 0", got)
	}
}

func TestManagerNoReplayWithoutSubscriptions(t *testing.T) {
	ff := &fakeFactory{}
	m := NewManager(testConfig(), nil, ff.new, testLogger())
	defer m.Shutdown()

	m.Connect(Public)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.WaitOpen(ctx, Public)

	ff.transport(0).fail(errors.New("read: connection reset"))

	waitFor(t, "replacement transport", func() bool { return ff.count() == 2 })
	waitFor(t, "reopen", func() bool { return m.IsOpen(Public) })

	if got := len(ff.transport(1).sentMessages()); got != 0 {
		t.Errorf("sent %d messages on reconnect, want 0 with no acked topics", got)
	}
}

func TestManagerSessionEndClose(t *testing.T) {
	ff := &fakeFactory{}
	m := NewManager(testConfig(), nil, ff.new, testLogger())
	defer m.Shutdown()

	m.Connect(Public)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.WaitOpen(ctx, Public)

	// The venue's intentional session end must not trigger reconnection.
	ff.transport(0).end(CloseSessionEnd)

	time.Sleep(50 * time.Millisecond)
	if ff.count() != 1 {
		t.Errorf("transports = %d, want 1 (no reconnect on close 4000)", ff.count())
	}
	if m.IsOpen(Public) {
		t.Error("IsOpen = true after session end")
	}
}

func TestManagerNormalClose(t *testing.T) {
	ff := &fakeFactory{}
	m := NewManager(testConfig(), nil, ff.new, testLogger())
	defer m.Shutdown()

	m.Connect(Public)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.WaitOpen(ctx, Public)

	ff.transport(0).end(1000)

	time.Sleep(50 * time.Millisecond)
	if ff.count() != 1 {
		t.Errorf("transports = %d, want 1 (no reconnect on normal close)", ff.count())
	}
}

func TestManagerRetryBudgetExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnectRetries = 2
	ff := &fakeFactory{connectErr: errors.New("dial tcp: connection refused")}
	m := NewManager(cfg, nil, ff.new, testLogger())
	defer m.Shutdown()

	m.Connect(Public)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.WaitOpen(ctx, Public)

	h := m.Handle(Public)
	log := testLogger()

	// Every reconnect fails at dial time; each trigger consumes budget.
	m.reconnectOnUnexpected(Public, h, log)
	if got := h.attempts(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
	m.reconnectOnUnexpected(Public, h, log)
	if got := h.attempts(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}

	// Budget exhausted: no further transports are created.
	before := ff.count()
	m.reconnectOnUnexpected(Public, h, log)
	if ff.count() != before {
		t.Errorf("transports = %d, want %d (budget exhausted)", ff.count(), before)
	}
}

func TestManagerRetryBudgetZeroDisablesReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnectRetries = 0
	ff := &fakeFactory{}
	m := NewManager(cfg, nil, ff.new, testLogger())
	defer m.Shutdown()

	m.Connect(Public)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.WaitOpen(ctx, Public)

	ff.transport(0).end(1006)

	time.Sleep(50 * time.Millisecond)
	if ff.count() != 1 {
		t.Errorf("transports = %d, want 1 (auto-reconnect disabled)", ff.count())
	}
}

func TestManagerStateHookObservesTransitions(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnectRetries = 0
	ff := &fakeFactory{}
	m := NewManager(cfg, nil, ff.new, testLogger())
	defer m.Shutdown()

	var mu sync.Mutex
	var got []bool
	m.OnState = func(key Key, open bool) {
		if key != Public {
			t.Errorf("OnState key = %q, want public", key)
		}
		mu.Lock()
		got = append(got, open)
		mu.Unlock()
	}

	m.Connect(Public)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.WaitOpen(ctx, Public)

	snapshot := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		return append([]bool(nil), got...)
	}
	waitFor(t, "open transition", func() bool { return len(snapshot()) == 1 })
	if s := snapshot(); !s[0] {
		t.Errorf("first transition = %v, want open", s[0])
	}

	// The closed transition fires even when no reconnect follows.
	ff.transport(0).end(1006)
	waitFor(t, "closed transition", func() bool { return len(snapshot()) == 2 })
	if s := snapshot(); s[1] {
		t.Errorf("second transition = %v, want closed", s[1])
	}
}

func TestManagerDuplicateReconnectIgnored(t *testing.T) {
	ff := &fakeFactory{}
	m := NewManager(testConfig(), nil, ff.new, testLogger())
	defer m.Shutdown()

	m.Connect(Public)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.WaitOpen(ctx, Public)

	h := m.Handle(Public)

	// A reconnect is already in flight; a second trigger must be a no-op.
	h.reconnectInFlight.Store(true)
	before := ff.count()
	m.reconnectOnUnexpected(Public, h, testLogger())
	if ff.count() != before {
		t.Errorf("transports = %d, want %d (duplicate trigger)", ff.count(), before)
	}
	if got := h.attempts(); got != 0 {
		t.Errorf("attempts = %d, want 0 (duplicate trigger must not consume budget)", got)
	}

	// Same holds for a trigger that read the flag as clear but loses the
	// swap: the bookkeeping sits behind the guard, so no budget is spent.
	if m.reconnect(Public, false) {
		t.Error("reconnect succeeded while another was in flight")
	}
	if ff.count() != before {
		t.Errorf("transports = %d, want %d (lost swap)", ff.count(), before)
	}
	if got := h.attempts(); got != 0 {
		t.Errorf("attempts = %d, want 0 (lost swap must not consume budget)", got)
	}
	h.reconnectInFlight.Store(false)
}

func TestManagerPrivateLoginFlow(t *testing.T) {
	ff := &fakeFactory{}
	login := fakeLogin{token: "tok-123", address: "0xABCDEF"}
	m := NewManager(testConfig(), login, ff.new, testLogger())
	defer m.Shutdown()

	if err := m.Connect(Private); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tr := ff.transport(0)
	waitFor(t, "login message", func() bool { return len(tr.sentMessages()) == 1 })

	msgs := tr.sentMessages()
	if msgs[0].Method != MethodLogin {
		t.Fatalf("method = %q, want LOGIN", msgs[0].Method)
	}
	raw, _ := json.Marshal(msgs[0].Params)
	var params LoginParams
	json.Unmarshal(raw, &params)
	if params.AccessToken != "tok-123" {
		t.Errorf("accessToken = %q, want tok-123", params.AccessToken)
	}

	// Not open until the venue echoes the account identity.
	if m.IsOpen(Private) {
		t.Error("IsOpen = true before login echo")
	}

	// A different account's echo is ignored.
	m.ConfirmLogin(Private, "0x999999")
	if m.IsOpen(Private) {
		t.Error("IsOpen = true after mismatched login echo")
	}

	// Match is case-insensitive.
	m.ConfirmLogin(Private, "0xabcdef")
	if !m.IsOpen(Private) {
		t.Error("IsOpen = false after login echo")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.WaitOpen(ctx, Private); err != nil {
		t.Errorf("WaitOpen after login: %v", err)
	}
}

func TestManagerPrivateRequiresLogin(t *testing.T) {
	ff := &fakeFactory{}
	m := NewManager(testConfig(), nil, ff.new, testLogger())
	defer m.Shutdown()

	if err := m.Connect(Private); !errors.Is(err, ErrLoginRequired) {
		t.Errorf("Connect(Private) error = %v, want ErrLoginRequired", err)
	}
}

func TestManagerForcedReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.ReconnectInterval = 30 * time.Millisecond
	cfg.AutoReconnectRetries = 0 // the schedule must not depend on the budget
	ff := &fakeFactory{}
	m := NewManager(cfg, nil, ff.new, testLogger())
	defer m.Shutdown()

	m.Connect(Public)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.WaitOpen(ctx, Public)

	m.RecordAck(Public, []string{"ETH-SPOT@orderBook"})

	waitFor(t, "scheduled reconnect", func() bool { return ff.count() >= 2 })
	waitFor(t, "reopen", func() bool { return m.IsOpen(Public) })

	// Old transport is torn down, subscriptions are replayed on the new one.
	waitFor(t, "old transport closed", func() bool {
		tr := ff.transport(0)
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return tr.closed
	})
	tr := ff.transport(1)
	waitFor(t, "replay on new transport", func() bool { return len(tr.sentMessages()) >= 1 })
	if got := tr.sentMessages()[0].Method; got != MethodSubscribe {
		t.Errorf("first message after forced reconnect = %q, want SUBSCRIBE", got)
	}
	if got := m.Handle(Public).LastReconnectAt(); got.IsZero() {
		t.Error("LastReconnectAt not set after forced reconnect")
	}
}

func TestManagerShutdownDuringWait(t *testing.T) {
	ff := &fakeFactory{}
	login := fakeLogin{token: "tok", address: "0xA"}
	m := NewManager(testConfig(), login, ff.new, testLogger())

	m.Connect(Private)

	errCh := make(chan error, 1)
	go func() {
		ctx := context.Background()
		errCh <- m.WaitOpen(ctx, Private)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Shutdown()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrAlreadyClosed) {
			t.Errorf("WaitOpen error = %v, want ErrAlreadyClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitOpen did not return on shutdown")
	}

	if m.Handle(Private).reconnectInFlight.Load() {
		t.Error("reconnectInFlight still set after shutdown")
	}
}

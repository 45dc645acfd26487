package infinity_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	infinity "github.com/infinity-exchange/infinity-go"
	"github.com/infinity-exchange/infinity-go/internal/rest"
	"github.com/infinity-exchange/infinity-go/pkg/schema"
)

// venueRequest mirrors the outbound control message shape. SUBSCRIBE and
// UNSUBSCRIBE carry a bare array of topic strings; LOGIN carries an object.
type venueRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     int64           `json:"id"`
}

func (r venueRequest) topics(t *testing.T) []string {
	t.Helper()
	var topics []string
	if err := json.Unmarshal(r.Params, &topics); err != nil {
		t.Errorf("%s params are not a topic array: %v", r.Method, err)
	}
	return topics
}

// mockVenue runs a websocket server that answers LOGIN with a login echo and
// SUBSCRIBE with a subscription acknowledgement, then calls onSubscribe so a
// test can push data frames.
func mockVenue(t *testing.T, address string, onSubscribe func(conn *websocket.Conn, topics []string)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var acked []string
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req venueRequest
			if err := json.Unmarshal(data, &req); err != nil {
				t.Errorf("bad request from client: %v", err)
				return
			}
			switch req.Method {
			case "LOGIN":
				conn.WriteMessage(websocket.TextMessage,
					[]byte(fmt.Sprintf(`{"data":{"user":{"address":%q}}}`, address)))
			case "SUBSCRIBE":
				topics := req.topics(t)
				acked = append(acked, topics...)
				ack, _ := json.Marshal(map[string]any{
					"data": map[string]any{"subscriptions": acked},
				})
				conn.WriteMessage(websocket.TextMessage, ack)
				if onSubscribe != nil {
					onSubscribe(conn, topics)
				}
			case "UNSUBSCRIBE":
				gone := req.topics(t)
				remaining := acked[:0]
				for _, topic := range acked {
					keep := true
					for _, g := range gone {
						if topic == g {
							keep = false
						}
					}
					if keep {
						remaining = append(remaining, topic)
					}
				}
				acked = remaining
				ack, _ := json.Marshal(map[string]any{
					"data": map[string]any{"subscriptions": acked},
				})
				conn.WriteMessage(websocket.TextMessage, ack)
			}
		}
	}))
}

func venueURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientPublicStream(t *testing.T) {
	server := mockVenue(t, "", func(conn *websocket.Conn, topics []string) {
		for _, topic := range topics {
			if strings.HasSuffix(topic, "@recentTrades") {
				conn.WriteMessage(websocket.TextMessage, []byte(
					`{"e":"recentTrades","E":1700000000000,"s":"ETH-SPOT",`+
						`"P":[{"p":"0.05","q":"10","d":1700000000000,"s":true}]}`))
			}
			if strings.HasSuffix(topic, "@orderBook") {
				conn.WriteMessage(websocket.TextMessage, []byte(
					`{"e":"orderBook","E":1700000001000,"s":"ETH-SPOT",`+
						`"P":{"b":[{"p":"0.04","q":"5"},{"p":"0.03","q":"7"}],`+
						`"a":[{"p":"0.06","q":"2"}]}}`))
			}
		}
	})
	defer server.Close()

	client := infinity.New(infinity.Config{
		WSURL:  venueURL(server),
		Logger: quietLogger(),
	})
	defer client.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.ConnectAll(ctx); err != nil {
		t.Fatalf("ConnectAll failed: %v", err)
	}
	if !client.IsPublicConnected() {
		t.Fatal("public connection not open after ConnectAll")
	}
	if client.IsPrivateConnected() {
		t.Fatal("private connection open without a login")
	}

	if err := client.SubscribeRecentTrades("ETH-SPOT"); err != nil {
		t.Fatalf("SubscribeRecentTrades failed: %v", err)
	}
	if err := client.SubscribeOrderBook("ETH-SPOT"); err != nil {
		t.Fatalf("SubscribeOrderBook failed: %v", err)
	}

	trade, ok := nextPublicTrade(t, client)
	if !ok {
		t.Fatal("no public trade received")
	}
	if trade.InstrumentID != "ETH-SPOT" {
		t.Errorf("InstrumentID = %q, want ETH-SPOT", trade.InstrumentID)
	}
	if trade.Rate.String() != "0.05" || trade.Quantity.String() != "10" {
		t.Errorf("trade = %s @ %s", trade.Quantity, trade.Rate)
	}

	book, ok := nextOrderBook(t, client)
	if !ok {
		t.Fatal("no order book received")
	}
	if len(book.Bids) != 2 || len(book.Asks) != 1 {
		t.Fatalf("book levels = %d/%d, want 2/1", len(book.Bids), len(book.Asks))
	}
	if !book.Bids[0].Rate.LessThan(book.Bids[1].Rate) {
		t.Errorf("bids not ascending: %s, %s", book.Bids[0].Rate, book.Bids[1].Rate)
	}

	waitForTopics(t, client, false, 2)
}

func TestClientPrivateStream(t *testing.T) {
	server := mockVenue(t, "0xAbCd", func(conn *websocket.Conn, topics []string) {
		for _, topic := range topics {
			if strings.HasSuffix(topic, "@userTrade") {
				conn.WriteMessage(websocket.TextMessage, []byte(
					`{"e":"userTrade","E":1700000002000,"I":"ETH-SPOT",`+
						`"P":{"p":"0.045","q":"100","d":1700000002000,"t":38088018,"w":207,"s":false,"o":54683065}}`))
			}
		}
	})
	defer server.Close()

	client := infinity.New(infinity.Config{
		WSURL:  venueURL(server),
		Login:  rest.StaticLogin{Token: "tok-123", Address: "0xABCD"},
		Logger: quietLogger(),
	})
	defer client.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.ConnectAll(ctx); err != nil {
		t.Fatalf("ConnectAll failed: %v", err)
	}
	if !client.IsPrivateConnected() {
		t.Fatal("private connection not open after login echo")
	}

	if err := client.SubscribeUserTrades("ETH-SPOT"); err != nil {
		t.Fatalf("SubscribeUserTrades failed: %v", err)
	}

	fill, ok := nextUserTrade(t, client)
	if !ok {
		t.Fatal("no user trade received")
	}
	if fill.TradeID != 38088018 || fill.OrderID != 54683065 {
		t.Errorf("fill ids = %d/%d", fill.TradeID, fill.OrderID)
	}
	if fill.Side != "lend" {
		t.Errorf("Side = %q, want lend", fill.Side)
	}

	waitForTopics(t, client, true, 1)
}

func TestClientRejectsMalformedTopic(t *testing.T) {
	client := infinity.New(infinity.Config{Logger: quietLogger()})
	defer client.Shutdown()

	if err := client.Subscribe("nochannel"); err == nil {
		t.Error("Subscribe accepted a topic without a channel")
	}
}

func TestClientPrivateTopicsNeedLogin(t *testing.T) {
	client := infinity.New(infinity.Config{Logger: quietLogger()})
	defer client.Shutdown()

	if err := client.SubscribeUserTrades("ETH-SPOT"); err == nil {
		t.Error("SubscribeUserTrades succeeded without a login")
	}
}

func TestClientShutdownUnblocksNext(t *testing.T) {
	server := mockVenue(t, "", nil)
	defer server.Close()

	client := infinity.New(infinity.Config{
		WSURL:  venueURL(server),
		Logger: quietLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.ConnectAll(ctx); err != nil {
		t.Fatalf("ConnectAll failed: %v", err)
	}

	done := make(chan bool, 1)
	go func() {
		_, ok := client.NextOrderBook()
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	client.Shutdown()

	select {
	case ok := <-done:
		if ok {
			t.Error("NextOrderBook returned ok after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("NextOrderBook still blocked after shutdown")
	}
}

func nextPublicTrade(t *testing.T, client *infinity.Client) (schema.PublicTrade, bool) {
	t.Helper()
	type result struct {
		trade schema.PublicTrade
		ok    bool
	}
	ch := make(chan result, 1)
	go func() {
		tr, ok := client.NextPublicTrade()
		ch <- result{tr, ok}
	}()
	select {
	case r := <-ch:
		return r.trade, r.ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for public trade")
		return schema.PublicTrade{}, false
	}
}

func nextOrderBook(t *testing.T, client *infinity.Client) (schema.OrderBook, bool) {
	t.Helper()
	type result struct {
		book schema.OrderBook
		ok   bool
	}
	ch := make(chan result, 1)
	go func() {
		b, ok := client.NextOrderBook()
		ch <- result{b, ok}
	}()
	select {
	case r := <-ch:
		return r.book, r.ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for order book")
		return schema.OrderBook{}, false
	}
}

func nextUserTrade(t *testing.T, client *infinity.Client) (schema.UserTrade, bool) {
	t.Helper()
	type result struct {
		fill schema.UserTrade
		ok   bool
	}
	ch := make(chan result, 1)
	go func() {
		f, ok := client.NextUserTrade()
		ch <- result{f, ok}
	}()
	select {
	case r := <-ch:
		return r.fill, r.ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for user trade")
		return schema.UserTrade{}, false
	}
}

// waitForTopics polls until the tracked subscription set for a connection
// reaches the expected size.
func waitForTopics(t *testing.T, client *infinity.Client, private bool, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(client.Subscriptions(private)) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("tracked subscriptions = %v, want %d topics",
		client.Subscriptions(private), want)
}

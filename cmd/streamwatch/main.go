// streamwatch connects to the Infinity websocket and streams decoded records
// to the console.
// Usage: go run ./cmd/streamwatch --url wss://api.infinity.exchange/ws --instruments ETH-SPOT
//
// Optional environment variables for the private connection:
//
//	INFINITY_ACCESS_TOKEN    - pre-issued access token
//	INFINITY_ACCOUNT_ADDRESS - account address the venue echoes on login
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	infinity "github.com/infinity-exchange/infinity-go"
	"github.com/infinity-exchange/infinity-go/internal/rest"
	"github.com/infinity-exchange/infinity-go/internal/version"
)

func main() {
	wsURL := flag.String("url", "wss://api.infinity.exchange/ws", "websocket URL")
	instruments := flag.String("instruments", "ETH-SPOT", "comma-separated instrument ids")
	retries := flag.Int("retries", 3, "auto-reconnect retry budget (0 disables)")
	private := flag.Bool("private", false, "also stream user trades and orders (needs env credentials)")
	verbose := flag.Bool("verbose", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamwatch", "version", version.Version, "url", *wsURL)

	cfg := infinity.Config{
		WSURL:                *wsURL,
		AutoReconnectRetries: *retries,
		Logger:               logger,
	}
	if *private {
		login := rest.StaticLogin{
			Token:   os.Getenv("INFINITY_ACCESS_TOKEN"),
			Address: os.Getenv("INFINITY_ACCOUNT_ADDRESS"),
		}
		if !login.IsLoginSuccess() {
			logger.Error("missing INFINITY_ACCESS_TOKEN or INFINITY_ACCOUNT_ADDRESS")
			os.Exit(1)
		}
		cfg.Login = login
	}

	client := infinity.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := client.ConnectAll(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer client.Shutdown()

	ids := strings.Split(*instruments, ",")
	if err := client.SubscribeOrderBook(ids...); err != nil {
		logger.Error("subscribe order books failed", "error", err)
		os.Exit(1)
	}
	if err := client.SubscribeRecentTrades(ids...); err != nil {
		logger.Error("subscribe recent trades failed", "error", err)
		os.Exit(1)
	}
	if *private {
		if err := client.SubscribeUserTrades(ids...); err != nil {
			logger.Error("subscribe user trades failed", "error", err)
			os.Exit(1)
		}
		if err := client.SubscribeUserOrders(ids...); err != nil {
			logger.Error("subscribe user orders failed", "error", err)
			os.Exit(1)
		}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("streamwatch stopped")
			return
		case <-ticker.C:
			for _, book := range client.DrainOrderBooks(0) {
				best := "empty"
				if len(book.Bids) > 0 && len(book.Asks) > 0 {
					best = fmt.Sprintf("bid=%s ask=%s",
						book.Bids[len(book.Bids)-1].Rate,
						book.Asks[len(book.Asks)-1].Rate,
					)
				}
				fmt.Printf("[book]  %-20s %s levels=%d/%d\n",
					book.InstrumentID, best, len(book.Bids), len(book.Asks))
			}
			for _, trade := range client.DrainPublicTrades(0) {
				fmt.Printf("[trade] %-20s %s %s rate=%s qty=%s %s\n",
					trade.InstrumentID, trade.RateClass, trade.Side,
					trade.Rate, trade.Quantity, trade.TradeTime.Format(time.RFC3339))
			}
			for _, fill := range client.DrainUserTrades(0) {
				fmt.Printf("[fill]  %-20s %s rate=%s qty=%s trade_id=%d\n",
					fill.InstrumentID, fill.Side, fill.Rate, fill.Quantity, fill.TradeID)
			}
			for _, order := range client.DrainUserOrders(0) {
				fmt.Printf("[order] %-20s %s %s rate=%s qty=%s filled=%s status=%s\n",
					order.InstrumentID, order.OrderType, order.Side,
					order.Rate, order.Quantity, order.FilledQuantity, order.Status)
			}
		}
	}
}

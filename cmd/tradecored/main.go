// Command tradecored runs the matching engine, an optional market-data
// session, Prometheus metrics, and a thin HTTP adapter in one process.
// It is a demonstration harness, not a production deployment: it loads
// configuration from flags and environment variables, which the core
// packages deliberately never do themselves.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tradecore/engine"
	"tradecore/internal/httpapi"
	"tradecore/marketdata"
	"tradecore/metrics"
	"tradecore/sink"
)

func main() {
	listenAddr := flag.String("listen", getEnv("LISTEN_ADDR", ":8080"), "HTTP listen address")
	metricsAddr := flag.String("metrics-listen", getEnv("METRICS_ADDR", ":9090"), "Prometheus metrics listen address")
	symbol := flag.String("symbol", getEnv("SYMBOL", "AAPL"), "symbol this book trades")
	corsOrigin := flag.String("cors-origin", getEnv("CORS_ORIGIN", "*"), "Access-Control-Allow-Origin value")
	natsURL := flag.String("nats", os.Getenv("NATS_URL"), "NATS URL for the async event publisher; empty disables it")
	dataURL := flag.String("data-url", os.Getenv("TRADECORE_DATA_URL"), "market-data websocket URL; empty disables the session")
	flag.Parse()

	authToken := os.Getenv("AUTH_TOKEN")
	apiKey := os.Getenv("TRADECORE_API_KEY")
	apiSecret := os.Getenv("TRADECORE_API_SECRET")

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	registry := metrics.NewRegistry("tradecore")

	var publisher sink.Publisher = sink.NoopPublisher{}
	if *natsURL != "" {
		natsPub, err := sink.Connect(*natsURL)
		if err != nil {
			logger.Fatal("connect to NATS", zap.Error(err))
		}
		defer natsPub.Close()
		publisher = natsPub
	}

	book := engine.New(engine.Config{Symbol: *symbol}, func(trade engine.Trade) {
		if err := publishTrade(publisher, trade); err != nil {
			logger.Warn("publish trade", zap.Int64("trade_id", trade.TradeID), zap.Error(err))
		}
	})
	book.SetInstrumentation(registry)

	var session *marketdata.Session
	if *dataURL != "" {
		cfg := marketdata.DefaultConfig()
		cfg.DataURL = *dataURL
		cfg.APIKey = apiKey
		cfg.APISecret = apiSecret

		session = marketdata.New(cfg, logger)
		session.SetInstrumentation(registry)
		session.SetPublisher(publisher)
		session.OnError(func(msg string) { logger.Warn("market data session error", zap.String("detail", msg)) })
		session.OnConnection(func(connected bool) { logger.Info("market data connection state", zap.Bool("connected", connected)) })
		session.Start()
		defer session.Stop()
	}

	apiServer := httpapi.New(book, session, authToken, *corsOrigin)

	httpSrv := &http.Server{Addr: *listenAddr, Handler: apiServer.Routes()}
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: registry.Handler()}

	go func() {
		logger.Info("http api listening", zap.String("addr", *listenAddr), zap.String("symbol", *symbol))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http api server failed", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("metrics listening", zap.String("addr", *metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = metricsSrv.Shutdown(ctx)
}

func publishTrade(publisher sink.Publisher, trade engine.Trade) error {
	payload := fmt.Sprintf(`{"trade_id":%d,"symbol":%q,"price":%v,"quantity":%d}`,
		trade.TradeID, trade.Symbol, trade.Price, trade.Quantity)
	return publisher.Publish("tradecore.trades."+trade.Symbol, []byte(payload))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

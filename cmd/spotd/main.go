package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openspot/openspot/params"
	"github.com/openspot/openspot/pkg/api"
	"github.com/openspot/openspot/pkg/core/engine"
	"github.com/openspot/openspot/pkg/core/ledger"
	"github.com/openspot/openspot/pkg/core/market"
	"github.com/openspot/openspot/pkg/metrics"
	"github.com/openspot/openspot/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (console, plus file sink when configured)
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File)

	clock := util.RealClock{}

	// ---- Core: ledger, markets, engine ----
	led := ledger.New(sugar, clock)

	registry := market.NewRegistry()
	for _, symbol := range cfg.Exchange.Markets {
		base, quote, err := market.ParseSymbol(symbol)
		if err != nil {
			sugar.Fatalw("market_config_invalid", "symbol", symbol, "err", err)
		}
		m, err := market.New(symbol, base, quote)
		if err != nil {
			sugar.Fatalw("market_config_invalid", "symbol", symbol, "err", err)
		}
		if err := registry.Register(m); err != nil {
			sugar.Fatalw("market_register_failed", "symbol", symbol, "err", err)
		}
	}
	sugar.Infow("markets_registered", "count", registry.Count())

	mtr := metrics.New("openspot")

	eng := engine.New(engine.Config{
		Logger:         sugar,
		Clock:          clock,
		Ledger:         led,
		Markets:        registry,
		Metrics:        mtr,
		AllowSelfTrade: cfg.Exchange.AllowSelfTrade,
	})

	// ---- API Server ----
	apiServer := api.NewServer(api.ServerConfig{
		Logger:           sugar,
		Clock:            clock,
		Ledger:           led,
		Markets:          registry,
		Engine:           eng,
		Metrics:          mtr,
		StartingBalances: cfg.Exchange.StartingBalances,
		AllowedOrigins:   cfg.API.AllowedOrigins,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: apiServer.Handler(),
	}

	go apiServer.RunHub()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("shutdown_incomplete", "err", err)
	}
}

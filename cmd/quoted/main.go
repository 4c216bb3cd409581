package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/config"
	"github.com/operon-labs/feegate/internal/keyvault"
	"github.com/operon-labs/feegate/internal/quotesvc"
)

// quoted is the quote-signing sidecar: it holds the operator key and issues
// signed pay-per-transaction and top-up quotes. It shares no state with the
// gateway other than the key and the pricing rate, so it can be scaled and
// restarted independently.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	operatorKey, err := keyvault.Get(ctx, cfg.Keyvault.Addr)
	if err != nil {
		log.Fatal("operator key retrieval failed", zap.Error(err))
	}

	rateNum, ok := new(big.Int).SetString(cfg.Quote.RateNum, 10)
	if !ok {
		log.Fatal("invalid QUOTE_RATE_NUM")
	}
	rateDen, ok := new(big.Int).SetString(cfg.Quote.RateDen, 10)
	if !ok {
		log.Fatal("invalid QUOTE_RATE_DEN")
	}

	svc, err := quotesvc.New(
		operatorKey,
		big.NewInt(cfg.Chain.ChainID),
		common.HexToAddress(cfg.Chain.GatewayAddress),
		common.HexToAddress(cfg.Chain.TokenAddress),
		rateNum, rateDen,
		cfg.Quote.DirectTTLSec, cfg.Quote.TopupTTLSec,
	)
	if err != nil {
		log.Fatal("quote service init failed", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	quotesvc.NewHandler(svc, log).Register(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("quote service starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}

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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/auth"
	"github.com/operon-labs/feegate/internal/chain"
	"github.com/operon-labs/feegate/internal/config"
	"github.com/operon-labs/feegate/internal/fpc"
	"github.com/operon-labs/feegate/internal/httpapi"
	"github.com/operon-labs/feegate/internal/keyvault"
	"github.com/operon-labs/feegate/internal/settle"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Operator key (vault daemon or env mock) ───────────────────────────────
	operatorKey, err := keyvault.Get(ctx, cfg.Keyvault.Addr)
	if err != nil {
		log.Fatal("operator key retrieval failed", zap.Error(err))
	}

	// ── Chain client (EIP-3009 pulls, gateway balance) ────────────────────────
	onchain, err := chain.NewClient(cfg, operatorKey)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}

	// ── Gateway core ──────────────────────────────────────────────────────────
	pubX, ok := new(big.Int).SetString(cfg.Chain.OperatorPubX, 16)
	if !ok {
		log.Fatal("invalid OPERATOR_PUB_X")
	}
	pubY, ok := new(big.Int).SetString(cfg.Chain.OperatorPubY, 16)
	if !ok {
		log.Fatal("invalid OPERATOR_PUB_Y")
	}

	journal := settle.NewJournal(rdb)
	gw := fpc.NewGateway(fpc.Config{
		Operator:      common.HexToAddress(cfg.Chain.OperatorAddress),
		OperatorPubX:  pubX,
		OperatorPubY:  pubY,
		AcceptedAsset: common.HexToAddress(cfg.Chain.TokenAddress),
		ChainID:       big.NewInt(cfg.Chain.ChainID),
		Self:          common.HexToAddress(cfg.Chain.GatewayAddress),
	}, rdb, onchain, journal, log)

	// ── Settlement consumer ───────────────────────────────────────────────────
	go settle.Run(ctx, rdb, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api", auth.Middleware(rdb))
	httpapi.NewHandler(gw, log).Register(api)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
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
	log.Info("shutdown complete")
}

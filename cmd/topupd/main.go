package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/chain"
	"github.com/operon-labs/feegate/internal/config"
	"github.com/operon-labs/feegate/internal/keyvault"
	"github.com/operon-labs/feegate/internal/topup"
)

// topupd keeps the gateway's native gas balance above a floor by bridging
// refills from the operator account whenever the balance dips below the
// configured threshold.
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

	onchain, err := chain.NewClient(cfg, operatorKey)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}

	threshold, ok := new(big.Int).SetString(cfg.Topup.ThresholdWei, 10)
	if !ok {
		log.Fatal("invalid TOPUP_THRESHOLD_WEI")
	}
	refill, ok := new(big.Int).SetString(cfg.Topup.RefillWei, 10)
	if !ok {
		log.Fatal("invalid TOPUP_REFILL_WEI")
	}

	mon := topup.NewMonitor(
		onchain,
		onchain.GatewayAddress(),
		threshold, refill,
		time.Duration(cfg.Topup.IntervalSec)*time.Second,
		log,
	)
	go mon.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()
}

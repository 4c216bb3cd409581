// Package topup keeps the gateway's native-gas balance funded. It has no
// call-level coupling to the payment protocol: it only watches the gateway
// address and pushes bridge deposits when the balance sinks below threshold.
package topup

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Chain is satisfied by chain.Client. Decoupled here so monitor tests can
// use a mock.
type Chain interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	BridgeDeposit(ctx context.Context, amount *big.Int) error
}

// Monitor replenishes one gateway's native-gas balance.
type Monitor struct {
	chain     Chain
	gateway   common.Address
	threshold *big.Int
	refill    *big.Int
	interval  time.Duration
	log       *zap.Logger
}

func NewMonitor(chain Chain, gateway common.Address, threshold, refill *big.Int, interval time.Duration, log *zap.Logger) *Monitor {
	return &Monitor{
		chain:     chain,
		gateway:   gateway,
		threshold: threshold,
		refill:    refill,
		interval:  interval,
		log:       log,
	}
}

// Run checks once immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info("top-up monitor started",
		zap.String("gateway", m.gateway.Hex()),
		zap.Duration("interval", m.interval),
	)

	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("top-up monitor stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check performs one balance probe and, if needed, one bridge deposit.
func (m *Monitor) Check(ctx context.Context) {
	bal, err := m.chain.NativeBalance(ctx, m.gateway)
	if err != nil {
		m.log.Error("topup: read native balance", zap.Error(err))
		return
	}
	if bal.Cmp(m.threshold) >= 0 {
		return
	}

	m.log.Info("gateway balance below threshold, bridging",
		zap.String("balance", bal.String()),
		zap.String("threshold", m.threshold.String()),
		zap.String("refill", m.refill.String()),
	)
	if err := m.chain.BridgeDeposit(ctx, m.refill); err != nil {
		m.log.Error("topup: bridge deposit", zap.Error(err))
	}
}

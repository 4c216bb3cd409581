// Package fpc composes the quote verifier, replay guard, gas cost math,
// token pulls and the credit ledger into the gateway's payment entrypoints.
package fpc

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/gascost"
	"github.com/operon-labs/feegate/internal/ledger"
	"github.com/operon-labs/feegate/internal/quote"
	"github.com/operon-labs/feegate/internal/replay"
	"github.com/operon-labs/feegate/internal/token"
)

// ErrQuotedFeeMismatch reports a pay-per-transaction quote whose fee amount
// does not equal the current transaction's declared setup gas cost.
var ErrQuotedFeeMismatch = errors.New("fpc: quoted fee does not match transaction gas settings")

// Config is the immutable per-deployment operator configuration. Set once at
// construction, read by every operation, never mutated.
type Config struct {
	Operator      common.Address
	OperatorPubX  *big.Int
	OperatorPubY  *big.Int
	AcceptedAsset common.Address
	ChainID       *big.Int
	Self          common.Address // the gateway's own address; registered as fee payer
}

// TxContext is the host transaction context an entrypoint executes in: the
// authenticated caller, the anchored chain timestamp, the declared gas
// settings, and the single-use authwit (nonce plus capability bytes) for
// token pulls.
type TxContext struct {
	Caller       common.Address
	Timestamp    int64
	Gas          gascost.GasSettings
	AuthwitNonce [32]byte
	Authwit      []byte

	feePayer   common.Address
	registered bool
}

// RegisterFeePayer marks addr as the transaction's gas payer and ends the
// revertible setup phase. Each transaction reaches this at most once by
// construction of the entrypoints; a second call is a programming error.
func (tx *TxContext) RegisterFeePayer(addr common.Address) {
	if tx.registered {
		panic("fpc: fee payer already registered")
	}
	tx.feePayer = addr
	tx.registered = true
}

// FeePayer reports the registered fee payer, if any.
func (tx *TxContext) FeePayer() (common.Address, bool) {
	return tx.feePayer, tx.registered
}

// Receipt records one successful charge for the settlement journal.
type Receipt struct {
	Kind      string         `json:"kind"` // "pay_fee" | "top_up" | "spend_credit"
	User      common.Address `json:"user"`
	QuoteHash common.Hash    `json:"quote_hash"` // zero for spend_credit
	Charged   *big.Int       `json:"charged"`
	Timestamp int64          `json:"timestamp"`
}

// ReceiptSink is satisfied by settle.Journal. Decoupled here so gateway
// tests can use a mock.
type ReceiptSink interface {
	Record(ctx context.Context, r Receipt) error
}

// Gateway is the fee payment contract's service port: one fixed operator
// key, one accepted asset, shared Redis state.
type Gateway struct {
	cfg      Config
	verifier *quote.Verifier
	guard    *replay.Guard
	credits  *ledger.Ledger
	asset    token.Puller
	sink     ReceiptSink
	log      *zap.Logger
}

func NewGateway(cfg Config, rdb *redis.Client, asset token.Puller, sink ReceiptSink, log *zap.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		verifier: quote.NewVerifier(cfg.ChainID, cfg.Self, cfg.OperatorPubX, cfg.OperatorPubY),
		guard:    replay.NewGuard(rdb),
		credits:  ledger.New(rdb),
		asset:    asset,
		sink:     sink,
		log:      log,
	}
}

// Config returns the deployment configuration.
func (g *Gateway) Config() Config { return g.cfg }

// BalanceOf is the read-only credit balance query.
func (g *Gateway) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return g.credits.Balance(ctx, account)
}

// QuoteUsed reports whether the quote identified by the given tuple has
// already been consumed by this deployment.
func (g *Gateway) QuoteUsed(ctx context.Context, amountA, amountB *big.Int, validUntil int64, user common.Address) (bool, error) {
	hash := quote.Hash(g.verifier.DomainSep(), g.cfg.Self, g.cfg.AcceptedAsset, amountA, amountB, validUntil, user)
	return g.guard.IsConsumed(ctx, hash)
}

// record appends a receipt to the settlement journal. Journal append runs
// after the charge is final, so a failure here degrades settlement
// bookkeeping, not the charge itself.
func (g *Gateway) record(ctx context.Context, r Receipt) {
	if g.sink == nil {
		return
	}
	if err := g.sink.Record(ctx, r); err != nil {
		g.log.Warn("receipt journal append failed",
			zap.String("kind", r.Kind),
			zap.String("user", r.User.Hex()),
			zap.Error(err),
		)
	}
}

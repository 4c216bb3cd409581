package fpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/gascost"
	"github.com/operon-labs/feegate/internal/ledger"
)

// mintDebitRetries bounds the optimistic retry of the post-pull balance
// update. The mint-covers-debit check is balance-independent, so retrying
// after a lost WATCH race cannot change the outcome, only the timing.
const mintDebitRetries = 3

// TopUp pre-purchases fee credit: tokenAmount of the accepted asset is
// pulled from the caller, mintAmount of credit is minted, and the
// transaction's own setup gas cost is debited immediately. The top-up quote
// carries no TTL cap; see the quote package.
func (g *Gateway) TopUp(
	ctx context.Context,
	tx *TxContext,
	mintAmount, tokenAmount *big.Int,
	validUntil int64,
	sig []byte,
) error {
	hash, err := g.verifier.Verify(
		g.cfg.AcceptedAsset, mintAmount, tokenAmount, validUntil,
		tx.Caller, sig, tx.Timestamp, 0,
	)
	if err != nil {
		return err
	}

	// The mint must always cover at least the transaction's own setup cost.
	selfCost := gascost.MaxCostNoTeardown(tx.Gas)
	if mintAmount.Cmp(selfCost) < 0 {
		return ledger.ErrInsufficientCredit
	}

	if err := g.guard.Consume(ctx, hash); err != nil {
		return err
	}

	if err := g.asset.PullWithAuthwit(ctx, tx.Caller, g.cfg.Operator, tokenAmount, tx.AuthwitNonce, tx.Authwit); err != nil {
		if relErr := g.guard.Release(ctx, hash); relErr != nil {
			g.log.Error("release after failed pull",
				zap.String("quote_hash", fmt.Sprintf("%x", hash)),
				zap.Error(relErr),
			)
		}
		return err
	}

	for attempt := 0; ; attempt++ {
		err = g.credits.MintAndDebit(ctx, tx.Caller, mintAmount, selfCost)
		if !errors.Is(err, ledger.ErrNoteConflict) || attempt == mintDebitRetries {
			break
		}
	}
	if err != nil {
		// Tokens are already with the operator; this is a settlement
		// incident, not a state the protocol can silently absorb.
		g.log.Error("top-up credit update failed after token pull",
			zap.String("user", tx.Caller.Hex()),
			zap.String("quote_hash", fmt.Sprintf("%x", hash)),
			zap.Error(err),
		)
		return err
	}

	tx.RegisterFeePayer(g.cfg.Self)

	g.record(ctx, Receipt{
		Kind:      "top_up",
		User:      tx.Caller,
		QuoteHash: common.Hash(hash),
		Charged:   new(big.Int).Set(tokenAmount),
		Timestamp: tx.Timestamp,
	})
	return nil
}

// SpendCredit pays for the current transaction purely from prepaid credit:
// no quote, no token transfer. The debit covers teardown gas as well, since
// this path has no later opportunity to reconcile.
func (g *Gateway) SpendCredit(ctx context.Context, tx *TxContext) error {
	cost := gascost.MaxCostWithTeardown(tx.Gas)

	if err := g.credits.Debit(ctx, tx.Caller, cost); err != nil {
		return err
	}

	tx.RegisterFeePayer(g.cfg.Self)

	g.record(ctx, Receipt{
		Kind:      "spend_credit",
		User:      tx.Caller,
		Charged:   cost,
		Timestamp: tx.Timestamp,
	})
	return nil
}

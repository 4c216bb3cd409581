package fpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/gascost"
	"github.com/operon-labs/feegate/internal/quote"
)

// PayFee charges the caller exactly once for the current transaction: the
// quote's fee amount must equal the transaction's declared setup gas cost,
// and tokenAmount of the accepted asset is pulled from caller to operator
// under the authwit in tx. All checks run before any state moves; the only
// mutation preceding the token pull is the replay-hash insert, which is
// released again if the pull fails.
func (g *Gateway) PayFee(
	ctx context.Context,
	tx *TxContext,
	quotedFee, tokenAmount *big.Int,
	validUntil int64,
	sig []byte,
) error {
	hash, err := g.verifier.Verify(
		g.cfg.AcceptedAsset, quotedFee, tokenAmount, validUntil,
		tx.Caller, sig, tx.Timestamp, quote.MaxTTLSeconds,
	)
	if err != nil {
		return err
	}

	// The quote is bound to the transaction's current gas profile; a quote
	// minted for a different profile must not settle here.
	if quotedFee.Cmp(gascost.MaxCostNoTeardown(tx.Gas)) != 0 {
		return ErrQuotedFeeMismatch
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

	tx.RegisterFeePayer(g.cfg.Self)

	g.record(ctx, Receipt{
		Kind:      "pay_fee",
		User:      tx.Caller,
		QuoteHash: common.Hash(hash),
		Charged:   new(big.Int).Set(tokenAmount),
		Timestamp: tx.Timestamp,
	})
	return nil
}

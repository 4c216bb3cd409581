// Package token is the accepted-asset collaborator boundary. The gateway
// treats the asset as an opaque dependency exposing one authorization-gated
// pull: move amount from the user to the operator under a single-use
// capability scoped to (user, amount, nonce).
package token

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrAuthwitMismatch reports a missing authorization, or one scoped to a
// different amount or nonce than the pull being attempted.
var ErrAuthwitMismatch = errors.New("token: authwit missing or mismatched")

// Puller pulls accepted-asset tokens from a user's balance. authwit is the
// user-issued single-use capability covering exactly (from, amount, nonce);
// the chain-backed implementation lives in internal/chain.
type Puller interface {
	PullWithAuthwit(ctx context.Context, from, to common.Address, amount *big.Int, nonce [32]byte, authwit []byte) error
}

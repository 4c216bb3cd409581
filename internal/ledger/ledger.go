// Package ledger is the per-user prepaid fee-credit balance.
//
// Balances are plain non-negative integers, one Redis key per user, mutated
// through optimistic WATCH transactions. Two calls racing on the same user's
// balance serialize through Redis: the loser observes ErrNoteConflict and
// must rebuild its spend against a fresh balance snapshot. There is no way
// to wait for the balance; conflict is detected after the fact.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInsufficientCredit = errors.New("ledger: insufficient credit")
	ErrNoteConflict       = errors.New("ledger: concurrent balance update, rebuild and retry")
)

const balanceKeyPrefix = "credit:balance:"

func balanceKey(user common.Address) string {
	return balanceKeyPrefix + strings.ToLower(user.Hex())
}

// Ledger holds fee-credit balances in Redis.
type Ledger struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Ledger {
	return &Ledger{rdb: rdb}
}

// Balance returns the user's current credit; absent users have zero.
func (l *Ledger) Balance(ctx context.Context, user common.Address) (*big.Int, error) {
	raw, err := l.rdb.Get(ctx, balanceKey(user)).Result()
	if err == redis.Nil {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	return parseBalance(raw)
}

// Mint increases the user's balance by amount.
func (l *Ledger) Mint(ctx context.Context, user common.Address, amount *big.Int) error {
	return l.apply(ctx, user, amount, big.NewInt(0))
}

// Debit decreases the user's balance by amount. A debit that would drive the
// balance negative fails with ErrInsufficientCredit and leaves it unchanged.
func (l *Ledger) Debit(ctx context.Context, user common.Address, amount *big.Int) error {
	return l.apply(ctx, user, big.NewInt(0), amount)
}

// MintAndDebit applies a mint and a debit as one atomic balance update, used
// for a top-up's immediate self-charge. The debit is checked against the
// post-mint balance.
func (l *Ledger) MintAndDebit(ctx context.Context, user common.Address, mint, debit *big.Int) error {
	return l.apply(ctx, user, mint, debit)
}

// apply runs a single optimistic read-check-write cycle. A concurrent writer
// invalidating the watched key surfaces as ErrNoteConflict; the caller owns
// the retry.
func (l *Ledger) apply(ctx context.Context, user common.Address, mint, debit *big.Int) error {
	key := balanceKey(user)
	err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
		bal := big.NewInt(0)
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if err == nil {
			if bal, err = parseBalance(raw); err != nil {
				return err
			}
		}

		bal.Add(bal, mint)
		if bal.Cmp(debit) < 0 {
			return ErrInsufficientCredit
		}
		bal.Sub(bal, debit)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, bal.String(), 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrNoteConflict
	}
	return err
}

func parseBalance(raw string) (*big.Int, error) {
	bal, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt balance value %q", raw)
	}
	return bal, nil
}

// Package replay is the consumed-quote-hash set. Insert-if-absent on the
// shared set is the only synchronization primitive: of two calls racing on
// the same hash, exactly one consumes it.
package replay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrQuoteReplayed = errors.New("replay: quote hash already consumed")

const consumedSetKey = "quote:consumed"

// Guard tracks every quote hash ever consumed by this deployment. Entries
// are never removed except by Release during a failed entrypoint's unwind.
type Guard struct {
	rdb *redis.Client
}

func NewGuard(rdb *redis.Client) *Guard {
	return &Guard{rdb: rdb}
}

// Consume inserts the hash, failing with ErrQuoteReplayed if it is already
// a member. Call exactly once per successful quote use, after verification
// and before any asset movement becomes irreversible.
func (g *Guard) Consume(ctx context.Context, hash [32]byte) error {
	added, err := g.rdb.SAdd(ctx, consumedSetKey, hex.EncodeToString(hash[:])).Result()
	if err != nil {
		return fmt.Errorf("consume quote hash: %w", err)
	}
	if added == 0 {
		return ErrQuoteReplayed
	}
	return nil
}

// Release removes a hash consumed earlier in the same entrypoint whose later
// step failed, so that a verification-passing quote is never burned without
// a corresponding successful charge.
func (g *Guard) Release(ctx context.Context, hash [32]byte) error {
	if err := g.rdb.SRem(ctx, consumedSetKey, hex.EncodeToString(hash[:])).Err(); err != nil {
		return fmt.Errorf("release quote hash: %w", err)
	}
	return nil
}

// IsConsumed is the read-only membership test behind the quote_used query.
func (g *Guard) IsConsumed(ctx context.Context, hash [32]byte) (bool, error) {
	used, err := g.rdb.SIsMember(ctx, consumedSetKey, hex.EncodeToString(hash[:])).Result()
	if err != nil {
		return false, fmt.Errorf("check quote hash: %w", err)
	}
	return used, nil
}

package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/operon-labs/feegate/internal/fpc"
)

const (
	maxBatchSize = 50
	blpopTimeout = 30 * time.Second
)

// Run is the consumer loop: BLPOP → fold batch → archive. Items after the
// first are LPOP'd only once their receipt has been folded, so a crash
// mid-batch loses at most the item already in flight, which Apply tolerates
// by being additive.
func Run(ctx context.Context, rdb *redis.Client, log *zap.Logger) {
	log.Info("settlement consumer started", zap.String("queue", JournalKey))

	for {
		if ctx.Err() != nil {
			log.Info("settlement consumer stopped")
			return
		}

		results, err := rdb.BLPop(ctx, blpopTimeout, JournalKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("settle: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		firstItem := results[1]

		remaining, err := rdb.LRange(ctx, JournalKey, 0, int64(maxBatchSize-2)).Result()
		if err != nil {
			log.Error("settle: LRANGE", zap.Error(err))
			remaining = nil
		}

		rawItems := append([]string{firstItem}, remaining...)
		for i, raw := range rawItems {
			if i > 0 {
				rdb.LPop(ctx, JournalKey)
			}
			if err := Apply(ctx, rdb, raw); err != nil {
				rdb.RPush(ctx, DLQKey, raw)
				log.Error("settle: receipt rejected", zap.String("raw", raw), zap.Error(err))
			}
		}
	}
}

// Apply folds one raw journal entry into the earning totals and the archive.
func Apply(ctx context.Context, rdb *redis.Client, raw string) error {
	var r fpc.Receipt
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return fmt.Errorf("unmarshal receipt: %w", err)
	}
	if r.Charged == nil || r.Charged.Sign() < 0 {
		return fmt.Errorf("receipt with invalid charge")
	}

	// spend_credit consumes prepaid credit; only token-moving receipts add
	// to operator earnings.
	if r.Kind == "pay_fee" || r.Kind == "top_up" {
		if err := addEarned(ctx, rdb, strings.ToLower(r.User.Hex()), r.Charged); err != nil {
			return err
		}
	}

	pipe := rdb.Pipeline()
	pipe.Incr(ctx, fmt.Sprintf(ChargedKeyFmt, r.Kind))
	pipe.RPush(ctx, ArchiveKey, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archive receipt: %w", err)
	}
	return nil
}

// Earned returns a user's total token reimbursements to the operator.
func Earned(ctx context.Context, rdb *redis.Client, user string) (*big.Int, error) {
	raw, err := rdb.Get(ctx, fmt.Sprintf(EarnedKeyFmt, strings.ToLower(user))).Result()
	if err == redis.Nil {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read earned: %w", err)
	}
	total, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt earned total %q", raw)
	}
	return total, nil
}

func addEarned(ctx context.Context, rdb *redis.Client, user string, amount *big.Int) error {
	key := fmt.Sprintf(EarnedKeyFmt, user)
	err := rdb.Watch(ctx, func(tx *redis.Tx) error {
		total := big.NewInt(0)
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var ok bool
			if total, ok = new(big.Int).SetString(raw, 10); !ok {
				return fmt.Errorf("corrupt earned total %q", raw)
			}
		}
		total.Add(total, amount)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, total.String(), 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("update earned total: %w", err)
	}
	return nil
}

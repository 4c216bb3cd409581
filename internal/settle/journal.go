// Package settle keeps the operator's revenue bookkeeping: every successful
// charge appends a receipt to a Redis journal, and a consumer loop folds the
// journal into per-user earning totals and a durable archive.
package settle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/operon-labs/feegate/internal/fpc"
)

// Redis keys
const (
	JournalKey    = "settle:journal"
	DLQKey        = "settle:dlq"
	ArchiveKey    = "settle:archive"
	EarnedKeyFmt  = "settle:earned:%s" // %s = user address (lowercase)
	ChargedKeyFmt = "settle:count:%s"  // %s = receipt kind
)

// Journal is the write side: appends receipts for the consumer to fold in.
// It satisfies fpc.ReceiptSink.
type Journal struct {
	rdb *redis.Client
}

func NewJournal(rdb *redis.Client) *Journal {
	return &Journal{rdb: rdb}
}

// Record appends one receipt to the journal queue.
func (j *Journal) Record(ctx context.Context, r fpc.Receipt) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	if err := j.rdb.RPush(ctx, JournalKey, string(raw)).Err(); err != nil {
		return fmt.Errorf("enqueue receipt: %w", err)
	}
	return nil
}

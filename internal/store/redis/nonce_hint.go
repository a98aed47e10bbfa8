package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// nonceHintTTL bounds how long a stale hint can survive: if the process
// crashes mid-write and never restarts within this window, the chain
// client falls back entirely to eth_getTransactionCount("pending").
const nonceHintTTL = 24 * time.Hour

// NonceHintCache implements domain.NonceHintCache using a plain Redis string
// per account, so the backend wallet's next nonce survives a process
// restart without relying solely on a race against its own pending pool.
type NonceHintCache struct {
	rdb *redis.Client
}

// NewNonceHintCache creates a NonceHintCache backed by the given Client.
func NewNonceHintCache(c *Client) *NonceHintCache {
	return &NonceHintCache{rdb: c.Underlying()}
}

func nonceHintKey(account string) string {
	return "infofi-sync:nonce:" + account
}

// GetNonceHint returns the last nonce hint recorded for account.
func (n *NonceHintCache) GetNonceHint(ctx context.Context, account string) (uint64, bool, error) {
	val, err := n.rdb.Get(ctx, nonceHintKey(account)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis: get nonce hint %s: %w", account, err)
	}

	nonce, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse nonce hint %s: %w", account, err)
	}
	return nonce, true, nil
}

// SetNonceHint records the next nonce to use for account.
func (n *NonceHintCache) SetNonceHint(ctx context.Context, account string, nonce uint64) error {
	if err := n.rdb.Set(ctx, nonceHintKey(account), nonce, nonceHintTTL).Err(); err != nil {
		return fmt.Errorf("redis: set nonce hint %s: %w", account, err)
	}
	return nil
}

var _ domain.NonceHintCache = (*NonceHintCache)(nil)

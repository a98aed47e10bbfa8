package chainclient

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// nonceSerializer enforces the "at most one in-flight write per account"
// rule from spec.md §4.C1: after submitting a transaction, the client waits
// for at least one confirmation before submitting the next one from the
// same account. A per-account mutex is the serialization primitive; a
// cached next-nonce avoids a redundant eth_getTransactionCount on the
// common path, with eth_getTransactionCount("pending") as the source of
// truth reconciled on every acquire.
type nonceSerializer struct {
	raw *ethclient.Client

	mu      sync.Mutex
	locks   map[common.Address]*sync.Mutex
	cached  map[common.Address]uint64
	hasNext map[common.Address]bool

	hints domain.NonceHintCache
}

func newNonceSerializer(raw *ethclient.Client) *nonceSerializer {
	return &nonceSerializer{
		raw:     raw,
		locks:   make(map[common.Address]*sync.Mutex),
		cached:  make(map[common.Address]uint64),
		hasNext: make(map[common.Address]bool),
	}
}

func (n *nonceSerializer) lockFor(account common.Address) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[account]
	if !ok {
		l = &sync.Mutex{}
		n.locks[account] = l
	}
	return l
}

// acquire blocks until no other write is in flight for account and returns
// a release func the caller must call exactly once, after the write
// (including its confirmation wait) completes.
func (n *nonceSerializer) acquire(ctx context.Context, account common.Address) (func(), error) {
	l := n.lockFor(account)

	done := make(chan struct{})
	go func() {
		l.Lock()
		close(done)
	}()

	select {
	case <-done:
		return l.Unlock, nil
	case <-ctx.Done():
		// The goroutine above will still acquire the lock eventually and
		// leave it held forever since nothing calls Unlock; this only
		// happens on caller cancellation, which for this client means the
		// whole process is shutting down.
		return nil, ctx.Err()
	}
}

// next returns the nonce to use for account's next transaction. It trusts a
// cached value only once a prior write from this process has used it;
// otherwise it falls back to the persisted cross-restart hint (if any), and
// always reconciles against eth_getTransactionCount("pending"), which
// accounts for transactions submitted by other processes or a prior run.
func (n *nonceSerializer) next(ctx context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	cachedNext, have := n.cached[account], n.hasNext[account]
	n.mu.Unlock()

	if !have && n.hints != nil {
		if hint, ok, err := n.hints.GetNonceHint(ctx, account.Hex()); err == nil && ok {
			cachedNext, have = hint, true
		}
	}

	pending, err := n.raw.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, classifyRPCErr(err)
	}

	if have && cachedNext > pending {
		// Our own cache (or the persisted hint) is ahead of what the node
		// reports pending (the node hasn't yet indexed our last
		// submission); trust it.
		return cachedNext, nil
	}
	return pending, nil
}

// recordUsed records that nonce was just consumed for account, so the next
// call to next() does not have to wait for the node to catch up, and
// persists the hint if a NonceHintCache is wired.
func (n *nonceSerializer) recordUsed(account common.Address, nonce uint64) {
	n.mu.Lock()
	n.cached[account] = nonce + 1
	n.hasNext[account] = true
	n.mu.Unlock()

	if n.hints != nil {
		_ = n.hints.SetNonceHint(context.Background(), account.Hex(), nonce+1)
	}
}

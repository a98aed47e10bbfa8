// Package domain defines the entities, store interfaces, and error kinds
// shared by every component of the sync core.
package domain

import "errors"

// Error kinds, one per disposition in the error handling design. Callers
// switch on these with errors.Is; transport- and driver-specific errors are
// always wrapped into one of these before crossing a component boundary.
var (
	// ErrRpcTransient marks a retryable chain RPC failure: network hiccup,
	// 5xx, timeout. Never fatal; retried with backoff at the call site.
	ErrRpcTransient = errors.New("chain rpc: transient error")

	// ErrRpcFatal marks a non-retryable chain RPC failure: misconfiguration,
	// auth failure. Surfaced to the supervisor; the affected task stops.
	ErrRpcFatal = errors.New("chain rpc: fatal error")

	// ErrNonceConflict indicates another pending tx from the same account
	// occupies the nonce the client attempted to use.
	ErrNonceConflict = errors.New("chain rpc: nonce conflict")

	// ErrOutOfGas indicates a write reverted or was rejected for insufficient
	// gas.
	ErrOutOfGas = errors.New("chain rpc: out of gas")

	// ErrDuplicateKey indicates an insert violated the markets unique index
	// on (season_id, player_address, market_type); the store lowercases
	// player_address before writing. The caller reads the existing row and
	// continues.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrNotFound indicates a lookup found no matching row.
	ErrNotFound = errors.New("store: not found")

	// ErrStreamSinkBroken indicates a stream subscriber's sink rejected a
	// write (closed or too slow). The subscription is dropped; this error
	// never propagates to the writer.
	ErrStreamSinkBroken = errors.New("stream: sink broken")

	// ErrLockHeld indicates a distributed lock is already held by another
	// holder.
	ErrLockHeld = errors.New("lock: already held")

	// ErrCursorRegression indicates a caller attempted to set a cursor to a
	// value at or below the currently recorded one.
	ErrCursorRegression = errors.New("cursor: would regress")

	// ErrNetworkNotConfigured indicates the configured NETWORK_KEY has no
	// matching network profile, or the profile is missing a required field.
	ErrNetworkNotConfigured = errors.New("config: network profile incomplete")
)

// ContractRevertError carries the revert reason string from a failed
// on-chain call. Business-logic failures (market already created, caller
// lacks role) are not retried; the chain's own events are the source of
// truth for reconciliation.
type ContractRevertError struct {
	Reason string
}

func (e *ContractRevertError) Error() string {
	if e.Reason == "" {
		return "chain rpc: contract reverted"
	}
	return "chain rpc: contract reverted: " + e.Reason
}

// AsContractRevert reports whether err is (or wraps) a ContractRevertError
// and returns it.
func AsContractRevert(err error) (*ContractRevertError, bool) {
	var rv *ContractRevertError
	if errors.As(err, &rv) {
		return rv, true
	}
	return nil, false
}

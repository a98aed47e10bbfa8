package chainclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// classifyRPCErr maps a raw error from ethclient/rpc into one of the error
// kinds in internal/domain so every caller can branch with errors.Is instead
// of string-matching (spec.md §7).
func classifyRPCErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrRpcTransient, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrRpcTransient, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32000, -32003, -32005: // server error, transaction rejected, limit exceeded
			return fmt.Errorf("%w: %v", domain.ErrRpcTransient, err)
		case -32602, -32601: // invalid params, method not found
			return fmt.Errorf("%w: %v", domain.ErrRpcFatal, err)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce too high"), strings.Contains(msg, "replacement transaction underpriced"):
		return fmt.Errorf("%w: %v", domain.ErrNonceConflict, err)
	case strings.Contains(msg, "out of gas"), strings.Contains(msg, "intrinsic gas too low"), strings.Contains(msg, "gas required exceeds allowance"):
		return fmt.Errorf("%w: %v", domain.ErrOutOfGas, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "filter not found"),
		strings.Contains(msg, "too many requests"), strings.Contains(msg, "eof"), strings.Contains(msg, "connection refused"):
		return fmt.Errorf("%w: %v", domain.ErrRpcTransient, err)
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "forbidden"):
		return fmt.Errorf("%w: %v", domain.ErrRpcFatal, err)
	}

	// Default to transient: public RPC endpoints fail in many undocumented
	// ways, and treating the unknown case as fatal would stop a task that
	// would have recovered on the next poll.
	return fmt.Errorf("%w: %v", domain.ErrRpcTransient, err)
}

// classifyDialErr classifies every dial failure as fatal, timeouts and
// refused connections included: a bad endpoint URL or unreachable host at
// startup is a configuration problem, not a transient blip.
func classifyDialErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
		return fmt.Errorf("%w: %v", domain.ErrRpcFatal, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrRpcFatal, err)
}

// classifySendErr classifies an error returned by SendTransaction
// specifically, where a nonce conflict is the expected transient condition
// the per-account serializer is designed to avoid but cannot fully
// eliminate under multi-process deployment.
func classifySendErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "nonce") {
		return fmt.Errorf("%w: %v", domain.ErrNonceConflict, err)
	}
	if reason, ok := extractRevertReason(err); ok {
		return &domain.ContractRevertError{Reason: reason}
	}
	return classifyRPCErr(err)
}

// extractRevertReason attempts to pull a human-readable revert reason out
// of a go-ethereum JSON-RPC error. Nodes vary in how they surface revert
// data; this covers the common "execution reverted: <reason>" shape and the
// rpc.DataError interface some clients implement.
func extractRevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok && s != "" {
			return s, true
		}
	}

	msg := err.Error()
	const marker = "execution reverted"
	idx := strings.Index(strings.ToLower(msg), marker)
	if idx < 0 {
		return "", false
	}
	rest := msg[idx+len(marker):]
	rest = strings.TrimPrefix(rest, ":")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "execution reverted", true
	}
	return rest, true
}

// Package chainclient wraps a JSON-RPC connection to an EVM chain with the
// typed read/write/log-query surface the sync core needs: contract calls
// decoded against a supplied ABI, nonce-safe transaction submission
// serialized per account, and chunked log queries tolerant of unreliable
// public endpoints. See spec.md §4.C1.
package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

// Client is a typed wrapper around ethclient.Client. It never holds a
// single "contract address" the way bind.BoundContract does; callers pass
// the target address and ABI with every call, since the sync core talks to
// several distinct contracts (raffle, curve, factory, oracle, FPMM
// manager).
type Client struct {
	raw     *ethclient.Client
	chainID *big.Int

	callTimeout   time.Duration
	confirmTimeout time.Duration

	nonces *nonceSerializer

	paymasterURL string
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithCallTimeout overrides the default per-RPC-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithConfirmTimeout overrides the default per-write confirmation timeout.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) { c.confirmTimeout = d }
}

// WithPaymasterURL records a paymaster URL. WriteContract then calls
// trySponsoredSend first, which never submits anything, so every write still
// goes out through the direct, non-sponsored send.
func WithPaymasterURL(url string) Option {
	return func(c *Client) { c.paymasterURL = url }
}

// WithNonceHintCache wires a NonceHintCache so the per-account nonce
// survives process restarts without relying solely on a single
// eth_getTransactionCount("pending") race against the backend wallet's own
// in-flight transactions.
func WithNonceHintCache(cache domain.NonceHintCache) Option {
	return func(c *Client) { c.nonces.hints = cache }
}

// Dial connects to rpcURL and resolves the chain ID. Request batching and
// multicall coalescing are never used by this client: public RPC providers
// commonly expire server-side log filters within seconds under batched
// polling, so every call is a plain, explicit request (spec.md §4.C1).
func Dial(ctx context.Context, rpcURL string, expectedChainID int64, opts ...Option) (*Client, error) {
	raw, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", rpcURL, classifyDialErr(err))
	}

	got, err := raw.ChainID(ctx)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("chainclient: fetch chain id: %w", classifyRPCErr(err))
	}
	if expectedChainID != 0 && got.Int64() != expectedChainID {
		raw.Close()
		return nil, fmt.Errorf("chainclient: chain id mismatch: configured %d, rpc reports %d", expectedChainID, got.Int64())
	}

	c := &Client{
		raw:            raw,
		chainID:        got,
		callTimeout:    10 * time.Second,
		confirmTimeout: 60 * time.Second,
		nonces:         newNonceSerializer(raw),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.raw.Close() }

// ChainID returns the chain ID resolved at Dial time.
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	n, err := c.raw.BlockNumber(ctx)
	if err != nil {
		return 0, classifyRPCErr(err)
	}
	return n, nil
}

// ReadOpts configures a contract read. BlockNumber, if set, pins the call to
// a historical block; nil means "latest".
type ReadOpts struct {
	BlockNumber *big.Int
	From        common.Address
}

// ReadContract calls a read-only (view/pure) contract method and returns the
// decoded outputs.
func (c *Client) ReadContract(ctx context.Context, address common.Address, contractABI abi.ABI, method string, opts *ReadOpts, args ...interface{}) ([]interface{}, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chainclient: packing %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &address, Data: input}
	var blockNum *big.Int
	if opts != nil {
		msg.From = opts.From
		blockNum = opts.BlockNumber
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	out, err := c.raw.CallContract(ctx, msg, blockNum)
	if err != nil {
		if reason, ok := extractRevertReason(err); ok {
			return nil, &domain.ContractRevertError{Reason: reason}
		}
		return nil, classifyRPCErr(err)
	}

	result, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chainclient: unpacking %s result: %w", method, err)
	}
	return result, nil
}

// WriteOpts configures a contract write.
type WriteOpts struct {
	// GasLimit, if non-zero, is used verbatim instead of estimating gas.
	// spec.md §4.C6 requires an explicit 5,000,000 gas limit for
	// onPositionUpdate because estimation under-budgets the market-creation
	// path.
	GasLimit uint64

	// Value is the wei amount attached to the transaction (normally zero).
	Value *big.Int
}

// WriteContract submits a state-changing transaction from signer, serialized
// against every other in-flight write from the same account so nonces never
// collide (spec.md §4.C1). It blocks until at least one confirmation is
// observed, or the confirm timeout elapses.
func (c *Client) WriteContract(ctx context.Context, signer *AccountSigner, address common.Address, contractABI abi.ABI, method string, opts WriteOpts, args ...interface{}) (common.Hash, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chainclient: packing %s: %w", method, err)
	}

	release, err := c.nonces.acquire(ctx, signer.Address())
	if err != nil {
		return common.Hash{}, err
	}
	defer release()

	nonce, err := c.nonces.next(ctx, signer.Address())
	if err != nil {
		return common.Hash{}, err
	}

	gasPrice, err := c.raw.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, classifyRPCErr(err)
	}

	gasLimit := opts.GasLimit
	if gasLimit == 0 {
		est, err := c.raw.EstimateGas(ctx, ethereum.CallMsg{
			From: signer.Address(),
			To:   &address,
			Data: input,
		})
		if err != nil {
			if reason, ok := extractRevertReason(err); ok {
				return common.Hash{}, &domain.ContractRevertError{Reason: reason}
			}
			return common.Hash{}, classifyRPCErr(err)
		}
		gasLimit = est
	}

	value := opts.Value
	if value == nil {
		value = big.NewInt(0)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &address,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signedTx, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chainclient: signing tx: %w", err)
	}

	if c.paymasterURL != "" {
		if sponsored, err := c.trySponsoredSend(ctx, signedTx); err == nil {
			c.nonces.recordUsed(signer.Address(), nonce)
			return sponsored, nil
		}
		// Fall through to the non-sponsored path: spec.md §4.C6 requires a
		// fallback when the contract is not on the paymaster's allow-list.
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if err := c.raw.SendTransaction(sendCtx, signedTx); err != nil {
		return common.Hash{}, classifySendErr(err)
	}
	c.nonces.recordUsed(signer.Address(), nonce)

	if err := c.waitMined(ctx, signedTx.Hash()); err != nil {
		return signedTx.Hash(), err
	}
	return signedTx.Hash(), nil
}

// waitMined polls for a transaction receipt until one confirmation is
// observed or the confirm timeout elapses.
func (c *Client) waitMined(ctx context.Context, txHash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.raw.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == ethtypes.ReceiptStatusFailed {
				return &domain.ContractRevertError{Reason: "transaction reverted on-chain"}
			}
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return classifyRPCErr(err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("chainclient: wait for confirmation of %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// trySponsoredSend is the hook for a paymaster-compatible send. It makes no
// request to the paymaster and always returns an error, so WriteContract
// always falls back to a direct, non-sponsored send.
func (c *Client) trySponsoredSend(ctx context.Context, signedTx *ethtypes.Transaction) (common.Hash, error) {
	return common.Hash{}, errors.New("chainclient: sponsored send not supported")
}

// GetLogs fetches logs for query, transparently chunking the block range
// into windows no larger than maxChunk. On a chunk-level error, the chunk is
// retried at half its width, bottoming out at minChunk before the error is
// surfaced to the caller (spec.md §4.C1).
func (c *Client) GetLogs(ctx context.Context, address common.Address, fromBlock, toBlock uint64, topics [][]common.Hash, maxChunk, minChunk uint64) ([]ethtypes.Log, error) {
	return fetchLogsChunked(ctx, c.raw, c.callTimeout, address, fromBlock, toBlock, topics, maxChunk, minChunk)
}

// AccountSigner signs transactions for a single backend account. It is a
// thin wrapper so Client never has to hold a raw private key itself.
type AccountSigner struct {
	mu      sync.Mutex
	address common.Address
	signFn  func(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
}

// NewAccountSigner builds a signer from a hex-encoded secp256k1 private key
// (as returned by LoadBackendKey).
func NewAccountSigner(privateKeyHex string) (*AccountSigner, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("chainclient: invalid backend private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)

	return &AccountSigner{
		address: addr,
		signFn: func(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
			return ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(chainID), key)
		},
	}, nil
}

func (s *AccountSigner) Address() common.Address { return s.address }

func (s *AccountSigner) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signFn(tx, chainID)
}

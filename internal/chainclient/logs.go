package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// fetchLogsChunked implements the chunked getLogs contract from
// spec.md §4.C1: the [fromBlock, toBlock] range is split into windows of at
// most maxChunk blocks; a chunk that errors is retried at half its width,
// bottoming out at minChunk before the error is returned to the caller.
// Chunk order is preserved in the returned slice.
func fetchLogsChunked(ctx context.Context, raw *ethclient.Client, callTimeout time.Duration, address common.Address, fromBlock, toBlock uint64, topics [][]common.Hash, maxChunk, minChunk uint64) ([]ethtypes.Log, error) {
	if maxChunk == 0 {
		maxChunk = 10_000
	}
	if minChunk == 0 {
		minChunk = 500
	}
	if fromBlock > toBlock {
		return nil, nil
	}

	var out []ethtypes.Log
	start := fromBlock
	width := maxChunk

	for start <= toBlock {
		end := start + width - 1
		if end > toBlock {
			end = toBlock
		}

		logs, err := fetchLogsWindow(ctx, raw, callTimeout, address, start, end, topics)
		if err != nil {
			if width > minChunk {
				width = width / 2
				if width < minChunk {
					width = minChunk
				}
				continue // retry the same start at a narrower width
			}
			return nil, fmt.Errorf("chainclient: getLogs [%d,%d] at minimum chunk width %d: %w", start, end, minChunk, err)
		}

		out = append(out, logs...)
		start = end + 1
		width = maxChunk // widen back out after a successful chunk
	}

	return out, nil
}

func fetchLogsWindow(ctx context.Context, raw *ethclient.Client, callTimeout time.Duration, address common.Address, from, to uint64, topics [][]common.Hash) ([]ethtypes.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    topics,
	}

	logs, err := raw.FilterLogs(ctx, query)
	if err != nil {
		return nil, classifyRPCErr(err)
	}
	return logs, nil
}

package position

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sof-protocol/infofi-sync/internal/chainclient"
)

// ChainReader is the narrow subset of *chainclient.Client RaffleAdapter
// needs, kept as an interface so the adapter itself stays testable without
// a live RPC connection.
type ChainReader interface {
	ReadContract(ctx context.Context, address common.Address, contractABI abi.ABI, method string, opts *chainclient.ReadOpts, args ...interface{}) ([]interface{}, error)
}

// ChainWriter is the narrow subset of *chainclient.Client OracleAdapter
// needs.
type ChainWriter interface {
	WriteContract(ctx context.Context, signer *chainclient.AccountSigner, address common.Address, contractABI abi.ABI, method string, opts chainclient.WriteOpts, args ...interface{}) (common.Hash, error)
}

// RaffleAdapter implements SeasonReader against the on-chain raffle
// contract (getSeasonDetails / getParticipants / getParticipantPosition),
// per spec.md §6.
type RaffleAdapter struct {
	chain      ChainReader
	raffleABI  abi.ABI
	raffleAddr common.Address
}

// NewRaffleAdapter creates a SeasonReader backed by the given chain client.
func NewRaffleAdapter(chain ChainReader, raffleABI abi.ABI, raffleAddr common.Address) *RaffleAdapter {
	return &RaffleAdapter{chain: chain, raffleABI: raffleABI, raffleAddr: raffleAddr}
}

// TotalTickets reads Season.totalTickets via getSeasonDetails.
func (a *RaffleAdapter) TotalTickets(ctx context.Context, seasonID int64) (*big.Int, error) {
	out, err := a.chain.ReadContract(ctx, a.raffleAddr, a.raffleABI, "getSeasonDetails", nil, big.NewInt(seasonID))
	if err != nil {
		return nil, fmt.Errorf("raffle adapter: getSeasonDetails(%d): %w", seasonID, err)
	}
	if len(out) < 3 {
		return nil, fmt.Errorf("raffle adapter: getSeasonDetails(%d): unexpected output shape", seasonID)
	}
	total, ok := out[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("raffle adapter: getSeasonDetails(%d): totalTickets not a *big.Int", seasonID)
	}
	return total, nil
}

// Participants reads the season's full participant list, lowercased.
func (a *RaffleAdapter) Participants(ctx context.Context, seasonID int64) ([]string, error) {
	out, err := a.chain.ReadContract(ctx, a.raffleAddr, a.raffleABI, "getParticipants", nil, big.NewInt(seasonID))
	if err != nil {
		return nil, fmt.Errorf("raffle adapter: getParticipants(%d): %w", seasonID, err)
	}
	if len(out) < 1 {
		return nil, fmt.Errorf("raffle adapter: getParticipants(%d): unexpected output shape", seasonID)
	}
	addrs, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("raffle adapter: getParticipants(%d): unexpected return type", seasonID)
	}
	players := make([]string, len(addrs))
	for i, a := range addrs {
		players[i] = strings.ToLower(a.Hex())
	}
	return players, nil
}

// ParticipantTicketCount reads a single participant's ticket count via
// getParticipantPosition.
func (a *RaffleAdapter) ParticipantTicketCount(ctx context.Context, seasonID int64, player string) (*big.Int, error) {
	out, err := a.chain.ReadContract(ctx, a.raffleAddr, a.raffleABI, "getParticipantPosition", nil,
		big.NewInt(seasonID), common.HexToAddress(player))
	if err != nil {
		return nil, fmt.Errorf("raffle adapter: getParticipantPosition(%d, %s): %w", seasonID, player, err)
	}
	if len(out) < 1 {
		return nil, fmt.Errorf("raffle adapter: getParticipantPosition(%d, %s): unexpected output shape", seasonID, player)
	}
	tickets, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("raffle adapter: getParticipantPosition(%d, %s): ticketCount not a *big.Int", seasonID, player)
	}
	return tickets, nil
}

// OracleAdapter implements OracleWriter against the on-chain price oracle.
type OracleAdapter struct {
	chain      ChainWriter
	oracleABI  abi.ABI
	oracleAddr common.Address
	signer     *chainclient.AccountSigner
}

// NewOracleAdapter creates an OracleWriter backed by the given chain
// client and backend signer.
func NewOracleAdapter(chain ChainWriter, oracleABI abi.ABI, oracleAddr common.Address, signer *chainclient.AccountSigner) *OracleAdapter {
	return &OracleAdapter{chain: chain, oracleABI: oracleABI, oracleAddr: oracleAddr, signer: signer}
}

// UpdateRaffleProbability submits updateRaffleProbability(marketId, bps).
func (a *OracleAdapter) UpdateRaffleProbability(ctx context.Context, marketID int64, probabilityBps int64) error {
	_, err := a.chain.WriteContract(ctx, a.signer, a.oracleAddr, a.oracleABI, "updateRaffleProbability",
		chainclient.WriteOpts{}, big.NewInt(marketID), big.NewInt(probabilityBps))
	if err != nil {
		return fmt.Errorf("oracle adapter: updateRaffleProbability(%d, %d): %w", marketID, probabilityBps, err)
	}
	return nil
}

var (
	_ SeasonReader = (*RaffleAdapter)(nil)
	_ OracleWriter = (*OracleAdapter)(nil)
)

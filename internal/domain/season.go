package domain

import "math/big"

// Season is an external, read-only raffle round. The core never mutates it;
// it only reads totalTickets and per-participant ticket counts via the
// Chain Client. See spec.md §3 "Season".
type Season struct {
	SeasonID      int64
	TotalTickets  *big.Int
	Participants  []string // lowercased addresses
}

// ParticipantPosition is a single participant's ticket holdings within a
// season, as read from the chain. See spec.md §3 "Participant position".
type ParticipantPosition struct {
	SeasonID     int64
	Address      string
	TicketCount  *big.Int
}

// ProbabilityBps computes floor(ticketCount * 10000 / totalTickets), or 0 if
// totalTickets is zero. This is the single formula used everywhere a win
// probability is derived from ticket counts (spec.md §3).
func ProbabilityBps(ticketCount, totalTickets *big.Int) int64 {
	if totalTickets == nil || totalTickets.Sign() <= 0 {
		return 0
	}
	if ticketCount == nil || ticketCount.Sign() <= 0 {
		return 0
	}
	num := new(big.Int).Mul(ticketCount, big.NewInt(10000))
	return num.Div(num, totalTickets).Int64()
}

package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbabilityBps(t *testing.T) {
	t.Run("exact threshold", func(t *testing.T) {
		got := ProbabilityBps(big.NewInt(100), big.NewInt(10000))
		assert.Equal(t, int64(100), got)
	})

	t.Run("half of all tickets", func(t *testing.T) {
		got := ProbabilityBps(big.NewInt(5000), big.NewInt(10000))
		assert.Equal(t, int64(5000), got)
	})

	t.Run("zero total tickets yields zero", func(t *testing.T) {
		got := ProbabilityBps(big.NewInt(100), big.NewInt(0))
		assert.Equal(t, int64(0), got)
	})

	t.Run("nil total tickets yields zero", func(t *testing.T) {
		got := ProbabilityBps(big.NewInt(100), nil)
		assert.Equal(t, int64(0), got)
	})

	t.Run("nil ticket count yields zero", func(t *testing.T) {
		got := ProbabilityBps(nil, big.NewInt(10000))
		assert.Equal(t, int64(0), got)
	})

	t.Run("rounds down", func(t *testing.T) {
		// 333 / 10000 * 10000 = 333bps exactly; the second case truncates.
		got := ProbabilityBps(big.NewInt(333), big.NewInt(10000))
		assert.Equal(t, int64(333), got)

		got = ProbabilityBps(big.NewInt(1), big.NewInt(3))
		assert.Equal(t, int64(3333), got) // floor(10000/3) = 3333
	})

	t.Run("99 bps does not reach the 100 bps creation threshold", func(t *testing.T) {
		got := ProbabilityBps(big.NewInt(99), big.NewInt(10000))
		assert.Less(t, got, int64(100))
	})
}

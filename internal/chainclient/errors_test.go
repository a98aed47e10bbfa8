package chainclient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sof-protocol/infofi-sync/internal/domain"
)

func TestClassifyRPCErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"nonce too low", errors.New("nonce too low"), domain.ErrNonceConflict},
		{"out of gas", errors.New("out of gas"), domain.ErrOutOfGas},
		{"filter not found", errors.New("filter not found"), domain.ErrRpcTransient},
		{"too many requests", errors.New("429 Too Many Requests"), domain.ErrRpcTransient},
		{"unauthorized", errors.New("unauthorized: invalid api key"), domain.ErrRpcFatal},
		{"unknown defaults transient", errors.New("something weird happened"), domain.ErrRpcTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyRPCErr(tc.err)
			assert.True(t, errors.Is(got, tc.want), "expected %v to wrap %v, got %v", tc.err, tc.want, got)
		})
	}
}

func TestExtractRevertReason(t *testing.T) {
	t.Run("with reason", func(t *testing.T) {
		reason, ok := extractRevertReason(errors.New("execution reverted: market already created"))
		assert.True(t, ok)
		assert.Equal(t, "market already created", reason)
	})

	t.Run("without reason", func(t *testing.T) {
		reason, ok := extractRevertReason(errors.New("execution reverted"))
		assert.True(t, ok)
		assert.Equal(t, "execution reverted", reason)
	})

	t.Run("not a revert", func(t *testing.T) {
		_, ok := extractRevertReason(errors.New("connection refused"))
		assert.False(t, ok)
	})
}

package chainclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadContractSet(t *testing.T) {
	set, err := LoadContractSet()
	require.NoError(t, err)

	_, ok := set.Curve.Events["PositionUpdate"]
	assert.True(t, ok, "curve ABI should expose PositionUpdate")

	_, ok = set.Factory.Events["MarketCreated"]
	assert.True(t, ok, "factory ABI should expose MarketCreated")

	_, ok = set.Factory.Methods["onPositionUpdate"]
	assert.True(t, ok, "factory ABI should expose onPositionUpdate")

	_, ok = set.Oracle.Methods["updateRaffleProbability"]
	assert.True(t, ok, "oracle ABI should expose updateRaffleProbability")

	_, ok = set.Raffle.Events["SeasonCompleted"]
	assert.True(t, ok, "raffle ABI should expose SeasonCompleted")

	_, ok = set.FPMMManager.Methods["getPrices"]
	assert.True(t, ok, "fpmm manager ABI should expose getPrices")
}

func TestParseABI_BareArrayAndArtifact(t *testing.T) {
	bare := []byte(`[{"type":"function","name":"foo","stateMutability":"view","inputs":[],"outputs":[]}]`)
	parsed, err := parseABI(bare)
	require.NoError(t, err)
	_, ok := parsed.Methods["foo"]
	assert.True(t, ok)

	artifact := []byte(`{"abi":[{"type":"function","name":"bar","stateMutability":"view","inputs":[],"outputs":[]}],"bytecode":"0x"}`)
	parsed, err = parseABI(artifact)
	require.NoError(t, err)
	_, ok = parsed.Methods["bar"]
	assert.True(t, ok)
}

package chainclient

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abis/*.json
var embeddedABIs embed.FS

// hardhatArtifact is the subset of a Hardhat/Foundry build artifact this
// package cares about: the bare ABI array under the "abi" key. Contract
// addresses come from NetworkConfig, never from the artifact.
type hardhatArtifact struct {
	ABI json.RawMessage `json:"abi"`
}

// LoadABI parses a contract ABI from the embedded abis/ directory. name is
// the file's base name without extension (e.g. "raffle" loads
// abis/raffle.json). The file may be a bare ABI JSON array or a full
// Hardhat/Foundry artifact with an "abi" field; both are accepted.
func LoadABI(name string) (abi.ABI, error) {
	raw, err := embeddedABIs.ReadFile("abis/" + name + ".json")
	if err != nil {
		return abi.ABI{}, fmt.Errorf("chainclient: loading ABI %q: %w", name, err)
	}
	return parseABI(raw)
}

func parseABI(raw []byte) (abi.ABI, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		return abi.JSON(strings.NewReader(trimmed))
	}

	var artifact hardhatArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return abi.ABI{}, fmt.Errorf("chainclient: parsing artifact: %w", err)
	}
	if len(artifact.ABI) == 0 {
		return abi.ABI{}, fmt.Errorf("chainclient: artifact has no \"abi\" field")
	}
	return abi.JSON(strings.NewReader(string(artifact.ABI)))
}

// ContractSet bundles the parsed ABIs for every contract the sync core
// talks to, loaded once at startup from the embedded abis/ files. The
// matching addresses come from NetworkConfig.Addresses.
type ContractSet struct {
	Raffle      abi.ABI
	Curve       abi.ABI
	Factory     abi.ABI
	Oracle      abi.ABI
	FPMMManager abi.ABI
	SOF         abi.ABI
}

// LoadContractSet loads every ABI the sync core needs in one call.
func LoadContractSet() (ContractSet, error) {
	var (
		set ContractSet
		err error
	)
	if set.Raffle, err = LoadABI("raffle"); err != nil {
		return ContractSet{}, err
	}
	if set.Curve, err = LoadABI("curve"); err != nil {
		return ContractSet{}, err
	}
	if set.Factory, err = LoadABI("factory"); err != nil {
		return ContractSet{}, err
	}
	if set.Oracle, err = LoadABI("oracle"); err != nil {
		return ContractSet{}, err
	}
	if set.FPMMManager, err = LoadABI("fpmm_manager"); err != nil {
		return ContractSet{}, err
	}
	if set.SOF, err = LoadABI("sof"); err != nil {
		return ContractSet{}, err
	}
	return set, nil
}

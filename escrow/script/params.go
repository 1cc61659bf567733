package script

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkParams resolves a configured network name into chain parameters.
// Mainnet and testnet advertise the introspection extension; regtest mirrors
// testnet for local development. Unknown names fail instead of defaulting, so
// a typo can never silently select the wrong address encoding.
func NetworkParams(name string) (*ChainParams, error) {
	switch name {
	case "mainnet":
		return &ChainParams{Params: &chaincfg.MainNetParams, NativeIntrospection: true}, nil
	case "testnet":
		return &ChainParams{Params: &chaincfg.TestNet3Params, NativeIntrospection: true}, nil
	case "regtest":
		return &ChainParams{Params: &chaincfg.RegressionNetParams, NativeIntrospection: true}, nil
	case "legacy":
		// Pre-upgrade network without introspection opcodes. Escrow script
		// generation fails fast on it.
		return &ChainParams{Params: &chaincfg.MainNetParams, NativeIntrospection: false}, nil
	default:
		return nil, fmt.Errorf("script: unknown network %q", name)
	}
}

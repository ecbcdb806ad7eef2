// Copyright 2025 Certen Protocol
//
// Package bitcoin provides the wire types, address/script helpers and
// OP_RETURN payload codec used by the anchoring protocol. Serialization
// itself is delegated to btcsuite's wire/txscript packages rather than
// hand-rolled, so the BIP-141/143 contract is the well-tested upstream
// one, not a reimplementation.
package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

// Network identifies which Bitcoin network a redeem script / address was
// derived for. Anchoring configs are network-scoped; mixing networks
// produces addresses that simply won't match any real UTXO.
type Network int

const (
	Mainnet Network = iota
	Testnet
	Regtest
)

// Params returns the chaincfg.Params for the network, used for address
// encoding (bech32 human-readable part, base58 version bytes).
func (n Network) Params() (*chaincfg.Params, error) {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	case Testnet:
		return &chaincfg.TestNet3Params, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("bitcoin: unknown network %d", n)
	}
}

// String implements fmt.Stringer.
func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// ParseNetwork parses the network names used in AnchoringConfig YAML.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "mainnet":
		return Mainnet, nil
	case "testnet":
		return Testnet, nil
	case "regtest":
		return Regtest, nil
	default:
		return 0, fmt.Errorf("bitcoin: invalid network %q", s)
	}
}

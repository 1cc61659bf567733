// Package script implements the UTXO-chain escrow backend: a dual-branch
// covenant locking script per depositor and the transactions spending it.
package script

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"racewager/native/match"
)

// Transaction introspection opcodes from the chain's covenant extension.
// txscript does not name these, so the raw opcode bytes are pinned here as
// immutable configuration.
const (
	opTxOutputCount  = 0xc4
	opOutputBytecode = 0xcd
)

// lockTimeThreshold mirrors the consensus rule: locktime values below it are
// block heights, above it unix timestamps. Refund locktimes are heights.
const lockTimeThreshold = 500_000_000

// ChainParams couples the address-encoding parameters of the target network
// with its advertised script capabilities.
type ChainParams struct {
	*chaincfg.Params
	// NativeIntrospection reports whether the network activates the
	// transaction introspection opcodes the settlement branch requires.
	NativeIntrospection bool
}

// CovenantParams are the inputs to escrow script generation. Identical params
// always produce byte-identical scripts and addresses, so a depositor can
// verify the script before funding it.
type CovenantParams struct {
	PlayerAPubKey  []byte
	PlayerBPubKey  []byte
	OraclePubKey   []byte
	RefundLocktime uint64
}

func (p CovenantParams) validate() error {
	for name, pub := range map[string][]byte{
		"player a": p.PlayerAPubKey,
		"player b": p.PlayerBPubKey,
		"oracle":   p.OraclePubKey,
	} {
		if _, err := btcec.ParsePubKey(pub); err != nil {
			return fmt.Errorf("script: invalid %s public key: %w", name, err)
		}
	}
	if bytes.Equal(p.PlayerAPubKey, p.PlayerBPubKey) {
		return fmt.Errorf("script: players must use distinct keys")
	}
	if p.RefundLocktime == 0 || p.RefundLocktime >= lockTimeThreshold {
		return fmt.Errorf("script: refund locktime %d outside the block-height range", p.RefundLocktime)
	}
	return nil
}

// EscrowScripts holds the two generated deposit scripts. Both share the same
// arbiter branch; only the refund-branch signer differs.
type EscrowScripts struct {
	ScriptA  []byte
	ScriptB  []byte
	AddressA string
	AddressB string
}

// GenerateEscrowScripts builds the covenant script and derived P2SH address
// for each depositor. It fails fast with a capability error when the target
// network lacks the introspection extension; an unusable or insecure script
// is never emitted silently.
func GenerateEscrowScripts(p CovenantParams, chain *ChainParams) (*EscrowScripts, error) {
	scriptA, err := BuildCovenantScript(p, match.PlayerA, chain)
	if err != nil {
		return nil, err
	}
	scriptB, err := BuildCovenantScript(p, match.PlayerB, chain)
	if err != nil {
		return nil, err
	}
	addrA, err := DeriveEscrowAddress(scriptA, chain)
	if err != nil {
		return nil, err
	}
	addrB, err := DeriveEscrowAddress(scriptB, chain)
	if err != nil {
		return nil, err
	}
	return &EscrowScripts{ScriptA: scriptA, ScriptB: scriptB, AddressA: addrA, AddressB: addrB}, nil
}

// BuildCovenantScript assembles the dual-branch locking script for one
// depositor:
//
//	OP_IF
//	        <oracle pub> OP_CHECKSIGVERIFY
//	        OP_TXOUTPUTCOUNT OP_1 OP_NUMEQUALVERIFY
//	        OP_0 OP_OUTPUTBYTECODE
//	        OP_DUP <pkScript A> OP_EQUAL
//	        OP_SWAP <pkScript B> OP_EQUAL
//	        OP_BOOLOR
//	OP_ELSE
//	        <refund locktime> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	        <depositor pub> OP_CHECKSIG
//	OP_ENDIF
//
// The settlement branch constrains the spending transaction itself to a
// single output paying one of the two players, so even a compromised oracle
// key cannot redirect funds outside the registered pair.
func BuildCovenantScript(p CovenantParams, depositor match.Player, chain *ChainParams) ([]byte, error) {
	if chain == nil || chain.Params == nil {
		return nil, fmt.Errorf("script: chain params required")
	}
	if !chain.NativeIntrospection {
		return nil, match.NewCapabilityError("generate_escrow_script",
			"network %s does not activate transaction introspection", chain.Name)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	payoutA, err := payToPubKeyHashScript(p.PlayerAPubKey, chain.Params)
	if err != nil {
		return nil, err
	}
	payoutB, err := payToPubKeyHashScript(p.PlayerBPubKey, chain.Params)
	if err != nil {
		return nil, err
	}
	depositorPub := p.PlayerAPubKey
	if depositor == match.PlayerB {
		depositorPub = p.PlayerBPubKey
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF).
		AddData(p.OraclePubKey).AddOp(txscript.OP_CHECKSIGVERIFY).
		AddOp(opTxOutputCount).AddOp(txscript.OP_1).AddOp(txscript.OP_NUMEQUALVERIFY).
		AddOp(txscript.OP_0).AddOp(opOutputBytecode).
		AddOp(txscript.OP_DUP).AddData(payoutA).AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_SWAP).AddData(payoutB).AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_BOOLOR).
		AddOp(txscript.OP_ELSE).
		AddInt64(int64(p.RefundLocktime)).AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).AddOp(txscript.OP_DROP).
		AddData(depositorPub).AddOp(txscript.OP_CHECKSIG).
		AddOp(txscript.OP_ENDIF)

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("script: build covenant: %w", err)
	}
	return script, nil
}

// DeriveEscrowAddress hashes the redeem script into the chain's standard
// base58check pay-to-script-hash address.
func DeriveEscrowAddress(redeemScript []byte, chain *ChainParams) (string, error) {
	if chain == nil || chain.Params == nil {
		return "", fmt.Errorf("script: chain params required")
	}
	if len(redeemScript) == 0 {
		return "", fmt.Errorf("script: empty redeem script")
	}
	addr, err := btcutil.NewAddressScriptHash(redeemScript, chain.Params)
	if err != nil {
		return "", fmt.Errorf("script: derive escrow address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// PlayerAddress derives the base58check P2PKH address a player receives
// payouts at, matching the destination constrained inside the covenant.
func PlayerAddress(pubKey []byte, chain *ChainParams) (string, error) {
	if chain == nil || chain.Params == nil {
		return "", fmt.Errorf("script: chain params required")
	}
	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return "", fmt.Errorf("script: invalid public key: %w", err)
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), chain.Params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func payToPubKeyHashScript(pubKey []byte, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), params)
	if err != nil {
		return nil, fmt.Errorf("script: player payout address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("script: player payout script: %w", err)
	}
	return pkScript, nil
}

package script

import (
	"context"
	"fmt"

	"racewager/escrow"
	"racewager/native/match"
)

// Broadcaster hands a fully formed raw transaction to the submission layer
// and returns its transaction id. The transport is opaque to this backend.
type Broadcaster interface {
	Broadcast(ctx context.Context, action string, rawTx []byte) (string, error)
}

// Backend is the UTXO-chain implementation of the escrow capability. Custody
// is enforced at spend time by the covenant script; the validation guard is
// still run here before every submission so the script is never the only
// layer.
type Backend struct {
	chain       *ChainParams
	oraclePub   []byte
	fee         int64
	broadcaster Broadcaster
}

// NewBackend constructs the script escrow backend for one network.
func NewBackend(chain *ChainParams, oraclePub []byte, fee int64, broadcaster Broadcaster) *Backend {
	return &Backend{chain: chain, oraclePub: oraclePub, fee: fee, broadcaster: broadcaster}
}

var _ escrow.Backend = (*Backend)(nil)

// Generate derives both deposit covenant scripts and their P2SH addresses.
// The derivation is deterministic so depositors can audit the scripts before
// funding.
func (b *Backend) Generate(mc *match.MatchContext) (*escrow.DepositTargets, error) {
	if mc == nil {
		return nil, fmt.Errorf("script: nil match context")
	}
	if len(mc.PlayerA.PubKey) == 0 || len(mc.PlayerB.PubKey) == 0 {
		return nil, fmt.Errorf("script: player public keys required for script escrow")
	}
	scripts, err := GenerateEscrowScripts(CovenantParams{
		PlayerAPubKey:  mc.PlayerA.PubKey,
		PlayerBPubKey:  mc.PlayerB.PubKey,
		OraclePubKey:   b.oraclePub,
		RefundLocktime: mc.CreatedAtBlock + mc.RefundLocktimeBlocks,
	}, b.chain)
	if err != nil {
		return nil, err
	}
	return &escrow.DepositTargets{
		AddressA: scripts.AddressA,
		AddressB: scripts.AddressB,
		ScriptA:  scripts.ScriptA,
		ScriptB:  scripts.ScriptB,
	}, nil
}

// Settle validates the payout against the custody invariants, builds the
// settlement transaction spending both deposits and broadcasts it.
func (b *Backend) Settle(ctx context.Context, mc *match.MatchContext, typ match.SettlementType, outputs []match.Output) (string, error) {
	if err := match.ValidateCovenantReadiness(mc); err != nil {
		return "", err
	}
	if err := match.ValidateSettlementRequest(mc, match.SettlementRequest{Type: typ, Fee: b.fee}); err != nil {
		return "", err
	}
	if err := match.ValidateSettlementOutputs(mc, outputs); err != nil {
		return "", err
	}
	deposits := []DepositOutpoint{
		{TxID: mc.PlayerA.DepositTxID, Amount: mc.PlayerA.DepositAmount, RedeemScript: mc.PlayerA.EscrowScript},
		{TxID: mc.PlayerB.DepositTxID, Amount: mc.PlayerB.DepositAmount, RedeemScript: mc.PlayerB.EscrowScript},
	}
	tx, err := BuildSettlementTx(deposits, outputs, b.chain)
	if err != nil {
		return "", err
	}
	raw, err := SerializeTx(tx)
	if err != nil {
		return "", err
	}
	return b.broadcast(ctx, "settle:"+mc.ID, raw)
}

// Refund validates the single-sided timelock refund, builds the locktime
// transaction for the requesting player's deposit and broadcasts it.
func (b *Backend) Refund(ctx context.Context, mc *match.MatchContext, playerAddress string, currentHeight uint64) (string, error) {
	if err := match.ValidateCovenantReadiness(mc); err != nil {
		return "", err
	}
	out, err := match.BuildRefund(mc, playerAddress, currentHeight, b.fee)
	if err != nil {
		return "", err
	}
	slot := mc.PlayerA
	if playerAddress == mc.PlayerB.Address {
		slot = mc.PlayerB
	}
	deposit := DepositOutpoint{TxID: slot.DepositTxID, Amount: slot.DepositAmount, RedeemScript: slot.EscrowScript}
	tx, err := BuildRefundTx(deposit, out, mc.CreatedAtBlock+mc.RefundLocktimeBlocks, b.chain)
	if err != nil {
		return "", err
	}
	raw, err := SerializeTx(tx)
	if err != nil {
		return "", err
	}
	return b.broadcast(ctx, "refund:"+mc.ID+":"+playerAddress, raw)
}

func (b *Backend) broadcast(ctx context.Context, action string, raw []byte) (string, error) {
	if b.broadcaster == nil {
		return "", fmt.Errorf("script: broadcaster not configured")
	}
	txid, err := b.broadcaster.Broadcast(ctx, action, raw)
	if err != nil {
		return "", err
	}
	return txid, nil
}

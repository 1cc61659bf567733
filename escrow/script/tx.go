package script

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"racewager/native/match"
)

// escrowTxVersion pins the transaction version for escrow spends.
const escrowTxVersion = 2

// DepositOutpoint references one funded escrow UTXO. Deposit transactions pay
// the escrow at output index zero by construction.
type DepositOutpoint struct {
	TxID         string
	Vout         uint32
	Amount       int64
	RedeemScript []byte
}

func (d DepositOutpoint) outPoint() (*wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(d.TxID)
	if err != nil {
		return nil, fmt.Errorf("script: bad deposit txid %q: %w", d.TxID, err)
	}
	return wire.NewOutPoint(hash, d.Vout), nil
}

// BuildSettlementTx assembles the unsigned arbiter-settlement transaction
// spending both deposits into the validated payout outputs. The caller must
// have run the validation guard; this builder still refuses destinations it
// cannot encode for the configured network.
func BuildSettlementTx(deposits []DepositOutpoint, outputs []match.Output, chain *ChainParams) (*wire.MsgTx, error) {
	if chain == nil || chain.Params == nil {
		return nil, fmt.Errorf("script: chain params required")
	}
	if len(deposits) == 0 {
		return nil, fmt.Errorf("script: settlement requires at least one deposit")
	}
	if len(outputs) == 0 || len(outputs) > 2 {
		return nil, fmt.Errorf("script: settlement requires one or two outputs")
	}
	tx := wire.NewMsgTx(escrowTxVersion)
	for _, dep := range deposits {
		op, err := dep.outPoint()
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
	}
	for _, out := range outputs {
		pkScript, err := payoutScript(out.Address, chain)
		if err != nil {
			return nil, err
		}
		if out.Amount <= 0 {
			return nil, fmt.Errorf("script: output amount must be positive")
		}
		tx.AddTxOut(wire.NewTxOut(out.Amount, pkScript))
	}
	return tx, nil
}

// BuildRefundTx assembles the unsigned timelock-refund transaction spending a
// single deposit back to its depositor. The locktime is set to the refund
// eligibility height and the input sequence lowered so OP_CHECKLOCKTIMEVERIFY
// is enforced.
func BuildRefundTx(deposit DepositOutpoint, out match.Output, refundLocktime uint64, chain *ChainParams) (*wire.MsgTx, error) {
	if chain == nil || chain.Params == nil {
		return nil, fmt.Errorf("script: chain params required")
	}
	if refundLocktime == 0 || refundLocktime >= lockTimeThreshold {
		return nil, fmt.Errorf("script: refund locktime %d outside the block-height range", refundLocktime)
	}
	op, err := deposit.outPoint()
	if err != nil {
		return nil, err
	}
	pkScript, err := payoutScript(out.Address, chain)
	if err != nil {
		return nil, err
	}
	if out.Amount <= 0 {
		return nil, fmt.Errorf("script: refund amount must be positive")
	}
	tx := wire.NewMsgTx(escrowTxVersion)
	txIn := wire.NewTxIn(op, nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum - 1
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(out.Amount, pkScript))
	tx.LockTime = uint32(refundLocktime)
	return tx, nil
}

// SerializeTx renders the transaction in wire format for submission.
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("script: nil transaction")
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("script: serialize transaction: %w", err)
	}
	return buf.Bytes(), nil
}

func payoutScript(address string, chain *ChainParams) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, chain.Params)
	if err != nil {
		return nil, fmt.Errorf("script: bad payout address %q: %w", address, err)
	}
	if !addr.IsForNet(chain.Params) {
		return nil, fmt.Errorf("script: payout address %q is for another network", address)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("script: payout script for %q: %w", address, err)
	}
	return pkScript, nil
}

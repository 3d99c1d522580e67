package test

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/0xb10c/mempool-addrindex/src/types"
)

// Payment is an output of a test transaction.
type Payment struct {
	To    btcutil.Address
	Value int64
}

// Pay returns a Payment of `value` satoshis to the p2pkh address of `seed`.
func Pay(seed string, value int64) Payment {
	return Payment{To: GetAddress(seed), Value: value}
}

// Prevout is an output a test transaction spends.
type Prevout struct {
	OutPoint wire.OutPoint
	PkScript []byte
	Value    int64
	// Seed of the key that owns the output.
	Seed string
}

// PrevoutOf returns output `index` of `tx` as a Prevout owned by `seed`.
func PrevoutOf(tx *wire.MsgTx, index uint32, seed string) Prevout {
	hash := tx.TxHash()
	return Prevout{
		OutPoint: *wire.NewOutPoint(&hash, index),
		PkScript: tx.TxOut[index].PkScript,
		Value:    tx.TxOut[index].Value,
		Seed:     seed,
	}
}

// NewTx returns a transaction without inputs. The nonce makes otherwise
// identical transactions distinct.
func NewTx(nonce uint32, payments ...Payment) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = nonce
	for _, p := range payments {
		tx.AddTxOut(wire.NewTxOut(p.Value, PayToAddrScript(p.To)))
	}
	return tx
}

// NewSpendingTx returns a transaction spending `prevouts` with valid
// signatures. P2PKH prevouts get a signature script, P2WPKH prevouts a
// witness.
func NewSpendingTx(prevouts []Prevout, payments ...Payment) *wire.MsgTx {
	tx := NewTx(0, payments...)
	for _, prev := range prevouts {
		prev := prev
		tx.AddTxIn(wire.NewTxIn(&prev.OutPoint, nil, nil))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, prev := range prevouts {
		fetcher.AddPrevOut(prev.OutPoint, wire.NewTxOut(prev.Value, prev.PkScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, prev := range prevouts {
		privKey := GetPrivateKey(prev.Seed)
		if txscript.IsPayToWitnessPubKeyHash(prev.PkScript) {
			witness, err := txscript.WitnessSignature(
				tx, sigHashes, i, prev.Value, prev.PkScript,
				txscript.SigHashAll, privKey, true,
			)
			if err != nil {
				panic(err)
			}
			tx.TxIn[i].Witness = witness
			continue
		}

		sigScript, err := txscript.SignatureScript(
			tx, i, prev.PkScript, txscript.SigHashAll, privKey, true,
		)
		if err != nil {
			panic(err)
		}
		tx.TxIn[i].SignatureScript = sigScript
	}
	return tx
}

// TxID returns the index representation of the transaction hash.
func TxID(tx *wire.MsgTx) types.Hash32 {
	return types.NewHashFromChainhash(tx.TxHash())
}

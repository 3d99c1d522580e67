// Package script attributes transaction outputs and inputs to addresses.
package script

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"

	"github.com/0xb10c/mempool-addrindex/src/types"
)

// ErrUnresolvableInput is returned for inputs whose previous output is not
// known and whose signature script and witness reveal no owner.
var ErrUnresolvableInput = errors.New("input does not reveal the owner of the spent output")

// Resolver implements addrindex.AddressResolver with btcd's script engine.
type Resolver struct {
	params   *chaincfg.Params
	prevOuts PrevOutSource
}

// NewResolver returns a Resolver. prevOuts may be nil, in which case inputs
// are attributed from the key material they reveal only.
func NewResolver(params *chaincfg.Params, prevOuts PrevOutSource) *Resolver {
	return &Resolver{params: params, prevOuts: prevOuts}
}

// OutputAddress returns the single address out pays to.
func (r *Resolver) OutputAddress(out *wire.TxOut) (types.Address, bool, error) {
	return r.pkScriptAddress(out.PkScript)
}

// PreviousOutput returns the output in spends and the address owning it.
//
// The owner is taken from the spent output's script if the PrevOutSource
// knows it. Otherwise it is recovered from the input: the public key of a
// p2pkh or p2wpkh spend, or the redeem script of a p2sh spend.
func (r *Resolver) PreviousOutput(in *wire.TxIn) (types.OutputPoint, types.Address, bool, error) {
	prev := types.OutputPoint{
		TxID:  types.NewHashFromChainhash(in.PreviousOutPoint.Hash),
		Index: in.PreviousOutPoint.Index,
	}
	if isCoinbaseInput(in) {
		return prev, types.Address{}, false, nil
	}

	if r.prevOuts != nil {
		txOut, err := r.prevOuts.FetchPrevOut(in.PreviousOutPoint)
		switch {
		case err == nil:
			addr, ok, err := r.pkScriptAddress(txOut.PkScript)
			return prev, addr, ok, err
		case !IsErrorPrevOutNotFound(err):
			return prev, types.Address{}, false, errors.Wrapf(err, "could not fetch %s", in.PreviousOutPoint)
		}
	}

	addr, err := r.inputAddress(in)
	if err != nil {
		return prev, types.Address{}, false, err
	}
	key, err := types.NewAddress(addr)
	if err != nil {
		return prev, types.Address{}, false, err
	}
	return prev, key, true, nil
}

func (r *Resolver) pkScriptAddress(pkScript []byte) (types.Address, bool, error) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, r.params)
	if err != nil {
		return types.Address{}, false, errors.Wrap(err, "could not parse output script")
	}

	// Bare multisig pays several keys at once and null data pays nobody.
	if len(addrs) != 1 || class == txscript.MultiSigTy {
		return types.Address{}, false, nil
	}

	addr, err := types.NewAddress(addrs[0])
	if errors.Cause(err) == types.ErrUnsupportedAddressType {
		return types.Address{}, false, nil
	}
	if err != nil {
		return types.Address{}, false, err
	}
	return addr, true, nil
}

// inputAddress recovers the address of the output spent by in from the data
// the input pushes.
func (r *Resolver) inputAddress(in *wire.TxIn) (btcutil.Address, error) {
	var pushes [][]byte
	if len(in.SignatureScript) > 0 {
		var err error
		pushes, err = txscript.PushedData(in.SignatureScript)
		if err != nil {
			return nil, errors.Wrap(err, "could not parse signature script")
		}
		if len(pushes) == 0 || !txscript.IsPushOnlyScript(in.SignatureScript) {
			return nil, ErrUnresolvableInput
		}
	}

	switch {
	// native segwit: empty signature script, <sig> <pubkey> witness
	case len(pushes) == 0:
		if len(in.Witness) == 2 && isSignature(in.Witness[0]) && isPubKey(in.Witness[1]) {
			return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(in.Witness[1]), r.params)
		}
		return nil, ErrUnresolvableInput

	// p2pkh: <sig> <pubkey>
	case len(pushes) == 2 && isSignature(pushes[0]) && isPubKey(pushes[1]) && len(in.Witness) == 0:
		return btcutil.NewAddressPubKeyHash(btcutil.Hash160(pushes[1]), r.params)
	}

	// p2sh, including nested segwit: the last push is the redeem script
	redeemScript := pushes[len(pushes)-1]
	if txscript.IsPayToWitnessPubKeyHash(redeemScript) || txscript.IsPayToWitnessScriptHash(redeemScript) ||
		isRedeemScript(redeemScript) {
		return btcutil.NewAddressScriptHash(redeemScript, r.params)
	}
	return nil, ErrUnresolvableInput
}

func isCoinbaseInput(in *wire.TxIn) bool {
	return in.PreviousOutPoint.Index == wire.MaxPrevOutIndex &&
		in.PreviousOutPoint.Hash == (types.Hash32{}).Chainhash()
}

// isSignature reports whether data looks like a DER signature with a
// trailing sighash byte.
func isSignature(data []byte) bool {
	return len(data) >= 9 && len(data) <= 73 && data[0] == 0x30 && int(data[1]) == len(data)-3
}

func isPubKey(data []byte) bool {
	if len(data) != btcec.PubKeyBytesLenCompressed && len(data) != secp256k1.PubKeyBytesLenUncompressed {
		return false
	}
	_, err := btcec.ParsePubKey(data)
	return err == nil
}

// isRedeemScript reports whether data parses as a script that ends in a
// signature check, which is what p2sh redeem scripts in the wild do.
func isRedeemScript(data []byte) bool {
	tokenizer := txscript.MakeScriptTokenizer(0, data)
	var last byte
	n := 0
	for tokenizer.Next() {
		last = tokenizer.Opcode()
		n++
	}
	if tokenizer.Err() != nil || n == 0 {
		return false
	}
	return bytes.IndexByte([]byte{
		txscript.OP_CHECKSIG, txscript.OP_CHECKSIGVERIFY,
		txscript.OP_CHECKMULTISIG, txscript.OP_CHECKMULTISIGVERIFY,
		txscript.OP_ENDIF, txscript.OP_EQUAL, txscript.OP_EQUALVERIFY,
		txscript.OP_DROP, txscript.OP_CHECKLOCKTIMEVERIFY, txscript.OP_CHECKSEQUENCEVERIFY,
	}, last) >= 0
}

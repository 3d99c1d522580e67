package bitcoinrpcclient

import (
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"

	"github.com/0xb10c/mempool-addrindex/src/script"
)

// isRPCNoTxInfo reports whether the node answered that it does not know a
// transaction.
func isRPCNoTxInfo(err error) bool {
	var rpcErr *btcjson.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCNoTxInfo
}

// FetchPrevOut looks up the output op with `getrawtransaction`. Without
// `-txindex` the node only knows transactions in its mempool, which are
// exactly the ones the prevout store might have missed.
func (rpcClient *BitcoinRPCClient) FetchPrevOut(op wire.OutPoint) (*wire.TxOut, error) {
	tx, err := rpcClient.GetRawTransaction(&op.Hash)
	if isRPCNoTxInfo(err) {
		return nil, &script.ErrorPrevOutNotFound{OutPoint: op}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not get raw transaction %s", op.Hash)
	}

	txOuts := tx.MsgTx().TxOut
	if int(op.Index) >= len(txOuts) {
		return nil, &script.ErrorPrevOutNotFound{OutPoint: op}
	}
	return txOuts[op.Index], nil
}

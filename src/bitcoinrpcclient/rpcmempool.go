package bitcoinrpcclient

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/0xb10c/mempool-addrindex/src/types"
)

// GetRawMempoolVerboseResult implements the current version of `getrawmempool`.
// https://bitcoin.org/en/developer-reference#getrawmempool
// The version provided by btcsuite uses a deprecated format.
type GetRawMempoolVerboseResult struct {
	Weight            int32    `json:"weight"`
	Time              int64    `json:"time"`
	Height            int64    `json:"height"`
	Depends           []string `json:"depends"`
	Bip125Replaceable bool     `json:"bip125-replaceable"`
	Fees              struct {
		Base float64 `json:"base"`
	} `json:"fees"`
}

// GetRawMempoolVerbose returns the transactions in the mempool
func (rpcClient *BitcoinRPCClient) GetRawMempoolVerbose() (map[string]GetRawMempoolVerboseResult, error) {
	jsonArgVerbose, err := json.Marshal(true)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	rawResult, err := rpcClient.RawRequest("getrawmempool", []json.RawMessage{jsonArgVerbose})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var mempoolItems map[string]GetRawMempoolVerboseResult
	err = json.Unmarshal(rawResult, &mempoolItems)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return mempoolItems, nil
}

// MempoolEntry is a transaction in the node's mempool together with the
// time the node first saw it.
type MempoolEntry struct {
	TxID      types.Hash32
	FirstSeen time.Time
}

// RawMempoolToEntries converts the result of GetRawMempoolVerbose to a list
// of MempoolEntry, sorted by the time the node first saw them.
func RawMempoolToEntries(rpcMempool map[string]GetRawMempoolVerboseResult) ([]MempoolEntry, error) {
	res := make([]MempoolEntry, 0, len(rpcMempool))
	for txHashStr, txInfo := range rpcMempool {
		txid, err := types.NewHashFromStr(txHashStr)
		if err != nil {
			return nil, errors.Wrapf(err, "error decoding tx hash %s", txHashStr)
		}

		res = append(res, MempoolEntry{
			TxID:      txid,
			FirstSeen: time.Unix(txInfo.Time, 0).UTC(),
		})
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].FirstSeen.Equal(res[j].FirstSeen) {
			return res[i].FirstSeen.Before(res[j].FirstSeen)
		}
		return res[i].TxID.String() < res[j].TxID.String()
	})
	return res, nil
}

// GetRawMempoolTransactions returns all transactions in the node's mempool.
// Transactions that leave the mempool between the getrawmempool and the
// getrawtransaction call are skipped.
func (rpcClient *BitcoinRPCClient) GetRawMempoolTransactions() ([]types.Transaction, error) {
	mempool, err := rpcClient.GetRawMempoolVerbose()
	if err != nil {
		return nil, err
	}

	entries, err := RawMempoolToEntries(mempool)
	if err != nil {
		return nil, err
	}

	res := make([]types.Transaction, 0, len(entries))
	for _, entry := range entries {
		hash := entry.TxID.Chainhash()
		tx, err := rpcClient.GetRawTransaction(&hash)
		if isRPCNoTxInfo(err) {
			log.WithField("txid", entry.TxID).Debug("transaction left the mempool")
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not get raw transaction %s", entry.TxID)
		}
		res = append(res, types.Transaction{Tx: tx.MsgTx(), FirstSeen: entry.FirstSeen})
	}

	return res, nil
}

package types

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
)

// OutputPoint identifies a transaction output.
type OutputPoint struct {
	TxID  Hash32 `json:"txid"`
	Index uint32 `json:"vout"`
}

func (p OutputPoint) String() string {
	return fmt.Sprintf("%s:%d", p.TxID, p.Index)
}

// InputPoint identifies a transaction input.
type InputPoint struct {
	TxID  Hash32 `json:"txid"`
	Index uint32 `json:"vin"`
}

func (p InputPoint) String() string {
	return fmt.Sprintf("%s:%d", p.TxID, p.Index)
}

// SpendRecord says that the input at Point spends PreviousOutput.
// It is filed under the address that owned PreviousOutput.
type SpendRecord struct {
	Point          InputPoint  `json:"point"`
	PreviousOutput OutputPoint `json:"previousOutput"`
}

// OutputRecord says that the output at Point pays Value satoshis.
// It is filed under the output's destination address.
type OutputRecord struct {
	Point OutputPoint `json:"point"`
	Value uint64      `json:"value"`
}

// TimestampedEntry records when a transaction entered the index.
type TimestampedEntry struct {
	TxID      Hash32    `json:"txid"`
	FirstSeen time.Time `json:"firstSeen"`
}

// Transaction is an unconfirmed transaction and the time it was first seen.
type Transaction struct {
	Tx        *wire.MsgTx
	FirstSeen time.Time
}

// TxID returns the id of the transaction.
func (t Transaction) TxID() Hash32 {
	return NewHashFromChainhash(t.Tx.TxHash())
}

package addrindex

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/0xb10c/mempool-addrindex/src/types"
)

// AddressResolver attributes transaction outputs and inputs to addresses.
//
// Both methods run on the indexer's strand and must not block for long,
// since every queued operation waits for them.
type AddressResolver interface {
	// OutputAddress returns the destination of out. ok is false for outputs
	// that do not pay a single address (null data, bare multisig, ...);
	// those are not indexed. A non-nil error aborts the operation.
	OutputAddress(out *wire.TxOut) (addr types.Address, ok bool, err error)

	// PreviousOutput returns the output spent by in and the address that
	// owned it. ok is false for inputs that spend nothing (coinbase).
	// A non-nil error aborts the operation.
	PreviousOutput(in *wire.TxIn) (prev types.OutputPoint, addr types.Address, ok bool, err error)
}

package types

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// Block is a block and the time it was first seen.
type Block struct {
	Block     *wire.MsgBlock
	FirstSeen time.Time
}

// Hash returns the block hash.
func (b Block) Hash() Hash32 {
	return NewHashFromChainhash(b.Block.BlockHash())
}

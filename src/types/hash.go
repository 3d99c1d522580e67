package types

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Hash32 is a 32 byte / 256 bit hash.
// This hash is used for transaction IDs. The bytes are kept in internal
// byte order, the same order as chainhash.Hash.
type Hash32 [32]byte

// String returns the hash in the byte order used by the RPC interface and
// block explorers.
func (h Hash32) String() string {
	r := h.Reversed()
	return hex.EncodeToString(r[:])
}

// NewHashFromChainhash returns a new Hash32 from a btcd chainhash.
func NewHashFromChainhash(h chainhash.Hash) Hash32 {
	return Hash32(h)
}

// NewHashFromStr parses a hash in RPC byte order.
func NewHashFromStr(s string) (Hash32, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return Hash32{}, err
	}
	return Hash32(*h), nil
}

// Chainhash converts the hash back to btcd's representation.
func (h Hash32) Chainhash() chainhash.Hash {
	return chainhash.Hash(h)
}

// Reversed returns a Hash with the byte sequence in reverse order.
//
// bitcoind's ZMQ interface and parts of the btcd api hand out hashes in
// the internal byte order, while the RPC interface prints them reversed.
// This method helps converting between both representations.
//
// More info: https://bitcoin.stackexchange.com/a/32767/3811
func (h Hash32) Reversed() (res Hash32) {
	for i := range h {
		res[31-i] = h[i]
	}
	return
}

// MarshalText encodes the hash like String does, so that hashes show up in
// RPC byte order in JSON.
func (h Hash32) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (h *Hash32) UnmarshalText(text []byte) error {
	parsed, err := NewHashFromStr(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

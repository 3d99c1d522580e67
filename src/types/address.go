package types

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pkg/errors"
)

// AddressSize is the number of bytes an Address consumes. It consists of
// 1 byte address type + 20 bytes hash160.
const AddressSize = 1 + 20

const (
	// AddressTypePubKeyHash covers both pay-to-pubkey-hash and pay-to-pubkey
	// destinations. Both pay the same key, so they share an index entry.
	AddressTypePubKeyHash byte = 0

	// AddressTypeScriptHash is a pay-to-script-hash destination. It needs its
	// own type because a script hash might equal the hash of some pubkey.
	AddressTypeScriptHash byte = 1

	// AddressTypeWitnessPubKeyHash is a pay-to-witness-pubkey-hash
	// destination. The 20-byte witness program may equal a p2pkh push.
	AddressTypeWitnessPubKeyHash byte = 2

	// AddressTypeWitnessScriptHash is a pay-to-witness-script-hash
	// destination, keyed by the hash160 of the 32-byte program.
	AddressTypeWitnessScriptHash byte = 3

	// AddressTypeTaproot is a pay-to-taproot destination, keyed by the
	// hash160 of the 32-byte output key.
	AddressTypeTaproot byte = 4
)

// ErrUnsupportedAddressType is returned by NewAddress for address kinds that
// have no index key.
var ErrUnsupportedAddressType = errors.New("address type is not supported by the address index")

// Address is the index key of a payment destination. It is comparable and can
// be used as a map key. It does not depend on the network the address was
// encoded for.
type Address [AddressSize]byte

// NewAddress returns the index key for a decoded address.
func NewAddress(addr btcutil.Address) (Address, error) {
	var result Address
	switch addr := addr.(type) {
	case *btcutil.AddressPubKeyHash:
		result[0] = AddressTypePubKeyHash
		copy(result[1:], addr.Hash160()[:])

	case *btcutil.AddressPubKey:
		result[0] = AddressTypePubKeyHash
		copy(result[1:], addr.AddressPubKeyHash().Hash160()[:])

	case *btcutil.AddressScriptHash:
		result[0] = AddressTypeScriptHash
		copy(result[1:], addr.Hash160()[:])

	case *btcutil.AddressWitnessPubKeyHash:
		result[0] = AddressTypeWitnessPubKeyHash
		copy(result[1:], addr.Hash160()[:])

	case *btcutil.AddressWitnessScriptHash:
		// P2WSH programs are 32 bytes. Hash them down to 20 bytes to keep
		// every key the same size.
		result[0] = AddressTypeWitnessScriptHash
		copy(result[1:], btcutil.Hash160(addr.ScriptAddress()))

	case *btcutil.AddressTaproot:
		result[0] = AddressTypeTaproot
		copy(result[1:], btcutil.Hash160(addr.ScriptAddress()))

	default:
		return Address{}, errors.Wrapf(ErrUnsupportedAddressType, "%T", addr)
	}
	return result, nil
}

// Type returns the address type byte.
func (a Address) Type() byte {
	return a[0]
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

package test

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/0xb10c/mempool-addrindex/src/types"
)

// Params are the network parameters used by the test helpers.
var Params = &chaincfg.RegressionNetParams

// GenerateHash32 returns the hash of a provided preimage.
func GenerateHash32(seed string) types.Hash32 {
	return sha256.Sum256([]byte(seed))
}

// GetPrivateKey returns a private key derived from a fixed seed
func GetPrivateKey(seed string) *btcec.PrivateKey {
	secret := GenerateHash32("key-" + seed)
	privKey, _ := btcec.PrivKeyFromBytes(secret[:])
	return privKey
}

// GetPubKey returns the compressed public key for a seed
func GetPubKey(seed string) []byte {
	return GetPrivateKey(seed).PubKey().SerializeCompressed()
}

// GetAddress returns the p2pkh address for a seed
func GetAddress(seed string) *btcutil.AddressPubKeyHash {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(GetPubKey(seed)), Params)
	if err != nil {
		panic(err)
	}
	return addr
}

// GetWitnessAddress returns the p2wpkh address for a seed
func GetWitnessAddress(seed string) *btcutil.AddressWitnessPubKeyHash {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(GetPubKey(seed)), Params)
	if err != nil {
		panic(err)
	}
	return addr
}

// GetIndexAddress returns the index key of the p2pkh address for a seed
func GetIndexAddress(seed string) types.Address {
	addr, err := types.NewAddress(GetAddress(seed))
	if err != nil {
		panic(err)
	}
	return addr
}

// PayToAddrScript returns the output script paying to addr
func PayToAddrScript(addr btcutil.Address) []byte {
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		panic(err)
	}
	return pkScript
}

package types

import (
	"encoding/hex"
	"errors"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Address identifies an account. The zero value doubles as the issuance and
// destruction sentinel used in transfer events.
type Address = [20]byte

// ClassID identifies one fungible sub-denomination of the COMPUTE token. Each
// registered model owns exactly one class.
type ClassID = [32]byte

// ZeroAddress is the sentinel from/to account marking mints and burns.
var ZeroAddress = Address{}

// ClassIDForModel derives the canonical class identifier for a model name.
func ClassIDForModel(name string) ClassID {
	normalized := strings.ToLower(strings.TrimSpace(name))
	var id ClassID
	copy(id[:], ethcrypto.Keccak256([]byte(normalized)))
	return id
}

// FormatAddress renders an address as a 0x-prefixed lowercase hex string.
func FormatAddress(addr Address) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// FormatClassID renders a class identifier as a 0x-prefixed hex string.
func FormatClassID(id ClassID) string {
	return "0x" + hex.EncodeToString(id[:])
}

// ParseAddress decodes a 0x-prefixed or bare 40-character hex address.
func ParseAddress(value string) (Address, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(value)), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return Address{}, err
	}
	if len(decoded) != len(Address{}) {
		return Address{}, errors.New("types: address must be 20 bytes")
	}
	var addr Address
	copy(addr[:], decoded)
	return addr, nil
}

// ParseClassID decodes a 0x-prefixed or bare 64-character hex class identifier.
func ParseClassID(value string) (ClassID, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(value)), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return ClassID{}, err
	}
	if len(decoded) != len(ClassID{}) {
		return ClassID{}, errors.New("types: class id must be 32 bytes")
	}
	var id ClassID
	copy(id[:], decoded)
	return id, nil
}

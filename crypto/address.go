package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// Prefix is the human-readable part of every vault account address.
const Prefix = "vlt"

// Address represents a 20-byte vault account identifier.
type Address struct {
	bytes []byte
}

// NewAddress wraps a raw 20-byte identifier. It panics when the length is
// wrong because callers are expected to hand it validated material.
func NewAddress(b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	buf := make([]byte, 20)
	copy(buf, b)
	return Address{bytes: buf}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(Prefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// IsZero reports whether the address carries no identifier, i.e. it is the
// zero value and not a decoded account.
func (a Address) IsZero() bool {
	return len(a.bytes) == 0
}

func (a Address) Equal(b Address) bool {
	return bytes.Equal(a.bytes, b.bytes)
}

// DecodeAddress parses a bech32 account string and enforces the vault prefix
// and the 20-byte payload length.
func DecodeAddress(addrStr string) (Address, error) {
	hrp, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if hrp != Prefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", hrp)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address payload must be 20 bytes, got %d", len(conv))
	}
	return NewAddress(conv), nil
}

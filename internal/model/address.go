package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the size of an on-chain account or object address.
const AddressLength = 32

// Address is a 32-byte on-chain address.
type Address [AddressLength]byte

// ParseAddress converts a hex address into an Address. Short forms such as
// "0x1" are left-padded with zeros.
func ParseAddress(input string) (Address, error) {
	var addr Address
	trimmed := strings.TrimSpace(input)
	digits := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if digits == "" {
		return addr, fmt.Errorf("invalid address: %q", input)
	}
	if len(digits) > AddressLength*2 {
		return addr, fmt.Errorf("invalid address length: %s", input)
	}
	for _, c := range digits {
		if !isHexDigit(c) {
			return addr, fmt.Errorf("invalid address: %s", input)
		}
	}
	copy(addr[:], common.LeftPadBytes(common.FromHex(digits), AddressLength))
	return addr, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(input string) Address {
	addr, err := ParseAddress(input)
	if err != nil {
		panic(err)
	}
	return addr
}

// String returns the canonical long form: 0x followed by 64 hex digits.
func (a Address) String() string {
	return hexutil.Encode(a[:])
}

// IsZero reports whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func isHexDigit(c rune) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

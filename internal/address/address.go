// Package address handles 20-byte account addresses shared by the ledger,
// the asset registry and the marketplace.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Length is the byte length of an address.
const Length = 20

// Address is a lower-case, 0x-prefixed hex account address.
type Address string

// Zero is the all-zero address. Transfers to it are rejected.
const Zero Address = "0x0000000000000000000000000000000000000000"

var ErrInvalidAddress = errors.New("invalid address")

// Parse validates s and returns its normalized form.
func Parse(s string) (Address, error) {
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		return "", fmt.Errorf("%w: %q missing 0x prefix", ErrInvalidAddress, s)
	}
	body := raw[2:]
	if len(body) != Length*2 {
		return "", fmt.Errorf("%w: %q must have %d hex characters", ErrInvalidAddress, s, Length*2)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return Address("0x" + strings.ToLower(body)), nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }

func (a Address) IsZero() bool { return a == "" || a == Zero }

// Bytes returns the raw 20 bytes, or nil when a is malformed.
func (a Address) Bytes() []byte {
	b, err := hex.DecodeString(strings.TrimPrefix(string(a), "0x"))
	if err != nil || len(b) != Length {
		return nil
	}
	return b
}

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	return h.Sum(nil)
}

// FromHash takes the trailing 20 bytes of a 32-byte digest.
func FromHash(sum []byte) Address {
	return Address("0x" + hex.EncodeToString(sum[len(sum)-Length:]))
}

// Derive deterministically computes the address of a component deployed by
// deployer under label, e.g. Derive(deployer, "marketplace").
func Derive(deployer Address, label string) Address {
	return FromHash(Keccak256(deployer.Bytes(), []byte(":"+label)))
}

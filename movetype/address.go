// Package movetype models Move type tags and account addresses as they
// appear in module ABIs, composer requests and serialized scripts.
package movetype

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
)

// AddressLength is the length of an account address in bytes.
const AddressLength = 32

// Address is a 32-byte account address. It shares its representation with
// aptos.AccountAddress and converts to it freely.
type Address aptos.AccountAddress

// Well-known framework addresses.
var (
	AddressZero  = Address(aptos.AccountZero)
	AddressOne   = Address(aptos.AccountOne)
	AddressThree = Address(aptos.AccountThree)
	AddressFour  = Address(aptos.AccountFour)
)

// ErrInvalidAddress is returned when an address string cannot be parsed.
var ErrInvalidAddress = errors.New("invalid account address")

// ParseAddress parses an address in relaxed form: the 0x prefix is optional
// and short forms are zero-padded on the left.
func ParseAddress(s string) (Address, error) {
	var aa aptos.AccountAddress
	if err := aa.ParseStringRelaxed(strings.TrimSpace(s)); err != nil {
		return Address{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	return Address(aa), nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AccountAddress returns a as an aptos.AccountAddress.
func (a Address) AccountAddress() aptos.AccountAddress {
	return aptos.AccountAddress(a)
}

// IsSpecial reports whether the address is one of 0x0 through 0xf.
func (a Address) IsSpecial() bool {
	aa := aptos.AccountAddress(a)
	return aa.IsSpecial()
}

// String formats the address per AIP-40: special addresses use the short
// form, everything else the full 64 hex characters.
func (a Address) String() string {
	aa := aptos.AccountAddress(a)
	return aa.String()
}

// StringLong always formats all 64 hex characters.
func (a Address) StringLong() string {
	aa := aptos.AccountAddress(a)
	return aa.StringLong()
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

// MarshalBCS writes the address as 32 fixed bytes.
func (a *Address) MarshalBCS(ser *bcs.Serializer) {
	(*aptos.AccountAddress)(a).MarshalBCS(ser)
}

// UnmarshalBCS reads 32 fixed bytes.
func (a *Address) UnmarshalBCS(des *bcs.Deserializer) {
	(*aptos.AccountAddress)(a).UnmarshalBCS(des)
}

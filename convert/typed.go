package convert

import (
	"fmt"
	"math/big"

	"github.com/aptos-labs/aptos-go-sdk/bcs"

	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

// Typed is an argument value that already knows its Move type.
type Typed interface {
	bcs.Marshaler
	TypeTag() movetype.TypeTag
}

type (
	Bool       bool
	U8         uint8
	U16        uint16
	U32        uint32
	U64        uint64
	MoveString string
	Address    movetype.Address
)

func (v Bool) TypeTag() movetype.TypeTag { return movetype.Bool() }
func (v Bool) MarshalBCS(ser *bcs.Serializer) { ser.Bool(bool(v)) }
func (v U8) TypeTag() movetype.TypeTag { return movetype.U8() }
func (v U8) MarshalBCS(ser *bcs.Serializer) { ser.U8(uint8(v)) }
func (v U16) TypeTag() movetype.TypeTag { return movetype.U16() }
func (v U16) MarshalBCS(ser *bcs.Serializer) { ser.U16(uint16(v)) }
func (v U32) TypeTag() movetype.TypeTag { return movetype.U32() }
func (v U32) MarshalBCS(ser *bcs.Serializer) { ser.U32(uint32(v)) }
func (v U64) TypeTag() movetype.TypeTag { return movetype.U64() }
func (v U64) MarshalBCS(ser *bcs.Serializer) { ser.U64(uint64(v)) }
func (v MoveString) TypeTag() movetype.TypeTag { return movetype.StringStruct() }
func (v MoveString) MarshalBCS(ser *bcs.Serializer) { ser.WriteString(string(v)) }
func (v Address) TypeTag() movetype.TypeTag { return movetype.AddressTag() }
func (v Address) MarshalBCS(ser *bcs.Serializer) { ser.FixedBytes(v[:]) }

// U128 is a 128-bit unsigned integer argument.
type U128 struct{ V *big.Int }

// U256 is a 256-bit unsigned integer argument.
type U256 struct{ V *big.Int }

func (v U128) TypeTag() movetype.TypeTag { return movetype.U128() }

func (v U128) MarshalBCS(ser *bcs.Serializer) { writeBigUint(ser, v.V, 128) }

func (v U256) TypeTag() movetype.TypeTag { return movetype.U256() }

func (v U256) MarshalBCS(ser *bcs.Serializer) { writeBigUint(ser, v.V, 256) }

// writeBigUint writes v as a little-endian unsigned integer of the given
// width.
func writeBigUint(ser *bcs.Serializer, v *big.Int, bits int) {
	if v == nil || v.Sign() < 0 || v.BitLen() > bits {
		ser.SetError(fmt.Errorf("value %v out of range for u%d", v, bits))
		return
	}
	if bits == 128 {
		ser.U128(*v)
		return
	}
	ser.U256(*v)
}

// MoveVector is a vector<Elem> argument.
type MoveVector struct {
	Elem   movetype.TypeTag
	Values []Typed
}

// U8Vector is shorthand for a vector<u8>.
func U8Vector(b []byte) MoveVector {
	values := make([]Typed, len(b))
	for i, c := range b {
		values[i] = U8(c)
	}
	return MoveVector{Elem: movetype.U8(), Values: values}
}

func (v MoveVector) TypeTag() movetype.TypeTag { return movetype.Vector(v.Elem) }

func (v MoveVector) MarshalBCS(ser *bcs.Serializer) {
	ser.Uleb128(uint32(len(v.Values)))
	for _, val := range v.Values {
		val.MarshalBCS(ser)
	}
}

// MoveOption is an 0x1::option::Option<Elem> argument. A nil Value is none.
type MoveOption struct {
	Elem  movetype.TypeTag
	Value Typed
}

func (v MoveOption) TypeTag() movetype.TypeTag { return movetype.OptionStruct(v.Elem) }

func (v MoveOption) MarshalBCS(ser *bcs.Serializer) {
	if v.Value == nil {
		ser.Uleb128(0)
		return
	}
	ser.Uleb128(1)
	v.Value.MarshalBCS(ser)
}

// Serialized is a value that is already BCS encoded. It is written verbatim
// and is never type checked.
type Serialized []byte

func (v Serialized) MarshalBCS(ser *bcs.Serializer) { ser.FixedBytes(v) }

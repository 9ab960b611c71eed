package composer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/aptos-labs/aptos-go-sdk/bcs"

	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

// ScriptArgumentKind is the BCS variant of a ScriptArgument.
type ScriptArgumentKind uint8

const (
	ScriptArgumentU8 ScriptArgumentKind = iota
	ScriptArgumentU64
	ScriptArgumentU128
	ScriptArgumentAddress
	ScriptArgumentU8Vector
	ScriptArgumentBool
	ScriptArgumentU16
	ScriptArgumentU32
	ScriptArgumentU256
	ScriptArgumentSerialized
)

// ScriptArgument is an argument passed to a script entry point.
//
// Value holds uint8, uint16, uint32, uint64, *big.Int (u128 and u256),
// movetype.Address, bool, or []byte (u8 vectors and serialized values).
type ScriptArgument struct {
	Kind  ScriptArgumentKind
	Value any
}

// MarshalBCS implements bcs.Marshaler.
func (a *ScriptArgument) MarshalBCS(ser *bcs.Serializer) {
	ser.Uleb128(uint32(a.Kind))
	ok := true
	switch a.Kind {
	case ScriptArgumentU8:
		var v uint8
		if v, ok = a.Value.(uint8); ok {
			ser.U8(v)
		}
	case ScriptArgumentU16:
		var v uint16
		if v, ok = a.Value.(uint16); ok {
			ser.U16(v)
		}
	case ScriptArgumentU32:
		var v uint32
		if v, ok = a.Value.(uint32); ok {
			ser.U32(v)
		}
	case ScriptArgumentU64:
		var v uint64
		if v, ok = a.Value.(uint64); ok {
			ser.U64(v)
		}
	case ScriptArgumentU128, ScriptArgumentU256:
		bits := 128
		if a.Kind == ScriptArgumentU256 {
			bits = 256
		}
		var v *big.Int
		if v, ok = a.Value.(*big.Int); ok {
			ok = v != nil && v.Sign() >= 0 && v.BitLen() <= bits
		}
		if ok && bits == 128 {
			ser.U128(*v)
		} else if ok {
			ser.U256(*v)
		}
	case ScriptArgumentAddress:
		var v movetype.Address
		if v, ok = a.Value.(movetype.Address); ok {
			v.MarshalBCS(ser)
		}
	case ScriptArgumentBool:
		var v bool
		if v, ok = a.Value.(bool); ok {
			ser.Bool(v)
		}
	case ScriptArgumentU8Vector, ScriptArgumentSerialized:
		var v []byte
		if v, ok = a.Value.([]byte); ok {
			ser.WriteBytes(v)
		}
	default:
		ser.SetError(fmt.Errorf("unknown script argument kind %d", a.Kind))
		return
	}
	if !ok {
		ser.SetError(fmt.Errorf("script argument kind %d cannot hold %T", a.Kind, a.Value))
	}
}

// UnmarshalBCS implements bcs.Unmarshaler.
func (a *ScriptArgument) UnmarshalBCS(des *bcs.Deserializer) {
	kind := ScriptArgumentKind(des.Uleb128())
	if des.Error() != nil {
		return
	}
	a.Kind = kind
	switch kind {
	case ScriptArgumentU8:
		a.Value = des.U8()
	case ScriptArgumentU16:
		a.Value = des.U16()
	case ScriptArgumentU32:
		a.Value = des.U32()
	case ScriptArgumentU64:
		a.Value = des.U64()
	case ScriptArgumentU128:
		v := des.U128()
		a.Value = &v
	case ScriptArgumentU256:
		v := des.U256()
		a.Value = &v
	case ScriptArgumentAddress:
		var addr movetype.Address
		addr.UnmarshalBCS(des)
		a.Value = addr
	case ScriptArgumentBool:
		a.Value = des.Bool()
	case ScriptArgumentU8Vector, ScriptArgumentSerialized:
		a.Value = des.ReadBytes()
	default:
		des.SetError(fmt.Errorf("unknown script argument variant %d", kind))
	}
}

// Script is a compiled script with its type arguments and arguments.
type Script struct {
	Code     []byte
	TypeArgs []movetype.TypeTag
	Args     []ScriptArgument
}

// MarshalBCS implements bcs.Marshaler.
func (s *Script) MarshalBCS(ser *bcs.Serializer) {
	ser.WriteBytes(s.Code)
	movetype.MarshalTypeTags(ser, s.TypeArgs)
	ser.Uleb128(uint32(len(s.Args)))
	for i := range s.Args {
		s.Args[i].MarshalBCS(ser)
	}
}

// UnmarshalBCS implements bcs.Unmarshaler.
func (s *Script) UnmarshalBCS(des *bcs.Deserializer) {
	s.Code = des.ReadBytes()
	s.TypeArgs = movetype.UnmarshalTypeTags(des)
	n := des.Uleb128()
	if des.Error() != nil {
		return
	}
	if int(n) > des.Remaining() {
		des.SetError(fmt.Errorf("script argument count %d exceeds remaining input", n))
		return
	}
	s.Args = make([]ScriptArgument, n)
	for i := range s.Args {
		s.Args[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return
		}
	}
}

// transactionPayloadScriptVariant is the TransactionPayload enum index of
// Script.
const transactionPayloadScriptVariant = 0

// TransactionPayloadScript is the script variant of a transaction payload.
type TransactionPayloadScript struct {
	Script Script
}

// MarshalBCS writes the payload variant followed by the script.
func (p *TransactionPayloadScript) MarshalBCS(ser *bcs.Serializer) {
	ser.Uleb128(transactionPayloadScriptVariant)
	p.Script.MarshalBCS(ser)
}

// UnmarshalBCS reads a script payload written by MarshalBCS.
func (p *TransactionPayloadScript) UnmarshalBCS(des *bcs.Deserializer) {
	variant := des.Uleb128()
	if des.Error() != nil {
		return
	}
	if variant != transactionPayloadScriptVariant {
		des.SetError(fmt.Errorf("transaction payload variant %d is not a script", variant))
		return
	}
	p.Script.UnmarshalBCS(des)
}

// Bytes returns the BCS encoding of the payload, variant included.
func (p *TransactionPayloadScript) Bytes() ([]byte, error) {
	return bcs.Serialize(p)
}

// ErrTrailingBytes is returned when decoded input has bytes left over.
var ErrTrailingBytes = errors.New("trailing bytes after script")

// LoadTransactionPayloadScript decodes a bare BCS Script, as produced by the
// composer, into a script payload.
func LoadTransactionPayloadScript(b []byte) (*TransactionPayloadScript, error) {
	p := &TransactionPayloadScript{}
	if err := decodeAll(b, p.Script.UnmarshalBCS); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return p, nil
}

// DecodeTransactionPayloadScript decodes the output of Bytes: a
// TransactionPayload that must be the script variant.
func DecodeTransactionPayloadScript(b []byte) (*TransactionPayloadScript, error) {
	p := &TransactionPayloadScript{}
	if err := decodeAll(b, p.UnmarshalBCS); err != nil {
		return nil, fmt.Errorf("decode script payload: %w", err)
	}
	return p, nil
}

func decodeAll(b []byte, fn func(*bcs.Deserializer)) error {
	des := bcs.NewDeserializer(b)
	fn(des)
	if err := des.Error(); err != nil {
		return err
	}
	if n := des.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, n)
	}
	return nil
}

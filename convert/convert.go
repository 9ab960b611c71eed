// Package convert turns loosely typed Go values into BCS encoded Move
// arguments, using a module ABI to decide the target type of each argument.
package convert

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk/bcs"

	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

// Options controls argument conversion.
type Options struct {
	// AllowUnknownStructs accepts any typed value for struct parameters
	// other than String, Option and Object.
	AllowUnknownStructs bool
}

var (
	// ErrTooManyArguments is returned when the position is past the last param.
	ErrTooManyArguments = errors.New("too many arguments")
	// ErrTypeMismatch is returned when a value does not fit its parameter.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Argument converts arg, the position-th argument of functionName, to its
// BCS encoding. Positions index the raw ABI params, signers included.
// Generic parameters resolve through typeArgs.
func Argument(
	functionName string,
	module *moveabi.MoveModule,
	arg any,
	position int,
	typeArgs []movetype.TypeTag,
	opts Options,
) ([]byte, error) {
	if module == nil {
		return nil, errors.New("module ABI is nil")
	}
	fn := module.Function(functionName)
	if fn == nil {
		return nil, fmt.Errorf("could not find function ABI for '%s::%s'", module.ID(), functionName)
	}
	if position >= len(fn.Params) {
		return nil, fmt.Errorf("%w for '%s', expected %d", ErrTooManyArguments, functionName, len(fn.Params))
	}
	param, err := movetype.ParseTypeTag(fn.Params[position], true)
	if err != nil {
		return nil, err
	}
	param, err = param.Substitute(typeArgs)
	if err != nil {
		return nil, fmt.Errorf("argument %d: %w", position, err)
	}
	return Encode(arg, param, position, opts)
}

// Encode converts arg to the BCS encoding of a value of type param.
func Encode(arg any, param movetype.TypeTag, position int, opts Options) ([]byte, error) {
	ser := &bcs.Serializer{}
	if err := encode(ser, arg, param, position, opts); err != nil {
		return nil, err
	}
	if err := ser.Error(); err != nil {
		return nil, fmt.Errorf("argument %d: %w", position, err)
	}
	return ser.ToBytes(), nil
}

func mismatch(position int, param movetype.TypeTag, arg any) error {
	return fmt.Errorf("%w for argument %d, type '%s': cannot use %T", ErrTypeMismatch, position, param, arg)
}

func encode(ser *bcs.Serializer, arg any, param movetype.TypeTag, position int, opts Options) error {
	switch v := arg.(type) {
	case Serialized:
		v.MarshalBCS(ser)
		return nil
	case Typed:
		if !typeAccepts(param, v.TypeTag(), opts) {
			return fmt.Errorf("%w for argument %d, type '%s': got typed value of type '%s'",
				ErrTypeMismatch, position, param, v.TypeTag())
		}
		v.MarshalBCS(ser)
		return nil
	}

	switch param.Kind {
	case movetype.KindBool:
		b, ok := toBool(arg)
		if !ok {
			return mismatch(position, param, arg)
		}
		ser.Bool(b)
	case movetype.KindU8, movetype.KindU16, movetype.KindU32, movetype.KindU64,
		movetype.KindU128, movetype.KindU256:
		return encodeUint(ser, arg, param, position)
	case movetype.KindAddress:
		addr, err := toAddress(arg)
		if err != nil {
			return fmt.Errorf("argument %d: %w", position, err)
		}
		ser.FixedBytes(addr[:])
	case movetype.KindSigner, movetype.KindReference:
		return fmt.Errorf("%w for argument %d, type '%s': only a call argument can supply signers and references",
			ErrTypeMismatch, position, param)
	case movetype.KindVector:
		return encodeVector(ser, arg, param, position, opts)
	case movetype.KindStruct:
		return encodeStruct(ser, arg, param, position, opts)
	default:
		return fmt.Errorf("argument %d: unsupported parameter type '%s'", position, param)
	}
	return nil
}

func encodeUint(ser *bcs.Serializer, arg any, param movetype.TypeTag, position int) error {
	n, ok := toBigInt(arg)
	if !ok {
		return mismatch(position, param, arg)
	}
	bits := map[movetype.Kind]int{
		movetype.KindU8:   8,
		movetype.KindU16:  16,
		movetype.KindU32:  32,
		movetype.KindU64:  64,
		movetype.KindU128: 128,
		movetype.KindU256: 256,
	}[param.Kind]
	if n.Sign() < 0 || n.BitLen() > bits {
		return fmt.Errorf("argument %d: value %s out of range for %s", position, n, param)
	}
	switch bits {
	case 8:
		ser.U8(uint8(n.Uint64()))
	case 16:
		ser.U16(uint16(n.Uint64()))
	case 32:
		ser.U32(uint32(n.Uint64()))
	case 64:
		ser.U64(n.Uint64())
	default:
		writeBigUint(ser, n, bits)
	}
	return nil
}

func encodeVector(ser *bcs.Serializer, arg any, param movetype.TypeTag, position int, opts Options) error {
	elem := *param.Elem
	if elem.Kind == movetype.KindU8 {
		switch v := arg.(type) {
		case []byte:
			ser.WriteBytes(v)
			return nil
		case string:
			if !strings.HasPrefix(strings.TrimSpace(v), "[") {
				b, err := hex.DecodeString(strings.TrimPrefix(v, "0x"))
				if err != nil {
					return fmt.Errorf("argument %d: vector<u8> string must be hex: %w", position, err)
				}
				ser.WriteBytes(b)
				return nil
			}
		}
	}

	if s, ok := arg.(string); ok && strings.HasPrefix(strings.TrimSpace(s), "[") {
		var items []any
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		if err := dec.Decode(&items); err != nil {
			return fmt.Errorf("argument %d: parse vector literal: %w", position, err)
		}
		arg = items
	}

	rv := reflect.ValueOf(arg)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return mismatch(position, param, arg)
	}
	ser.Uleb128(uint32(rv.Len()))
	for i := 0; i < rv.Len(); i++ {
		if err := encode(ser, rv.Index(i).Interface(), elem, position, opts); err != nil {
			return err
		}
	}
	return nil
}

func encodeStruct(ser *bcs.Serializer, arg any, param movetype.TypeTag, position int, opts Options) error {
	switch {
	case param.IsString():
		s, ok := arg.(string)
		if !ok {
			return mismatch(position, param, arg)
		}
		ser.WriteString(s)
		return nil
	case param.IsObject():
		addr, err := toAddress(arg)
		if err != nil {
			return fmt.Errorf("argument %d: %w", position, err)
		}
		ser.FixedBytes(addr[:])
		return nil
	case param.IsOption():
		inner := param.Struct.TypeArgs[0]
		if arg == nil {
			ser.Uleb128(0)
			return nil
		}
		rv := reflect.ValueOf(arg)
		if rv.Kind() == reflect.Slice && inner.Kind != movetype.KindVector {
			switch rv.Len() {
			case 0:
				ser.Uleb128(0)
				return nil
			case 1:
				arg = rv.Index(0).Interface()
			default:
				return fmt.Errorf("argument %d: option takes at most one value, got %d", position, rv.Len())
			}
		}
		ser.Uleb128(1)
		return encode(ser, arg, inner, position, opts)
	}
	return fmt.Errorf("unsupported struct input type for argument %d, type '%s'", position, param)
}

// typeAccepts reports whether a typed value of type got may be passed for param.
func typeAccepts(param, got movetype.TypeTag, opts Options) bool {
	if param.Kind == movetype.KindStruct {
		if param.IsObject() && got.Kind == movetype.KindAddress {
			return true
		}
		if !param.IsString() && !param.IsOption() && !param.IsObject() && opts.AllowUnknownStructs {
			return true
		}
	}
	if param.Kind == movetype.KindVector && got.Kind == movetype.KindVector {
		return typeAccepts(*param.Elem, *got.Elem, opts)
	}
	return param.Equal(got)
}

func toBool(arg any) (bool, bool) {
	switch v := arg.(type) {
	case bool:
		return v, true
	case string:
		switch v {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func toBigInt(arg any) (*big.Int, bool) {
	switch v := arg.(type) {
	case *big.Int:
		if v == nil {
			return nil, false
		}
		return new(big.Int).Set(v), true
	case big.Int:
		return new(big.Int).Set(&v), true
	case json.Number:
		return toBigInt(string(v))
	case string:
		n, ok := new(big.Int).SetString(strings.TrimSpace(v), 0)
		return n, ok
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return nil, false
		}
		return big.NewInt(int64(v)), true
	case float32:
		return toBigInt(float64(v))
	}
	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return new(big.Int).SetUint64(rv.Uint()), true
	}
	return nil, false
}

func toAddress(arg any) (movetype.Address, error) {
	switch v := arg.(type) {
	case string:
		return movetype.ParseAddress(v)
	case json.Number:
		if strings.HasPrefix(string(v), "0x") {
			return movetype.ParseAddress(string(v))
		}
	case movetype.Address:
		return v, nil
	case *movetype.Address:
		if v != nil {
			return *v, nil
		}
	case [movetype.AddressLength]byte:
		return movetype.Address(v), nil
	}
	return movetype.Address{}, fmt.Errorf("%w: cannot use %T as an address", ErrTypeMismatch, arg)
}

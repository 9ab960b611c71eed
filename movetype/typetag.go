package movetype

import (
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
)

// Kind identifies the shape of a TypeTag.
type Kind uint8

const (
	KindBool Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindAddress
	KindSigner
	KindVector
	KindStruct
	KindReference
	KindGeneric
)

var primitiveNames = map[string]Kind{
	"bool":    KindBool,
	"u8":      KindU8,
	"u16":     KindU16,
	"u32":     KindU32,
	"u64":     KindU64,
	"u128":    KindU128,
	"u256":    KindU256,
	"address": KindAddress,
	"signer":  KindSigner,
}

// TypeTag is a Move type.
//
// Elem is set for vectors and references, Struct for structs and Index for
// generic type parameters.
type TypeTag struct {
	Kind    Kind
	Elem    *TypeTag
	Mutable bool
	Struct  *StructTag
	Index   uint16
}

// StructTag names a struct type, possibly instantiated with type arguments.
type StructTag struct {
	Address  Address
	Module   string
	Name     string
	TypeArgs []TypeTag
}

// Primitive constructors.
func Bool() TypeTag { return TypeTag{Kind: KindBool} }
func U8() TypeTag { return TypeTag{Kind: KindU8} }
func U16() TypeTag { return TypeTag{Kind: KindU16} }
func U32() TypeTag { return TypeTag{Kind: KindU32} }
func U64() TypeTag { return TypeTag{Kind: KindU64} }
func U128() TypeTag { return TypeTag{Kind: KindU128} }
func U256() TypeTag { return TypeTag{Kind: KindU256} }
func AddressTag() TypeTag { return TypeTag{Kind: KindAddress} }
func Signer() TypeTag { return TypeTag{Kind: KindSigner} }

// Vector returns vector<elem>.
func Vector(elem TypeTag) TypeTag {
	return TypeTag{Kind: KindVector, Elem: &elem}
}

// Reference returns &inner or &mut inner.
func Reference(inner TypeTag, mutable bool) TypeTag {
	return TypeTag{Kind: KindReference, Elem: &inner, Mutable: mutable}
}

// Generic returns the generic type parameter T<index>.
func Generic(index uint16) TypeTag {
	return TypeTag{Kind: KindGeneric, Index: index}
}

// Struct returns addr::module::name<typeArgs...>.
func Struct(addr Address, module, name string, typeArgs ...TypeTag) TypeTag {
	return TypeTag{Kind: KindStruct, Struct: &StructTag{
		Address:  addr,
		Module:   module,
		Name:     name,
		TypeArgs: typeArgs,
	}}
}

// StringStruct returns 0x1::string::String.
func StringStruct() TypeTag {
	return Struct(AddressOne, "string", "String")
}

// OptionStruct returns 0x1::option::Option<inner>.
func OptionStruct(inner TypeTag) TypeTag {
	return Struct(AddressOne, "option", "Option", inner)
}

// ObjectStruct returns 0x1::object::Object<inner>.
func ObjectStruct(inner TypeTag) TypeTag {
	return Struct(AddressOne, "object", "Object", inner)
}

func (t TypeTag) isFramework(module, name string) bool {
	return t.Kind == KindStruct &&
		t.Struct.Address == AddressOne &&
		t.Struct.Module == module &&
		t.Struct.Name == name
}

// IsString reports whether t is 0x1::string::String.
func (t TypeTag) IsString() bool { return t.isFramework("string", "String") }

// IsOption reports whether t is 0x1::option::Option<_>.
func (t TypeTag) IsOption() bool { return t.isFramework("option", "Option") }

// IsObject reports whether t is 0x1::object::Object<_>.
func (t TypeTag) IsObject() bool { return t.isFramework("object", "Object") }

// IsSigner reports whether t is signer or a reference to signer.
func (t TypeTag) IsSigner() bool {
	if t.Kind == KindReference {
		return t.Elem.IsSigner()
	}
	return t.Kind == KindSigner
}

// IsPrimitive reports whether t is a numeric, bool or address type.
func (t TypeTag) IsPrimitive() bool {
	return t.Kind <= KindAddress
}

// String formats t the way Move prints types, with canonical addresses.
func (t TypeTag) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t TypeTag) write(b *strings.Builder) {
	switch t.Kind {
	case KindVector:
		b.WriteString("vector<")
		t.Elem.write(b)
		b.WriteByte('>')
	case KindReference:
		if t.Mutable {
			b.WriteString("&mut ")
		} else {
			b.WriteByte('&')
		}
		t.Elem.write(b)
	case KindGeneric:
		fmt.Fprintf(b, "T%d", t.Index)
	case KindStruct:
		b.WriteString(t.Struct.Address.String())
		b.WriteString("::")
		b.WriteString(t.Struct.Module)
		b.WriteString("::")
		b.WriteString(t.Struct.Name)
		if len(t.Struct.TypeArgs) > 0 {
			b.WriteByte('<')
			for i, arg := range t.Struct.TypeArgs {
				if i > 0 {
					b.WriteString(", ")
				}
				arg.write(b)
			}
			b.WriteByte('>')
		}
	default:
		for name, kind := range primitiveNames {
			if kind == t.Kind {
				b.WriteString(name)
				return
			}
		}
		fmt.Fprintf(b, "<invalid kind %d>", t.Kind)
	}
}

// Equal reports whether two tags describe the same type.
func (t TypeTag) Equal(o TypeTag) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindVector:
		return t.Elem.Equal(*o.Elem)
	case KindReference:
		return t.Mutable == o.Mutable && t.Elem.Equal(*o.Elem)
	case KindGeneric:
		return t.Index == o.Index
	case KindStruct:
		if t.Struct.Address != o.Struct.Address ||
			t.Struct.Module != o.Struct.Module ||
			t.Struct.Name != o.Struct.Name ||
			len(t.Struct.TypeArgs) != len(o.Struct.TypeArgs) {
			return false
		}
		for i := range t.Struct.TypeArgs {
			if !t.Struct.TypeArgs[i].Equal(o.Struct.TypeArgs[i]) {
				return false
			}
		}
	}
	return true
}

// Substitute replaces generic type parameters with the given type arguments.
func (t TypeTag) Substitute(generics []TypeTag) (TypeTag, error) {
	switch t.Kind {
	case KindGeneric:
		if int(t.Index) >= len(generics) {
			return t, fmt.Errorf("generic type parameter T%d out of range, %d type arguments given", t.Index, len(generics))
		}
		return generics[t.Index], nil
	case KindVector, KindReference:
		elem, err := t.Elem.Substitute(generics)
		if err != nil {
			return t, err
		}
		out := t
		out.Elem = &elem
		return out, nil
	case KindStruct:
		if len(t.Struct.TypeArgs) == 0 {
			return t, nil
		}
		args := make([]TypeTag, len(t.Struct.TypeArgs))
		for i, arg := range t.Struct.TypeArgs {
			sub, err := arg.Substitute(generics)
			if err != nil {
				return t, err
			}
			args[i] = sub
		}
		st := *t.Struct
		st.TypeArgs = args
		return TypeTag{Kind: KindStruct, Struct: &st}, nil
	}
	return t, nil
}

// BCS variant indexes of TypeTag.
const (
	variantBool      = 0
	variantU8        = 1
	variantU64       = 2
	variantU128      = 3
	variantAddress   = 4
	variantSigner    = 5
	variantVector    = 6
	variantStruct    = 7
	variantU16       = 8
	variantU32       = 9
	variantU256      = 10
	variantReference = 254
	variantGeneric   = 255
)

var kindToVariant = map[Kind]uint32{
	KindBool:      variantBool,
	KindU8:        variantU8,
	KindU64:       variantU64,
	KindU128:      variantU128,
	KindAddress:   variantAddress,
	KindSigner:    variantSigner,
	KindVector:    variantVector,
	KindStruct:    variantStruct,
	KindU16:       variantU16,
	KindU32:       variantU32,
	KindU256:      variantU256,
	KindReference: variantReference,
	KindGeneric:   variantGeneric,
}

// MarshalBCS implements bcs.Marshaler.
func (t *TypeTag) MarshalBCS(ser *bcs.Serializer) {
	variant, ok := kindToVariant[t.Kind]
	if !ok {
		ser.SetError(fmt.Errorf("type tag %s cannot be serialized", t))
		return
	}
	ser.Uleb128(variant)
	switch t.Kind {
	case KindVector:
		t.Elem.MarshalBCS(ser)
	case KindReference:
		ser.Bool(t.Mutable)
		t.Elem.MarshalBCS(ser)
	case KindStruct:
		t.Struct.MarshalBCS(ser)
	case KindGeneric:
		ser.U32(uint32(t.Index))
	}
}

// UnmarshalBCS implements bcs.Unmarshaler.
func (t *TypeTag) UnmarshalBCS(des *bcs.Deserializer) {
	variant := des.Uleb128()
	if des.Error() != nil {
		return
	}
	switch variant {
	case variantBool:
		*t = Bool()
	case variantU8:
		*t = U8()
	case variantU16:
		*t = U16()
	case variantU32:
		*t = U32()
	case variantU64:
		*t = U64()
	case variantU128:
		*t = U128()
	case variantU256:
		*t = U256()
	case variantAddress:
		*t = AddressTag()
	case variantSigner:
		*t = Signer()
	case variantVector:
		var elem TypeTag
		elem.UnmarshalBCS(des)
		*t = Vector(elem)
	case variantReference:
		mutable := des.Bool()
		var inner TypeTag
		inner.UnmarshalBCS(des)
		*t = Reference(inner, mutable)
	case variantStruct:
		st := &StructTag{}
		st.UnmarshalBCS(des)
		*t = TypeTag{Kind: KindStruct, Struct: st}
	case variantGeneric:
		idx := des.U32()
		if idx > 0xffff {
			des.SetError(fmt.Errorf("generic type index %d out of range", idx))
			return
		}
		*t = Generic(uint16(idx))
	default:
		des.SetError(fmt.Errorf("unknown type tag variant %d", variant))
	}
}

// MarshalBCS implements bcs.Marshaler.
func (s *StructTag) MarshalBCS(ser *bcs.Serializer) {
	s.Address.MarshalBCS(ser)
	ser.WriteString(s.Module)
	ser.WriteString(s.Name)
	MarshalTypeTags(ser, s.TypeArgs)
}

// UnmarshalBCS implements bcs.Unmarshaler.
func (s *StructTag) UnmarshalBCS(des *bcs.Deserializer) {
	s.Address.UnmarshalBCS(des)
	s.Module = des.ReadString()
	s.Name = des.ReadString()
	s.TypeArgs = UnmarshalTypeTags(des)
}

// MarshalTypeTags writes a length-prefixed sequence of tags.
func MarshalTypeTags(ser *bcs.Serializer, tags []TypeTag) {
	ser.Uleb128(uint32(len(tags)))
	for i := range tags {
		tags[i].MarshalBCS(ser)
	}
}

// UnmarshalTypeTags reads a length-prefixed sequence of tags.
func UnmarshalTypeTags(des *bcs.Deserializer) []TypeTag {
	n := des.Uleb128()
	if des.Error() != nil {
		return nil
	}
	if int(n) > des.Remaining() {
		des.SetError(fmt.Errorf("type tag count %d exceeds remaining input", n))
		return nil
	}
	tags := make([]TypeTag, n)
	for i := range tags {
		tags[i].UnmarshalBCS(des)
		if des.Error() != nil {
			return nil
		}
	}
	return tags
}

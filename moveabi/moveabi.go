// Package moveabi holds the JSON shapes of Move module ABIs and bytecode as
// served by an Aptos fullnode.
package moveabi

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

// MoveModuleBytecode is a compiled module with its optional ABI.
type MoveModuleBytecode struct {
	Bytecode string      `json:"bytecode" yaml:"bytecode"`
	ABI      *MoveModule `json:"abi,omitempty" yaml:"abi,omitempty"`
}

// Bytes decodes the hex bytecode.
func (m *MoveModuleBytecode) Bytes() ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(m.Bytecode, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode module bytecode: %w", err)
	}
	if len(b) == 0 {
		return nil, errors.New("empty module bytecode")
	}
	return b, nil
}

// ID returns addr::name when the ABI is present.
func (m *MoveModuleBytecode) ID() string {
	if m.ABI == nil {
		return ""
	}
	return m.ABI.ID()
}

// MoveModule is a module ABI.
type MoveModule struct {
	Address          string         `json:"address" yaml:"address"`
	Name             string         `json:"name" yaml:"name"`
	Friends          []string       `json:"friends" yaml:"friends"`
	ExposedFunctions []MoveFunction `json:"exposed_functions" yaml:"exposed_functions"`
	Structs          []MoveStruct   `json:"structs" yaml:"structs"`
}

// ID returns addr::name with a canonical address when it parses.
func (m *MoveModule) ID() string {
	if addr, err := movetype.ParseAddress(m.Address); err == nil {
		return addr.String() + "::" + m.Name
	}
	return m.Address + "::" + m.Name
}

// Function looks up an exposed function by name.
func (m *MoveModule) Function(name string) *MoveFunction {
	for i := range m.ExposedFunctions {
		if m.ExposedFunctions[i].Name == name {
			return &m.ExposedFunctions[i]
		}
	}
	return nil
}

// Visibility of a Move function.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityFriend  Visibility = "friend"
)

// MoveFunction is a function ABI. Params and Return are type strings that may
// mention generic parameters T0, T1, ...
type MoveFunction struct {
	Name              string                         `json:"name" yaml:"name"`
	Visibility        Visibility                     `json:"visibility" yaml:"visibility"`
	IsEntry           bool                           `json:"is_entry" yaml:"is_entry"`
	IsView            bool                           `json:"is_view" yaml:"is_view"`
	GenericTypeParams []MoveFunctionGenericTypeParam `json:"generic_type_params" yaml:"generic_type_params"`
	Params            []string                       `json:"params" yaml:"params"`
	Return            []string                       `json:"return" yaml:"return"`
}

// MoveFunctionGenericTypeParam lists the abilities a type argument needs.
type MoveFunctionGenericTypeParam struct {
	Constraints []string `json:"constraints" yaml:"constraints"`
}

// ParamTypes parses every parameter type.
func (f *MoveFunction) ParamTypes() ([]movetype.TypeTag, error) {
	tags := make([]movetype.TypeTag, len(f.Params))
	for i, p := range f.Params {
		tag, err := movetype.ParseTypeTag(p, true)
		if err != nil {
			return nil, fmt.Errorf("param %d of %s: %w", i, f.Name, err)
		}
		tags[i] = tag
	}
	return tags, nil
}

// MoveStruct is a struct ABI.
type MoveStruct struct {
	Name              string                       `json:"name" yaml:"name"`
	IsNative          bool                         `json:"is_native" yaml:"is_native"`
	Abilities         []string                     `json:"abilities" yaml:"abilities"`
	GenericTypeParams []MoveStructGenericTypeParam `json:"generic_type_params" yaml:"generic_type_params"`
	Fields            []MoveStructField            `json:"fields" yaml:"fields"`
}

// MoveStructGenericTypeParam is a struct type parameter.
type MoveStructGenericTypeParam struct {
	Constraints []string `json:"constraints" yaml:"constraints"`
}

// MoveStructField is a named struct field.
type MoveStructField struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// FunctionParts is a function id split into its components.
type FunctionParts struct {
	ModuleAddress string
	ModuleName    string
	FunctionName  string
}

// ModuleID returns addr::module.
func (p FunctionParts) ModuleID() string {
	return p.ModuleAddress + "::" + p.ModuleName
}

// String returns addr::module::function.
func (p FunctionParts) String() string {
	return p.ModuleID() + "::" + p.FunctionName
}

// ErrInvalidFunctionID is returned for ids that are not addr::module::function.
var ErrInvalidFunctionID = errors.New("invalid function id")

// GetFunctionParts splits "addr::module::function". The address is kept as
// given.
func GetFunctionParts(id string) (FunctionParts, error) {
	parts := strings.Split(id, "::")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return FunctionParts{}, fmt.Errorf("%w %q, expected address::module::function", ErrInvalidFunctionID, id)
	}
	return FunctionParts{
		ModuleAddress: parts[0],
		ModuleName:    parts[1],
		FunctionName:  parts[2],
	}, nil
}

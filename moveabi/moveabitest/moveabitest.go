// Package moveabitest provides module ABI fixtures for tests.
package moveabitest

import (
	"embed"
	"encoding/hex"
	"encoding/json"

	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
)

//go:embed testdata/*.json
var fixtures embed.FS

// Module returns the named fixture ABI: "aptos_account", "coin" or
// "kitchen_sink". It panics on unknown names.
func Module(name string) *moveabi.MoveModule {
	data, err := fixtures.ReadFile("testdata/" + name + ".json")
	if err != nil {
		panic(err)
	}
	var mod moveabi.MoveModule
	if err := json.Unmarshal(data, &mod); err != nil {
		panic(err)
	}
	return &mod
}

// Bytecode returns a fake bytecode record carrying the named fixture ABI.
// The bytecode itself is the module name prefixed with the Move magic.
func Bytecode(name string) moveabi.MoveModuleBytecode {
	code := append([]byte{0xa1, 0x1c, 0xeb, 0x0b}, name...)
	return moveabi.MoveModuleBytecode{
		Bytecode: "0x" + hex.EncodeToString(code),
		ABI:      Module(name),
	}
}


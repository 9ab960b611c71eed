package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	composer "github.com/aperturerobotics/go-aptos-composer-wasi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/internal/fakecomposer"
	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi"
	"github.com/aperturerobotics/go-aptos-composer-wasi/moveabi/moveabitest"
)

const chainedYAML = `
modules: ["0x1::aptos_account"]
calls:
  - function: 0x1::coin::withdraw
    type_arguments: ["0x1::aptos_coin::AptosCoin"]
    arguments: [{signer: 0}, 100]
  - function: 0x1::coin::value
    type_arguments: ["0x1::aptos_coin::AptosCoin"]
    arguments:
      - result: {call: 0, index: 0, op: borrow}
  - function: 0x1::coin::deposit
    type_arguments: ["0x1::aptos_coin::AptosCoin"]
    arguments: ["0xcafe", {result: {call: 0, index: 0}}]
`

type staticResolver map[string]string

func (s staticResolver) Resolve(_ context.Context, ids []string) (map[string]*moveabi.MoveModuleBytecode, error) {
	out := make(map[string]*moveabi.MoveModuleBytecode)
	for _, id := range ids {
		name, ok := s[id]
		if !ok {
			return nil, fmt.Errorf("unknown module %s", id)
		}
		mod := moveabitest.Bytecode(name)
		out[id] = &mod
	}
	return out, nil
}

var fixtures = staticResolver{
	"0x1::coin":            "coin",
	"0x1::aptos_account":   "aptos_account",
	"0xcafe::kitchen_sink": "kitchen_sink",
}

func newScriptComposer(t *testing.T, signers uint16) (*composer.ScriptComposer, *fakecomposer.Host) {
	t.Helper()
	ctx := context.Background()
	r, host, err := fakecomposer.NewRuntime(ctx, fakecomposer.DefaultReturns)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(ctx) })

	sc, err := composer.NewScriptComposer(ctx, r, fakecomposer.WASM(), &composer.Config{SignerCount: signers})
	require.NoError(t, err)
	t.Cleanup(func() { sc.Close(ctx) })
	return sc, host
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(chainedYAML))
	require.NoError(t, err)
	require.Len(t, doc.Calls, 3)

	withdraw := doc.Calls[0]
	require.Len(t, withdraw.Arguments, 2)
	require.NotNil(t, withdraw.Arguments[0].Signer)
	assert.EqualValues(t, 0, *withdraw.Arguments[0].Signer)
	assert.Equal(t, json.Number("100"), withdraw.Arguments[1].Value)

	borrow := doc.Calls[1].Arguments[0].Result
	require.NotNil(t, borrow)
	assert.Equal(t, ResultRef{Call: 0, Index: 0, Op: "borrow"}, *borrow)

	assert.Equal(t, "0xcafe", doc.Calls[2].Arguments[0].Value)
	assert.Equal(t, ResultRef{}, *doc.Calls[2].Arguments[1].Result)

	ids, err := doc.ModuleIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0x1::aptos_account", "0x1::coin"}, ids)
	assert.EqualValues(t, 1, doc.RequiredSigners())
}

func TestParseJSON(t *testing.T) {
	doc, err := Parse([]byte(`{
  "signer_count": 2,
  "calls": [{
    "function": "0x1::aptos_account::transfer",
    "arguments": [{"signer": 1}, "0x1", 340282366920938463463374607431768211455, {"bytes": "0x0102"}]
  }]
  }`))
	require.NoError(t, err)
	args := doc.Calls[0].Arguments
	assert.Equal(t, json.Number("340282366920938463463374607431768211455"), args[2].Value)
	assert.Equal(t, "0x0102", args[3].Bytes)
	assert.EqualValues(t, 2, doc.RequiredSigners())
}

func TestParseValueForms(t *testing.T) {
	doc, err := Parse([]byte(`
calls:
  - function: 0xcafe::kitchen_sink::everything
    type_arguments: [u8]
    arguments: [{signer: 3}, true, 0x10, [1, 2], null, "text"]
`))
	require.NoError(t, err)
	args := doc.Calls[0].Arguments
	assert.Equal(t, true, args[1].Value)
	assert.Equal(t, json.Number("0x10"), args[2].Value)
	assert.Equal(t, []any{json.Number("1"), json.Number("2")}, args[3].Value)
	assert.Nil(t, args[4].Value)
	assert.Equal(t, "text", args[5].Value)
	assert.EqualValues(t, 4, doc.RequiredSigners())
}

func TestParseNullArgument(t *testing.T) {
	doc, err := Parse([]byte(`
calls:
  - function: 0x1::a::b
    arguments: [null, 7, ~]
`))
	require.NoError(t, err)
	args := doc.Calls[0].Arguments
	require.Len(t, args, 3)
	assert.Nil(t, args[0].Value)
	assert.Equal(t, json.Number("7"), args[1].Value)
	assert.Nil(t, args[2].Value)
}

func TestParseBigIntegers(t *testing.T) {
	doc, err := Parse([]byte(`
calls:
  - function: 0x1::a::b
    arguments:
      - 340282366920938463463374607431768211455
      - 115792089237316195423570985008687907853269984665640564039457584007913129639935
      - "18446744073709551616"
      - 1.5
      - [18446744073709551616]
`))
	require.NoError(t, err)
	args := doc.Calls[0].Arguments
	assert.Equal(t, json.Number("340282366920938463463374607431768211455"), args[0].Value)
	assert.Equal(t, json.Number("115792089237316195423570985008687907853269984665640564039457584007913129639935"), args[1].Value)
	assert.Equal(t, "18446744073709551616", args[2].Value, "quoted literals stay strings")
	assert.Equal(t, 1.5, args[3].Value)
	assert.Equal(t, []any{json.Number("18446744073709551616")}, args[4].Value)
}

func TestParseBytes(t *testing.T) {
	doc, err := Parse([]byte("calls: [{function: 0x1::a::b, arguments: [{bytes: '0x'}]}]"))
	require.NoError(t, err)
	assert.Equal(t, "0x", doc.Calls[0].Arguments[0].Bytes)
}

func TestRequiredSignersBound(t *testing.T) {
	last := uint16(65534)
	doc := &Document{Calls: []Call{{
		Function:  "0x1::a::b",
		Arguments: Arguments{{Signer: &last}},
	}}}
	require.NoError(t, doc.Validate())
	assert.EqualValues(t, 65535, doc.RequiredSigners())

	over := uint16(65535)
	doc.Calls[0].Arguments = Arguments{{Signer: &over}}
	assert.Error(t, doc.Validate())
	assert.EqualValues(t, 65535, doc.RequiredSigners())
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"empty":            "  \n",
		"no calls":         "calls: []",
		"unknown field":    "calls: [{function: 0x1::coin::value}]\nextra: 1",
		"bad function":     "calls: [{function: coin::value}]",
		"bad type arg":     "calls: [{function: 0x1::coin::value, type_arguments: [T0]}]",
		"bad module":       "modules: [nope]\ncalls: [{function: 0x1::coin::value}]",
		"forward result":   "calls: [{function: 0x1::coin::value, arguments: [{result: {call: 0, index: 0}}]}]",
		"negative index":   "calls: [{function: 0x1::a::b}, {function: 0x1::a::c, arguments: [{result: {call: 0, index: -1}}]}]",
		"bad op":           "calls: [{function: 0x1::a::b}, {function: 0x1::a::c, arguments: [{result: {call: 0, index: 0, op: steal}}]}]",
		"two keys":         "calls: [{function: 0x1::a::b, arguments: [{signer: 0, bytes: '0x00'}]}]",
		"unknown key":      "calls: [{function: 0x1::a::b, arguments: [{value: 1}]}]",
		"signer range":     "signer_count: 1\ncalls: [{function: 0x1::a::b, arguments: [{signer: 1}]}]",
		"multiple docs":    "calls: [{function: 0x1::a::b}]\n---\ncalls: []",
		"not a document":   "- 1\n- 2",
		"result not a ref": "calls: [{function: 0x1::a::b, arguments: [{result: 5}]}]",
		"empty bytes":      "calls: [{function: 0x1::a::b, arguments: [{bytes: ''}]}]",
		"signer overflow":  "calls: [{function: 0x1::a::b, arguments: [{signer: 65535}]}]",
		"signer too large": "calls: [{function: 0x1::a::b, arguments: [{signer: 65536}]}]",
		"arguments map":    "calls: [{function: 0x1::a::b, arguments: {a: 1}}]",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(chainedYAML), 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, doc.Calls, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCompose(t *testing.T) {
	doc, err := Parse([]byte(chainedYAML))
	require.NoError(t, err)
	sc, host := newScriptComposer(t, doc.RequiredSigners())

	payload, err := Compose(t.Context(), sc, fixtures, doc)
	require.NoError(t, err)

	lines, err := fakecomposer.ParseScriptCode(payload.Script.Code)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0: 0x1::coin::withdraw<0x1::aptos_coin::AptosCoin>(signer0, 0x6400000000000000)",
		"1: 0x1::coin::value<0x1::aptos_coin::AptosCoin>(borrow(r0.0))",
		"2: 0x1::coin::deposit<0x1::aptos_coin::AptosCoin>(0x000000000000000000000000000000000000000000000000000000000000cafe, move(r0.0))",
		"metadata",
	}, lines)
	assert.Len(t, host.Scripts(), 1)
}

func TestComposeBytesArgument(t *testing.T) {
	doc, err := Parse([]byte(`
calls:
  - function: 0x1::aptos_account::transfer
    arguments: [{signer: 0}, {bytes: "0x0000000000000000000000000000000000000000000000000000000000000002"}, "5"]
`))
	require.NoError(t, err)
	sc, _ := newScriptComposer(t, 1)

	payload, err := Compose(t.Context(), sc, fixtures, doc)
	require.NoError(t, err)
	lines, err := fakecomposer.ParseScriptCode(payload.Script.Code)
	require.NoError(t, err)
	assert.Equal(t,
		"0: 0x1::aptos_account::transfer(signer0, 0x0000000000000000000000000000000000000000000000000000000000000002, 0x0500000000000000)",
		lines[0])
}

func TestComposeErrors(t *testing.T) {
	cases := map[string]string{
		"unresolved module": "calls:\n  - function: 0x2::nft::mint\n",
		"index past returns": `
calls:
  - function: 0x1::coin::deposit
    type_arguments: ["0x1::aptos_coin::AptosCoin"]
    arguments: ["0x1", {bytes: "0x00"}]
  - function: 0x1::coin::value
    type_arguments: ["0x1::aptos_coin::AptosCoin"]
    arguments: [{result: {call: 0, index: 0}}]
`,
		"bad hex": `
calls:
  - function: 0x1::aptos_account::transfer
    arguments: [{signer: 0}, {bytes: "0xzz"}, 1]
`,
		"abi conversion": `
calls:
  - function: 0x1::aptos_account::transfer
    arguments: [{signer: 0}, "not-an-address", 1]
`,
		"type arg count": `
calls:
  - function: 0x1::coin::withdraw
    arguments: [{signer: 0}, 1]
`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			doc, err := Parse([]byte(src))
			require.NoError(t, err)
			sc, _ := newScriptComposer(t, 1)
			_, err = Compose(t.Context(), sc, fixtures, doc)
			assert.Error(t, err)
		})
	}
}

func TestComposeEveryParameterKind(t *testing.T) {
	doc, err := Parse([]byte(`
calls:
  - function: 0xcafe::kitchen_sink::everything
    type_arguments: [u8]
    arguments:
      - {signer: 0}
      - true
      - 255
      - 65535
      - 4294967295
      - 18446744073709551615
      - 340282366920938463463374607431768211455
      - 1
      - "0x1"
      - "hello"
      - [1, 2]
      - ["a", "b"]
      - null
      - "0xa"
      - 7
      - {bytes: "0x"}
`))
	require.NoError(t, err)
	sc, _ := newScriptComposer(t, 1)

	payload, err := Compose(t.Context(), sc, fixtures, doc)
	require.NoError(t, err)
	lines, err := fakecomposer.ParseScriptCode(payload.Script.Code)
	require.NoError(t, err)

	zeros := func(n int) string { return strings.Repeat("00", n) }
	want := []string{
		"signer0",
		"0x01",
		"0xff",
		"0xffff",
		"0xffffffff",
		"0xffffffffffffffff",
		"0x" + strings.Repeat("ff", 16),
		"0x01" + zeros(31),
		"0x" + zeros(31) + "01",
		"0x0568656c6c6f",
		"0x020102",
		"0x0201610162",
		// option none
		"0x00",
		"0x" + zeros(31) + "0a",
		"0x07",
		"0x",
	}
	assert.Equal(t, "0: 0xcafe::kitchen_sink::everything<u8>("+strings.Join(want, ", ")+")", lines[0])
}

func TestComposeOptionSome(t *testing.T) {
	doc, err := Parse([]byte(`
calls:
  - function: 0xcafe::kitchen_sink::everything
    type_arguments: [u8]
    arguments: [{signer: 0}, false, 0, 0, 0, 0, 0, 0, "0x1", "", "0x", [], [5], "0x1", 0, {bytes: "0x00"}]
`))
	require.NoError(t, err)
	sc, _ := newScriptComposer(t, 1)

	payload, err := Compose(t.Context(), sc, fixtures, doc)
	require.NoError(t, err)
	lines, err := fakecomposer.ParseScriptCode(payload.Script.Code)
	require.NoError(t, err)
	assert.Contains(t, lines[0], "01, 0x00, 0x00, 0x00, 0x010500000000000000, 0x")
}

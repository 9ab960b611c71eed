package composer

import (
	"math/big"
	"testing"

	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperturerobotics/go-aptos-composer-wasi/movetype"
)

func TestScriptArgumentEncoding(t *testing.T) {
	cases := []struct {
		name string
		arg  ScriptArgument
		want []byte
	}{
		{"u8", ScriptArgument{ScriptArgumentU8, uint8(9)}, []byte{0, 9}},
		{"u16", ScriptArgument{ScriptArgumentU16, uint16(0x0102)}, []byte{6, 2, 1}},
		{"u32", ScriptArgument{ScriptArgumentU32, uint32(1)}, []byte{7, 1, 0, 0, 0}},
		{"u64", ScriptArgument{ScriptArgumentU64, uint64(2)}, []byte{1, 2, 0, 0, 0, 0, 0, 0, 0}},
		{"bool", ScriptArgument{ScriptArgumentBool, true}, []byte{5, 1}},
		{"u8 vector", ScriptArgument{ScriptArgumentU8Vector, []byte{1, 2}}, []byte{4, 2, 1, 2}},
		{"serialized", ScriptArgument{ScriptArgumentSerialized, []byte{3}}, []byte{9, 1, 3}},
		{"u128", ScriptArgument{ScriptArgumentU128, big.NewInt(0x0102)},
			append([]byte{2, 2, 1}, make([]byte, 14)...)},
		{"u256", ScriptArgument{ScriptArgumentU256, big.NewInt(1)},
			append([]byte{8, 1}, make([]byte, 31)...)},
		{"address", ScriptArgument{ScriptArgumentAddress, movetype.AddressOne},
			append([]byte{3}, movetype.AddressOne[:]...)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := bcs.Serialize(&tc.arg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, b)

			var got ScriptArgument
			require.NoError(t, bcs.Deserialize(&got, b))
			assert.Equal(t, tc.arg.Kind, got.Kind)
			if v, ok := tc.arg.Value.(*big.Int); ok {
				assert.Zero(t, v.Cmp(got.Value.(*big.Int)))
			} else {
				assert.Equal(t, tc.arg.Value, got.Value)
			}
		})
	}
}

func TestScriptArgumentInvalid(t *testing.T) {
	for name, arg := range map[string]ScriptArgument{
		"wrong go type":  {ScriptArgumentU64, 5},
		"u128 overflow":  {ScriptArgumentU128, new(big.Int).Lsh(big.NewInt(1), 128)},
		"negative u256":  {ScriptArgumentU256, big.NewInt(-1)},
		"unknown kind":   {ScriptArgumentKind(42), nil},
		"nil big int":    {ScriptArgumentU128, (*big.Int)(nil)},
		"address string": {ScriptArgumentAddress, "0x1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := bcs.Serialize(&arg)
			assert.Error(t, err)
		})
	}
}

func TestTransactionPayloadScript(t *testing.T) {
	script := Script{
		Code:     []byte{0xa1, 0x1c, 0xeb, 0x0b},
		TypeArgs: []movetype.TypeTag{movetype.U64(), movetype.MustParseTypeTag("0x1::aptos_coin::AptosCoin")},
		Args: []ScriptArgument{
			{ScriptArgumentAddress, movetype.AddressOne},
			{ScriptArgumentU64, uint64(100)},
		},
	}
	bare, err := bcs.Serialize(&script)
	require.NoError(t, err)

	p, err := LoadTransactionPayloadScript(bare)
	require.NoError(t, err)
	assert.Equal(t, script.Code, p.Script.Code)
	require.Len(t, p.Script.TypeArgs, 2)
	assert.Equal(t, "0x1::aptos_coin::AptosCoin", p.Script.TypeArgs[1].String())
	assert.Equal(t, script.Args, p.Script.Args)

	full, err := p.Bytes()
	require.NoError(t, err)
	assert.Equal(t, append([]byte{transactionPayloadScriptVariant}, bare...), full)

	var decoded TransactionPayloadScript
	require.NoError(t, bcs.Deserialize(&decoded, full))
	assert.Equal(t, p.Script.Args, decoded.Script.Args)

	_, err = LoadTransactionPayloadScript(append(bare, 0))
	assert.ErrorIs(t, err, ErrTrailingBytes)

	_, err = LoadTransactionPayloadScript(bare[:3])
	assert.Error(t, err)

	// entry function variant
	assert.Error(t, bcs.Deserialize(&decoded, append([]byte{2}, bare...)))

	fromFull, err := DecodeTransactionPayloadScript(full)
	require.NoError(t, err)
	assert.Equal(t, p.Script.Args, fromFull.Script.Args)

	_, err = DecodeTransactionPayloadScript(append(full, 0))
	assert.ErrorIs(t, err, ErrTrailingBytes)
	_, err = DecodeTransactionPayloadScript(append([]byte{2}, bare...))
	assert.Error(t, err)
	// a bare script is not a payload: its code length byte is read as the variant
	_, err = DecodeTransactionPayloadScript(bare)
	assert.Error(t, err)
}

package wasm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	cases := []struct {
		in   string
		want Value
	}{
		{"10", I32(10)},
		{"-1", I32(-1)},
		{"i32:0x7fffffff", I32(0x7fffffff)},
		{"i32:0xffffffff", I32(-1)},
		{"i64:-5", I64(-5)},
		{"i64:0xffffffffffffffff", I64(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseValue(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := ParseValue("f32:1")
	require.ErrorContains(t, err, "unsupported argument type")
	_, err = ParseValue("i32:0x100000000")
	require.Error(t, err)
	_, err = ParseValue("x:1")
	require.ErrorContains(t, err, "unknown value type")
}

func TestValueBits(t *testing.T) {
	v := I32(-2)
	require.Equal(t, uint64(0xfffffffe), v.Bits, "i32 values keep upper bits zero")
	require.Equal(t, int32(-2), v.I32())
	require.Equal(t, "i32:-2", v.String())
	require.Equal(t, "i64:-2", I64(-2).String())
}

func TestValueJSON(t *testing.T) {
	dat, err := json.Marshal(I64(3))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"i64","bits":3}`, string(dat))
	var v Value
	require.NoError(t, json.Unmarshal(dat, &v))
	require.Equal(t, I64(3), v)
}

func TestOpcodeNames(t *testing.T) {
	op, ok := LookupOpcode("local.tee")
	require.True(t, ok)
	require.Equal(t, OpLocalTee, op)
	require.Equal(t, "i32.add", OpI32Add.String())
	require.Equal(t, "opcode(0x43)", Opcode(0x43).String())
	require.False(t, OpBrTable.Supported())
	require.True(t, OpBrIf.Supported())
}

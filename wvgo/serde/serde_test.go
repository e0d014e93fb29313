package serde

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

func TestInputs(t *testing.T) {
	in := &Inputs{
		Module: []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		Export: "fib",
		Args:   []wasm.Value{wasm.I32(-3), wasm.I64(1 << 40)},
	}
	b, err := EncodeInputs(in)
	require.NoError(t, err)
	out, err := DecodeInputs(b)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = DecodeInputs(b[:len(b)-1])
	require.ErrorIs(t, err, ErrInvalidEncoding)

	bad, err := EncodeInputs(&Inputs{Export: "f", Args: []wasm.Value{{Type: wasm.ValueTypeF32}}})
	require.NoError(t, err)
	_, err = DecodeInputs(bad)
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestJournal(t *testing.T) {
	j := NewJournal(nil)
	require.Zero(t, j.Len())
	vs, err := DecodeJournal(j.Bytes())
	require.NoError(t, err)
	require.Empty(t, vs)

	require.NoError(t, j.Commit([]wasm.Value{wasm.I32(55)}))
	n, err := DecodeI32(j.Bytes())
	require.NoError(t, err)
	require.Equal(t, int32(55), n)

	// appending never rewrites what was committed
	prefix := append([]byte(nil), j.Bytes()...)
	require.NoError(t, j.Write(wasm.I64(-1)))
	require.Equal(t, prefix, j.Bytes()[:len(prefix)])

	vs, err = DecodeJournal(j.Bytes())
	require.NoError(t, err)
	require.Equal(t, []wasm.Value{wasm.I32(55), wasm.I64(-1)}, vs)

	_, err = DecodeI32(j.Bytes())
	require.ErrorIs(t, err, ErrInvalidEncoding)
	_, err = DecodeJournal(j.Bytes()[:j.Len()-1])
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

package receipts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/wasmvm/wvgo/host"
	"github.com/ethereum-optimism/wasmvm/wvgo/programs"
	"github.com/ethereum-optimism/wasmvm/wvgo/serde"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
	"github.com/ethereum-optimism/wasmvm/wvgo/wat"
)

func prove(t *testing.T, n int32) *host.Receipt {
	bin, err := wat.Assemble(programs.Fib)
	require.NoError(t, err)
	in, err := serde.EncodeInputs(&serde.Inputs{Module: bin, Export: "fib", Args: []wasm.Value{wasm.I32(n)}})
	require.NoError(t, err)
	r, err := host.NewLocalProver(log.NewLogger(log.DiscardHandler()), 0).Prove(context.Background(), in)
	require.NoError(t, err)
	return r
}

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "receipts.db")
	s, err := Open(Config{Path: path, NoSync: true})
	require.NoError(t, err)

	r5, r6 := prove(t, 5), prove(t, 6)
	id5, err := s.Put(r5)
	require.NoError(t, err)
	id6, err := s.Put(r6)
	require.NoError(t, err)
	require.NotEqual(t, id5, id6)

	again, err := s.Put(r5)
	require.NoError(t, err)
	require.Equal(t, id5, again, "same job, same id")
	n, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := s.Get(id6)
	require.NoError(t, err)
	require.Equal(t, r6, got)
	require.True(t, s.Has(id5))

	ids, err := s.ListByImage(r5.ImageID)
	require.NoError(t, err)
	require.ElementsMatch(t, []ID{id5, id6}, ids)
	ids, err = s.ListByImage(common.Hash{1})
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, s.Delete(id5))
	_, err = s.Get(id5)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete(id5), ErrNotFound)
	ids, err = s.ListByImage(r5.ImageID)
	require.NoError(t, err)
	require.Equal(t, []ID{id6}, ids)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Get(id6)
	require.ErrorIs(t, err, ErrClosed)
	_, err = s.Put(r6)
	require.ErrorIs(t, err, ErrClosed)

	ro, err := Open(Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()
	got, err = ro.Get(id6)
	require.NoError(t, err)
	require.Equal(t, r6, got)
}

func TestParseID(t *testing.T) {
	id := ReceiptID(prove(t, 3))
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseID("0OIl")
	require.ErrorIs(t, err, ErrInvalidID)
	_, err = ParseID("3yQ")
	require.ErrorIs(t, err, ErrInvalidID)
}

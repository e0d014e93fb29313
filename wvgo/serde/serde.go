package serde

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

var ErrInvalidEncoding = errors.New("invalid encoding")

// Inputs is everything an invocation reads: the binary module, followed by the export and its arguments.
type Inputs struct {
	Module []byte
	Export string
	Args   []wasm.Value
}

func EncodeInputs(in *Inputs) ([]byte, error) {
	return rlp.EncodeToBytes(in)
}

func DecodeInputs(b []byte) (*Inputs, error) {
	var in Inputs
	if err := rlp.DecodeBytes(b, &in); err != nil {
		return nil, fmt.Errorf("%w: inputs: %v", ErrInvalidEncoding, err)
	}
	for i, a := range in.Args {
		if !a.Type.Integer() {
			return nil, fmt.Errorf("%w: argument %d has type %s", ErrInvalidEncoding, i, a.Type)
		}
	}
	return &in, nil
}

// Journal is the append-only public output of an invocation.
// Every committed value is appended as its own RLP item.
type Journal struct {
	buf []byte
}

func NewJournal(b []byte) *Journal {
	return &Journal{buf: bytes.Clone(b)}
}

// Commit appends the results in order.
func (j *Journal) Commit(results []wasm.Value) error {
	for _, v := range results {
		if err := j.Write(v); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Write(v wasm.Value) error {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	j.buf = append(j.buf, b...)
	return nil
}

func (j *Journal) Bytes() []byte {
	return j.buf
}

func (j *Journal) Len() int {
	return len(j.buf)
}

// DecodeJournal reads back every value of a journal.
func DecodeJournal(b []byte) ([]wasm.Value, error) {
	s := rlp.NewStream(bytes.NewReader(b), uint64(len(b)))
	var out []wasm.Value
	for {
		var v wasm.Value
		if err := s.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("%w: journal value %d: %v", ErrInvalidEncoding, len(out), err)
		}
		out = append(out, v)
	}
}

// DecodeI32 reads a journal holding exactly one i32.
func DecodeI32(b []byte) (int32, error) {
	vs, err := DecodeJournal(b)
	if err != nil {
		return 0, err
	}
	if len(vs) != 1 || vs[0].Type != wasm.ValueTypeI32 {
		return 0, fmt.Errorf("%w: expected a single i32, got %v", ErrInvalidEncoding, vs)
	}
	return vs[0].I32(), nil
}

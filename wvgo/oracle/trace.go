package oracle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var ErrTraceMismatch = errors.New("trace mismatch")

// Trace folds a sequence of state hashes into a single commitment:
// root_0 is zero and root_{i+1} = H(root_i, hash_i).
type Trace struct {
	oracle VMStateOracle
	root   common.Hash
	length uint64
}

func NewTrace(o VMStateOracle) *Trace {
	return &Trace{oracle: o}
}

// Append commits the next state hash and returns the new root.
func (t *Trace) Append(stateHash common.Hash) common.Hash {
	t.root = t.oracle.Remember(t.root, stateHash)
	t.length++
	return t.root
}

func (t *Trace) Root() common.Hash {
	return t.root
}

// Len is the number of committed state hashes.
func (t *Trace) Len() uint64 {
	return t.length
}

// Unwind opens a trace root of the given length back into its state hashes, oldest first.
// The oracle must know every intermediate pair.
func Unwind(o VMStateOracle, root common.Hash, length uint64) (out []common.Hash, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTraceMismatch, r)
			out = nil
		}
	}()
	out = make([]common.Hash, length)
	cur := [32]byte(root)
	for i := length; i > 0; i-- {
		prev, h := o.Get(cur)
		out[i-1] = h
		cur = prev
	}
	if cur != ([32]byte{}) {
		return nil, fmt.Errorf("%w: trace of root %s is longer than %d", ErrTraceMismatch, root, length)
	}
	return out, nil
}

// VerifyOpening replays an opening of root and returns the committed state hashes, oldest first.
func VerifyOpening(root common.Hash, opening []Access) ([]common.Hash, error) {
	return Unwind(&AccessListOracle{AccessList: opening}, root, uint64(len(opening)))
}

package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type VMStateOracle interface {
	// Get returns the pair that hashes to key, or panics if it cannot.
	Get(key [32]byte) (a, b [32]byte)
	// Remember hashes a pair and returns the hash.
	Remember(left [32]byte, right [32]byte) [32]byte
}

// Access is one opened pair of a trace: Pair[0] is the previous root, Pair[1] a state hash.
type Access struct {
	Key  common.Hash    `json:"key"`
	Pair [2]common.Hash `json:"pair"`
}

// StateOracle keeps every pair it hashed, so any root it produced can be opened later.
type StateOracle struct {
	pairs map[common.Hash][2]common.Hash

	recording bool
	opened    []Access
}

var _ VMStateOracle = (*StateOracle)(nil)

func NewStateOracle() *StateOracle {
	return &StateOracle{pairs: make(map[common.Hash][2]common.Hash)}
}

func (s *StateOracle) Get(key [32]byte) (a, b [32]byte) {
	pair, ok := s.pairs[key]
	if !ok {
		panic(fmt.Errorf("unknown pair %x", key))
	}
	if s.recording {
		s.opened = append(s.opened, Access{Key: key, Pair: pair})
	}
	return pair[0], pair[1]
}

func (s *StateOracle) Remember(left [32]byte, right [32]byte) [32]byte {
	key := crypto.Keccak256Hash(left[:], right[:])
	s.pairs[key] = [2]common.Hash{left, right}
	return key
}

// Open unwinds a root of the given length and returns the pairs it went through,
// in the order an AccessListOracle serves them.
func (s *StateOracle) Open(root common.Hash, length uint64) ([]Access, error) {
	s.recording, s.opened = true, nil
	defer func() { s.recording, s.opened = false, nil }()
	if _, err := Unwind(s, root, length); err != nil {
		return nil, err
	}
	return s.opened, nil
}

// AccessListOracle serves a recorded access list, in order.
type AccessListOracle struct {
	AccessList []Access
	Index      uint64
}

var _ VMStateOracle = (*AccessListOracle)(nil)

func (al *AccessListOracle) Get(key [32]byte) (a, b [32]byte) {
	if al.Index >= uint64(len(al.AccessList)) {
		panic(fmt.Errorf("access list exhausted at key %x", key))
	}
	access := al.AccessList[al.Index]
	if access.Key != key {
		panic(fmt.Errorf("key mismatch at access %d: expected %x, got %x", al.Index, access.Key, key))
	}
	if crypto.Keccak256Hash(access.Pair[0][:], access.Pair[1][:]) != access.Key {
		panic(fmt.Errorf("access %d does not hash to its key %x", al.Index, key))
	}
	al.Index++
	return access.Pair[0], access.Pair[1]
}

func (al *AccessListOracle) Remember(left [32]byte, right [32]byte) [32]byte {
	return crypto.Keccak256Hash(left[:], right[:])
}

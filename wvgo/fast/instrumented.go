package fast

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethereum-optimism/wasmvm/wvgo/oracle"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// Journal receives the results of a completed invocation.
type Journal interface {
	Commit(results []wasm.Value) error
}

// InstrumentedState steps a VMState while committing every post-state hash to a trace,
// and hands the results to the journal once the invocation returns.
type InstrumentedState struct {
	state *VMState

	journal Journal
	trace   *oracle.Trace

	committed bool
}

// NewInstrumentedState wraps a state. The trace starts with the hash of the current state.
// A nil journal discards results, a nil oracle only hashes.
func NewInstrumentedState(state *VMState, journal Journal, so oracle.VMStateOracle) (*InstrumentedState, error) {
	if so == nil {
		so = &oracle.AccessListOracle{}
	}
	m := &InstrumentedState{
		state:   state,
		journal: journal,
		trace:   oracle.NewTrace(so),
	}
	h, err := state.EncodeWitness().StateHash()
	if err != nil {
		return nil, err
	}
	m.trace.Append(h)
	return m, nil
}

func (m *InstrumentedState) State() *VMState {
	return m.state
}

// TraceRoot commits to every state the invocation passed through.
func (m *InstrumentedState) TraceRoot() common.Hash {
	return m.trace.Root()
}

// TraceLen is the number of committed states, including the initial one.
func (m *InstrumentedState) TraceLen() uint64 {
	return m.trace.Len()
}

// Step executes one instruction. A trap is recorded in the state and committed to the trace;
// it is returned as err, with the witness still populated.
func (m *InstrumentedState) Step(proof bool) (wit *StepWitness, err error) {
	if m.state.Done() {
		return nil, nil
	}
	if proof {
		wit = &StepWitness{
			State: m.state.EncodeWitness(), // we need the pre-state as wit-ness
		}
		wit.Instr, _ = m.state.Instr()
	}

	stepErr := Step(m.state)

	post := m.state.EncodeWitness()
	h, err := post.StateHash()
	if err != nil {
		return nil, err
	}
	m.trace.Append(h)
	if proof {
		wit.PostState = post
	}

	if m.state.Status == StatusReturned && !m.committed {
		m.committed = true
		if m.journal != nil {
			if err := m.journal.Commit(m.state.Results); err != nil {
				return wit, fmt.Errorf("failed to commit results: %w", err)
			}
		}
	}
	return wit, stepErr
}

package fast

import (
	"fmt"

	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// Run steps the state until it returns or traps.
// A budget of 0 is unbounded; otherwise at most budget further steps are taken,
// after which ErrStepBudgetExhausted is returned and the state can be resumed.
func Run(s *VMState, budget uint64) ([]wasm.Value, error) {
	start := s.Step
	for !s.Done() {
		if budget != 0 && s.Step-start >= budget {
			return nil, fmt.Errorf("%w: %d steps taken", ErrStepBudgetExhausted, s.Step-start)
		}
		if err := Step(s); err != nil {
			return nil, err
		}
	}
	if s.Status == StatusTrapped {
		return nil, s.TrapError()
	}
	return s.Results, nil
}

// Invoke runs an exported function to completion.
func Invoke(mod *module.Module, export string, args ...wasm.Value) ([]wasm.Value, error) {
	s, err := NewVMState(mod, export, args)
	if err != nil {
		return nil, err
	}
	return Run(s, 0)
}

package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/wasmvm/wvgo/fast"
	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/serde"
)

// Identity names the interpreter semantics a receipt attests to.
// It is bound into every image ID, so it must change whenever execution semantics change.
const Identity = "wvgo/wasm-interp/v1"

var ErrVerification = errors.New("receipt verification failed")

// ImageID commits to the interpreter identity and the module being executed.
func ImageID(wasmBinary []byte) common.Hash {
	return crypto.Keccak256Hash([]byte(Identity), wasmBinary)
}

// Receipt attests that running Inputs produced Journal.
type Receipt struct {
	ImageID common.Hash   `json:"imageID"`
	Journal hexutil.Bytes `json:"journal"`
	Inputs  hexutil.Bytes `json:"inputs"`

	// TraceRoot commits to every state hash of the execution.
	TraceRoot common.Hash `json:"traceRoot"`
	Steps     uint64      `json:"steps"`
	PostState common.Hash `json:"postState"`
}

type Prover interface {
	Prove(ctx context.Context, inputs []byte) (*Receipt, error)
}

type Verifier interface {
	Verify(receipt *Receipt, imageID common.Hash) error
}

// LocalProver executes the inputs with the instrumented interpreter.
// The receipt it produces is checked by re-execution.
type LocalProver struct {
	log    log.Logger
	budget uint64
}

var _ Prover = (*LocalProver)(nil)

// NewLocalProver creates a prover. A budget of 0 does not bound the number of steps.
func NewLocalProver(logger log.Logger, budget uint64) *LocalProver {
	if logger == nil {
		logger = log.Root()
	}
	return &LocalProver{log: logger, budget: budget}
}

func (p *LocalProver) Prove(ctx context.Context, inputs []byte) (*Receipt, error) {
	in, err := serde.DecodeInputs(inputs)
	if err != nil {
		return nil, err
	}
	mod, err := module.Decode(in.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to load module: %w", err)
	}
	state, err := fast.NewVMState(mod, in.Export, in.Args)
	if err != nil {
		return nil, err
	}
	journal := serde.NewJournal(nil)
	us, err := fast.NewInstrumentedState(state, journal, nil)
	if err != nil {
		return nil, err
	}
	imageID := ImageID(in.Module)
	p.log.Debug("Proving", "image", imageID, "export", in.Export, "args", len(in.Args))

	for !state.Done() {
		if state.Step%100 == 0 { // don't do the ctx err check (includes lock) too often
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if p.budget != 0 && state.Step >= p.budget {
			return nil, fmt.Errorf("%w: %d steps", fast.ErrStepBudgetExhausted, state.Step)
		}
		if _, err := us.Step(false); err != nil {
			return nil, fmt.Errorf("failed at step %d: %w", state.Step, err)
		}
	}
	post, err := state.EncodeWitness().StateHash()
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{
		ImageID:   imageID,
		Journal:   journal.Bytes(),
		Inputs:    inputs,
		TraceRoot: us.TraceRoot(),
		Steps:     state.Step,
		PostState: post,
	}
	p.log.Info("Proved execution", "image", imageID, "steps", receipt.Steps, "trace", receipt.TraceRoot)
	return receipt, nil
}

// ReplayVerifier checks receipts by re-executing their inputs.
type ReplayVerifier struct {
	prover *LocalProver
}

var _ Verifier = (*ReplayVerifier)(nil)

func NewReplayVerifier(logger log.Logger, budget uint64) *ReplayVerifier {
	return &ReplayVerifier{prover: NewLocalProver(logger, budget)}
}

func (v *ReplayVerifier) Verify(receipt *Receipt, imageID common.Hash) error {
	if receipt == nil {
		return fmt.Errorf("%w: nil receipt", ErrVerification)
	}
	if receipt.ImageID != imageID {
		return fmt.Errorf("%w: receipt is for image %s, expected %s", ErrVerification, receipt.ImageID, imageID)
	}
	in, err := serde.DecodeInputs(receipt.Inputs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVerification, err)
	}
	if id := ImageID(in.Module); id != imageID {
		return fmt.Errorf("%w: inputs carry image %s, expected %s", ErrVerification, id, imageID)
	}
	replay, err := v.prover.Prove(context.Background(), receipt.Inputs)
	if err != nil {
		return fmt.Errorf("%w: replay failed: %w", ErrVerification, err)
	}
	switch {
	case replay.Steps != receipt.Steps:
		return fmt.Errorf("%w: steps %d, replay took %d", ErrVerification, receipt.Steps, replay.Steps)
	case replay.TraceRoot != receipt.TraceRoot:
		return fmt.Errorf("%w: trace root %s, replay committed to %s", ErrVerification, receipt.TraceRoot, replay.TraceRoot)
	case replay.PostState != receipt.PostState:
		return fmt.Errorf("%w: post state %s, replay ended in %s", ErrVerification, receipt.PostState, replay.PostState)
	case string(replay.Journal) != string(receipt.Journal):
		return fmt.Errorf("%w: journal %s, replay wrote %s", ErrVerification, receipt.Journal, replay.Journal)
	}
	return nil
}

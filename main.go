package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/wasmvm/wvgo/fast"
	"github.com/ethereum-optimism/wasmvm/wvgo/host"
	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/programs"
	"github.com/ethereum-optimism/wasmvm/wvgo/serde"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
	"github.com/ethereum-optimism/wasmvm/wvgo/wat"
)

// instructionStep is the step both parties agree on before the disputed one.
const instructionStep = 20

func main() {
	l := log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true))
	if err := demo(l); err != nil {
		l.Crit("demo failed", "err", err)
	}
}

func demo(l log.Logger) error {
	bin, err := wat.Assemble(programs.Fib)
	if err != nil {
		return fmt.Errorf("failed to assemble fib: %w", err)
	}
	imageID := host.ImageID(bin)

	inputs, err := serde.EncodeInputs(&serde.Inputs{Module: bin, Export: "fib", Args: []wasm.Value{wasm.I32(10)}})
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}
	receipt, err := host.NewLocalProver(l, 0).Prove(context.Background(), inputs)
	if err != nil {
		return fmt.Errorf("failed to prove: %w", err)
	}
	if err := host.NewReplayVerifier(l, 0).Verify(receipt, imageID); err != nil {
		return fmt.Errorf("failed to verify: %w", err)
	}
	n, err := serde.DecodeI32(receipt.Journal)
	if err != nil {
		return fmt.Errorf("failed to decode journal: %w", err)
	}
	l.Info("fib(10)", "result", n, "steps", receipt.Steps, "trace", receipt.TraceRoot)

	mod, err := module.Decode(bin)
	if err != nil {
		return fmt.Errorf("failed to decode module: %w", err)
	}
	vmState, err := fast.NewVMState(mod, "fib", []wasm.Value{wasm.I32(10)})
	if err != nil {
		return fmt.Errorf("failed to load module into VM state: %w", err)
	}

	// run through agreed instruction steps the fast way
	for i := 0; i < instructionStep; i++ {
		if err := fast.Step(vmState); err != nil {
			return fmt.Errorf("failed to step: %w", err)
		}
	}

	// Now run through the disputed step, from nothing but the module and the pre-state witness.
	pre := vmState.EncodeWitness()
	disputed, err := fast.DecodeWitness(mod, pre)
	if err != nil {
		return fmt.Errorf("failed to decode pre-state witness: %w", err)
	}
	instr, _ := disputed.Instr()
	if err := fast.Step(disputed); err != nil && !errors.Is(err, fast.ErrTrap) {
		return fmt.Errorf("failed to step disputed state: %w", err)
	}
	preHash, err := pre.StateHash()
	if err != nil {
		return err
	}
	postHash, err := disputed.EncodeWitness().StateHash()
	if err != nil {
		return err
	}
	l.Info("disputed step", "step", instructionStep, "instr", instr, "pre", preHash, "post", postHash, "witness", len(pre))
	return nil
}

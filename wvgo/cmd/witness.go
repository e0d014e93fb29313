package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/wasmvm/wvgo/fast"
	"github.com/ethereum-optimism/wasmvm/wvgo/jsonutil"
	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/oracle"
)

type WitnessOutput struct {
	Witness   hexutil.Bytes `json:"witness"`
	StateHash common.Hash   `json:"stateHash"`
	Status    string        `json:"status"`
}

func Witness(ctx *cli.Context) error {
	input := ctx.Path(WitnessInputFlag.Name)
	output := ctx.Path(WitnessOutputFlag.Name)
	state, err := fast.LoadVMStateFromFile(input)
	if err != nil {
		return fmt.Errorf("invalid input state (%v): %w", input, err)
	}
	witness := state.EncodeWitness()
	stateHash, err := witness.StateHash()
	if err != nil {
		return fmt.Errorf("failed to compute witness hash: %w", err)
	}
	if output != "" {
		witnessOutput := &WitnessOutput{
			Witness:   hexutil.Bytes(witness),
			StateHash: stateHash,
			Status:    state.Status.String(),
		}
		if err := jsonutil.WriteJSON(output, witnessOutput, OutFilePerm); err != nil {
			return fmt.Errorf("failed to write witness output %w", err)
		}
	}
	_, _ = fmt.Fprintln(ctx.App.Writer, stateHash.Hex())
	return nil
}

var WitnessCommand = &cli.Command{
	Name:        "witness",
	Usage:       "Convert a JSON state into a binary witness",
	Description: "Convert a JSON state into a binary witness. The state hash is written to stdout",
	Action:      Witness,
	Flags: withLogFlags(
		WitnessInputFlag,
		WitnessOutputFlag,
	),
}

var ErrProofMismatch = errors.New("proof does not match re-execution")

// CheckStep re-executes the single step of a proof from its pre-state witness,
// and checks that the pre- and post-state are the last two states committed to its trace root.
func CheckStep(mod *module.Module, proof *Proof) error {
	pre := fast.StateWitness(proof.StateData)
	if h, err := pre.StateHash(); err != nil {
		return err
	} else if h != proof.Pre {
		return fmt.Errorf("%w: pre-state hashes to %s, proof claims %s", ErrProofMismatch, h, proof.Pre)
	}
	state, err := fast.DecodeWitness(mod, pre)
	if err != nil {
		return fmt.Errorf("failed to decode pre-state: %w", err)
	}
	if err := fast.Step(state); err != nil && !errors.Is(err, fast.ErrTrap) {
		return err
	}
	post := state.EncodeWitness()
	h, err := post.StateHash()
	if err != nil {
		return err
	}
	if h != proof.Post || !bytes.Equal(post, proof.PostData) {
		return fmt.Errorf("%w: step %d ends in %s, proof claims %s", ErrProofMismatch, proof.Step, h, proof.Post)
	}
	hashes, err := oracle.VerifyOpening(proof.TraceRoot, proof.Trace)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProofMismatch, err)
	}
	if n := len(hashes); n < 2 || hashes[n-2] != proof.Pre || hashes[n-1] != proof.Post {
		return fmt.Errorf("%w: trace root %s does not end in the proven step", ErrProofMismatch, proof.TraceRoot)
	}
	return nil
}

func CheckProof(ctx *cli.Context) error {
	l, err := NewLogger(ctx.App.ErrWriter, ctx)
	if err != nil {
		return err
	}
	bin, err := readModule(ctx.Path(ModuleFlag.Name))
	if err != nil {
		return err
	}
	mod, err := module.Decode(bin)
	if err != nil {
		return fmt.Errorf("failed to load module: %w", err)
	}
	proof, err := jsonutil.LoadJSON[Proof](ctx.Path(CheckProofFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to load proof: %w", err)
	}
	if err := CheckStep(mod, proof); err != nil {
		return err
	}
	l.Info("Proof checked", "step", proof.Step, "instr", proof.Instr, "pre", proof.Pre, "post", proof.Post)
	return nil
}

var CheckProofCommand = &cli.Command{
	Name:        "check-proof",
	Usage:       "Re-execute the step of a proof",
	Description: "Decode the pre-state witness of a proof written by run, execute its single step, and compare the post-state.",
	Action:      CheckProof,
	Flags: withLogFlags(
		ModuleFlag,
		CheckProofFlag,
	),
}

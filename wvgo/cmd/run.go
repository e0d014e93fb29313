package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/wasmvm/wvgo/fast"
	"github.com/ethereum-optimism/wasmvm/wvgo/jsonutil"
	"github.com/ethereum-optimism/wasmvm/wvgo/oracle"
	"github.com/ethereum-optimism/wasmvm/wvgo/serde"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

type Proof struct {
	Step uint64 `json:"step"`

	Pre  common.Hash `json:"pre"`
	Post common.Hash `json:"post"`

	// TraceRoot is the trace commitment after the step.
	TraceRoot common.Hash `json:"trace-root"`

	Instr     string        `json:"instr"`
	StateData hexutil.Bytes `json:"state-data"`
	PostData  hexutil.Bytes `json:"post-data"`

	// Trace opens TraceRoot back to the first state of the run, oldest pair last.
	Trace []oracle.Access `json:"trace"`
}

func formatValues(vs []wasm.Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}

func Run(ctx *cli.Context) error {
	if ctx.Bool(RunPProfCPU.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}

	l, err := NewLogger(ctx.App.ErrWriter, ctx)
	if err != nil {
		return err
	}
	state, err := fast.LoadVMStateFromFile(ctx.Path(RunInputFlag.Name))
	if err != nil {
		return err
	}

	stopAt := ctx.Generic(RunStopAtFlag.Name).(*StepMatcherFlag).Matcher()
	proofAtFlag := ctx.Generic(RunProofAtFlag.Name).(*StepMatcherFlag)
	proofAt := proofAtFlag.Matcher()
	snapshotAt := ctx.Generic(RunSnapshotAtFlag.Name).(*StepMatcherFlag).Matcher()
	infoAt := ctx.Generic(RunInfoAtFlag.Name).(*StepMatcherFlag).Matcher()

	// only keep the trace pairs when a proof may need to open the trace
	var so *oracle.StateOracle
	var vmOracle oracle.VMStateOracle
	if !proofAtFlag.Never() {
		so = oracle.NewStateOracle()
		vmOracle = so
	}
	journal := serde.NewJournal(nil)
	us, err := fast.NewInstrumentedState(state, journal, vmOracle)
	if err != nil {
		return err
	}
	proofFmt := ctx.String(RunProofFmtFlag.Name)
	snapshotFmt := ctx.String(RunSnapshotFmtFlag.Name)

	start := time.Now()
	startStep := state.Step

	for !state.Done() {
		if state.Step%100 == 0 { // don't do the ctx err check (includes lock) too often
			if err := ctx.Context.Err(); err != nil {
				return err
			}
		}

		step := state.Step
		f, _ := state.Current()
		if f == nil {
			return fmt.Errorf("no active frame at step %d", step)
		}
		instr, _ := state.Instr()

		if infoAt(state) {
			delta := time.Since(start)
			l.Info("processing",
				"step", step,
				"func", f.Func,
				"pc", HexU32(f.PC),
				"instr", instr,
				"ips", float64(step-startStep)/(float64(delta)/float64(time.Second)),
				"frames", len(state.Frames),
				"stack", len(state.Stack),
			)
		}

		if stopAt(state) {
			break
		}

		if snapshotAt(state) {
			if err := fast.WriteVMStateToFile(fmt.Sprintf(snapshotFmt, step), state, OutFilePerm); err != nil {
				return fmt.Errorf("failed to write state snapshot: %w", err)
			}
		}

		prove := proofAt(state)
		witness, err := us.Step(prove)
		if err != nil && !errors.Is(err, fast.ErrTrap) {
			return fmt.Errorf("failed at step %d (func %d, pc %d): %w", step, f.Func, f.PC, err)
		}
		if prove {
			pre, err := witness.State.StateHash()
			if err != nil {
				return fmt.Errorf("failed to hash prestate witness: %w", err)
			}
			post, err := witness.PostState.StateHash()
			if err != nil {
				return fmt.Errorf("failed to hash poststate witness: %w", err)
			}
			opening, err := so.Open(us.TraceRoot(), us.TraceLen())
			if err != nil {
				return fmt.Errorf("failed to open trace: %w", err)
			}
			proof := &Proof{
				Step:      step,
				Pre:       pre,
				Post:      post,
				TraceRoot: us.TraceRoot(),
				Instr:     witness.Instr.String(),
				StateData: hexutil.Bytes(witness.State),
				PostData:  hexutil.Bytes(witness.PostState),
				Trace:     opening,
			}
			if err := jsonutil.WriteJSON(fmt.Sprintf(proofFmt, step), proof, OutFilePerm); err != nil {
				return fmt.Errorf("failed to write proof data: %w", err)
			}
		}
	}

	trapErr := state.TrapError()
	switch state.Status {
	case fast.StatusReturned:
		out := &LoggingWriter{Name: "program results", Log: l}
		_, _ = fmt.Fprint(out, formatValues(state.Results))
		_, _ = out.Write(journal.Bytes())
	case fast.StatusTrapped:
		l.Error("program trapped", "step", state.Step, "err", trapErr)
	default:
		l.Info("stopped", "step", state.Step, "status", state.Status)
	}
	l.Info("trace", "root", us.TraceRoot(), "len", us.TraceLen())

	if err := fast.WriteVMStateToFile(ctx.Path(RunOutputFlag.Name), state, OutFilePerm); err != nil {
		return fmt.Errorf("failed to write state output: %w", err)
	}
	return trapErr
}

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Run VM step(s) and generate proof data",
	Description: "Run VM step(s) and generate proof data. See flags to match when to output a proof, a snapshot, or to stop early.",
	Action:      Run,
	Flags: withLogFlags(
		RunInputFlag,
		RunOutputFlag,
		RunProofAtFlag,
		RunProofFmtFlag,
		RunSnapshotAtFlag,
		RunSnapshotFmtFlag,
		RunStopAtFlag,
		RunInfoAtFlag,
		RunPProfCPU,
	),
}

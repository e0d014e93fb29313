package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/wasmvm/wvgo/fast"
)

const envVarPrefix = "WASMVM"

func prefixEnvVars(name string) []string {
	return []string{envVarPrefix + "_" + name}
}

type StepMatcher func(st *fast.VMState) bool

// StepMatcherFlag matches steps: "never", "always", "=N" (exactly step N) or "%N" (every N steps).
type StepMatcherFlag struct {
	repr    string
	matcher StepMatcher
}

func MustStepMatcherFlag(pattern string) *StepMatcherFlag {
	out := new(StepMatcherFlag)
	if err := out.Set(pattern); err != nil {
		panic(err)
	}
	return out
}

func (m *StepMatcherFlag) Set(value string) error {
	m.repr = value
	switch {
	case value == "" || value == "never":
		m.matcher = func(st *fast.VMState) bool { return false }
	case value == "always":
		m.matcher = func(st *fast.VMState) bool { return true }
	case strings.HasPrefix(value, "="):
		when, err := strconv.ParseUint(value[1:], 0, 64)
		if err != nil {
			return fmt.Errorf("failed to parse step number: %w", err)
		}
		m.matcher = func(st *fast.VMState) bool { return st.Step == when }
	case strings.HasPrefix(value, "%"):
		when, err := strconv.ParseUint(value[1:], 0, 64)
		if err != nil {
			return fmt.Errorf("failed to parse step interval: %w", err)
		}
		if when == 0 {
			return fmt.Errorf("step interval must be positive")
		}
		m.matcher = func(st *fast.VMState) bool { return st.Step%when == 0 }
	default:
		return fmt.Errorf("unrecognized step matcher: %q", value)
	}
	return nil
}

func (m *StepMatcherFlag) String() string {
	return m.repr
}

func (m *StepMatcherFlag) Matcher() StepMatcher {
	if m.matcher == nil { // Set might not be called for defaults
		return func(st *fast.VMState) bool { return false }
	}
	return m.matcher
}

// Never reports whether the matcher can never match.
func (m *StepMatcherFlag) Never() bool {
	return m.repr == "" || m.repr == "never"
}

func (m *StepMatcherFlag) Clone() any {
	var out StepMatcherFlag
	if err := out.Set(m.repr); err != nil {
		panic(fmt.Errorf("invalid repr: %w", err))
	}
	return &out
}

var (
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "The lowest log level that will be output: trace, debug, info, warn, error or crit.",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
	}
	LogFormatFlag = &cli.StringFlag{
		Name:    "log.format",
		Usage:   "Format of the log output: logfmt, json or terminal.",
		Value:   "logfmt",
		EnvVars: prefixEnvVars("LOG_FORMAT"),
	}

	Wat2WasmInputFlag = &cli.PathFlag{
		Name:      "input",
		Usage:     "Path of the WebAssembly text module.",
		TakesFile: true,
		Required:  true,
	}
	Wat2WasmOutputFlag = &cli.PathFlag{
		Name:      "output",
		Usage:     "Output path of the binary module. Use '-' for stdout.",
		TakesFile: true,
		Value:     "module.wasm",
	}

	ModuleFlag = &cli.PathFlag{
		Name:      "module",
		Usage:     "Path of the module: a binary .wasm file, or a .wat text file that is assembled first.",
		TakesFile: true,
		Required:  true,
		EnvVars:   prefixEnvVars("MODULE"),
	}
	ExportFlag = &cli.StringFlag{
		Name:    "export",
		Usage:   "Name of the exported function to invoke.",
		Value:   "main",
		EnvVars: prefixEnvVars("EXPORT"),
	}
	ArgFlag = &cli.StringSliceFlag{
		Name:  "arg",
		Usage: "Argument of the invocation, in order: i32:<n>, i64:<n> or a bare i32.",
	}
	LoadOutputFlag = &cli.PathFlag{
		Name:      "output",
		Usage:     "Output path of the JSON state. Use '-' for stdout.",
		TakesFile: true,
		Value:     "state.json",
	}

	RunInputFlag = &cli.PathFlag{
		Name:      "input",
		Usage:     "Path of the input JSON state.",
		TakesFile: true,
		Value:     "state.json",
	}
	RunOutputFlag = &cli.PathFlag{
		Name:      "output",
		Usage:     "Output path of the state JSON at the end of the run. Use '-' for stdout.",
		TakesFile: true,
		Value:     "out.json",
	}
	RunProofAtFlag = &cli.GenericFlag{
		Name:  "proof-at",
		Usage: "Step pattern to output a proof at: 'never' (default), 'always', '=123' at exactly step 123, '%123' for every 123 steps.",
		Value: MustStepMatcherFlag(""),
	}
	RunProofFmtFlag = &cli.StringFlag{
		Name:  "proof-fmt",
		Usage: "Format of the proof output files. Formatted with the step number.",
		Value: "proof-%d.json",
	}
	RunSnapshotAtFlag = &cli.GenericFlag{
		Name:  "snapshot-at",
		Usage: "Step pattern to output a state snapshot at. See proof-at.",
		Value: MustStepMatcherFlag(""),
	}
	RunSnapshotFmtFlag = &cli.StringFlag{
		Name:  "snapshot-fmt",
		Usage: "Format of the snapshot output files. Formatted with the step number.",
		Value: "state-%d.json",
	}
	RunStopAtFlag = &cli.GenericFlag{
		Name:  "stop-at",
		Usage: "Step pattern to stop at. See proof-at.",
		Value: MustStepMatcherFlag(""),
	}
	RunInfoAtFlag = &cli.GenericFlag{
		Name:  "info-at",
		Usage: "Step pattern to print progress info at. See proof-at.",
		Value: MustStepMatcherFlag("%100000"),
	}
	RunPProfCPU = &cli.BoolFlag{
		Name:  "pprof.cpu",
		Usage: "Enable pprof cpu profiling.",
	}

	WitnessInputFlag = &cli.PathFlag{
		Name:      "input",
		Usage:     "Path of the input JSON state.",
		TakesFile: true,
		Required:  true,
	}
	WitnessOutputFlag = &cli.PathFlag{
		Name:      "output",
		Usage:     "Path to write the witness to. Use '-' for stdout, empty to only print the state hash.",
		TakesFile: true,
	}

	CheckProofFlag = &cli.PathFlag{
		Name:      "proof",
		Usage:     "Path of a proof written by the run command.",
		TakesFile: true,
		Required:  true,
	}

	ProveCallFlag = &cli.StringSliceFlag{
		Name:  "call",
		Usage: "Space-separated arguments of one invocation. Repeat to prove a batch. Overrides --arg.",
	}
	ProveOutputFlag = &cli.PathFlag{
		Name:      "output",
		Usage:     "Output path of the receipt JSON, or of the receipt list for a batch. Use '-' for stdout.",
		TakesFile: true,
		Value:     "receipt.json",
	}
	BudgetFlag = &cli.Uint64Flag{
		Name:    "budget",
		Usage:   "Maximum number of steps per invocation. 0 is unbounded.",
		EnvVars: prefixEnvVars("BUDGET"),
	}
	ParallelismFlag = &cli.IntFlag{
		Name:    "parallelism",
		Usage:   "Number of invocations of a batch proved concurrently.",
		Value:   4,
		EnvVars: prefixEnvVars("PARALLELISM"),
	}
	StoreFlag = &cli.PathFlag{
		Name:      "store",
		Usage:     "Path of the receipt database.",
		TakesFile: true,
		EnvVars:   prefixEnvVars("STORE"),
	}

	ReceiptFlag = &cli.PathFlag{
		Name:      "receipt",
		Usage:     "Path of the receipt JSON to verify.",
		TakesFile: true,
	}
	ReceiptIDFlag = &cli.StringFlag{
		Name:  "id",
		Usage: "Base58 ID of a receipt in the store.",
	}
	ImageIDFlag = &cli.StringFlag{
		Name:  "image",
		Usage: "Expected image ID, hex encoded.",
	}
	VerifyModuleFlag = &cli.PathFlag{
		Name:      "module",
		Usage:     "Module to derive the expected image ID from, if --image is not set.",
		TakesFile: true,
	}
)

// LogFlags are accepted by every command.
var LogFlags = []cli.Flag{LogLevelFlag, LogFormatFlag}

func withLogFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags, LogFlags...)
}

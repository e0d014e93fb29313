package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/wasmvm/wvgo/fast"
	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
	"github.com/ethereum-optimism/wasmvm/wvgo/wat"
)

var OutFilePerm = os.FileMode(0o755)

// readModule returns the binary encoding of the module at path, assembling .wat sources.
func readModule(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %q: %w", path, err)
	}
	if filepath.Ext(path) != ".wat" {
		return data, nil
	}
	bin, err := wat.Assemble(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble %q: %w", path, err)
	}
	return bin, nil
}

func parseArgs(args []string) ([]wasm.Value, error) {
	out := make([]wasm.Value, 0, len(args))
	for i, a := range args {
		v, err := wasm.ParseValue(strings.TrimSpace(a))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func LoadWasm(ctx *cli.Context) error {
	bin, err := readModule(ctx.Path(ModuleFlag.Name))
	if err != nil {
		return err
	}
	mod, err := module.Decode(bin)
	if err != nil {
		return fmt.Errorf("failed to load module: %w", err)
	}
	args, err := parseArgs(ctx.StringSlice(ArgFlag.Name))
	if err != nil {
		return err
	}
	state, err := fast.NewVMState(mod, ctx.String(ExportFlag.Name), args)
	if err != nil {
		return fmt.Errorf("failed to load module into VM state: %w", err)
	}
	return fast.WriteVMStateToFile(ctx.Path(LoadOutputFlag.Name), state, OutFilePerm)
}

var LoadWasmCommand = &cli.Command{
	Name:        "load-wasm",
	Usage:       "Load a WebAssembly module invocation into JSON state",
	Description: "Decode and validate a WebAssembly module, and prepare the invocation of one of its exports with the given arguments.",
	Action:      LoadWasm,
	Flags: withLogFlags(
		ModuleFlag,
		ExportFlag,
		ArgFlag,
		LoadOutputFlag,
	),
}

func Wat2Wasm(ctx *cli.Context) error {
	src, err := os.ReadFile(ctx.Path(Wat2WasmInputFlag.Name))
	if err != nil {
		return err
	}
	bin, err := wat.Assemble(string(src))
	if err != nil {
		return err
	}
	out := ctx.Path(Wat2WasmOutputFlag.Name)
	if out == "-" {
		_, err = os.Stdout.Write(bin)
		return err
	}
	if err := os.WriteFile(out, bin, OutFilePerm); err != nil {
		return fmt.Errorf("failed to write module: %w", err)
	}
	return nil
}

var Wat2WasmCommand = &cli.Command{
	Name:        "wat2wasm",
	Usage:       "Assemble a WebAssembly text module into its binary encoding",
	Description: "Assemble the integer subset of the WebAssembly text format that the interpreter executes.",
	Action:      Wat2Wasm,
	Flags: withLogFlags(
		Wat2WasmInputFlag,
		Wat2WasmOutputFlag,
	),
}

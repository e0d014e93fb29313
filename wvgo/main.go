package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/wasmvm/wvgo/cmd"
)

func main() {
	app := cli.NewApp()
	app.Name = "wasmvm"
	app.Usage = "Deterministic WebAssembly interpreter"
	app.Description = "Deterministic WebAssembly interpreter with step witnesses, trace commitments and execution receipts"
	app.Commands = []*cli.Command{
		cmd.Wat2WasmCommand,
		cmd.LoadWasmCommand,
		cmd.RunCommand,
		cmd.WitnessCommand,
		cmd.CheckProofCommand,
		cmd.ProveCommand,
		cmd.VerifyCommand,
		cmd.ReceiptsCommand,
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			<-c
			cancel()
			fmt.Println("\r\nExiting...")
		}
	}()

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			_, _ = fmt.Fprintf(os.Stderr, "command interrupted")
			os.Exit(130)
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v", err)
			os.Exit(1)
		}
	}
}

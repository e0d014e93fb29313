package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/wasmvm/wvgo/host"
	"github.com/ethereum-optimism/wasmvm/wvgo/jsonutil"
	"github.com/ethereum-optimism/wasmvm/wvgo/receipts"
	"github.com/ethereum-optimism/wasmvm/wvgo/serde"
)

// proveInputs encodes one invocation per --call, or a single invocation from --arg.
func proveInputs(ctx *cli.Context, bin []byte) ([][]byte, error) {
	export := ctx.String(ExportFlag.Name)
	calls := [][]string{ctx.StringSlice(ArgFlag.Name)}
	if c := ctx.StringSlice(ProveCallFlag.Name); len(c) > 0 {
		calls = calls[:0]
		for _, call := range c {
			calls = append(calls, strings.Fields(call))
		}
	}
	out := make([][]byte, 0, len(calls))
	for i, call := range calls {
		args, err := parseArgs(call)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		in, err := serde.EncodeInputs(&serde.Inputs{Module: bin, Export: export, Args: args})
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

func openStore(ctx *cli.Context, readOnly bool) (*receipts.Store, error) {
	path := ctx.Path(StoreFlag.Name)
	if path == "" {
		return nil, fmt.Errorf("--%s is required", StoreFlag.Name)
	}
	return receipts.Open(receipts.Config{Path: path, ReadOnly: readOnly})
}

func Prove(ctx *cli.Context) error {
	l, err := NewLogger(ctx.App.ErrWriter, ctx)
	if err != nil {
		return err
	}
	bin, err := readModule(ctx.Path(ModuleFlag.Name))
	if err != nil {
		return err
	}
	inputs, err := proveInputs(ctx, bin)
	if err != nil {
		return err
	}
	prover := host.NewLocalProver(l, ctx.Uint64(BudgetFlag.Name))
	out, err := host.ProveBatch(ctx.Context, prover, inputs, ctx.Int(ParallelismFlag.Name))
	if err != nil {
		return err
	}

	if ctx.IsSet(StoreFlag.Name) {
		store, err := openStore(ctx, false)
		if err != nil {
			return err
		}
		defer store.Close()
		for _, r := range out {
			id, err := store.Put(r)
			if err != nil {
				return err
			}
			l.Info("Stored receipt", "id", id, "image", r.ImageID)
		}
	}

	path := ctx.Path(ProveOutputFlag.Name)
	if len(out) == 1 {
		err = jsonutil.WriteJSON(path, out[0], OutFilePerm)
	} else {
		err = jsonutil.WriteJSON(path, out, OutFilePerm)
	}
	if err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	return nil
}

var ProveCommand = &cli.Command{
	Name:        "prove",
	Usage:       "Execute exported functions and write receipts",
	Description: "Execute one or more invocations of a module export and write receipts committing to their results and execution traces.",
	Action:      Prove,
	Flags: withLogFlags(
		ModuleFlag,
		ExportFlag,
		ArgFlag,
		ProveCallFlag,
		ProveOutputFlag,
		BudgetFlag,
		ParallelismFlag,
		StoreFlag,
	),
}

func expectedImage(ctx *cli.Context) (common.Hash, error) {
	if s := ctx.String(ImageIDFlag.Name); s != "" {
		b, err := hexutil.Decode(s)
		if err != nil || len(b) != common.HashLength {
			return common.Hash{}, fmt.Errorf("invalid image ID %q", s)
		}
		return common.BytesToHash(b), nil
	}
	if path := ctx.Path(VerifyModuleFlag.Name); path != "" {
		bin, err := readModule(path)
		if err != nil {
			return common.Hash{}, err
		}
		return host.ImageID(bin), nil
	}
	return common.Hash{}, fmt.Errorf("one of --%s or --%s is required", ImageIDFlag.Name, VerifyModuleFlag.Name)
}

func loadReceipt(ctx *cli.Context) (*host.Receipt, error) {
	if path := ctx.Path(ReceiptFlag.Name); path != "" {
		return jsonutil.LoadJSON[host.Receipt](path)
	}
	if s := ctx.String(ReceiptIDFlag.Name); s != "" {
		id, err := receipts.ParseID(s)
		if err != nil {
			return nil, err
		}
		store, err := openStore(ctx, true)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Get(id)
	}
	return nil, fmt.Errorf("one of --%s or --%s is required", ReceiptFlag.Name, ReceiptIDFlag.Name)
}

func Verify(ctx *cli.Context) error {
	l, err := NewLogger(ctx.App.ErrWriter, ctx)
	if err != nil {
		return err
	}
	imageID, err := expectedImage(ctx)
	if err != nil {
		return err
	}
	receipt, err := loadReceipt(ctx)
	if err != nil {
		return err
	}
	if err := host.NewReplayVerifier(l, ctx.Uint64(BudgetFlag.Name)).Verify(receipt, imageID); err != nil {
		return err
	}
	results, err := serde.DecodeJournal(receipt.Journal)
	if err != nil {
		return err
	}
	l.Info("Receipt verified", "image", imageID, "steps", receipt.Steps, "trace", receipt.TraceRoot)
	_, _ = fmt.Fprintln(ctx.App.Writer, formatValues(results))
	return nil
}

var VerifyCommand = &cli.Command{
	Name:        "verify",
	Usage:       "Verify a receipt against an image ID",
	Description: "Verify a receipt, read from a file or from the receipt store, by replaying its inputs. The committed results are written to stdout.",
	Action:      Verify,
	Flags: withLogFlags(
		ReceiptFlag,
		ReceiptIDFlag,
		StoreFlag,
		ImageIDFlag,
		VerifyModuleFlag,
		BudgetFlag,
	),
}

func ListReceipts(ctx *cli.Context) error {
	store, err := openStore(ctx, true)
	if err != nil {
		return err
	}
	defer store.Close()
	imageID, err := expectedImage(ctx)
	if err != nil {
		return err
	}
	ids, err := store.ListByImage(imageID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		_, _ = fmt.Fprintln(ctx.App.Writer, id)
	}
	return nil
}

func ShowReceipt(ctx *cli.Context) error {
	if !ctx.IsSet(ReceiptIDFlag.Name) {
		return errors.New("--id is required")
	}
	r, err := loadReceipt(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(ctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func DeleteReceipt(ctx *cli.Context) error {
	l, err := NewLogger(ctx.App.ErrWriter, ctx)
	if err != nil {
		return err
	}
	id, err := receipts.ParseID(ctx.String(ReceiptIDFlag.Name))
	if err != nil {
		return err
	}
	store, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Delete(id); err != nil {
		return err
	}
	l.Info("Deleted receipt", "id", id)
	return nil
}

var ReceiptsCommand = &cli.Command{
	Name:  "receipts",
	Usage: "Inspect the receipt store",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List the IDs of the stored receipts of an image",
			Action: ListReceipts,
			Flags:  withLogFlags(StoreFlag, ImageIDFlag, VerifyModuleFlag),
		},
		{
			Name:   "show",
			Usage:  "Write a stored receipt to stdout",
			Action: ShowReceipt,
			Flags:  withLogFlags(StoreFlag, ReceiptIDFlag),
		},
		{
			Name:   "delete",
			Usage:  "Delete a stored receipt",
			Action: DeleteReceipt,
			Flags:  withLogFlags(StoreFlag, ReceiptIDFlag),
		},
	},
}

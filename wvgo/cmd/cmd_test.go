package cmd

import (
	"bytes"
	"context"
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/wasmvm/wvgo/fast"
	"github.com/ethereum-optimism/wasmvm/wvgo/host"
	"github.com/ethereum-optimism/wasmvm/wvgo/jsonutil"
	"github.com/ethereum-optimism/wasmvm/wvgo/module"
	"github.com/ethereum-optimism/wasmvm/wvgo/programs"
	"github.com/ethereum-optimism/wasmvm/wvgo/wasm"
)

// matchers resets the shared step matcher flags before the args of a run.
var matchers = []string{"--stop-at", "never", "--proof-at", "never", "--snapshot-at", "never", "--info-at", "never"}

func runApp(t *testing.T, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	app := cli.NewApp()
	app.Name = "wasmvm"
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.Commands = []*cli.Command{
		Wat2WasmCommand,
		LoadWasmCommand,
		RunCommand,
		WitnessCommand,
		CheckProofCommand,
		ProveCommand,
		VerifyCommand,
		ReceiptsCommand,
	}
	err := app.RunContext(context.Background(), append([]string{"wasmvm"}, args...))
	t.Logf("stderr: %s", stderr.String())
	return stdout.String(), err
}

func writeFib(t *testing.T, dir string) string {
	path := filepath.Join(dir, "fib.wat")
	require.NoError(t, os.WriteFile(path, []byte(programs.Fib), 0o644))
	return path
}

func TestStepMatcherFlag(t *testing.T) {
	at := func(step uint64) *fast.VMState { return &fast.VMState{Step: step} }
	cases := []struct {
		pattern string
		match   []uint64
		miss    []uint64
	}{
		{"never", nil, []uint64{0, 1, 100}},
		{"", nil, []uint64{0, 7}},
		{"always", []uint64{0, 1, 100}, nil},
		{"=12", []uint64{12}, []uint64{0, 11, 13, 24}},
		{"%5", []uint64{0, 5, 10}, []uint64{1, 4, 6}},
	}
	for _, tc := range cases {
		m := MustStepMatcherFlag(tc.pattern).Matcher()
		for _, s := range tc.match {
			require.True(t, m(at(s)), "%q at %d", tc.pattern, s)
		}
		for _, s := range tc.miss {
			require.False(t, m(at(s)), "%q at %d", tc.pattern, s)
		}
	}
	for _, bad := range []string{"sometimes", "=x", "%0", "%"} {
		require.Error(t, new(StepMatcherFlag).Set(bad), bad)
	}
	require.True(t, MustStepMatcherFlag("never").Never())
	require.True(t, MustStepMatcherFlag("").Never())
	require.False(t, MustStepMatcherFlag("%5").Never())
	clone := MustStepMatcherFlag("=3").Clone().(*StepMatcherFlag)
	require.Equal(t, "=3", clone.String())
	require.True(t, clone.Matcher()(at(3)))
}

func TestLoadRunCheck(t *testing.T) {
	dir := t.TempDir()
	src := writeFib(t, dir)
	bin := filepath.Join(dir, "fib.wasm")
	_, err := runApp(t, "wat2wasm", "--input", src, "--output", bin)
	require.NoError(t, err)

	state := filepath.Join(dir, "state.json")
	_, err = runApp(t, "load-wasm", "--module", bin, "--export", "fib", "--arg", "10", "--output", state)
	require.NoError(t, err)

	out := filepath.Join(dir, "out.json.gz")
	args := append([]string{"run"}, matchers...)
	args = append(args,
		"--input", state, "--output", out,
		"--proof-at", "=5", "--proof-fmt", filepath.Join(dir, "proof-%d.json"),
		"--snapshot-at", "=20", "--snapshot-fmt", filepath.Join(dir, "state-%d.json"),
		"--info-at", "%50",
	)
	_, err = runApp(t, args...)
	require.NoError(t, err)

	final, err := fast.LoadVMStateFromFile(out)
	require.NoError(t, err)
	require.Equal(t, fast.StatusReturned, final.Status)
	require.Equal(t, []wasm.Value{wasm.I32(55)}, final.Results)

	// resuming from the snapshot ends in the same state
	resumed := filepath.Join(dir, "resumed.json")
	args = append([]string{"run"}, matchers...)
	_, err = runApp(t, append(args, "--input", filepath.Join(dir, "state-20.json"), "--output", resumed)...)
	require.NoError(t, err)
	again, err := fast.LoadVMStateFromFile(resumed)
	require.NoError(t, err)
	require.Equal(t, final.EncodeWitness(), again.EncodeWitness())

	proofPath := filepath.Join(dir, "proof-5.json")
	_, err = runApp(t, "check-proof", "--module", src, "--proof", proofPath)
	require.NoError(t, err)

	proof, err := jsonutil.LoadJSON[Proof](proofPath)
	require.NoError(t, err)
	require.Equal(t, uint64(5), proof.Step)
	// the trace opens back to the loaded state: states 0 to 6
	require.Len(t, proof.Trace, 7)
	mod, err := module.Decode(mustRead(t, bin))
	require.NoError(t, err)
	require.NoError(t, CheckStep(mod, proof))

	for name, tamper := range map[string]func(p *Proof){
		"trace pair":      func(p *Proof) { p.Trace[3].Pair[1][0] ^= 1 },
		"trace root":      func(p *Proof) { p.TraceRoot[0] ^= 1 },
		"truncated trace": func(p *Proof) { p.Trace = p.Trace[:len(p.Trace)-1] },
		"missing trace":   func(p *Proof) { p.Trace = nil },
	} {
		p, err := jsonutil.LoadJSON[Proof](proofPath)
		require.NoError(t, err)
		tamper(p)
		require.ErrorIs(t, CheckStep(mod, p), ErrProofMismatch, name)
	}

	proof.PostData[len(proof.PostData)-1] ^= 1
	require.ErrorIs(t, CheckStep(mod, proof), ErrProofMismatch)
	proof.StateData[40] ^= 1
	require.ErrorIs(t, CheckStep(mod, proof), ErrProofMismatch)

	witnessOut := filepath.Join(dir, "witness.json")
	stdout, err := runApp(t, "witness", "--input", out, "--output", witnessOut)
	require.NoError(t, err)
	w, err := jsonutil.LoadJSON[WitnessOutput](witnessOut)
	require.NoError(t, err)
	require.Equal(t, w.StateHash.Hex(), strings.TrimSpace(stdout))
	require.Equal(t, uint8(wasm.VMStatusValid), w.StateHash[0])
	require.Equal(t, "returned", w.Status)
}

func mustRead(t *testing.T, path string) []byte {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func TestRunStopAndTrap(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "state.json")
	_, err := runApp(t, "load-wasm", "--module", writeFib(t, dir), "--export", "fib", "--arg", "i32:10", "--output", state)
	require.NoError(t, err)

	out := filepath.Join(dir, "out.json")
	args := append([]string{"run"}, matchers...)
	_, err = runApp(t, append(args, "--input", state, "--output", out, "--stop-at", "=7")...)
	require.NoError(t, err)
	stopped, err := fast.LoadVMStateFromFile(out)
	require.NoError(t, err)
	require.Equal(t, uint64(7), stopped.Step)
	require.Equal(t, fast.StatusRunning, stopped.Status)

	// a running state without frames is refused instead of run
	stopped.Frames = nil
	crafted := filepath.Join(dir, "crafted.json")
	require.NoError(t, fast.WriteVMStateToFile(crafted, stopped, 0o644))
	args = append([]string{"run"}, matchers...)
	_, err = runApp(t, append(args, "--input", crafted, "--output", out, "--info-at", "always")...)
	require.ErrorIs(t, err, fast.ErrInvalidState)

	trapSrc := filepath.Join(dir, "trap.wat")
	require.NoError(t, os.WriteFile(trapSrc, []byte(`(func (export "main") (result i32) (i32.div_s (i32.const 1) (i32.const 0)))`), 0o644))
	_, err = runApp(t, "load-wasm", "--module", trapSrc, "--output", state)
	require.NoError(t, err)
	args = append([]string{"run"}, matchers...)
	_, err = runApp(t, append(args, "--input", state, "--output", out)...)
	require.ErrorIs(t, err, fast.ErrTrap)
	require.ErrorIs(t, err, fast.ErrIntegerDivideByZero)
	trapped, err := fast.LoadVMStateFromFile(out)
	require.NoError(t, err)
	require.Equal(t, fast.StatusTrapped, trapped.Status)

	_, err = runApp(t, "load-wasm", "--module", trapSrc, "--export", "nope", "--output", state)
	require.ErrorIs(t, err, fast.ErrExportNotFound)
	_, err = runApp(t, "load-wasm", "--module", trapSrc, "--arg", "1", "--output", state)
	require.ErrorIs(t, err, fast.ErrArgumentTypeMismatch)
}

func TestProveVerifyReceipts(t *testing.T) {
	dir := t.TempDir()
	src := writeFib(t, dir)
	store := filepath.Join(dir, "receipts.db")

	batch := filepath.Join(dir, "batch.json")
	_, err := runApp(t, "prove", "--module", src, "--export", "fib",
		"--call", "5", "--call", "10", "--store", store, "--output", batch)
	require.NoError(t, err)
	receipts, err := jsonutil.LoadJSON[[]*host.Receipt](batch)
	require.NoError(t, err)
	require.Len(t, *receipts, 2)

	single := filepath.Join(dir, "receipt.json")
	_, err = runApp(t, "prove", "--module", src, "--export", "fib", "--arg", "10", "--store", store, "--output", single)
	require.NoError(t, err)

	stdout, err := runApp(t, "verify", "--receipt", single, "--module", src)
	require.NoError(t, err)
	require.Equal(t, "i32:55", strings.TrimSpace(stdout))

	_, err = runApp(t, "verify", "--receipt", single, "--image", "0x"+strings.Repeat("00", 32))
	require.ErrorIs(t, err, host.ErrVerification)

	// fib(10) was proved twice, and stored once
	stdout, err = runApp(t, "receipts", "list", "--store", store, "--module", src)
	require.NoError(t, err)
	ids := strings.Fields(stdout)
	require.Len(t, ids, 2)

	image := (*receipts)[0].ImageID.Hex()
	for _, id := range ids {
		_, err = runApp(t, "verify", "--id", id, "--store", store, "--image", image)
		require.NoError(t, err)
	}

	stdout, err = runApp(t, "receipts", "show", "--store", store, "--id", ids[0])
	require.NoError(t, err)
	require.Contains(t, stdout, image)

	_, err = runApp(t, "receipts", "delete", "--store", store, "--id", ids[0])
	require.NoError(t, err)
	stdout, err = runApp(t, "receipts", "list", "--store", store, "--image", image)
	require.NoError(t, err)
	require.Equal(t, []string{ids[1]}, strings.Fields(stdout))

	_, err = runApp(t, "prove", "--module", src, "--export", "fib", "--arg", "30", "--budget", "100", "--output", single)
	require.ErrorIs(t, err, fast.ErrStepBudgetExhausted)
}

func TestLoggingWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &LoggingWriter{Name: "results", Log: Logger(&buf, log.LevelInfo)}
	_, err := lw.Write([]byte("i32:55"))
	require.NoError(t, err)
	require.Contains(t, buf.String(), "text=i32:55")

	buf.Reset()
	_, err = lw.Write([]byte{0x00, 0xff})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "data=0x00ff")

	require.Equal(t, "0000002a", HexU32(42).String())

	for _, lvl := range []string{"trace", "debug", "info", "warn", "error", "crit", "INFO"} {
		_, err := parseLevel(lvl)
		require.NoError(t, err, lvl)
	}
	_, err = parseLevel("loud")
	require.Error(t, err)
}

func TestLogFlags(t *testing.T) {
	dir := t.TempDir()
	src := writeFib(t, dir)
	out := filepath.Join(dir, "r.json")
	_, err := runApp(t, "prove", "--log.format", "xml", "--module", src, "--export", "fib", "--arg", "3", "--output", out)
	require.ErrorContains(t, err, "unknown log format")
	_, err = runApp(t, "prove", "--log.level", "loud", "--module", src, "--export", "fib", "--arg", "3", "--output", out)
	require.ErrorContains(t, err, "unknown log level")
	for _, format := range []string{"logfmt", "json", "terminal"} {
		_, err = runApp(t, "prove", "--log.format", format, "--log.level", "debug", "--module", src, "--export", "fib", "--arg", "3", "--output", out)
		require.NoError(t, err, format)
	}
}

// File names like load_wasm.go read as GOARCH constraints and silently drop out of the build.
func TestSourcesBuildOnEveryPlatform(t *testing.T) {
	names, err := filepath.Glob("*.go")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	for _, target := range [][2]string{{"linux", "amd64"}, {"darwin", "arm64"}, {"windows", "amd64"}} {
		bctx := build.Default
		bctx.GOOS, bctx.GOARCH = target[0], target[1]
		for _, name := range names {
			ok, err := bctx.MatchFile(".", name)
			require.NoError(t, err)
			require.True(t, ok, "%s is excluded on %s/%s", name, target[0], target[1])
		}
	}
}

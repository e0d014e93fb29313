package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

func Logger(w io.Writer, lvl slog.Level) log.Logger {
	return log.NewLogger(log.LogfmtHandlerWithLevel(w, lvl))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds the logger selected by the log flags.
func NewLogger(w io.Writer, ctx *cli.Context) (log.Logger, error) {
	lvl, err := parseLevel(ctx.String(LogLevelFlag.Name))
	if err != nil {
		return nil, err
	}
	switch format := ctx.String(LogFormatFlag.Name); format {
	case "", "logfmt":
		return Logger(w, lvl), nil
	case "json":
		return log.NewLogger(log.JSONHandlerWithLevel(w, lvl)), nil
	case "terminal":
		return log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, false)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// LoggingWriter is a simple util to wrap a logger,
// and expose an io Writer interface,
// for the results of the program running within the VM.
type LoggingWriter struct {
	Name string
	Log  log.Logger
}

func logAsText(b string) bool {
	for _, c := range b {
		if (c < 0x20 || c >= 0x7F) && (c != '\n' && c != '\t') {
			return false
		}
	}
	return true
}

func (lw *LoggingWriter) Write(b []byte) (int, error) {
	t := string(b)
	if logAsText(t) {
		lw.Log.Info(lw.Name, "text", t)
	} else {
		lw.Log.Info(lw.Name, "data", hexutil.Bytes(b))
	}
	return len(b), nil
}

// HexU32 to lazy-format integer attributes for logging
type HexU32 uint32

func (v HexU32) String() string {
	return fmt.Sprintf("%08x", uint32(v))
}

func (v HexU32) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

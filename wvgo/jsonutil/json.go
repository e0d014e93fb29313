package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var ErrEmptyPath = errors.New("empty path")

// LoadJSON reads a JSON document from a file.
// Files ending in .gz are gzip-compressed, files ending in .zst are zstd-compressed.
func LoadJSON[X any](inputPath string) (*X, error) {
	if inputPath == "" {
		return nil, ErrEmptyPath
	}
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", inputPath, err)
	}
	defer f.Close()
	r, closeFn, err := decompressor(inputPath, f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", inputPath, err)
	}
	defer closeFn()
	var state X
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode file %q: %w", inputPath, err)
	}
	return &state, nil
}

// WriteJSON writes v as JSON to a file, compressing it according to the file extension.
// The path "-" writes uncompressed to stdout.
func WriteJSON[X any](outputPath string, v X, perm os.FileMode) error {
	if outputPath == "" {
		return ErrEmptyPath
	}
	if outputPath == "-" {
		return encode(os.Stdout, v)
	}
	tmp := filepath.Join(filepath.Dir(outputPath), "."+filepath.Base(outputPath)+".tmp")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer os.Remove(tmp) // no-op after the rename
	if err := writeCompressed(outputPath, f, v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		return fmt.Errorf("failed to move output file into place: %w", err)
	}
	return nil
}

func writeCompressed[X any](path string, w io.Writer, v X) error {
	switch {
	case strings.HasSuffix(path, ".gz"):
		gw := gzip.NewWriter(w)
		if err := encode(gw, v); err != nil {
			return err
		}
		return gw.Close()
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		if err := encode(zw, v); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	default:
		return encode(w, v)
	}
}

func encode[X any](w io.Writer, v X) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode to JSON: %w", err)
	}
	return nil
}

func decompressor(path string, r io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gr, func() { _ = gr.Close() }, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	default:
		return r, func() {}, nil
	}
}

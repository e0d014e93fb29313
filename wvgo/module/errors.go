package module

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks structurally invalid module bytes.
	ErrMalformedInput = errors.New("malformed input")
	// ErrUnsupportedFeature marks a valid construct outside the supported subset.
	ErrUnsupportedFeature = errors.New("unsupported feature")
)

func malformed(offset int, format string, args ...any) error {
	return fmt.Errorf("%w at offset 0x%x: %s", ErrMalformedInput, offset, fmt.Sprintf(format, args...))
}

func unsupported(offset int, format string, args ...any) error {
	return fmt.Errorf("%w at offset 0x%x: %s", ErrUnsupportedFeature, offset, fmt.Sprintf(format, args...))
}

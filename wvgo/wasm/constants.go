package wasm

const (
	Magic   = 0x6d736100 // "\0asm" little-endian
	Version = 1

	MaxCallDepth = 1024
	MaxLocals    = 50_000
)

// Section ids, in the order they must appear.
const (
	SectionCustom    = 0
	SectionType      = 1
	SectionImport    = 2
	SectionFunction  = 3
	SectionTable     = 4
	SectionMemory    = 5
	SectionGlobal    = 6
	SectionExport    = 7
	SectionStart     = 8
	SectionElement   = 9
	SectionCode      = 10
	SectionData      = 11
	SectionDataCount = 12
)

const (
	ExportKindFunc   = 0x00
	ExportKindTable  = 0x01
	ExportKindMemory = 0x02
	ExportKindGlobal = 0x03

	FuncTypeHeader = 0x60
	BlockTypeEmpty = 0x40
)

// VM status codes, stored in the first byte of a state hash.
const (
	VMStatusValid      = 0
	VMStatusInvalid    = 1
	VMStatusPanic      = 2
	VMStatusUnfinished = 3
)

func VMStatusName(status uint8) string {
	switch status {
	case VMStatusValid:
		return "valid"
	case VMStatusInvalid:
		return "invalid"
	case VMStatusPanic:
		return "panic"
	case VMStatusUnfinished:
		return "unfinished"
	default:
		return "unknown"
	}
}

package module

import "unicode/utf8"

// reader walks module bytes and tracks the absolute offset for diagnostics.
type reader struct {
	buf []byte
	pos int
	// base is the absolute offset of buf[0] within the module
	base int
}

func newReader(buf []byte, base int) *reader {
	return &reader{buf: buf, base: base}
}

func (r *reader) offset() int {
	return r.base + r.pos
}

func (r *reader) done() bool {
	return r.pos >= len(r.buf)
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, malformed(r.offset(), "unexpected end of input")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n uint32) ([]byte, error) {
	if uint64(n) > uint64(len(r.buf)-r.pos) {
		return nil, malformed(r.offset(), "length %d exceeds remaining %d bytes", n, len(r.buf)-r.pos)
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *reader) readU32() (uint32, error) {
	start := r.offset()
	var result uint32
	for shift := uint(0); shift < 35; shift += 7 {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if shift == 28 && b&0x70 != 0 {
			return 0, malformed(start, "u32 LEB128 overflow")
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, malformed(start, "u32 LEB128 too long")
}

func (r *reader) readSigned(bits uint) (int64, error) {
	start := r.offset()
	maxLen := (bits + 6) / 7
	var result int64
	var shift uint
	for i := uint(0); i < maxLen; i++ {
		b, err := r.readByte()
		if err != nil {
			return 0, err
		}
		if i == maxLen-1 {
			// unused bits of the last byte must be a sign extension of the value
			rem := bits - shift
			if rem < 7 {
				upper := int8(b<<1) >> rem
				if b&0x80 != 0 || (upper != 0 && upper != -1) {
					return 0, malformed(start, "s%d LEB128 overflow", bits)
				}
			}
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, malformed(start, "s%d LEB128 too long", bits)
}

func (r *reader) readS32() (int32, error) {
	v, err := r.readSigned(32)
	return int32(v), err
}

func (r *reader) readS64() (int64, error) {
	return r.readSigned(64)
}

func (r *reader) readName() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	start := r.offset()
	b, err := r.readBytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", malformed(start, "name is not valid UTF-8")
	}
	return string(b), nil
}

func appendU32(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			return append(out, b)
		}
	}
}

func appendS64(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

package binary

import "errors"

// ErrOverflow is returned when a LEB128 encoding runs past the maximum
// byte count for its width (5 bytes for 32 bits, 10 for 64). Excess high
// bits inside the final allowed byte are not checked.
var ErrOverflow = errors.New("leb128: overflow")

// ErrTruncated is returned when input ends inside a value.
var ErrTruncated = errors.New("leb128: truncated")

// appendU32 appends an unsigned LEB128 uint32.
func appendU32(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// appendU64 appends an unsigned LEB128 uint64.
func appendU64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// appendS32 appends a signed LEB128 int32.
func appendS32(dst []byte, v int32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// appendS64 appends a signed LEB128 int64.
func appendS64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// lebPlaceholderSize is the fixed width of a back-patchable u32 slot.
const lebPlaceholderSize = 5

// putU32At encodes v into a fixed 5-byte slot at data[at:], padding
// with continuation bytes so forward-declared sizes can be patched in
// after the fact.
func putU32At(data []byte, at int, v uint32) {
	for i := 0; i < lebPlaceholderSize; i++ {
		b := byte(v & 0x7f)
		v >>= 7
		if i+1 < lebPlaceholderSize {
			b |= 0x80
		}
		data[at+i] = b
	}
}

// u32Len returns the encoded length of v as unsigned LEB128.
func u32Len(v uint32) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// readU32 decodes an unsigned LEB128 uint32 from data, returning the
// value and the number of bytes consumed.
func readU32(data []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, 0, ErrOverflow
		}
	}
	return 0, 0, ErrTruncated
}

// readU64 decodes an unsigned LEB128 uint64.
func readU64(data []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
		if shift >= 70 {
			return 0, 0, ErrOverflow
		}
	}
	return 0, 0, ErrTruncated
}

// readS32 decodes a signed LEB128 int32, sign-extending when the final
// byte's sign bit is set.
func readS32(data []byte) (int32, int, error) {
	var result int32
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				result |= ^int32(0) << shift
			}
			return result, i + 1, nil
		}
		if shift >= 35 {
			return 0, 0, ErrOverflow
		}
	}
	return 0, 0, ErrTruncated
}

// readS64 decodes a signed LEB128 int64.
func readS64(data []byte) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= ^int64(0) << shift
			}
			return result, i + 1, nil
		}
		if shift >= 70 {
			return 0, 0, ErrOverflow
		}
	}
	return 0, 0, ErrTruncated
}

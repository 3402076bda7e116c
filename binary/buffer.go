package binary

// Buffer is an append-mostly byte buffer with overwrite-at-offset for
// back-patching forward-declared sizes. The format is optimized for
// reading, not writing, so the writer sometimes must reach behind
// itself.
type Buffer struct {
	data []byte
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// Bytes returns the written bytes.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.data) }

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// Byte appends one byte.
func (b *Buffer) Byte(x byte) { b.data = append(b.data, x) }

// Write appends raw bytes.
func (b *Buffer) Write(p []byte) { b.data = append(b.data, p...) }

// I16 appends a little-endian 16-bit value.
func (b *Buffer) I16(x uint16) {
	b.data = append(b.data, byte(x), byte(x>>8))
}

// I32 appends a little-endian 32-bit value.
func (b *Buffer) I32(x uint32) {
	b.data = append(b.data, byte(x), byte(x>>8), byte(x>>16), byte(x>>24))
}

// I64 appends a little-endian 64-bit value.
func (b *Buffer) I64(x uint64) {
	b.I32(uint32(x))
	b.I32(uint32(x >> 32))
}

// U32LEB appends an unsigned LEB128 uint32.
func (b *Buffer) U32LEB(x uint32) { b.data = appendU32(b.data, x) }

// U64LEB appends an unsigned LEB128 uint64.
func (b *Buffer) U64LEB(x uint64) { b.data = appendU64(b.data, x) }

// S32LEB appends a signed LEB128 int32.
func (b *Buffer) S32LEB(x int32) { b.data = appendS32(b.data, x) }

// S64LEB appends a signed LEB128 int64.
func (b *Buffer) S64LEB(x int64) { b.data = appendS64(b.data, x) }

// F32Bits appends an f32 as its raw 4-byte bit pattern. Going through
// the bit pattern keeps NaN payloads intact.
func (b *Buffer) F32Bits(bits uint32) { b.I32(bits) }

// F64Bits appends an f64 as its raw 8-byte bit pattern.
func (b *Buffer) F64Bits(bits uint64) { b.I64(bits) }

// InlineString appends a length-prefixed name.
func (b *Buffer) InlineString(s string) {
	b.U32LEB(uint32(len(s)))
	b.data = append(b.data, s...)
}

// U32LEBPlaceholder reserves a fixed 5-byte size slot and returns its
// offset for PatchU32LEB.
func (b *Buffer) U32LEBPlaceholder() int {
	at := len(b.data)
	b.data = append(b.data, 0, 0, 0, 0, 0)
	return at
}

// PatchU32LEB back-patches a placeholder reserved earlier, filling the
// whole 5-byte slot with continuation padding.
func (b *Buffer) PatchU32LEB(at int, v uint32) {
	putU32At(b.data, at, v)
}

// PatchI32 overwrites a little-endian 32-bit value in place.
func (b *Buffer) PatchI32(at int, x uint32) {
	b.data[at] = byte(x)
	b.data[at+1] = byte(x >> 8)
	b.data[at+2] = byte(x >> 16)
	b.data[at+3] = byte(x >> 24)
}

// Package binary encodes and decodes modules in the pre-MVP
// version-11 WebAssembly binary format.
//
// Sections are framed by name with a back-patched size. Function
// bodies are prefix streams of opcodes closed by End bytes; breaks
// reference targets by relative scope depth, and locals are stored as
// type-grouped runs.
//
// The codec optionally compresses with an opcode table: a trial
// encoding records how often each (opcode, immediates) tuple occurs, a
// table assigns the most profitable tuples to unused opcode bytes, and
// a second encoding substitutes the single-byte forms. A genetic
// search over function emission order and per-table chunking can
// shrink the output further; it never touches the AST.
package binary

package binary

// Binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" little-endian).
	Magic uint32 = 0x6D736100

	// Version is the pre-MVP binary format version this codec speaks.
	Version uint32 = 11
)

// Section names. Version-11 sections are framed by name, not id.
const (
	SectionMemory             = "memory"
	SectionSignatures         = "type"
	SectionImportTable        = "import"
	SectionFunctionSignatures = "function"
	SectionFunctions          = "code"
	SectionExportTable        = "export"
	SectionDataSegments       = "data"
	SectionFunctionTable      = "table"
	SectionNames              = "name"
	SectionStart              = "start"
	SectionOpcodes            = "opcode"
)

// Control-flow and structure opcodes.
const (
	OpNop         byte = 0x00
	OpBlock       byte = 0x01
	OpLoop        byte = 0x02
	OpIf          byte = 0x03
	OpElse        byte = 0x04
	OpSelect      byte = 0x05
	OpBr          byte = 0x06
	OpBrIf        byte = 0x07
	OpTableSwitch byte = 0x08
	OpReturn      byte = 0x09
	OpUnreachable byte = 0x0a
	OpEnd         byte = 0x0f
)

// Constant, variable, and call opcodes.
const (
	OpI32Const     byte = 0x10
	OpI64Const     byte = 0x11
	OpF64Const     byte = 0x12
	OpF32Const     byte = 0x13
	OpGetLocal     byte = 0x14
	OpSetLocal     byte = 0x15
	OpCallFunction byte = 0x16
	OpCallIndirect byte = 0x17
	OpCallImport   byte = 0x18
)

// Memory access opcodes.
const (
	OpI32LoadMem8S  byte = 0x20
	OpI32LoadMem8U  byte = 0x21
	OpI32LoadMem16S byte = 0x22
	OpI32LoadMem16U byte = 0x23
	OpI64LoadMem8S  byte = 0x24
	OpI64LoadMem8U  byte = 0x25
	OpI64LoadMem16S byte = 0x26
	OpI64LoadMem16U byte = 0x27
	OpI64LoadMem32S byte = 0x28
	OpI64LoadMem32U byte = 0x29
	OpI32LoadMem    byte = 0x2a
	OpI64LoadMem    byte = 0x2b
	OpF32LoadMem    byte = 0x2c
	OpF64LoadMem    byte = 0x2d
	OpI32StoreMem8  byte = 0x2e
	OpI32StoreMem16 byte = 0x2f
	OpI64StoreMem8  byte = 0x30
	OpI64StoreMem16 byte = 0x31
	OpI64StoreMem32 byte = 0x32
	OpI32StoreMem   byte = 0x33
	OpI64StoreMem   byte = 0x34
	OpF32StoreMem   byte = 0x35
	OpF64StoreMem   byte = 0x36
)

// Host opcodes.
const (
	OpGrowMemory    byte = 0x39
	OpCurrentMemory byte = 0x3b
)

// Numeric opcodes.
const (
	OpI32Add    byte = 0x40
	OpI32Sub    byte = 0x41
	OpI32Mul    byte = 0x42
	OpI32DivS   byte = 0x43
	OpI32DivU   byte = 0x44
	OpI32RemS   byte = 0x45
	OpI32RemU   byte = 0x46
	OpI32And    byte = 0x47
	OpI32Or     byte = 0x48
	OpI32Xor    byte = 0x49
	OpI32Shl    byte = 0x4a
	OpI32ShrU   byte = 0x4b
	OpI32ShrS   byte = 0x4c
	OpI32Eq     byte = 0x4d
	OpI32Ne     byte = 0x4e
	OpI32LtS    byte = 0x4f
	OpI32LeS    byte = 0x50
	OpI32LtU    byte = 0x51
	OpI32LeU    byte = 0x52
	OpI32GtS    byte = 0x53
	OpI32GeS    byte = 0x54
	OpI32GtU    byte = 0x55
	OpI32GeU    byte = 0x56
	OpI32Clz    byte = 0x57
	OpI32Ctz    byte = 0x58
	OpI32Popcnt byte = 0x59
	OpI32EqZ    byte = 0x5a
	OpI64Add    byte = 0x5b
	OpI64Sub    byte = 0x5c
	OpI64Mul    byte = 0x5d
	OpI64DivS   byte = 0x5e
	OpI64DivU   byte = 0x5f
	OpI64RemS   byte = 0x60
	OpI64RemU   byte = 0x61
	OpI64And    byte = 0x62
	OpI64Or     byte = 0x63
	OpI64Xor    byte = 0x64
	OpI64Shl    byte = 0x65
	OpI64ShrU   byte = 0x66
	OpI64ShrS   byte = 0x67
	OpI64Eq     byte = 0x68
	OpI64Ne     byte = 0x69
	OpI64LtS    byte = 0x6a
	OpI64LeS    byte = 0x6b
	OpI64LtU    byte = 0x6c
	OpI64LeU    byte = 0x6d
	OpI64GtS    byte = 0x6e
	OpI64GeS    byte = 0x6f
	OpI64GtU    byte = 0x70
	OpI64GeU    byte = 0x71
	OpI64Clz    byte = 0x72
	OpI64Ctz    byte = 0x73
	OpI64Popcnt byte = 0x74
	OpF32Add    byte = 0x75
	OpF32Sub    byte = 0x76
	OpF32Mul    byte = 0x77
	OpF32Div    byte = 0x78
	OpF32Min    byte = 0x79
	OpF32Max    byte = 0x7a

	OpF32Abs        byte = 0x7b
	OpF32Neg        byte = 0x7c
	OpF32CopySign   byte = 0x7d
	OpF32Ceil       byte = 0x7e
	OpF32Floor      byte = 0x7f
	OpF32Trunc      byte = 0x80
	OpF32NearestInt byte = 0x81
	OpF32Sqrt       byte = 0x82
	OpF32Eq         byte = 0x83
	OpF32Ne         byte = 0x84
	OpF32Lt         byte = 0x85
	OpF32Le         byte = 0x86
	OpF32Gt         byte = 0x87
	OpF32Ge         byte = 0x88
	OpF64Add        byte = 0x89
	OpF64Sub        byte = 0x8a
	OpF64Mul        byte = 0x8b
	OpF64Div        byte = 0x8c
	OpF64Min        byte = 0x8d
	OpF64Max        byte = 0x8e
	OpF64Abs        byte = 0x8f
	OpF64Neg        byte = 0x90
	OpF64CopySign   byte = 0x91
	OpF64Ceil       byte = 0x92
	OpF64Floor      byte = 0x93
	OpF64Trunc      byte = 0x94
	OpF64NearestInt byte = 0x95
	OpF64Sqrt       byte = 0x96
	OpF64Eq         byte = 0x97
	OpF64Ne         byte = 0x98
	OpF64Lt         byte = 0x99
	OpF64Le         byte = 0x9a
	OpF64Gt         byte = 0x9b
	OpF64Ge         byte = 0x9c

	OpI32STruncF32      byte = 0x9d
	OpI32STruncF64      byte = 0x9e
	OpI32UTruncF32      byte = 0x9f
	OpI32UTruncF64      byte = 0xa0
	OpI32ConvertI64     byte = 0xa1
	OpI64STruncF32      byte = 0xa2
	OpI64STruncF64      byte = 0xa3
	OpI64UTruncF32      byte = 0xa4
	OpI64UTruncF64      byte = 0xa5
	OpI64STruncI32      byte = 0xa6
	OpI64UTruncI32      byte = 0xa7
	OpF32SConvertI32    byte = 0xa8
	OpF32UConvertI32    byte = 0xa9
	OpF32SConvertI64    byte = 0xaa
	OpF32UConvertI64    byte = 0xab
	OpF32ConvertF64     byte = 0xac
	OpF32ReinterpretI32 byte = 0xad
	OpF64SConvertI32    byte = 0xae
	OpF64UConvertI32    byte = 0xaf
	OpF64SConvertI64    byte = 0xb0
	OpF64UConvertI64    byte = 0xb1
	OpF64ConvertF32     byte = 0xb2
	OpF64ReinterpretI64 byte = 0xb3
	OpI32ReinterpretF32 byte = 0xb4
	OpI64ReinterpretF64 byte = 0xb5
	OpI32RotR           byte = 0xb6
	OpI32RotL           byte = 0xb7
	OpI64RotR           byte = 0xb8
	OpI64RotL           byte = 0xb9
	OpI64EqZ            byte = 0xba
)

// TypeFormBasic is the only function type form byte in version 11.
const TypeFormBasic byte = 0x40

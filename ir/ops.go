package ir

// UnaryOp identifies a unary operation.
type UnaryOp uint8

// Unary operations.
const (
	Clz UnaryOp = iota
	Ctz
	Popcnt
	EqZ
	Neg
	Abs
	Ceil
	Floor
	Trunc
	Nearest
	Sqrt
	ExtendSInt32
	ExtendUInt32
	WrapInt64
	TruncSFloat32
	TruncUFloat32
	TruncSFloat64
	TruncUFloat64
	ConvertSInt32
	ConvertUInt32
	ConvertSInt64
	ConvertUInt64
	DemoteFloat64
	PromoteFloat32
	ReinterpretFloat
	ReinterpretInt
)

// BinaryOp identifies a binary operation.
type BinaryOp uint8

// Binary operations.
const (
	Add BinaryOp = iota
	Sub
	Mul
	DivS
	DivU
	RemS
	RemU
	And
	Or
	Xor
	Shl
	ShrS
	ShrU
	RotL
	RotR
	Div
	CopySign
	Min
	Max
	Eq
	Ne
	LtS
	LtU
	LeS
	LeU
	GtS
	GtU
	GeS
	GeU
	Lt
	Le
	Gt
	Ge
)

// HostOp identifies a host environment operation.
type HostOp uint8

// Host operations.
const (
	CurrentMemory HostOp = iota
	GrowMemory
)

package wasmopt

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-opt/binary"
	"github.com/wippyai/wasm-opt/passes"
)

// Options configures Optimize.
type Options struct {
	// Passes are run in order before encoding.
	Passes []string

	// Default prepends the standard optimization pipeline.
	Default bool

	// Compress encodes with an opcode table.
	Compress bool

	// LearnGenerations, when positive, searches function emission
	// orders for that many generations before encoding; implies
	// Compress.
	LearnGenerations int

	// Seed drives the learning search's random source.
	Seed int64

	// Logger receives debug tracing; nil means silent.
	Logger *zap.Logger
}

// Optimize decodes a version-11 binary, runs the requested passes, and
// re-encodes it.
func Optimize(input []byte, opts Options) ([]byte, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	reader := binary.NewReader(input)
	reader.SetLogger(log)
	module, err := reader.Read()
	if err != nil {
		return nil, err
	}
	defer module.Release()

	runner := passes.NewRunner(module, log)
	if opts.Default {
		runner.AddDefault()
	}
	for _, name := range opts.Passes {
		if err := runner.Add(name); err != nil {
			return nil, err
		}
	}
	if err := runner.Run(); err != nil {
		return nil, err
	}

	switch {
	case opts.LearnGenerations > 0:
		return binary.EncodeLearned(module, opts.LearnGenerations, opts.Seed, log)
	case opts.Compress:
		return binary.EncodeCompressed(module)
	default:
		return binary.Encode(module)
	}
}

// Package wasmopt transforms WebAssembly modules: it decodes the
// version-11 binary format into a mutable expression tree, runs
// semantics-preserving optimization passes over it, and re-encodes the
// result, optionally compressed with a learned opcode table.
//
// # Architecture Overview
//
// The library is organized into packages with distinct
// responsibilities:
//
//	wasmopt/       Root package with the one-call Optimize entry point
//	├── ir/        Expression tree, module lifecycle, arena, builder
//	├── walk/      Postorder, linear-execution, and CFG walkers
//	├── analysis/  Effects, local counts, SFA, result-used, break search
//	├── binary/    Version-11 codec, opcode-table compression, search
//	├── passes/    Pass registry, runner, and the optimization passes
//	└── cmd/       The wasm-opt command-line front end
//
// # Usage
//
// Optimize a binary with the standard pipeline:
//
//	out, err := wasmopt.Optimize(input, wasmopt.Options{Default: true})
//
// Or drive the pieces directly:
//
//	module, err := binary.Decode(input)
//	runner := passes.NewRunner(module, logger)
//	runner.AddDefault()
//	err = runner.Run()
//	out, err := binary.EncodeCompressed(module)
package wasmopt

// Package passes holds the optimization passes and the machinery that
// runs them: a name-keyed registry, a runner that executes passes
// strictly in declared order, and a worker pool for passes that visit
// functions independently.
//
// Passes communicate only through the module. A function-parallel pass
// gets a fresh instance per function, so workers share no mutable
// state; everything else runs on the calling goroutine.
package passes

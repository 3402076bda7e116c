// Package walk provides the traversal machinery passes are built on:
// a task-stack postorder walker, a linear-execution walker that
// reports every non-fall-through control-flow point, and a basic-block
// graph builder.
//
// The task stack keeps traversal depth off the goroutine stack, and
// lets a pass interleave its own pre/post hooks by installing a custom
// scanner with SetScan.
package walk

// Package ir defines the in-memory representation of a WebAssembly
// module: the expression tree, literals, the owning module with its
// name/index duality, and the arena every node is allocated into.
//
// Nodes form a strict tree with no sharing and no cycles. All
// cross-references - call targets, break labels, signatures - are by
// name, so functions can be reordered freely; binary indices are
// recomputed at emission time.
//
// Construction goes through Builder, which allocates into the module's
// arena. Nodes are never freed individually; releasing the module
// releases every node at once.
package ir

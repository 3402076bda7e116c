// Package analysis provides the shared analyses passes depend on:
// effect summaries with reorder-invalidation queries, local get/set
// counting with the single-first-assignment property, result-used
// resolution against a walker's ancestor stack, and break-target
// search.
package analysis

// Package context carries request-scoped values (trace id, acting identity)
// across service and logging boundaries.
package context

type contextKey string

// Package agdservice contains the scheduling loop for long-running services
// that refresh themselves periodically.
package agdservice

// unit is a convenient alias for struct{}.
type unit = struct{}

// Package ptr builds pointers to literals for the optional fields of
// queries and requests in tests.
package ptr

// To returns a pointer to a copy of v.
func To[T any](v T) *T { return &v }

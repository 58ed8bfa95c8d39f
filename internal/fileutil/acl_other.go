//go:build !windows

package fileutil

// Unix modes already express owner-only access.
func restrictToCurrentUser(string) error { return nil }

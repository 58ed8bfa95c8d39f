// Package testutil provides test helpers for formvault tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - store_helpers.go: database test setup (NewTestStore)
//   - storetest: a store fixture for seeding forms and submissions
//   - ptr: ptr.To for optional query and request fields
package testutil

// Package history keeps a SQLite ledger of packaging runs: every CI action
// and distribution build records its outcome, artifact and fingerprint.
package history

// Package common holds helpers shared by the packaging services.
//
// It provides the Runner abstraction used to invoke external toolchains
// (package managers, cargo, rpmbuild, kcov) with fail-fast chains and exit
// status propagation, and a helper to detect the current system actor
// (hostname/username) recorded in the run history.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

// Package integration exercises the release workflow across packages:
// super-ci actions starting build containers that run super-builder against
// a shared build directory, the release collection, and the run ledger.
//
// Containers and the native toolchain are replaced by in-process fakes that
// produce the files the real tools would.
package integration

// Package collection implements the release collection: the flat directory
// every builder relocates its finished package into.
//
// Each artifact is accompanied by a <name>.sha512 sidecar, so concurrent
// builders never write the same file.
package collection

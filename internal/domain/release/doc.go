// Package release contains the core domain types of the packaging workflow.
//
// It defines the distribution table (one row per supported OS family member),
// the naming conventions for source archives and package artifacts, and the
// typed Failure classes that builders and the dispatcher report.
package release

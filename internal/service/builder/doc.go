// Package builder implements the distribution builder: it installs build
// dependencies, runs the native packaging toolchain for one row of the
// distribution table and relocates exactly one artifact into the release
// collection.
//
// RPM distributions stage the project tree into the rpmbuild SOURCES
// directory and run rpmbuild. Debian distributions build in the working tree
// with cargo and cargo-deb.
package builder

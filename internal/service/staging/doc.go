// Package staging produces the source archive consumed by RPM builders.
//
// It copies the project tree into <package>-<version> while dropping the
// shared exclusion set, archives the staged tree into a reproducible gzip
// tarball (sorted entries, normalized ownership and timestamps), reports the
// archive's BLAKE3 fingerprint and removes the staged tree.
package staging

package release

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidVersion is returned for empty or unsafe version tags.
var ErrInvalidVersion = errors.New("invalid version tag")

// ValidateVersion rejects tags that would produce broken file names.
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("empty: %w", ErrInvalidVersion)
	}

	if version == "." || version == ".." {
		return fmt.Errorf("%q: %w", version, ErrInvalidVersion)
	}

	for _, r := range version {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return fmt.Errorf("%q contains %q: %w", version, r, ErrInvalidVersion)
		}
	}

	return nil
}

// StagedName is the directory name of the staged tree: <package>-<version>.
func StagedName(pkg, version string) string {
	return pkg + "-" + version
}

// ArchiveName is the source tarball name: <package>-<version>.tar.gz.
func ArchiveName(pkg, version string) string {
	return StagedName(pkg, version) + ".tar.gz"
}

// RPMName is <package>-<version>-<release>.<disttag>.<arch>.rpm.
func RPMName(pkg, version string, releaseNumber int, distTag, arch string) string {
	return fmt.Sprintf("%s-%s-%d.%s.%s.%s", pkg, version, releaseNumber, distTag, arch, FamilyRPM.Extension())
}

// CargoDebName is the file name cargo-deb writes: <package>_<version>_<arch>.deb.
func CargoDebName(pkg, version, arch string) string {
	return fmt.Sprintf("%s_%s_%s.%s", pkg, version, arch, FamilyDeb.Extension())
}

// DebName is the collection name embedding the distribution: <package>_<version>_<distro>_<arch>.deb.
func DebName(pkg, version, distro, arch string) string {
	return fmt.Sprintf("%s_%s_%s_%s.%s", pkg, version, distro, arch, FamilyDeb.Extension())
}

// IsArtifact reports whether a file name looks like a package artifact.
func IsArtifact(name string) bool {
	return strings.HasSuffix(name, "."+FamilyRPM.Extension()) || strings.HasSuffix(name, "."+FamilyDeb.Extension())
}

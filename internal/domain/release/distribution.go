package release

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// Family groups distributions sharing a native packaging toolchain.
type Family string

const (
	// FamilyRPM builds with rpmbuild and produces .rpm files.
	FamilyRPM Family = "rpm"
	// FamilyDeb builds with cargo-deb and produces .deb files.
	FamilyDeb Family = "deb"
)

// Extension returns the artifact file extension (without dot).
func (f Family) Extension() string {
	return string(f)
}

// Distribution is one row of the distribution table.
type Distribution struct {
	// Name identifies the distribution (centos, fedora, debian, ubuntu).
	Name string `yaml:"name"`
	// Family selects the packaging sub-protocol.
	Family Family `yaml:"family"`
	// Image is the container image used by dist_test and deploy.
	Image string `yaml:"image"`
	// Installer is the package manager used for build dependencies.
	Installer string `yaml:"installer"`
	// Dependencies lists the packages installed before building.
	Dependencies []string `yaml:"dependencies"`
	// DistTagPrefix is prepended to the os-release VERSION_ID (RPM only).
	DistTagPrefix string `yaml:"dist_tag_prefix,omitempty"`
	// MajorVersionOnly keeps only the major part of VERSION_ID (7.9 -> 7).
	MajorVersionOnly bool `yaml:"major_version_only,omitempty"`
	// DistTag pins the dist tag and disables os-release detection.
	DistTag string `yaml:"dist_tag,omitempty"`
	// Arch pins the artifact architecture; derived from GOARCH when empty.
	Arch string `yaml:"arch,omitempty"`
}

var (
	// ErrUnknownDistribution is returned when a name is not in the table.
	ErrUnknownDistribution = errors.New("unknown distribution")
	// ErrInvalidDistribution is returned by Validate for malformed rows.
	ErrInvalidDistribution = errors.New("invalid distribution")
	// ErrUnsupportedArch is returned when GOARCH has no packaging name.
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

// archNames maps GOARCH to the RPM and Debian architecture names.
//
//nolint:gochecknoglobals // Static lookup table.
var archNames = map[string]map[Family]string{
	"amd64":   {FamilyRPM: "x86_64", FamilyDeb: "amd64"},
	"arm64":   {FamilyRPM: "aarch64", FamilyDeb: "arm64"},
	"386":     {FamilyRPM: "i686", FamilyDeb: "i386"},
	"ppc64le": {FamilyRPM: "ppc64le", FamilyDeb: "ppc64el"},
	"s390x":   {FamilyRPM: "s390x", FamilyDeb: "s390x"},
}

// DefaultDistributions returns the built-in distribution table.
func DefaultDistributions() []Distribution {
	rpmDeps := []string{"rpm-build", "gcc", "make", "openssl-devel", "curl", "cargo"}
	debDeps := []string{"build-essential", "curl", "pkg-config", "libssl-dev", "cargo"}

	return []Distribution{
		{
			Name:             "centos",
			Family:           FamilyRPM,
			Image:            "centos:7",
			Installer:        "yum",
			Dependencies:     slices.Clone(rpmDeps),
			DistTagPrefix:    "el",
			MajorVersionOnly: true,
		},
		{
			Name:          "fedora",
			Family:        FamilyRPM,
			Image:         "fedora:latest",
			Installer:     "dnf",
			Dependencies:  slices.Clone(rpmDeps),
			DistTagPrefix: "fc",
		},
		{
			Name:         "debian",
			Family:       FamilyDeb,
			Image:        "debian:stable",
			Installer:    "apt-get",
			Dependencies: slices.Clone(debDeps),
		},
		{
			Name:         "ubuntu",
			Family:       FamilyDeb,
			Image:        "ubuntu:latest",
			Installer:    "apt-get",
			Dependencies: slices.Clone(debDeps),
		},
	}
}

// Lookup finds a distribution by name (case-insensitive).
func Lookup(table []Distribution, name string) (Distribution, error) {
	wanted := strings.ToLower(strings.TrimSpace(name))
	for _, d := range table {
		if d.Name == wanted {
			return d, nil
		}
	}

	return Distribution{}, fmt.Errorf("%q: %w", name, ErrUnknownDistribution)
}

// Names returns the distribution names in table order.
func Names(table []Distribution) []string {
	names := make([]string, 0, len(table))
	for _, d := range table {
		names = append(names, d.Name)
	}

	return names
}

// Validate checks that a row can drive a builder.
func (d *Distribution) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is empty: %w", ErrInvalidDistribution)
	}

	if d.Name != strings.ToLower(d.Name) {
		return fmt.Errorf("%s: name must be lowercase: %w", d.Name, ErrInvalidDistribution)
	}

	switch d.Family {
	case FamilyRPM:
		if d.DistTag == "" && d.DistTagPrefix == "" {
			return fmt.Errorf("%s: rpm rows need dist_tag or dist_tag_prefix: %w", d.Name, ErrInvalidDistribution)
		}
	case FamilyDeb:
	default:
		return fmt.Errorf("%s: family %q: %w", d.Name, d.Family, ErrInvalidDistribution)
	}

	if d.Installer == "" {
		return fmt.Errorf("%s: installer is empty: %w", d.Name, ErrInvalidDistribution)
	}

	return nil
}

// ValidateVersion checks a tag against the generic rules and the family's
// packaging tool: rpmbuild rejects '-' in %{version}.
func (d *Distribution) ValidateVersion(version string) error {
	if err := ValidateVersion(version); err != nil {
		return err
	}

	if d.Family == FamilyRPM && strings.Contains(version, "-") {
		return fmt.Errorf("%q: rpm versions cannot contain '-': %w", version, ErrInvalidVersion)
	}

	return nil
}

// Architecture returns the artifact architecture for the row.
func (d *Distribution) Architecture() (string, error) {
	if d.Arch != "" {
		return d.Arch, nil
	}

	return ArchFor(d.Family, runtime.GOARCH)
}

// ArchFor maps a GOARCH value to the family-specific architecture name.
func ArchFor(family Family, goarch string) (string, error) {
	names, ok := archNames[goarch]
	if !ok {
		return "", fmt.Errorf("%s: %w", goarch, ErrUnsupportedArch)
	}

	return names[family], nil
}

// ResolveDistTag returns the pinned dist tag or derives it from VERSION_ID.
func (d *Distribution) ResolveDistTag(versionID string) (string, error) {
	if d.DistTag != "" {
		return d.DistTag, nil
	}

	versionID = strings.TrimSpace(versionID)
	if versionID == "" {
		return "", fmt.Errorf("%s: VERSION_ID is empty and no dist_tag is pinned: %w", d.Name, ErrInvalidDistribution)
	}

	if d.MajorVersionOnly {
		versionID, _, _ = strings.Cut(versionID, ".")
	}

	return d.DistTagPrefix + versionID, nil
}

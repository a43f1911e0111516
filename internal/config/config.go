package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/super-release/internal/domain/release"
)

// Config holds the packaging settings shared by super-ci and super-builder.
type Config struct {
	// PackageName is the name of the package produced by every builder.
	PackageName string `yaml:"package_name"`
	// ProjectDir is the root of the analyzer source tree.
	ProjectDir string `yaml:"project_dir"`
	// ReleasesDir is the release collection; relative paths are resolved against ProjectDir.
	ReleasesDir string `yaml:"releases_dir"`
	// StagingDir is where staged trees are created; a temporary directory when empty.
	StagingDir string `yaml:"staging_dir,omitempty"`
	// Exclusions are project-relative paths never copied into a staged tree.
	Exclusions []string `yaml:"exclusions"`
	// OSReleaseFile is read to derive RPM dist tags.
	OSReleaseFile string `yaml:"os_release_file"`
	// HistoryFile is the SQLite run ledger; relative paths are resolved against ProjectDir.
	HistoryFile string `yaml:"history_file"`
	// TestVersion is used by dist_test when no release tag is set.
	TestVersion string `yaml:"test_version"`
	// LintChannel is the toolchain channel clippy_run is gated on.
	LintChannel string `yaml:"lint_channel"`
	// RPM holds rpmbuild settings.
	RPM RPMConfig `yaml:"rpm"`
	// Deb holds cargo-deb settings.
	Deb DebConfig `yaml:"deb"`
	// Container holds ephemeral container settings.
	Container ContainerConfig `yaml:"container"`
	// Deploy holds deploy fan-out settings.
	Deploy DeployConfig `yaml:"deploy"`
	// Coverage holds kcov bootstrap and upload settings.
	Coverage CoverageConfig `yaml:"coverage"`
	// Docs holds documentation upload settings.
	Docs DocsConfig `yaml:"docs"`
	// Distributions is the distribution table; defaults to release.DefaultDistributions.
	Distributions []release.Distribution `yaml:"distributions"`
}

// RPMConfig configures the RPM sub-protocol.
type RPMConfig struct {
	// TopDir is the rpmbuild _topdir; defaults to $HOME/rpmbuild.
	TopDir string `yaml:"top_dir"`
	// SpecFile is the project-relative spec descriptor.
	SpecFile string `yaml:"spec_file"`
	// Release is the RPM release number.
	Release int `yaml:"release"`
}

// DebConfig configures the Debian sub-protocol.
type DebConfig struct {
	// OutputDir is where cargo-deb writes packages, relative to ProjectDir.
	OutputDir string `yaml:"output_dir"`
}

// ContainerConfig configures the containers started by dist_test and deploy.
type ContainerConfig struct {
	// MountPath is where the build dir is bind-mounted inside the container.
	MountPath string `yaml:"mount_path"`
	// BuilderPath is the project-relative path of the super-builder binary.
	BuilderPath string `yaml:"builder_path"`
	// SkipPull disables pulling images before creating containers.
	SkipPull bool `yaml:"skip_pull"`
}

// DeployConfig configures the deploy action.
type DeployConfig struct {
	// Concurrency bounds how many platform containers run at once.
	Concurrency int `yaml:"concurrency"`
}

// CoverageConfig configures the upload_code_coverage action.
type CoverageConfig struct {
	// KcovVersion selects the kcov release built from source.
	KcovVersion string `yaml:"kcov_version"`
	// SourceURL is the kcov source tarball URL; %s is replaced by KcovVersion.
	SourceURL string `yaml:"source_url"`
	// WorkDir is where kcov is downloaded and built, relative to ProjectDir.
	WorkDir string `yaml:"work_dir"`
	// TestBinaryDir holds the compiled test binaries, relative to ProjectDir.
	TestBinaryDir string `yaml:"test_binary_dir"`
	// TestBinaryPrefix selects test binaries by file name prefix.
	TestBinaryPrefix string `yaml:"test_binary_prefix"`
	// ExcludePatterns are passed to kcov --exclude-pattern.
	ExcludePatterns []string `yaml:"exclude_patterns"`
	// UploaderURL is the coverage service uploader script.
	UploaderURL string `yaml:"uploader_url"`
	// DownloadTimeout bounds the kcov source download.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// DocsConfig configures the upload_documentation action.
type DocsConfig struct {
	// Branch is the only branch whose documentation is published.
	Branch string `yaml:"branch"`
	// Crate is the crate the redirect page points to.
	Crate string `yaml:"crate"`
	// GhpImportRepo is cloned to publish the documentation.
	GhpImportRepo string `yaml:"ghp_import_repo"`
}

const (
	// DefaultConfigFilename is the default filename for packaging settings.
	DefaultConfigFilename = "super-release.yaml"

	// DefaultPackageName is the package produced when none is configured.
	DefaultPackageName = "super-analyzer"

	// DefaultReleasesDir is the default release collection directory.
	DefaultReleasesDir = "releases"

	// DefaultHistoryFile is the default run ledger location.
	DefaultHistoryFile = "target/super-release/history.db"

	// DefaultSpecFile is the default project-relative RPM spec descriptor.
	DefaultSpecFile = "rpmbuild/super.spec"

	// DefaultMountPath is where the build dir is mounted in containers.
	DefaultMountPath = "/root/super"

	// DefaultBuilderPath is where CI places the super-builder binary.
	DefaultBuilderPath = "target/release-tools/super-builder"

	// DefaultTestVersion is used by dist_test without a release tag.
	DefaultTestVersion = "0.0.0"

	// DefaultChannel is the toolchain channel most gates require.
	DefaultChannel = "stable"

	// DefaultDownloadTimeout bounds the kcov source download.
	DefaultDownloadTimeout = 2 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidExclusion is returned for absolute or escaping exclusion paths.
	errInvalidExclusion = errors.New("invalid exclusion")
	// errDuplicateDistribution is returned when two rows share a name.
	errDuplicateDistribution = errors.New("duplicate distribution")
	// errInvalidValue is returned for out-of-range numeric settings.
	errInvalidValue = errors.New("invalid value")
)

// DefaultExclusions returns the exclusion set shared by every builder:
// build output, packaging workspace, VCS metadata, distribution output,
// downloaded samples and analysis results.
func DefaultExclusions() []string {
	return []string{"target", "rpmbuild", ".git", "dist", "downloads", "results"}
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Only an unresolvable $HOME fails here.
	if err := Validate(cfg); err != nil {
		cfg.RPM.TopDir = "rpmbuild-top"
		_ = Validate(cfg)
	}

	return cfg
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the provided settings.
//
//nolint:cyclop,funlen // Flat list of defaults reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.PackageName == "" {
		cfg.PackageName = DefaultPackageName
	}

	if cfg.ProjectDir == "" {
		cfg.ProjectDir = "."
	}

	if cfg.ReleasesDir == "" {
		cfg.ReleasesDir = DefaultReleasesDir
	}

	if cfg.HistoryFile == "" {
		cfg.HistoryFile = DefaultHistoryFile
	}

	if cfg.OSReleaseFile == "" {
		cfg.OSReleaseFile = release.DefaultOSReleasePath
	}

	if cfg.TestVersion == "" {
		cfg.TestVersion = DefaultTestVersion
	}

	if cfg.LintChannel == "" {
		cfg.LintChannel = DefaultChannel
	}

	if len(cfg.Exclusions) == 0 {
		cfg.Exclusions = DefaultExclusions()
	}

	for i, exclusion := range cfg.Exclusions {
		cleaned := filepath.ToSlash(filepath.Clean(exclusion))
		if exclusion == "" || filepath.IsAbs(exclusion) || cleaned == "." || cleaned == ".." ||
			strings.HasPrefix(cleaned, "../") {
			return fmt.Errorf("%q: %w", exclusion, errInvalidExclusion)
		}

		cfg.Exclusions[i] = cleaned
	}

	if err := validateRPM(&cfg.RPM); err != nil {
		return err
	}

	if cfg.Deb.OutputDir == "" {
		cfg.Deb.OutputDir = "target/debian"
	}

	if cfg.Container.MountPath == "" {
		cfg.Container.MountPath = DefaultMountPath
	}

	if cfg.Container.BuilderPath == "" {
		cfg.Container.BuilderPath = DefaultBuilderPath
	}

	if cfg.Deploy.Concurrency == 0 {
		cfg.Deploy.Concurrency = 1
	}

	if cfg.Deploy.Concurrency < 0 {
		return fmt.Errorf("deploy.concurrency %d: %w", cfg.Deploy.Concurrency, errInvalidValue)
	}

	if err := validateCoverage(&cfg.Coverage); err != nil {
		return err
	}

	if cfg.Docs.Branch == "" {
		cfg.Docs.Branch = "master"
	}

	if cfg.Docs.Crate == "" {
		cfg.Docs.Crate = "super"
	}

	if cfg.Docs.GhpImportRepo == "" {
		cfg.Docs.GhpImportRepo = "https://github.com/davisp/ghp-import.git"
	}

	return validateDistributions(cfg)
}

// ReleasesPath returns the release collection directory resolved against ProjectDir.
func (c *Config) ReleasesPath() string {
	return c.resolve(c.ReleasesDir)
}

// HistoryPath returns the run ledger path resolved against ProjectDir.
func (c *Config) HistoryPath() string {
	return c.resolve(c.HistoryFile)
}

// ProjectPath joins a project-relative path onto ProjectDir.
func (c *Config) ProjectPath(rel string) string {
	return c.resolve(rel)
}

// Distribution returns the named row of the distribution table.
func (c *Config) Distribution(name string) (release.Distribution, error) {
	return release.Lookup(c.Distributions, name)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(c.ProjectDir, path)
}

func validateRPM(rpm *RPMConfig) error {
	if rpm.SpecFile == "" {
		rpm.SpecFile = DefaultSpecFile
	}

	if rpm.Release == 0 {
		rpm.Release = 1
	}

	if rpm.Release < 0 {
		return fmt.Errorf("rpm.release %d: %w", rpm.Release, errInvalidValue)
	}

	if rpm.TopDir != "" {
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve rpm top dir: %w", err)
	}

	rpm.TopDir = filepath.Join(home, "rpmbuild")

	return nil
}

func validateCoverage(coverage *CoverageConfig) error {
	if coverage.KcovVersion == "" {
		coverage.KcovVersion = "42"
	}

	if coverage.SourceURL == "" {
		coverage.SourceURL = "https://github.com/SimonKagstrom/kcov/archive/refs/tags/v%s.tar.gz"
	}

	if coverage.WorkDir == "" {
		coverage.WorkDir = "target/kcov"
	}

	if coverage.TestBinaryDir == "" {
		coverage.TestBinaryDir = "target/debug/deps"
	}

	if coverage.TestBinaryPrefix == "" {
		coverage.TestBinaryPrefix = "super-"
	}

	if len(coverage.ExcludePatterns) == 0 {
		coverage.ExcludePatterns = []string{"/.cargo", "/usr/lib"}
	}

	if coverage.UploaderURL == "" {
		coverage.UploaderURL = "https://codecov.io/bash"
	}

	if coverage.DownloadTimeout <= 0 {
		coverage.DownloadTimeout = DefaultDownloadTimeout
	}

	if _, err := url.ParseRequestURI(coverage.KcovSourceURL()); err != nil {
		return fmt.Errorf("invalid kcov source URL: %w", err)
	}

	return nil
}

// KcovSourceURL returns the source tarball URL for the configured kcov version.
func (c *CoverageConfig) KcovSourceURL() string {
	if !strings.Contains(c.SourceURL, "%s") {
		return c.SourceURL
	}

	return fmt.Sprintf(c.SourceURL, c.KcovVersion)
}

func validateDistributions(cfg *Config) error {
	if len(cfg.Distributions) == 0 {
		cfg.Distributions = release.DefaultDistributions()
	}

	seen := make(map[string]struct{}, len(cfg.Distributions))

	for i := range cfg.Distributions {
		d := &cfg.Distributions[i]
		if err := d.Validate(); err != nil {
			return err
		}

		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%s: %w", d.Name, errDuplicateDistribution)
		}

		seen[d.Name] = struct{}{}
	}

	return nil
}

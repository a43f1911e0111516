package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Environment variable names read at the orchestration boundary.
const (
	EnvTag           = "TAG"
	EnvOSName        = "TRAVIS_OS_NAME"
	EnvChannel       = "TRAVIS_RUST_VERSION"
	EnvPullRequest   = "TRAVIS_PULL_REQUEST"
	EnvBranch        = "TRAVIS_BRANCH"
	EnvBuildDir      = "TRAVIS_BUILD_DIR"
	EnvRepoSlug      = "TRAVIS_REPO_SLUG"
	EnvJobID         = "TRAVIS_JOB_ID"
	EnvCoverageToken = "CODECOV_TOKEN"
	EnvDocsToken     = "GH_TOKEN"
	EnvFeatures      = "FEATURES"
	// EnvRunID carries the super-ci run ID into build containers.
	EnvRunID = "SUPER_RELEASE_RUN_ID"
)

// Environment is the CI context resolved once and passed explicitly afterwards.
type Environment struct {
	// Tag is the release version tag; empty when the build is not a release.
	Tag string
	// OSName is the host OS family ("linux", "osx", ...).
	OSName string
	// Channel is the toolchain channel ("stable", "beta", "nightly").
	Channel string
	// PullRequest is true when the build runs for a pull request.
	PullRequest bool
	// Branch is the target branch of the build.
	Branch string
	// BuildDir is the absolute path of the checked-out project.
	BuildDir string
	// RepoSlug is owner/name of the repository.
	RepoSlug string
	// JobID is the CI job identifier.
	JobID string
	// CoverageToken authenticates coverage uploads.
	CoverageToken string
	// DocsToken authenticates documentation pushes.
	DocsToken string
	// Features is passed to cargo build --features.
	Features string
	// RunID is set inside build containers started by super-ci.
	RunID string
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ResolveEnvironment reads the CI context through lookup (os.LookupEnv when nil).
func ResolveEnvironment(lookup LookupFunc) (*Environment, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	env := &Environment{
		Tag:           get(EnvTag),
		OSName:        strings.ToLower(get(EnvOSName)),
		Channel:       strings.ToLower(get(EnvChannel)),
		PullRequest:   isPullRequest(get(EnvPullRequest)),
		Branch:        get(EnvBranch),
		BuildDir:      get(EnvBuildDir),
		RepoSlug:      get(EnvRepoSlug),
		JobID:         get(EnvJobID),
		CoverageToken: get(EnvCoverageToken),
		DocsToken:     get(EnvDocsToken),
		Features:      get(EnvFeatures),
		RunID:         get(EnvRunID),
	}

	if env.OSName == "" {
		env.OSName = runtime.GOOS
	}

	if env.BuildDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve build dir: %w", err)
		}

		env.BuildDir = wd
	}

	return env, nil
}

// HasTag reports whether the build is a tagged release.
func (e *Environment) HasTag() bool {
	return e.Tag != ""
}

// IsLinux reports whether the host OS family is Linux.
func (e *Environment) IsLinux() bool {
	return e.OSName == "linux"
}

// isPullRequest interprets TRAVIS_PULL_REQUEST, which is "false" outside pull requests
// and the pull request number inside them.
func isPullRequest(value string) bool {
	return value != "" && !strings.EqualFold(value, "false")
}

package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/container"
	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/printer"
	"github.com/oshokin/super-release/internal/repository/history"
	"github.com/oshokin/super-release/internal/service/common"
)

// recordingRunner records commands and fails the ones listed in failOn.
type recordingRunner struct {
	mu       sync.Mutex
	commands []common.Command
	failOn   map[string]int
}

func (r *recordingRunner) Run(_ context.Context, cmd common.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.commands = append(r.commands, cmd)

	if code, ok := r.failOn[filepath.Base(cmd.Name)]; ok {
		return &common.ExitError{Command: cmd.String(), Code: code, Err: errors.New("exit")}
	}

	return nil
}

func (r *recordingRunner) rendered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		result = append(result, c.String())
	}

	return result
}

// fakeContainers records specs and fails the distributions listed in failOn.
type fakeContainers struct {
	mu     sync.Mutex
	specs  []*container.Spec
	failOn map[string]int
}

func (f *fakeContainers) Run(_ context.Context, spec *container.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.specs = append(f.specs, spec)

	distribution := spec.Cmd[len(spec.Cmd)-1]
	if code, ok := f.failOn[distribution]; ok {
		return &common.ExitError{Command: spec.String(), Code: code, Err: errors.New("exit")}
	}

	return nil
}

type fixture struct {
	cfg        *config.Config
	configPath string
	env        *config.Environment
	runner     *recordingRunner
	containers *fakeContainers
	out        *bytes.Buffer
	probe      ProbeFunc
	httpClient *http.Client
	store      *history.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	buildDir := t.TempDir()

	cfg := &config.Config{
		ProjectDir: buildDir,
		RPM:        config.RPMConfig{TopDir: filepath.Join(t.TempDir(), "rpmbuild")},
	}
	require.NoError(t, config.Validate(cfg))

	return &fixture{
		cfg: cfg,
		env: &config.Environment{
			OSName:   "linux",
			Channel:  "stable",
			Branch:   "master",
			BuildDir: buildDir,
		},
		runner:     &recordingRunner{failOn: map[string]int{}},
		containers: &fakeContainers{failOn: map[string]int{}},
		out:        new(bytes.Buffer),
		probe: func(context.Context, string, ...string) (string, error) {
			return "", errors.New("not installed")
		},
	}
}

func (f *fixture) run(action, platform string) error {
	return Run(context.Background(), &Options{
		Action:     action,
		Platform:   platform,
		Config:     f.cfg,
		ConfigPath: f.configPath,
		Env:        f.env,
		Runner:     f.runner,
		Containers: f.containers,
		HTTPClient: f.httpClient,
		Probe:      f.probe,
		History:    f.store,
		Printer:    printer.New(f.out),
	})
}

// TestRun_UnknownAction succeeds without running anything.
func TestRun_UnknownAction(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.run("publish_to_the_moon", ""))
	require.Empty(t, f.runner.rendered())
	require.Empty(t, f.containers.specs)
}

// TestRun_TestIgnoredNeedsTag runs only for tagged builds.
func TestRun_TestIgnoredNeedsTag(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	require.NoError(t, f.run(ActionTestIgnored, ""))
	require.Empty(t, f.runner.rendered())

	f.env.Tag = "0.4.1"

	require.NoError(t, f.run(ActionTestIgnored, ""))
	require.Equal(t, []string{"cargo test --verbose -- --ignored"}, f.runner.rendered())
	require.Equal(t, f.env.BuildDir, f.runner.commands[0].Dir)
}

// TestRun_Gates checks the linux and channel gates.
func TestRun_Gates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		action string
		mutate func(f *fixture)
		want   []string
	}{
		{
			name:   "test always runs",
			action: ActionTest,
			mutate: func(f *fixture) { f.env.OSName = "osx" },
			want:   []string{"cargo test --verbose"},
		},
		{
			name:   "fmt on osx",
			action: ActionFmt,
			mutate: func(f *fixture) { f.env.OSName = "osx" },
		},
		{
			name:   "fmt on beta",
			action: ActionFmt,
			mutate: func(f *fixture) { f.env.Channel = "beta" },
		},
		{
			name:   "fmt on linux stable",
			action: ActionFmt,
			mutate: func(*fixture) {},
			want:   []string{"rustup component add rustfmt", "cargo fmt -- --check"},
		},
		{
			name:   "clippy on configured nightly",
			action: ActionClippy,
			mutate: func(f *fixture) {
				f.cfg.LintChannel = "nightly"
				f.env.Channel = "nightly"
			},
			want: []string{"rustup component add clippy", "cargo clippy -- -D warnings"},
		},
		{
			name:   "clippy on stable when nightly configured",
			action: ActionClippy,
			mutate: func(f *fixture) { f.cfg.LintChannel = "nightly" },
		},
		{
			name:   "build with features",
			action: ActionBuild,
			mutate: func(f *fixture) { f.env.Features = "certificate" },
			want:   []string{"cargo build --verbose --features certificate"},
		},
		{
			name:   "coverage on pull request",
			action: ActionUploadCoverage,
			mutate: func(f *fixture) { f.env.PullRequest = true },
		},
		{
			name:   "docs off the docs branch",
			action: ActionUploadDocumentation,
			mutate: func(f *fixture) { f.env.Branch = "feature" },
		},
		{
			name:   "deploy without tag",
			action: ActionDeploy,
			mutate: func(*fixture) {},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tc.mutate(f)

			require.NoError(t, f.run(tc.action, ""))

			if tc.want == nil {
				require.Empty(t, f.runner.rendered())
				require.Empty(t, f.containers.specs)

				return
			}

			require.Equal(t, tc.want, f.runner.rendered())
		})
	}
}

// TestRun_FailFast stops at the first failing command and keeps its status.
func TestRun_FailFast(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.failOn["rustup"] = 7

	err := f.run(ActionFmt, "")
	require.Error(t, err)
	require.Equal(t, 7, common.ExitCode(err))
	require.Equal(t, release.KindBuild, release.KindOf(err))
	require.Len(t, f.runner.rendered(), 1)
}

// TestRun_DistTest runs the builder for one platform in a container.
func TestRun_DistTest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := f.run(ActionDistTest, "")
	require.ErrorIs(t, err, errPlatformRequired)
	require.Equal(t, release.KindConfiguration, release.KindOf(err))

	err = f.run(ActionDistTest, "gentoo")
	require.ErrorIs(t, err, release.ErrUnknownDistribution)

	require.NoError(t, f.run(ActionDistTest, "centos"))
	require.Len(t, f.containers.specs, 1)

	spec := f.containers.specs[0]
	require.Equal(t, "centos:7", spec.Image)
	require.Equal(t, []string{"/root/super/target/release-tools/super-builder", "centos"}, spec.Cmd)
	require.Equal(t, []string{"TAG=0.0.0", "SUPER_RELEASE_RUN_ID=" + spec.Labels[container.LabelRunID]}, spec.Env)
	require.NotEmpty(t, spec.Labels[container.LabelRunID])
	require.Equal(t, f.env.BuildDir, spec.HostDir)
	require.Equal(t, "/root/super", spec.MountPath)
	require.Equal(t, ActionDistTest, spec.Labels[container.LabelAction])
	require.True(t, strings.HasPrefix(spec.Name, "super-release-centos-"))

	f.env.Tag = "0.4.1"
	f.env.JobID = "4242"

	require.NoError(t, f.run(ActionDistTest, "fedora"))

	second := f.containers.specs[1]
	require.Equal(t, []string{
		"TAG=0.4.1",
		"SUPER_RELEASE_RUN_ID=" + second.Labels[container.LabelRunID],
		"TRAVIS_JOB_ID=4242",
	}, second.Env)
	require.NotEqual(t, spec.Labels[container.LabelRunID], second.Labels[container.LabelRunID])
}

// TestRun_DistTestConfigPath passes the loaded configuration file to the
// builder under the container mount.
func TestRun_DistTestConfigPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	inside := filepath.Join(f.env.BuildDir, "ci", "super-release.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("package_name: super-analyzer\n"), 0o600))

	f.configPath = inside
	require.NoError(t, f.run(ActionDistTest, "centos"))
	require.Equal(t, []string{
		"/root/super/target/release-tools/super-builder",
		"--config", "/root/super/ci/super-release.yaml",
		"centos",
	}, f.containers.specs[0].Cmd)

	// A missing file means defaults on both sides.
	f.configPath = filepath.Join(f.env.BuildDir, "absent.yaml")
	require.NoError(t, f.run(ActionDistTest, "centos"))
	require.Equal(t, []string{"/root/super/target/release-tools/super-builder", "centos"}, f.containers.specs[1].Cmd)

	outside := filepath.Join(t.TempDir(), "super-release.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("package_name: super-analyzer\n"), 0o600))

	f.configPath = outside
	err := f.run(ActionDeploy, "")
	require.NoError(t, err, "deploy is gated on a tag")

	f.env.Tag = "0.4.1"
	err = f.run(ActionDeploy, "")
	require.ErrorIs(t, err, errConfigOutsideMount)
	require.Equal(t, release.KindConfiguration, release.KindOf(err))

	err = f.run(ActionDistTest, "centos")
	require.ErrorIs(t, err, errConfigOutsideMount)
	require.Len(t, f.containers.specs, 2)
}

// TestRun_DistTestFailure propagates the container exit status.
func TestRun_DistTestFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.containers.failOn["debian"] = 101

	err := f.run(ActionDistTest, "debian")
	require.Equal(t, 101, common.ExitCode(err))
	require.Equal(t, release.KindPackaging, release.KindOf(err))
}

// TestRun_Deploy builds every platform and prints the collection.
func TestRun_Deploy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.env.Tag = "0.4.1"
	f.cfg.Deploy.Concurrency = 4

	releases := filepath.Join(f.env.BuildDir, f.cfg.ReleasesDir)
	require.NoError(t, os.MkdirAll(releases, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(releases, "super-analyzer_0.4.1_debian_amd64.deb"), []byte("deb"), 0o644))

	require.NoError(t, f.run(ActionDeploy, ""))
	require.Len(t, f.containers.specs, 4)

	var images []string
	for _, spec := range f.containers.specs {
		images = append(images, spec.Image)
		require.Equal(t, []string{"TAG=0.4.1", "SUPER_RELEASE_RUN_ID=" + spec.Labels[container.LabelRunID]}, spec.Env)
	}

	require.ElementsMatch(t, []string{"centos:7", "fedora:latest", "debian:stable", "ubuntu:latest"}, images)
	require.Contains(t, f.out.String(), "super-analyzer_0.4.1_debian_amd64.deb")
	require.Contains(t, f.out.String(), "centos")
}

// TestRun_DeployStopsOnFailure does not start waiting platforms after a failure.
func TestRun_DeployStopsOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.env.Tag = "0.4.1"
	f.containers.failOn["centos"] = 2

	err := f.run(ActionDeploy, "")
	require.Equal(t, 2, common.ExitCode(err))
	require.Len(t, f.containers.specs, 1)
	require.Contains(t, f.out.String(), "not started")
}

// TestRun_MissingSecrets fails loudly once the gates hold.
func TestRun_MissingSecrets(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	err := f.run(ActionUploadCoverage, "")
	require.ErrorIs(t, err, errMissingCoverageToken)
	require.Equal(t, release.KindConfiguration, release.KindOf(err))

	err = f.run(ActionUploadDocumentation, "")
	require.ErrorIs(t, err, errMissingDocsToken)

	f.env.DocsToken = "gh-secret"

	err = f.run(ActionUploadDocumentation, "")
	require.ErrorIs(t, err, errMissingRepoSlug)
	require.Empty(t, f.runner.rendered())
}

func coverageServer(t *testing.T, hits *sync.Map) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter, _ := hits.LoadOrStore(r.URL.Path, new(int))
		*counter.(*int)++

		switch r.URL.Path {
		case "/kcov-42.tar.gz":
			_, _ = w.Write([]byte("tarball"))
		case "/codecov.sh":
			_, _ = w.Write([]byte("#!/bin/bash\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func coverageFixture(t *testing.T, hits *sync.Map) *fixture {
	t.Helper()

	server := coverageServer(t, hits)

	f := newFixture(t)
	f.env.CoverageToken = "cov-secret"
	f.httpClient = server.Client()
	f.cfg.Coverage.SourceURL = server.URL + "/kcov-%s.tar.gz"
	f.cfg.Coverage.UploaderURL = server.URL + "/codecov.sh"

	deps := filepath.Join(f.env.BuildDir, f.cfg.Coverage.TestBinaryDir)
	require.NoError(t, os.MkdirAll(deps, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deps, "super-1a2b"), []byte("elf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deps, "super-1a2b.d"), []byte("deps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deps, "super-notes"), []byte("text"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(deps, "other-3c4d"), []byte("elf"), 0o755))

	return f
}

// TestRun_UploadCoverage bootstraps kcov, runs it and uploads with the token masked.
func TestRun_UploadCoverage(t *testing.T) {
	t.Parallel()

	var hits sync.Map

	f := coverageFixture(t, &hits)

	require.NoError(t, f.run(ActionUploadCoverage, ""))

	names := make([]string, 0, len(f.runner.commands))
	for _, c := range f.runner.commands {
		names = append(names, filepath.Base(c.Name))
	}

	require.Equal(t, []string{"tar", "cmake", "make", "make", "kcov", "bash"}, names)

	kcov := f.runner.commands[4]
	require.Equal(t, filepath.Join(f.env.BuildDir, "target/debug/deps/super-1a2b"), kcov.Args[len(kcov.Args)-1])
	require.Equal(t, "--exclude-pattern=/.cargo,/usr/lib", kcov.Args[0])

	upload := f.runner.rendered()[5]
	require.NotContains(t, upload, "cov-secret")
	require.Contains(t, upload, "-t ***")

	require.FileExists(t, filepath.Join(f.env.BuildDir, "target/kcov/codecov.sh"))

	for _, p := range []string{"/kcov-42.tar.gz", "/codecov.sh"} {
		counter, ok := hits.Load(p)
		require.True(t, ok, p)
		require.Equal(t, 1, *counter.(*int))
	}
}

// TestRun_UploadCoverageReusesKcov skips the source build when kcov is installed.
func TestRun_UploadCoverageReusesKcov(t *testing.T) {
	t.Parallel()

	var hits sync.Map

	f := coverageFixture(t, &hits)
	f.probe = func(_ context.Context, name string, args ...string) (string, error) {
		require.Equal(t, []string{"--version"}, args)
		require.Equal(t, "kcov", filepath.Base(name))

		return "kcov v42\n", nil
	}

	require.NoError(t, f.run(ActionUploadCoverage, ""))
	require.Len(t, f.runner.commands, 2)

	_, fetched := hits.Load("/kcov-42.tar.gz")
	require.False(t, fetched)
}

// TestRun_UploadCoverageDownloadFailure classifies a missing tarball as a dependency error.
func TestRun_UploadCoverageDownloadFailure(t *testing.T) {
	t.Parallel()

	var hits sync.Map

	f := coverageFixture(t, &hits)
	f.cfg.Coverage.KcovVersion = "41"

	err := f.run(ActionUploadCoverage, "")
	require.ErrorIs(t, err, errBadHTTPStatus)
	require.Equal(t, release.KindDependency, release.KindOf(err))
	require.Empty(t, f.runner.commands)
}

// TestRun_UploadDocumentation builds docs, writes the redirect and publishes.
func TestRun_UploadDocumentation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.env.DocsToken = "gh-secret"
	f.env.RepoSlug = "SUPERAndroidAnalyzer/super"

	require.NoError(t, f.run(ActionUploadDocumentation, ""))

	commands := f.runner.rendered()
	require.Len(t, commands, 3)
	require.Equal(t, "cargo doc --verbose --no-deps", commands[0])
	require.True(t, strings.HasPrefix(commands[1], "git clone --depth 1 https://github.com/davisp/ghp-import.git"))
	require.Contains(t, commands[2], "https://***@github.com/SUPERAndroidAnalyzer/super.git")
	require.NotContains(t, commands[2], "gh-secret")

	page, err := os.ReadFile(filepath.Join(f.env.BuildDir, "target/doc/index.html"))
	require.NoError(t, err)
	require.Contains(t, string(page), "url=super/index.html")
}

// TestCheckGates rejects malformed gate lists.
func TestCheckGates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	d := newDispatcher(&Options{Config: f.cfg, Env: f.env})

	for _, a := range d.actions() {
		require.NoError(t, d.checkGates(a), a.name)
	}

	require.ErrorIs(t, d.checkGates(&action{name: "x", gates: []Gate{"moon_phase"}}), errUnknownGate)
	require.ErrorIs(t, d.checkGates(&action{name: "x", gates: []Gate{GateTag, GateTag}}), errContradictoryGates)
	require.NoError(t, d.checkGates(&action{name: "x", gates: []Gate{GateStable, GateLintChannel}}))

	f.cfg.LintChannel = "nightly"
	require.ErrorIs(t, d.checkGates(&action{name: "x", gates: []Gate{GateStable, GateLintChannel}}), errContradictoryGates)
}

// TestRun_RecordsHistory writes skipped, succeeded and failed outcomes.
func TestRun_RecordsHistory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	store, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	f.store = store

	require.NoError(t, f.run("unknown", ""))
	require.NoError(t, f.run(ActionTest, ""))

	f.runner.failOn["cargo"] = 1
	require.Error(t, f.run(ActionBuild, ""))

	entries, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	outcomes := map[string]history.Outcome{}
	for _, e := range entries {
		outcomes[e.Action] = e.Outcome
	}

	require.Equal(t, map[string]history.Outcome{
		"unknown":   history.OutcomeSkipped,
		ActionTest:  history.OutcomeSucceeded,
		ActionBuild: history.OutcomeFailed,
	}, outcomes)
}

func TestParseKcovVersion(t *testing.T) {
	t.Parallel()

	require.Equal(t, "42", parseKcovVersion("kcov v42\n"))
	require.Equal(t, "38", parseKcovVersion("kcov 38"))
	require.Empty(t, parseKcovVersion("  "))
}

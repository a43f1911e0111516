package integration

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/container"
	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/printer"
	"github.com/oshokin/super-release/internal/repository/collection"
	"github.com/oshokin/super-release/internal/repository/history"
	"github.com/oshokin/super-release/internal/service/builder"
	"github.com/oshokin/super-release/internal/service/common"
	"github.com/oshokin/super-release/internal/service/dispatcher"
	"github.com/oshokin/super-release/internal/service/staging"
)

// toolchain stands in for rpmbuild, cargo and the package managers.
type toolchain struct {
	mu       sync.Mutex
	commands []string
	// failOn maps a program name to the exit status it returns.
	failOn map[string]int
	pkg    string
}

func (tc *toolchain) Run(_ context.Context, cmd common.Command) error {
	tc.mu.Lock()
	tc.commands = append(tc.commands, cmd.String())
	tc.mu.Unlock()

	if code, ok := tc.failOn[cmd.Name]; ok {
		return &common.ExitError{Command: cmd.String(), Code: code, Err: errors.New("exit")}
	}

	switch {
	case cmd.Name == "rpmbuild":
		defines := make(map[string]string)

		for i := 0; i+1 < len(cmd.Args); i++ {
			if cmd.Args[i] == "--define" {
				key, value, _ := strings.Cut(cmd.Args[i+1], " ")
				defines[key] = value
			}
		}

		name := tc.pkg + "-" + defines["version"] + "-" + defines["release"] + defines["dist"] + ".x86_64.rpm"

		return writeFile(filepath.Join(defines["_topdir"], "RPMS", "x86_64", name), "rpm "+name)
	case cmd.Name == "cargo" && len(cmd.Args) == 6 && cmd.Args[0] == "deb":
		return writeFile(cmd.Args[5], "deb "+cmd.Args[3])
	}

	return nil
}

// inProcessContainers runs super-builder in-process for every container spec,
// each platform getting its own rpmbuild tree and os-release file as it would
// inside its image.
type inProcessContainers struct {
	t     *testing.T
	cfg   *config.Config
	tools *toolchain
	store *history.Store

	mu    sync.Mutex
	specs []*container.Spec
}

func (c *inProcessContainers) Run(ctx context.Context, spec *container.Spec) error {
	c.mu.Lock()
	c.specs = append(c.specs, spec)
	c.mu.Unlock()

	distribution := spec.Cmd[len(spec.Cmd)-1]

	// The builder only sees what a real container would: its command line and environment.
	vars := make(map[string]string)

	for _, kv := range spec.Env {
		key, value, _ := strings.Cut(kv, "=")
		vars[key] = value
	}

	env, err := config.ResolveEnvironment(func(key string) (string, bool) {
		value, ok := vars[key]
		return value, ok
	})
	if err != nil {
		return err
	}

	cfg := *c.cfg
	cfg.RPM.TopDir = filepath.Join(c.t.TempDir(), "rpmbuild")
	cfg.OSReleaseFile = filepath.Join(c.t.TempDir(), "os-release")

	if err = writeFile(cfg.OSReleaseFile, osReleaseOf(distribution)); err != nil {
		return err
	}

	_, err = builder.Run(ctx, &builder.Options{
		Distribution: distribution,
		Version:      env.Tag,
		Config:       &cfg,
		Runner:       c.tools,
		History:      c.store,
		RunID:        env.RunID,
	})

	return err
}

func osReleaseOf(distribution string) string {
	switch distribution {
	case "centos":
		return "ID=\"centos\"\nVERSION_ID=\"7.9\"\n"
	case "fedora":
		return "ID=fedora\nVERSION_ID=39\n"
	default:
		return "ID=" + distribution + "\n"
	}
}

func writeFile(path, contents string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(contents), 0o644)
}

type workflow struct {
	cfg        *config.Config
	env        *config.Environment
	tools      *toolchain
	containers *inProcessContainers
	store      *history.Store
	out        *bytes.Buffer
}

func newWorkflow(t *testing.T, vars map[string]string) *workflow {
	t.Helper()

	buildDir := t.TempDir()

	files := map[string]string{
		"Cargo.toml":           "[package]\nname = \"super-analyzer\"\n",
		"src/main.rs":          "fn main() {}\n",
		"rpmbuild/super.spec":  "Name: super-analyzer\nVersion: %{version}\n",
		"target/release/super": "binary",
		".git/HEAD":            "ref: refs/heads/master\n",
		"downloads/sample.apk": "sample",
	}
	for rel, contents := range files {
		require.NoError(t, writeFile(filepath.Join(buildDir, rel), contents))
	}

	distributions := release.DefaultDistributions()
	for i := range distributions {
		distributions[i].Arch = "x86_64"
		if distributions[i].Family == release.FamilyDeb {
			distributions[i].Arch = "amd64"
		}
	}

	cfg := &config.Config{
		ProjectDir:    buildDir,
		HistoryFile:   filepath.Join(t.TempDir(), "history.db"),
		Deploy:        config.DeployConfig{Concurrency: 2},
		Distributions: distributions,
	}
	require.NoError(t, config.Validate(cfg))

	vars[config.EnvBuildDir] = buildDir

	env, err := config.ResolveEnvironment(func(key string) (string, bool) {
		value, ok := vars[key]
		return value, ok
	})
	require.NoError(t, err)

	store, err := history.Open(context.Background(), cfg.HistoryPath())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	tools := &toolchain{
		failOn: map[string]int{},
		pkg:    cfg.PackageName,
	}

	return &workflow{
		cfg:   cfg,
		env:   env,
		tools: tools,
		containers: &inProcessContainers{
			t:     t,
			cfg:   cfg,
			tools: tools,
			store: store,
		},
		store: store,
		out:   new(bytes.Buffer),
	}
}

func (w *workflow) ci(action, platform string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return dispatcher.Run(ctx, &dispatcher.Options{
		Action:     action,
		Platform:   platform,
		Config:     w.cfg,
		Env:        w.env,
		Runner:     w.tools,
		Containers: w.containers,
		History:    w.store,
		Printer:    printer.New(w.out),
	})
}

func (w *workflow) collected(t *testing.T) []string {
	t.Helper()

	entries, err := collection.NewFileRepository(w.cfg.ReleasesPath()).List(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}

	return names
}

func tagged(tag string) map[string]string {
	return map[string]string{
		config.EnvTag:         tag,
		config.EnvOSName:      "linux",
		config.EnvChannel:     "stable",
		config.EnvBranch:      "master",
		config.EnvPullRequest: "false",
	}
}

// TestDeploy_CollectsEveryDistribution runs deploy for a tagged build and
// checks the collection, the checksums and the ledger.
func TestDeploy_CollectsEveryDistribution(t *testing.T) {
	t.Parallel()

	w := newWorkflow(t, tagged("0.4.1"))

	require.NoError(t, w.ci(dispatcher.ActionDeploy, ""))

	require.Equal(t, []string{
		"super-analyzer-0.4.1-1.el7.x86_64.rpm",
		"super-analyzer-0.4.1-1.fc39.x86_64.rpm",
		"super-analyzer_0.4.1_debian_amd64.deb",
		"super-analyzer_0.4.1_ubuntu_amd64.deb",
	}, w.collected(t))

	repo := collection.NewFileRepository(w.cfg.ReleasesPath())
	for _, name := range w.collected(t) {
		require.NoError(t, repo.Verify(context.Background(), name), name)
	}

	require.Len(t, w.containers.specs, 4)
	require.Contains(t, w.out.String(), "super-analyzer_0.4.1_ubuntu_amd64.deb")

	entries, err := w.store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	var (
		runIDs  = make(map[string]bool)
		actions []string
	)

	for _, e := range entries {
		require.Equal(t, history.OutcomeSucceeded, e.Outcome, e.Action+" "+e.Distribution)
		runIDs[e.RunID] = true

		actions = append(actions, e.Action+":"+e.Distribution)
	}

	sort.Strings(actions)
	require.Equal(t, []string{"build:centos", "build:debian", "build:fedora", "build:ubuntu", "deploy:"}, actions)
	require.Len(t, runIDs, 1)
}

// TestDeploy_FailedPlatform stops the deploy and records the packaging failure.
func TestDeploy_FailedPlatform(t *testing.T) {
	t.Parallel()

	w := newWorkflow(t, tagged("0.4.1"))
	w.tools.failOn["rpmbuild"] = 1

	err := w.ci(dispatcher.ActionDeploy, "")
	require.Error(t, err)
	require.Equal(t, release.KindPackaging, release.KindOf(err))
	require.Equal(t, 1, common.ExitCode(err))

	for _, name := range w.collected(t) {
		require.NotContains(t, name, ".rpm")
	}

	entries, err := w.store.List(context.Background(), 0)
	require.NoError(t, err)

	// The platform sharing the first slot may be cancelled at any step, so
	// only the rpmbuild failure is certain.
	var packagingFailures int

	for _, e := range entries {
		if e.Action == "build" && e.FailureKind == release.KindPackaging {
			require.Equal(t, history.OutcomeFailed, e.Outcome)

			packagingFailures++
		}
	}

	require.Positive(t, packagingFailures)
}

// TestDistTest_WithoutTag builds one platform with the test version.
func TestDistTest_WithoutTag(t *testing.T) {
	t.Parallel()

	vars := tagged("")
	delete(vars, config.EnvTag)

	w := newWorkflow(t, vars)

	require.NoError(t, w.ci(dispatcher.ActionDistTest, "centos"))
	require.Equal(t, []string{"super-analyzer-0.0.0-1.el7.x86_64.rpm"}, w.collected(t))

	// Deploy is gated on a tag and does nothing here.
	require.NoError(t, w.ci(dispatcher.ActionDeploy, ""))
	require.Len(t, w.containers.specs, 1)
}

// TestStaging_MatchesBuilderArchive stages the project the way the RPM builder
// does and compares the fingerprints of both archives.
func TestStaging_MatchesBuilderArchive(t *testing.T) {
	t.Parallel()

	w := newWorkflow(t, tagged("0.4.1"))

	staged, err := staging.Run(context.Background(), &staging.Options{
		ProjectDir:  w.cfg.ProjectDir,
		PackageName: w.cfg.PackageName,
		Version:     "0.4.1",
		Exclusions:  w.cfg.Exclusions,
		ArchiveDir:  t.TempDir(),
		Skip:        []string{w.cfg.ReleasesPath()},
	})
	require.NoError(t, err)

	cfg := *w.cfg
	cfg.RPM.TopDir = filepath.Join(t.TempDir(), "rpmbuild")
	cfg.OSReleaseFile = filepath.Join(t.TempDir(), "os-release")
	require.NoError(t, writeFile(cfg.OSReleaseFile, osReleaseOf("centos")))

	built, err := builder.Run(context.Background(), &builder.Options{
		Distribution: "centos",
		Version:      "0.4.1",
		Config:       &cfg,
		Runner:       w.tools,
	})
	require.NoError(t, err)
	require.Equal(t, staged.Fingerprint, built.Fingerprint)
	require.Equal(t, 2, staged.Files)
}

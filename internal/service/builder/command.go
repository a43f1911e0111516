package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/repository/collection"
	"github.com/oshokin/super-release/internal/repository/history"
	"github.com/oshokin/super-release/internal/service/common"
)

// Options contains inputs for one distribution build.
type Options struct {
	// Distribution is the name of the distribution table row to build.
	Distribution string
	// Version is the release tag; it names the archive, staged tree and artifact.
	Version string
	// Config holds the validated packaging settings.
	Config *config.Config
	// Runner executes external commands; os/exec when nil.
	Runner common.Runner
	// Collection receives the artifact; a file repository at Config.ReleasesPath when nil.
	Collection collection.Repository
	// History records the outcome when set.
	History *history.Store
	// RunID groups ledger rows; generated when empty.
	RunID string
}

// Result describes a finished build.
type Result struct {
	// Distribution is the built row.
	Distribution string
	// Artifact is the collected package.
	Artifact *collection.Entry
	// Fingerprint is the BLAKE3 digest of the staged source archive (RPM only).
	Fingerprint string
}

// builder runs the sub-protocol of one distribution.
// It is unexported; callers should use Run.
type builder struct {
	// cfg holds the packaging settings.
	cfg *config.Config
	// dist is the distribution table row.
	dist release.Distribution
	// version is the validated release tag.
	version string
	// arch is the family-specific artifact architecture.
	arch string
	// runner executes external commands.
	runner common.Runner
	// collection receives the artifact.
	collection collection.Repository
}

var errConfigRequired = errors.New("configuration must be provided")

// Run builds one distribution package and relocates it into the release collection.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "super-builder")

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	ctx = logger.WithFields(ctx, "distribution", opts.Distribution, "version", opts.Version, "run", opts.RunID)

	startedAt := time.Now()

	result, err := build(ctx, opts)
	if err != nil {
		logger.ErrorKV(ctx, "Build failed", "class", release.KindOf(err), "error", err)
	} else {
		logger.InfoKV(ctx, "Build completed", "artifact", result.Artifact.Path)
	}

	recordOutcome(ctx, opts, startedAt, result, err)

	return result, err
}

func build(ctx context.Context, opts *Options) (*Result, error) {
	b, err := newBuilder(opts)
	if err != nil {
		return nil, err
	}

	switch b.dist.Family {
	case release.FamilyRPM:
		return b.buildRPM(ctx)
	case release.FamilyDeb:
		return b.buildDeb(ctx)
	default:
		return nil, release.Fail(release.KindConfiguration, "lookup",
			fmt.Errorf("%s: family %q: %w", b.dist.Name, b.dist.Family, release.ErrInvalidDistribution))
	}
}

// newBuilder validates every input before any side effect happens.
func newBuilder(opts *Options) (*builder, error) {
	if opts.Config == nil {
		return nil, release.Fail(release.KindConfiguration, "lookup", errConfigRequired)
	}

	dist, err := opts.Config.Distribution(opts.Distribution)
	if err != nil {
		return nil, release.Fail(release.KindConfiguration, "lookup", err)
	}

	if err = dist.ValidateVersion(opts.Version); err != nil {
		return nil, release.Fail(release.KindConfiguration, "lookup", err)
	}

	arch, err := dist.Architecture()
	if err != nil {
		return nil, release.Fail(release.KindConfiguration, "lookup", err)
	}

	runner := opts.Runner
	if runner == nil {
		runner = common.NewExecRunner()
	}

	repo := opts.Collection
	if repo == nil {
		repo = collection.NewFileRepository(opts.Config.ReleasesPath())
	}

	return &builder{
		cfg:        opts.Config,
		dist:       dist,
		version:    opts.Version,
		arch:       arch,
		runner:     runner,
		collection: repo,
	}, nil
}

// installDependencies runs the row's package manager.
func (b *builder) installDependencies(ctx context.Context, refresh bool) error {
	if len(b.dist.Dependencies) == 0 {
		return nil
	}

	logger.InfoKV(ctx, "Installing build dependencies", "installer", b.dist.Installer, "packages", b.dist.Dependencies)

	var commands []common.Command

	if refresh {
		commands = append(commands, common.Command{Name: b.dist.Installer, Args: []string{"update"}})
	}

	commands = append(commands, common.Command{
		Name: b.dist.Installer,
		Args: append([]string{"install", "-y"}, b.dist.Dependencies...),
	})

	return release.Fail(release.KindDependency, "install dependencies", common.RunChain(ctx, b.runner, commands...))
}

// relocate moves the produced package into the collection under name.
func (b *builder) relocate(ctx context.Context, source, name string) (*collection.Entry, error) {
	logger.InfoKV(ctx, "Relocating artifact", "source", source, "artifact", name)

	entry, err := b.collection.Put(ctx, source, name)
	if err != nil {
		return nil, release.Fail(release.KindRelocation, "relocate", err)
	}

	return entry, nil
}

func recordOutcome(ctx context.Context, opts *Options, startedAt time.Time, result *Result, runErr error) {
	if opts.History == nil {
		return
	}

	outcome, kind := history.OutcomeOf(runErr)

	entry := &history.Entry{
		RunID:        opts.RunID,
		Action:       "build",
		Distribution: opts.Distribution,
		Version:      opts.Version,
		Outcome:      outcome,
		FailureKind:  kind,
		StartedAt:    startedAt,
		CompletedAt:  time.Now(),
	}

	if runErr != nil {
		entry.Error = runErr.Error()
	}

	if result != nil {
		entry.Artifact = result.Artifact.Name
		entry.Fingerprint = result.Fingerprint
	}

	if actor, err := common.DetectActor(); err == nil {
		entry.Actor = actor.String()
	}

	if err := opts.History.Record(ctx, entry); err != nil {
		logger.WarnKV(ctx, "Could not record build outcome", "error", err)
	}
}

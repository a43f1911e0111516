package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/container"
	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/repository/collection"
)

// platformResult is the outcome of one platform container.
type platformResult struct {
	distribution string
	err          error
	started      bool
}

// distTest builds one platform with the release tag, or the test version without one.
func (d *dispatcher) distTest(ctx context.Context) error {
	version := d.env.Tag
	if version == "" {
		version = d.cfg.TestVersion
	}

	dist, err := d.cfg.Distribution(d.platform)
	if err != nil {
		return release.Fail(release.KindConfiguration, ActionDistTest, err)
	}

	builderCmd, err := d.builderCommand()
	if err != nil {
		return release.Fail(release.KindConfiguration, ActionDistTest, err)
	}

	containers, closeRunner, err := d.containerRunner(ctx)
	if err != nil {
		return release.Fail(release.KindDependency, "docker", err)
	}

	defer closeRunner()

	return d.runPlatform(ctx, containers, d.platformSpec(ActionDistTest, builderCmd, dist, version))
}

// deploy builds every platform of the table and summarizes the collection.
func (d *dispatcher) deploy(ctx context.Context) error {
	builderCmd, err := d.builderCommand()
	if err != nil {
		return release.Fail(release.KindConfiguration, ActionDeploy, err)
	}

	containers, closeRunner, err := d.containerRunner(ctx)
	if err != nil {
		return release.Fail(release.KindDependency, "docker", err)
	}

	defer closeRunner()

	var (
		distributions = d.cfg.Distributions
		results       = make([]platformResult, len(distributions))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Deploy.Concurrency)

	for i, dist := range distributions {
		results[i].distribution = dist.Name

		g.Go(func() error {
			// A failed platform cancels the ones still waiting for a slot.
			if err := gctx.Err(); err != nil {
				return err
			}

			results[i].started = true
			results[i].err = d.runPlatform(gctx, containers, d.platformSpec(ActionDeploy, builderCmd, dist, d.env.Tag))

			return results[i].err
		})
	}

	err = g.Wait()

	d.printDeploySummary(ctx, results)

	return err
}

func (d *dispatcher) runPlatform(ctx context.Context, containers container.Runner, spec *container.Spec) error {
	distribution := spec.Labels[container.LabelDistribution]

	ctx = logger.WithKV(ctx, "distribution", distribution)
	logger.InfoKV(ctx, "Starting build container", "image", spec.Image, "cmd", spec.Cmd)

	if err := containers.Run(ctx, spec); err != nil {
		return release.Fail(release.KindPackaging, "container "+distribution, err)
	}

	return nil
}

// builderCommand is the super-builder invocation inside a container, without
// the distribution. The configuration file the dispatcher loaded is passed
// through its path under the mount, so both sides read the same settings.
func (d *dispatcher) builderCommand() ([]string, error) {
	mountPath := d.cfg.Container.MountPath

	builder := d.cfg.Container.BuilderPath
	if !path.IsAbs(builder) {
		builder = path.Join(mountPath, builder)
	}

	command := []string{builder}

	// Without the file both sides run on defaults.
	if d.configPath == "" {
		return command, nil
	}

	if _, err := os.Stat(d.configPath); errors.Is(err, os.ErrNotExist) {
		return command, nil
	}

	configPath, err := filepath.Abs(d.configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve configuration path: %w", err)
	}

	buildDir, err := filepath.Abs(d.env.BuildDir)
	if err != nil {
		return nil, fmt.Errorf("resolve build dir: %w", err)
	}

	rel, err := filepath.Rel(buildDir, configPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s: %w", d.configPath, errConfigOutsideMount)
	}

	return append(command, "--config", path.Join(mountPath, filepath.ToSlash(rel))), nil
}

// platformSpec runs super-builder for dist inside its image with the build dir mounted.
func (d *dispatcher) platformSpec(
	action string,
	builderCmd []string,
	dist release.Distribution,
	version string,
) *container.Spec {
	env := []string{
		config.EnvTag + "=" + version,
		config.EnvRunID + "=" + d.runID,
	}

	if d.env.JobID != "" {
		env = append(env, config.EnvJobID+"="+d.env.JobID)
	}

	return &container.Spec{
		Name:      container.Name(d.runID, dist.Name),
		Image:     dist.Image,
		Cmd:       append(slices.Clone(builderCmd), dist.Name),
		Env:       env,
		HostDir:   d.env.BuildDir,
		MountPath: d.cfg.Container.MountPath,
		Labels:    container.BuildLabels(d.runID, action, dist.Name, d.env.BuildDir),
	}
}

// containerRunner returns the configured runner or connects to the Docker daemon.
func (d *dispatcher) containerRunner(ctx context.Context) (container.Runner, func(), error) {
	if d.containers != nil {
		return d.containers, func() {}, nil
	}

	cli, err := container.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	var options []container.Option
	if d.cfg.Container.SkipPull {
		options = append(options, container.WithoutPull())
	}

	return container.NewDockerRunner(cli, options...), func() { _ = cli.Close() }, nil
}

func (d *dispatcher) printDeploySummary(ctx context.Context, results []platformResult) {
	d.printer.Step("Deploy summary")

	for _, r := range results {
		switch {
		case !r.started:
			d.printer.Warning("%s: not started", r.distribution)
		case errors.Is(r.err, context.Canceled):
			d.printer.Warning("%s: cancelled", r.distribution)
		case r.err != nil:
			d.printer.Failure("%s: %v", r.distribution, r.err)
		default:
			d.printer.Success("%s", r.distribution)
		}
	}

	repo := collection.NewFileRepository(d.buildPath(d.cfg.ReleasesDir))

	broken, err := d.printer.Collection(ctx, repo)
	if err != nil {
		logger.WarnKV(ctx, "Could not list the release collection", "error", err)
		return
	}

	if broken > 0 {
		logger.WarnKV(ctx, "Release collection has artifacts failing verification", "count", broken)
	}
}

package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/service/common"
	"github.com/oshokin/super-release/internal/service/staging"
)

// rpmbuild top-dir layout.
const (
	sourcesDir = "SOURCES"
	rpmsDir    = "RPMS"
)

// buildRPM runs the RPM sub-protocol.
func (b *builder) buildRPM(ctx context.Context) (*Result, error) {
	topDir := b.cfg.ProjectPath(b.cfg.RPM.TopDir)

	unlock, err := acquireMarker(ctx, topDir)
	if err != nil {
		return nil, release.Fail(release.KindConfiguration, "lock top dir", err)
	}

	defer unlock()

	if err = b.installDependencies(ctx, false); err != nil {
		return nil, err
	}

	sources := filepath.Join(topDir, sourcesDir)

	staged, err := staging.Run(ctx, &staging.Options{
		ProjectDir:  b.cfg.ProjectDir,
		PackageName: b.cfg.PackageName,
		Version:     b.version,
		Exclusions:  b.cfg.Exclusions,
		StagingDir:  b.cfg.StagingDir,
		ArchiveDir:  sources,
		Skip:        []string{b.cfg.ReleasesPath(), topDir},
	})
	if err != nil {
		return nil, err
	}

	specFile, err := b.copySpecFile(sources)
	if err != nil {
		return nil, release.Fail(release.KindConfiguration, "copy spec file", err)
	}

	distTag, err := b.distTag(ctx)
	if err != nil {
		return nil, release.Fail(release.KindConfiguration, "resolve dist tag", err)
	}

	logger.InfoKV(ctx, "Running rpmbuild", "spec", specFile, "dist", distTag)

	rpmbuild := common.Command{
		Name: "rpmbuild",
		Args: []string{
			"-ba",
			"--define", "_topdir " + topDir,
			"--define", "version " + b.version,
			"--define", "release " + strconv.Itoa(b.cfg.RPM.Release),
			"--define", "dist ." + distTag,
			specFile,
		},
		Dir: topDir,
	}
	if err = b.runner.Run(ctx, rpmbuild); err != nil {
		return nil, release.Fail(release.KindPackaging, "rpmbuild", err)
	}

	name := release.RPMName(b.cfg.PackageName, b.version, b.cfg.RPM.Release, distTag, b.arch)

	entry, err := b.relocate(ctx, filepath.Join(topDir, rpmsDir, b.arch, name), name)
	if err != nil {
		return nil, err
	}

	return &Result{
		Distribution: b.dist.Name,
		Artifact:     entry,
		Fingerprint:  staged.Fingerprint,
	}, nil
}

// copySpecFile places the spec descriptor next to the source archive.
func (b *builder) copySpecFile(sources string) (string, error) {
	src := b.cfg.ProjectPath(b.cfg.RPM.SpecFile)

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return "", fmt.Errorf("open spec file: %w", err)
	}

	defer func() {
		_ = in.Close()
	}()

	dst := filepath.Join(sources, filepath.Base(src))

	out, err := os.Create(filepath.Clean(dst))
	if err != nil {
		return "", fmt.Errorf("create spec file: %w", err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy spec file: %w", err)
	}

	return dst, out.Close()
}

// distTag returns the pinned tag or derives it from os-release.
func (b *builder) distTag(ctx context.Context) (string, error) {
	if b.dist.DistTag != "" {
		return b.dist.DistTag, nil
	}

	osRelease, err := release.ReadOSRelease(b.cfg.OSReleaseFile)
	if err != nil {
		return "", err
	}

	// The tag then describes the host, not the row being built.
	if id := osRelease.ID(); id != "" && id != b.dist.Name {
		logger.WarnKV(ctx, "os-release describes another distribution", "os_release_id", id)
	}

	return b.dist.ResolveDistTag(osRelease.VersionID())
}

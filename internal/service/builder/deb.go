package builder

import (
	"context"
	"path/filepath"

	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/service/common"
)

// buildDeb runs the Debian sub-protocol in the working tree.
func (b *builder) buildDeb(ctx context.Context) (*Result, error) {
	if err := b.installDependencies(ctx, true); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Compiling release binary")

	compile := common.Command{
		Name: "cargo",
		Args: []string{"build", "--release"},
		Dir:  b.cfg.ProjectDir,
	}
	if err := b.runner.Run(ctx, compile); err != nil {
		return nil, release.Fail(release.KindBuild, "cargo build", err)
	}

	logger.Info(ctx, "Packaging with cargo-deb")

	// Each distribution writes below its own directory; builds of several
	// Debian-family rows may share one build dir.
	produced := filepath.Join(
		b.cfg.ProjectPath(b.cfg.Deb.OutputDir),
		b.dist.Name,
		release.CargoDebName(b.cfg.PackageName, b.version, b.arch),
	)

	// --deb-version keeps the package version equal to the tag.
	pack := common.Command{
		Name: "cargo",
		Args: []string{"deb", "--no-build", "--deb-version", b.version, "--output", produced},
		Dir:  b.cfg.ProjectDir,
	}
	if err := b.runner.Run(ctx, pack); err != nil {
		return nil, release.Fail(release.KindPackaging, "cargo deb", err)
	}

	entry, err := b.relocate(ctx, produced, release.DebName(b.cfg.PackageName, b.version, b.dist.Name, b.arch))
	if err != nil {
		return nil, err
	}

	return &Result{
		Distribution: b.dist.Name,
		Artifact:     entry,
	}, nil
}

package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/service/common"
)

var (
	errMissingCoverageToken = errors.New("coverage token is not set")
	errNoTestBinaries       = errors.New("no test binaries found")
)

// uploadCoverage bootstraps kcov, runs it over every test binary and submits the report.
func (d *dispatcher) uploadCoverage(ctx context.Context) error {
	if d.env.CoverageToken == "" {
		return release.Fail(release.KindConfiguration, ActionUploadCoverage, errMissingCoverageToken)
	}

	workDir := d.buildPath(d.cfg.Coverage.WorkDir)

	kcov, err := d.ensureKcov(ctx, workDir)
	if err != nil {
		return release.Fail(release.KindDependency, "kcov bootstrap", err)
	}

	binaries, err := d.testBinaries()
	if err != nil {
		return release.Fail(release.KindBuild, "find test binaries", err)
	}

	reportDir := filepath.Join(workDir, "report")
	exclude := "--exclude-pattern=" + strings.Join(d.cfg.Coverage.ExcludePatterns, ",")

	for _, binary := range binaries {
		out := filepath.Join(reportDir, filepath.Base(binary))
		if err = os.MkdirAll(out, 0o755); err != nil {
			return release.Fail(release.KindBuild, "kcov", err)
		}

		run := common.Command{Name: kcov, Args: []string{exclude, "--verify", out, binary}}
		if err = d.command(ctx, run); err != nil {
			return release.Fail(release.KindBuild, "kcov", err)
		}
	}

	uploader := filepath.Join(workDir, "codecov.sh")
	if err = d.download(ctx, d.cfg.Coverage.UploaderURL, uploader); err != nil {
		return release.Fail(release.KindDependency, "download uploader", err)
	}

	upload := common.Command{
		Name:    "bash",
		Args:    []string{uploader, "-t", d.env.CoverageToken, "-s", reportDir},
		Secrets: []string{d.env.CoverageToken},
	}

	return release.Fail(release.KindPublish, "upload coverage", d.command(ctx, upload))
}

// ensureKcov returns the kcov binary, building the configured version from source
// unless it is already installed in workDir.
func (d *dispatcher) ensureKcov(ctx context.Context, workDir string) (string, error) {
	var (
		kcovVersion = d.cfg.Coverage.KcovVersion
		installDir  = filepath.Join(workDir, "install")
		binary      = filepath.Join(installDir, "usr", "local", "bin", "kcov")
	)

	if output, err := d.probe(ctx, binary, "--version"); err == nil {
		if installed := parseKcovVersion(output); installed == kcovVersion {
			logger.InfoKV(ctx, "kcov already installed", "version", installed)
			return binary, nil
		}
	}

	logger.InfoKV(ctx, "Building kcov from source", "version", kcovVersion)

	archive := filepath.Join(workDir, "kcov-"+kcovVersion+".tar.gz")
	if err := d.download(ctx, d.cfg.Coverage.KcovSourceURL(), archive); err != nil {
		return "", err
	}

	// GitHub tag archives unpack into <repo>-<tag without v>.
	sourceDir := filepath.Join(workDir, "kcov-"+kcovVersion)
	if err := os.RemoveAll(sourceDir); err != nil {
		return "", err
	}

	if err := d.command(ctx, common.Command{Name: "tar", Args: []string{"-xzf", archive, "-C", workDir}}); err != nil {
		return "", err
	}

	cmakeDir := filepath.Join(sourceDir, "build")
	if err := os.MkdirAll(cmakeDir, 0o755); err != nil {
		return "", err
	}

	err := d.command(ctx,
		common.Command{Name: "cmake", Args: []string{".."}, Dir: cmakeDir},
		common.Command{Name: "make", Dir: cmakeDir},
		common.Command{Name: "make", Args: []string{"install", "DESTDIR=" + installDir}, Dir: cmakeDir},
	)
	if err != nil {
		return "", err
	}

	return binary, nil
}

// testBinaries lists executables matching the configured prefix.
func (d *dispatcher) testBinaries() ([]string, error) {
	dir := d.buildPath(d.cfg.Coverage.TestBinaryDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var binaries []string

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasPrefix(name, d.cfg.Coverage.TestBinaryPrefix) ||
			filepath.Ext(name) == ".d" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		if info.Mode().Perm()&0o111 == 0 {
			continue
		}

		binaries = append(binaries, filepath.Join(dir, name))
	}

	if len(binaries) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, errNoTestBinaries)
	}

	return binaries, nil
}

// buildPath resolves rel against the build directory.
func (d *dispatcher) buildPath(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}

	return filepath.Join(d.env.BuildDir, rel)
}

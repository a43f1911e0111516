package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
)

// Options contains inputs for one staging run.
type Options struct {
	// ProjectDir is the root of the tree to stage.
	ProjectDir string
	// PackageName prefixes the staged tree and the archive.
	PackageName string
	// Version is the release tag embedded in names.
	Version string
	// Exclusions are project-relative paths left out of the staged tree.
	Exclusions []string
	// StagingDir hosts the staged tree; a temporary directory is used when empty.
	StagingDir string
	// ArchiveDir receives <package>-<version>.tar.gz.
	ArchiveDir string
	// Skip lists absolute paths never copied, such as the release collection.
	Skip []string
}

// Result describes the produced source archive.
type Result struct {
	// ArchivePath is the absolute path of the tarball.
	ArchivePath string
	// Fingerprint is the hex BLAKE3 digest of the tarball bytes.
	Fingerprint string
	// Files is the number of regular files and symlinks archived.
	Files int
}

var (
	errProjectDirRequired  = errors.New("project directory must be provided")
	errPackageNameRequired = errors.New("package name must be provided")
	errArchiveDirRequired  = errors.New("archive directory must be provided")
)

// Run stages the project tree and archives it.
// A failure while copying or archiving leaves the staged tree in place.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "staging")

	if err := validate(opts); err != nil {
		return nil, release.Fail(release.KindConfiguration, "staging", err)
	}

	stagingRoot, cleanupRoot, err := prepareRoot(opts.StagingDir)
	if err != nil {
		return nil, release.Fail(release.KindPackaging, "staging", err)
	}

	stagedName := release.StagedName(opts.PackageName, opts.Version)
	stagedDir := filepath.Join(stagingRoot, stagedName)

	if err = os.RemoveAll(stagedDir); err != nil {
		return nil, release.Fail(release.KindPackaging, "staging", fmt.Errorf("clear staged tree: %w", err))
	}

	skip := append([]string{stagingRoot, opts.ArchiveDir}, opts.Skip...)
	filter := NewFilter(opts.Exclusions, skip...)

	logger.InfoKV(ctx, "Staging project tree", "project", opts.ProjectDir, "staged", stagedDir)

	if err = copyTree(ctx, opts.ProjectDir, stagedDir, filter); err != nil {
		return nil, release.Fail(release.KindPackaging, "staging", err)
	}

	archivePath := filepath.Join(opts.ArchiveDir, release.ArchiveName(opts.PackageName, opts.Version))

	logger.InfoKV(ctx, "Archiving staged tree", "archive", archivePath)

	result, err := writeArchive(ctx, stagedDir, stagedName, archivePath)
	if err != nil {
		return nil, release.Fail(release.KindPackaging, "archive", err)
	}

	if err = os.RemoveAll(stagedDir); err != nil {
		return nil, release.Fail(release.KindPackaging, "staging", fmt.Errorf("remove staged tree: %w", err))
	}

	cleanupRoot()

	logger.InfoKV(ctx, "Source archive ready",
		"archive", result.ArchivePath, "files", result.Files, "blake3", result.Fingerprint)

	return result, nil
}

func validate(opts *Options) error {
	if opts == nil || opts.ProjectDir == "" {
		return errProjectDirRequired
	}

	if opts.PackageName == "" {
		return errPackageNameRequired
	}

	if opts.ArchiveDir == "" {
		return errArchiveDirRequired
	}

	if err := release.ValidateVersion(opts.Version); err != nil {
		return err
	}

	info, err := os.Stat(opts.ProjectDir)
	if err != nil {
		return fmt.Errorf("stat project: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s: %w", opts.ProjectDir, errProjectDirRequired)
	}

	return nil
}

// prepareRoot returns the staging root and a cleanup func for temporary roots.
func prepareRoot(dir string) (string, func(), error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, fmt.Errorf("create staging dir: %w", err)
		}

		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", nil, err
		}

		return abs, func() {}, nil
	}

	tmp, err := os.MkdirTemp("", "super-release-staging-")
	if err != nil {
		return "", nil, fmt.Errorf("create staging dir: %w", err)
	}

	return tmp, func() { _ = os.RemoveAll(tmp) }, nil
}

// copyTree copies src into dst, honoring the filter.
func copyTree(ctx context.Context, src, dst string, filter *Filter) error {
	src, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if rel != "." && (filter.Excluded(rel) || filter.Skipped(path)) {
			logger.DebugKV(ctx, "Excluded from staging", "path", rel)

			if entry.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		target := filepath.Join(dst, rel)

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, 0o755)
		case entry.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}

			return os.Symlink(link, target)
		case entry.Type().IsRegular():
			return copyFile(path, target)
		default:
			logger.WarnKV(ctx, "Skipping special file", "path", rel)
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}

	return out.Close()
}

package staging

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// archiveModTime is stamped on every entry so identical trees give identical archives.
//
//nolint:gochecknoglobals // Constant-like value; time.Time cannot be a const.
var archiveModTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// writeArchive tars and gzips stagedDir under the prefix directory name.
// The archive is written to a temporary file and renamed into place.
func writeArchive(ctx context.Context, stagedDir, prefix, archivePath string) (*Result, error) {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(archivePath), ".staging-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	tmpName := tmp.Name()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	hasher := blake3.New()
	gz := gzip.NewWriter(io.MultiWriter(tmp, hasher))
	tw := tar.NewWriter(gz)

	files, err := addTree(ctx, tw, stagedDir, prefix)
	if err != nil {
		_ = tmp.Close()
		return nil, err
	}

	if err = tw.Close(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("close tar stream: %w", err)
	}

	if err = gz.Close(); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("close gzip stream: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	if err = os.Rename(tmpName, archivePath); err != nil {
		return nil, fmt.Errorf("move archive into place: %w", err)
	}

	absPath, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, err
	}

	return &Result{
		ArchivePath: absPath,
		Fingerprint: hex.EncodeToString(hasher.Sum(nil)),
		Files:       files,
	}, nil
}

// addTree writes every entry below root in lexical order.
func addTree(ctx context.Context, tw *tar.Writer, root, prefix string) (int, error) {
	var files int

	err := filepath.WalkDir(root, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		name := prefix
		if rel != "." {
			name = path.Join(prefix, filepath.ToSlash(rel))
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("tar header for %s: %w", rel, err)
		}

		normalizeHeader(header, name, info.IsDir())

		if err = tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %s: %w", rel, err)
		}

		if !info.Mode().IsRegular() {
			if info.Mode()&fs.ModeSymlink != 0 {
				files++
			}

			return nil
		}

		files++

		return copyInto(tw, p)
	})

	return files, err
}

func normalizeHeader(header *tar.Header, name string, isDir bool) {
	if isDir {
		name += "/"
	}

	header.Name = name
	header.ModTime = archiveModTime
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}
	header.Uid = 0
	header.Gid = 0
	header.Uname = "root"
	header.Gname = "root"
	header.Format = tar.FormatPAX
}

func copyInto(w io.Writer, p string) error {
	f, err := os.Open(filepath.Clean(p))
	if err != nil {
		return err
	}

	defer func() {
		_ = f.Close()
	}()

	_, err = io.Copy(w, f)

	return err
}

package collection

import (
	"context"
	"crypto"
	_ "crypto/sha512" // registers SHA-512 for crypto.SHA512
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/logger"
)

// ChecksumFunction hashes artifacts for the sidecar files.
const ChecksumFunction = crypto.SHA512

// sidecarExtension is appended to an artifact name to get its checksum file.
const sidecarExtension = ".sha512"

// Repository defines operations on the release collection.
type Repository interface {
	Put(ctx context.Context, source, name string) (*Entry, error)
	List(ctx context.Context) ([]*Entry, error)
	Verify(ctx context.Context, name string) error
}

// Entry is one artifact of the collection.
type Entry struct {
	// Name is the artifact file name.
	Name string
	// Path is the absolute artifact path.
	Path string
	// Size is the artifact size in bytes.
	Size int64
	// Checksum is the hex SHA-512 recorded in the sidecar, empty when missing.
	Checksum string
}

var (
	// ErrArtifactNotFound is returned when a source or collection artifact is absent.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrChecksumMismatch is returned by Verify when the sidecar disagrees with the file.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrInvalidName is returned for names that are not plain artifact file names.
	ErrInvalidName = errors.New("invalid artifact name")
	// errHashUnavailable is returned when the checksum function is not linked in.
	errHashUnavailable = errors.New("hash function unavailable")
)

// FileRepository stores artifacts in a directory on disk.
type FileRepository struct {
	// dir is the collection directory.
	dir string
	// mu serializes writers inside one process; separate processes only
	// ever touch disjoint names.
	mu sync.Mutex
}

// NewFileRepository creates a repository rooted at dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{
		dir: filepath.Clean(dir),
	}
}

// Dir returns the collection directory.
func (r *FileRepository) Dir() string {
	return r.dir
}

// Put moves source into the collection under name, overwriting an existing
// artifact of the same name, and records its checksum.
func (r *FileRepository) Put(ctx context.Context, source, name string) (*Entry, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	info, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", source, ErrArtifactNotFound)
		}

		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file: %w", source, ErrArtifactNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err = os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}

	target := filepath.Join(r.dir, name)
	if err = moveFile(source, target); err != nil {
		return nil, fmt.Errorf("relocate artifact: %w", err)
	}

	checksum, err := FileChecksum(target)
	if err != nil {
		return nil, err
	}

	sum := hex.EncodeToString(checksum)

	// sha512sum-compatible line, so `sha512sum -c` works inside the collection.
	line := sum + "  " + name + "\n"
	if err = os.WriteFile(target+sidecarExtension, []byte(line), config.DefaultFilePermissions); err != nil {
		return nil, fmt.Errorf("write checksum: %w", err)
	}

	logger.InfoKV(ctx, "Artifact collected", "artifact", target, "sha512", sum)

	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, err
	}

	return &Entry{
		Name:     name,
		Path:     abs,
		Size:     info.Size(),
		Checksum: sum,
	}, nil
}

// List returns the artifacts in the collection sorted by name.
// A missing collection directory is an empty collection.
func (r *FileRepository) List(_ context.Context) ([]*Entry, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read collection: %w", err)
	}

	result := make([]*Entry, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !release.IsArtifact(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		sum, err := r.readSidecar(entry.Name())
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}

		result = append(result, &Entry{
			Name:     entry.Name(),
			Path:     filepath.Join(r.dir, entry.Name()),
			Size:     info.Size(),
			Checksum: sum,
		})
	}

	slices.SortFunc(result, func(a, b *Entry) int {
		return strings.Compare(a.Name, b.Name)
	})

	return result, nil
}

// Verify recomputes the checksum of name and compares it with its sidecar.
func (r *FileRepository) Verify(_ context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	path := filepath.Join(r.dir, name)

	actual, err := FileChecksum(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrArtifactNotFound)
		}

		return err
	}

	recorded, err := r.readSidecar(name)
	if err != nil {
		return fmt.Errorf("read checksum of %s: %w", name, err)
	}

	if hex.EncodeToString(actual) != recorded {
		return fmt.Errorf("%s: %w", name, ErrChecksumMismatch)
	}

	return nil
}

// readSidecar returns the hex digest stored next to the artifact.
func (r *FileRepository) readSidecar(name string) (string, error) {
	contents, err := os.ReadFile(filepath.Join(r.dir, name+sidecarExtension))
	if err != nil {
		return "", err
	}

	fields := strings.Fields(string(contents))
	if len(fields) == 0 {
		return "", nil
	}

	return fields[0], nil
}

// FileChecksum returns the SHA-512 digest of a file.
func FileChecksum(path string) ([]byte, error) {
	if !ChecksumFunction.Available() {
		return nil, fmt.Errorf("checksum calculation not possible: %w", errHashUnavailable)
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = f.Close()
	}()

	hasher := ChecksumFunction.New()
	if _, err = io.Copy(hasher, f); err != nil {
		return nil, fmt.Errorf("calculate checksum: %w", err)
	}

	return hasher.Sum(nil), nil
}

func validateName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}

	if !release.IsArtifact(name) {
		return fmt.Errorf("%q is not a package: %w", name, ErrInvalidName)
	}

	return nil
}

// moveFile renames src to dst, copying across filesystems when rename fails.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	if err = os.Chmod(tmpName, 0o644); err != nil {
		return err
	}

	if err = os.Rename(tmpName, dst); err != nil {
		return err
	}

	return os.Remove(src)
}

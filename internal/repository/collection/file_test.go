package collection

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, dir, name, contents string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	return path
}

// TestFileRepository_Put moves the artifact and writes a matching sidecar.
func TestFileRepository_Put(t *testing.T) {
	t.Parallel()

	src := writeArtifact(t, t.TempDir(), "RPMS/x86_64/super-analyzer-0.4.1-1.el7.x86_64.rpm", "rpm-bytes")
	repo := NewFileRepository(filepath.Join(t.TempDir(), "releases"))

	entry, err := repo.Put(context.Background(), src, "super-analyzer-0.4.1-1.el7.x86_64.rpm")
	require.NoError(t, err)

	want := sha512.Sum512([]byte("rpm-bytes"))
	require.Equal(t, hex.EncodeToString(want[:]), entry.Checksum)
	require.Equal(t, int64(len("rpm-bytes")), entry.Size)

	_, err = os.Stat(src)
	require.ErrorIs(t, err, os.ErrNotExist)

	sidecar, err := os.ReadFile(entry.Path + ".sha512")
	require.NoError(t, err)
	require.Equal(t, entry.Checksum+"  super-analyzer-0.4.1-1.el7.x86_64.rpm\n", string(sidecar))

	require.NoError(t, repo.Verify(context.Background(), entry.Name))
}

// TestFileRepository_PutOverwrites replaces an artifact of the same name.
func TestFileRepository_PutOverwrites(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "releases"))
	name := "super-analyzer_0.4.1_debian_amd64.deb"

	_, err := repo.Put(context.Background(), writeArtifact(t, work, "a.deb", "first"), name)
	require.NoError(t, err)

	entry, err := repo.Put(context.Background(), writeArtifact(t, work, "b.deb", "second"), name)
	require.NoError(t, err)

	contents, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	require.Equal(t, "second", string(contents))
	require.NoError(t, repo.Verify(context.Background(), name))
}

// TestFileRepository_PutErrors covers missing sources and invalid names.
func TestFileRepository_PutErrors(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	repo := NewFileRepository(t.TempDir())

	_, err := repo.Put(context.Background(), filepath.Join(work, "missing.rpm"), "missing.rpm")
	require.ErrorIs(t, err, ErrArtifactNotFound)

	src := writeArtifact(t, work, "x.rpm", "x")

	for _, name := range []string{"", "../x.rpm", "sub/x.rpm", "x.txt"} {
		_, err = repo.Put(context.Background(), src, name)
		require.ErrorIs(t, err, ErrInvalidName, name)
	}
}

// TestFileRepository_ListAndVerify lists packages only and detects tampering.
func TestFileRepository_ListAndVerify(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "releases"))

	entries, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)

	for _, name := range []string{"b_1_ubuntu_amd64.deb", "a-1-1.fc39.x86_64.rpm"} {
		_, err = repo.Put(context.Background(), writeArtifact(t, work, name, name), name)
		require.NoError(t, err)
	}

	writeArtifact(t, repo.Dir(), "notes.txt", "ignored")

	entries, err = repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a-1-1.fc39.x86_64.rpm", entries[0].Name)
	require.Equal(t, "b_1_ubuntu_amd64.deb", entries[1].Name)
	require.NotEmpty(t, entries[0].Checksum)

	require.NoError(t, os.WriteFile(entries[1].Path, []byte("tampered"), 0o644))
	require.ErrorIs(t, repo.Verify(context.Background(), entries[1].Name), ErrChecksumMismatch)
	require.ErrorIs(t, repo.Verify(context.Background(), "absent.deb"), ErrArtifactNotFound)
}

// TestFileRepository_ConcurrentPut collects distinct artifacts in parallel.
func TestFileRepository_ConcurrentPut(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "releases"))

	var wg sync.WaitGroup

	for i := range 8 {
		name := fmt.Sprintf("pkg_%d_debian_amd64.deb", i)
		src := writeArtifact(t, work, name, name)

		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.Put(context.Background(), src, name)
			require.NoError(t, err)
		}()
	}

	wg.Wait()

	entries, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 8)

	for _, entry := range entries {
		require.NoError(t, repo.Verify(context.Background(), entry.Name))
	}
}

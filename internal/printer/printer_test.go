package printer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/super-release/internal/repository/collection"
)

func TestPrinter(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer

	p := New(&buf)
	p.Success("collected %d artifacts", 4)
	p.Warning("no tag set")
	p.Failure("centos failed")
	p.Step("building %s", "debian")
	p.Info("plain %s", "line")

	require.Equal(t, strings.Join([]string{
		"✓ collected 4 artifacts",
		"! no tag set",
		"✗ centos failed",
		"→ building debian",
		"plain line",
		"",
	}, "\n"), buf.String())
}

func TestPrinter_Table(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer

	New(&buf).Table([]string{"NAME", "SIZE"}, [][]string{
		{"super-analyzer_0.4.1_debian_amd64.deb", "12"},
		{"a.rpm", "3"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "NAME                                   SIZE", lines[0])
	require.Equal(t, "a.rpm                                  3", lines[2])
}

func TestPrinter_Collection(t *testing.T) {
	color.NoColor = true

	dir := t.TempDir()
	repo := collection.NewFileRepository(dir)

	var buf bytes.Buffer

	broken, err := New(&buf).Collection(context.Background(), repo)
	require.NoError(t, err)
	require.Zero(t, broken)
	require.Contains(t, buf.String(), "is empty")

	src := filepath.Join(t.TempDir(), "pkg.rpm")
	require.NoError(t, os.WriteFile(src, []byte("rpm"), 0o644))

	_, err = repo.Put(context.Background(), src, "super-analyzer-0.4.1-1.el7.x86_64.rpm")
	require.NoError(t, err)

	buf.Reset()

	broken, err = New(&buf).Collection(context.Background(), repo)
	require.NoError(t, err)
	require.Zero(t, broken)
	require.Contains(t, buf.String(), "super-analyzer-0.4.1-1.el7.x86_64.rpm")
	require.Contains(t, buf.String(), "yes")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "super-analyzer-0.4.1-1.el7.x86_64.rpm"), []byte("x"), 0o644))

	buf.Reset()

	broken, err = New(&buf).Collection(context.Background(), repo)
	require.NoError(t, err)
	require.Equal(t, 1, broken)
	require.Contains(t, buf.String(), "checksum mismatch")
}

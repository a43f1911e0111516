package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"

	"github.com/oshokin/super-release/internal/config"
	"github.com/oshokin/super-release/internal/logger"
)

// MarkerFilename is created in the rpmbuild top dir while a build uses it.
const MarkerFilename = ".super-builder.pid"

// errTopDirBusy is returned when a live process holds the top-dir marker.
var errTopDirBusy = errors.New("rpm top dir is used by another build")

// acquireMarker claims topDir for this process. The returned func releases it.
// A marker whose process no longer exists is considered stale and reclaimed.
func acquireMarker(ctx context.Context, topDir string) (func(), error) {
	if err := os.MkdirAll(topDir, 0o755); err != nil {
		return nil, fmt.Errorf("create top dir: %w", err)
	}

	path := filepath.Join(topDir, MarkerFilename)

	for range 2 {
		err := writeMarker(path)
		if err == nil {
			return func() { _ = os.Remove(path) }, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create marker: %w", err)
		}

		if markerIsLive(ctx, path) {
			return nil, fmt.Errorf("%s: %w", topDir, errTopDirBusy)
		}

		logger.InfoKV(ctx, "Reclaiming stale top dir marker", "path", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale marker: %w", err)
		}
	}

	return nil, fmt.Errorf("%s: %w", topDir, errTopDirBusy)
}

func writeMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	if _, err = f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// markerIsLive reports whether the PID recorded in the marker still runs.
// Unreadable markers are treated as live so nothing is reclaimed by mistake.
func markerIsLive(ctx context.Context, path string) bool {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return !errors.Is(err, os.ErrNotExist)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		logger.WarnKV(ctx, "Top dir marker has no valid PID", "path", path)
		return false
	}

	if pid == os.Getpid() {
		return true
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		logger.WarnKV(ctx, "Unable to inspect marker owner", "pid", pid, "error", err)
		return true
	}

	if process == nil {
		return false
	}

	logger.InfoKV(ctx, "Top dir is in use", "pid", pid, "executable", process.Executable())

	return true
}

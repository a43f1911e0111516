package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/super-release/internal/logger"
	"github.com/oshokin/super-release/internal/version"
)

// ProbeFunc runs a command and returns its standard output.
type ProbeFunc func(ctx context.Context, name string, args ...string) (string, error)

// probeTimeout bounds version probes so a hung binary cannot stall CI.
const probeTimeout = 10 * time.Second

var errBadHTTPStatus = errors.New("unexpected HTTP status")

// execProbe runs the command with os/exec.
func execProbe(ctx context.Context, name string, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	//nolint:gosec // Probing build tools is intended.
	output, err := exec.CommandContext(cmdCtx, name, args...).Output()
	if err != nil {
		return "", err
	}

	return string(output), nil
}

// download fetches rawURL into dst, writing through a temporary file.
func (d *dispatcher) download(ctx context.Context, rawURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", rawURL, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s, %s: %w", rawURL, response.Status, errBadHTTPStatus)
	}

	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = io.Copy(tmp, response.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download %s: %w", rawURL, err)
	}

	if err = tmp.Close(); err != nil {
		return err
	}

	if err = os.Rename(tmpName, dst); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Downloaded file", "url", rawURL, "path", dst)

	return nil
}

// parseKcovVersion extracts the version from "kcov v42" style output.
func parseKcovVersion(output string) string {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return ""
	}

	return strings.TrimPrefix(fields[len(fields)-1], "v")
}

package release

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultOSReleasePath is where systemd-era distributions publish their identity.
const DefaultOSReleasePath = "/etc/os-release"

// OSRelease holds the parsed key/value pairs of an os-release file.
type OSRelease map[string]string

// ID returns the distribution identifier (e.g. "centos").
func (o OSRelease) ID() string {
	return o["ID"]
}

// VersionID returns the distribution version (e.g. "7", "39").
func (o OSRelease) VersionID() string {
	return o["VERSION_ID"]
}

// ReadOSRelease parses the os-release file at path.
func ReadOSRelease(path string) (OSRelease, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open os-release: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	return ParseOSRelease(f)
}

// ParseOSRelease parses KEY=value lines, unquoting quoted values and skipping comments.
func ParseOSRelease(r io.Reader) (OSRelease, error) {
	result := make(OSRelease)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		value = strings.TrimSpace(value)
		if unquoted, err := strconv.Unquote(value); err == nil {
			value = unquoted
		} else if len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'' {
			value = value[1 : len(value)-1]
		}

		result[strings.TrimSpace(key)] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read os-release: %w", err)
	}

	return result, nil
}

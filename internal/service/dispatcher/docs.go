package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/super-release/internal/domain/release"
	"github.com/oshokin/super-release/internal/service/common"
)

// docDir is where cargo doc writes, relative to the build directory.
const docDir = "target/doc"

var (
	errMissingDocsToken = errors.New("documentation token is not set")
	errMissingRepoSlug  = errors.New("repository slug is not set")
)

// uploadDocumentation builds the API docs and pushes them to gh-pages.
func (d *dispatcher) uploadDocumentation(ctx context.Context) error {
	if d.env.DocsToken == "" {
		return release.Fail(release.KindConfiguration, ActionUploadDocumentation, errMissingDocsToken)
	}

	if d.env.RepoSlug == "" {
		return release.Fail(release.KindConfiguration, ActionUploadDocumentation, errMissingRepoSlug)
	}

	if err := d.command(ctx, cargo("doc", "--verbose", "--no-deps")); err != nil {
		return release.Fail(release.KindBuild, "cargo doc", err)
	}

	docs := d.buildPath(docDir)
	if err := writeRedirect(docs, d.cfg.Docs.Crate); err != nil {
		return release.Fail(release.KindBuild, "docs redirect", err)
	}

	ghpImport := d.buildPath("target/ghp-import")
	if _, err := os.Stat(ghpImport); errors.Is(err, os.ErrNotExist) {
		clone := common.Command{Name: "git", Args: []string{"clone", "--depth", "1", d.cfg.Docs.GhpImportRepo, ghpImport}}
		if err = d.command(ctx, clone); err != nil {
			return release.Fail(release.KindDependency, "clone ghp-import", err)
		}
	}

	remote := fmt.Sprintf("https://%s@github.com/%s.git", d.env.DocsToken, d.env.RepoSlug)
	publish := common.Command{
		Name:    filepath.Join(ghpImport, "ghp_import.py"),
		Args:    []string{"-n", "-p", "-f", "-m", "Documentation upload", "-r", remote, docs},
		Secrets: []string{d.env.DocsToken},
	}

	return release.Fail(release.KindPublish, "publish docs", d.command(ctx, publish))
}

// writeRedirect makes the docs root open the crate's page.
func writeRedirect(docs, crate string) error {
	if err := os.MkdirAll(docs, 0o755); err != nil {
		return err
	}

	page := fmt.Sprintf("<meta http-equiv=refresh content=0;url=%s/index.html>\n", crate)

	//nolint:gosec // Published HTML must be world-readable.
	return os.WriteFile(filepath.Join(docs, "index.html"), []byte(page), 0o644)
}

package printer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/oshokin/super-release/internal/repository/collection"
)

// shortChecksum is how much of the SHA-512 is shown.
const shortChecksum = 16

// Collection lists the release collection, verifying every artifact against
// its sidecar. It returns the number of artifacts that failed verification.
func (p *Printer) Collection(ctx context.Context, repo *collection.FileRepository) (int, error) {
	entries, err := repo.List(ctx)
	if err != nil {
		return 0, err
	}

	if len(entries) == 0 {
		p.Warning("Release collection %s is empty", repo.Dir())
		return 0, nil
	}

	var (
		rows   = make([][]string, 0, len(entries))
		broken int
	)

	for _, e := range entries {
		checksum := e.Checksum
		if len(checksum) > shortChecksum {
			checksum = checksum[:shortChecksum]
		}

		verified := "yes"
		if err = repo.Verify(ctx, e.Name); err != nil {
			verified = fmt.Sprintf("no (%v)", err)
			broken++
		}

		rows = append(rows, []string{e.Name, strconv.FormatInt(e.Size, 10), checksum, verified})
	}

	p.Table([]string{"ARTIFACT", "SIZE", "SHA512", "VERIFIED"}, rows)

	return broken, nil
}

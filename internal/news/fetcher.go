// Package news fans out to pluggable fetchers and funnels their output
// through deduplicated knowledge-base inserts.
package news

import (
	"context"

	"github.com/kobyzev-yuri/lse/internal/db"
)

// Fetcher pulls entries from one news source. Implementations must be safe
// to call repeatedly; deduplication downstream makes overlapping windows and
// retries harmless.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]db.Event, error)
}

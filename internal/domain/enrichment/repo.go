package enrichment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id is unknown to the repository.
var ErrRunNotFound = errors.New("enrichment run not found")

// RunRepository stores completed runs. It is a record of past batches and is
// never consulted while resolving codes.
type RunRepository interface {
	Create(ctx context.Context, run *Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	// List returns summaries newest first together with the total count.
	List(ctx context.Context, limit, offset int) ([]*RunSummary, int, error)
}

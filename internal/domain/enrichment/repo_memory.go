package enrichment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultRunHistoryLimit is the capacity of the in-memory run store.
const DefaultRunHistoryLimit = 100

// MemoryRunRepo keeps the most recent runs in memory. Stored and returned runs
// are copies, so callers cannot mutate the store through them.
type MemoryRunRepo struct {
	mu    sync.RWMutex
	limit int
	runs  []*Run // oldest first
	byID  map[uuid.UUID]*Run
}

// NewMemoryRunRepo creates a store that evicts the oldest run once limit runs
// are held. A non-positive limit uses DefaultRunHistoryLimit.
func NewMemoryRunRepo(limit int) *MemoryRunRepo {
	if limit <= 0 {
		limit = DefaultRunHistoryLimit
	}
	return &MemoryRunRepo{limit: limit, byID: make(map[uuid.UUID]*Run)}
}

func (r *MemoryRunRepo) Create(_ context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	cp := copyRun(run)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byID[cp.ID]; ok {
		for i, existing := range r.runs {
			if existing == old {
				r.runs = append(r.runs[:i], r.runs[i+1:]...)
				break
			}
		}
	}
	r.runs = append(r.runs, cp)
	r.byID[cp.ID] = cp
	for len(r.runs) > r.limit {
		delete(r.byID, r.runs[0].ID)
		r.runs[0] = nil
		r.runs = r.runs[1:]
	}
	return nil
}

func (r *MemoryRunRepo) GetByID(_ context.Context, id uuid.UUID) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.byID[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return copyRun(run), nil
}

func (r *MemoryRunRepo) List(_ context.Context, limit, offset int) ([]*RunSummary, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := len(r.runs)
	if offset < 0 {
		offset = 0
	}
	out := make([]*RunSummary, 0)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.runs[i].Summary())
	}
	return out, total, nil
}

func copyRun(run *Run) *Run {
	cp := *run
	cp.Report = make([]ReportRecord, len(run.Report))
	for i, rec := range run.Report {
		cp.Report[i] = ReportRecord{
			PatientID:          rec.PatientID,
			Diagnoses:          append([]DescribedDiagnosis{}, rec.Diagnoses...),
			PriorityDiagnoses:  append([]string{}, rec.PriorityDiagnoses...),
			MalformedDiagnoses: append([]DiagnosisCode{}, rec.MalformedDiagnoses...),
		}
	}
	return &cp
}

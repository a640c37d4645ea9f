package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service runs enrichment batches and keeps their history.
type Service struct {
	resolvers Resolvers
	runs      RunRepository
	def       Strategy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a new enrichment service. def is used when a caller does
// not name a strategy and must be present in resolvers.
func NewService(resolvers Resolvers, runs RunRepository, def Strategy, logger zerolog.Logger) (*Service, error) {
	if _, ok := resolvers[def]; !ok {
		return nil, fmt.Errorf("default %w %q", ErrUnknownStrategy, def)
	}
	return &Service{resolvers: resolvers, runs: runs, def: def, logger: logger, now: time.Now}, nil
}

// DefaultStrategy returns the strategy used when none is requested.
func (s *Service) DefaultStrategy() Strategy { return s.def }

// Run enriches records with the named strategy (empty means the default) and
// records the run. A failure to store the run is logged but does not fail the
// batch.
func (s *Service) Run(ctx context.Context, strategy string, records []PatientRecord) (*Run, error) {
	st, err := ParseStrategy(strategy, s.def)
	if err != nil {
		return nil, err
	}
	resolver, ok := s.resolvers[st]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, st)
	}

	start := s.now()
	report, tables, err := enrich(ctx, resolver, records)
	if err != nil {
		return nil, err
	}
	elapsed := s.now().Sub(start)

	run := &Run{
		ID:        uuid.New(),
		Strategy:  st,
		Stats:     computeStats(records, tables, elapsed),
		Report:    report,
		CreatedAt: start.UTC(),
	}

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Str("strategy", string(st)).
		Int("patients", run.Stats.Patients).
		Int("unique_codes", run.Stats.UniqueCodes).
		Int("lookups", run.Stats.Lookups).
		Int("malformed", run.Stats.Malformed).
		Int64("duration_ms", run.Stats.DurationMS).
		Msg("enrichment run complete")

	if s.runs != nil {
		if err := s.runs.Create(ctx, run); err != nil {
			s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to store enrichment run")
		}
	}
	return run, nil
}

// GetRun returns a stored run.
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	if s.runs == nil {
		return nil, ErrRunNotFound
	}
	return s.runs.GetByID(ctx, id)
}

// ListRuns returns stored run summaries, newest first.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]*RunSummary, int, error) {
	if s.runs == nil {
		return []*RunSummary{}, 0, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.runs.List(ctx, limit, offset)
}

func computeStats(records []PatientRecord, t *ResolutionTables, elapsed time.Duration) RunStats {
	return RunStats{
		Patients:    len(records),
		UniqueCodes: len(t.Outcomes),
		Lookups:     t.Lookups,
		Described:   len(t.Descriptions),
		Malformed:   len(t.Malformed),
		Priority:    len(t.Priority),
		DurationMS:  elapsed.Milliseconds(),
	}
}

package enrichment

import (
	"context"
	"fmt"
)

// Enrich runs the whole pipeline: extract the distinct codes, resolve them,
// transform each patient and sort the result. Per-code lookup failures are
// reported as malformed codes; an error is returned only when ctx is done or
// the resolver is configured to fail fast.
func Enrich(ctx context.Context, r Resolver, records []PatientRecord) ([]ReportRecord, error) {
	report, _, err := enrich(ctx, r, records)
	return report, err
}

func enrich(ctx context.Context, r Resolver, records []PatientRecord) ([]ReportRecord, *ResolutionTables, error) {
	tables, err := r.Resolve(ctx, ExtractCodes(records))
	if err != nil {
		return nil, nil, fmt.Errorf("resolve diagnosis codes: %w", err)
	}
	transformed := make([]ReportRecord, 0, len(records))
	for _, p := range records {
		transformed = append(transformed, Transform(p, tables))
	}
	return Assemble(transformed), tables, nil
}

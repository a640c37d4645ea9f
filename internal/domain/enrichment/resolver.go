package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/dxenrich/internal/platform/icd10"
)

// DefaultWorkers bounds concurrent lookups in the fan-out strategy.
const DefaultWorkers = 16

// Lookuper resolves a single string code. *icd10.Client implements it.
type Lookuper interface {
	Lookup(ctx context.Context, code string) (*icd10.Match, error)
}

// Resolver builds the resolution tables for a set of codes.
type Resolver interface {
	Resolve(ctx context.Context, codes []DiagnosisCode) (*ResolutionTables, error)
}

// Resolvers maps each strategy to its resolver.
type Resolvers map[Strategy]Resolver

// NewResolvers wires the three strategies. fresh should open a new connection
// per lookup; pooled should keep connections alive and be safe for
// concurrent use.
func NewResolvers(fresh, pooled Lookuper, opts ...ResolverOption) Resolvers {
	return Resolvers{
		StrategySequential: NewSequentialResolver(fresh, opts...),
		StrategyReused:     NewSequentialResolver(pooled, opts...),
		StrategyConcurrent: NewConcurrentResolver(pooled, opts...),
	}
}

// ResolverOption configures a resolver.
type ResolverOption func(*resolverConfig)

type resolverConfig struct {
	keywords PriorityKeywords
	workers  int
	failFast bool
	logger   zerolog.Logger
}

func newResolverConfig(opts []ResolverOption) resolverConfig {
	cfg := resolverConfig{
		keywords: DefaultPriorityKeywords,
		workers:  DefaultWorkers,
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = DefaultWorkers
	}
	return cfg
}

// WithKeywords replaces the priority keywords.
func WithKeywords(k PriorityKeywords) ResolverOption {
	return func(c *resolverConfig) { c.keywords = k }
}

// WithWorkers bounds the number of in-flight lookups for the concurrent strategy.
func WithWorkers(n int) ResolverOption {
	return func(c *resolverConfig) { c.workers = n }
}

// WithFailFast makes the first transport failure abort the whole batch.
// By default such codes are classified malformed and the batch continues.
func WithFailFast(on bool) ResolverOption {
	return func(c *resolverConfig) { c.failFast = on }
}

// WithResolverLogger sets the logger used to report per-code failures.
func WithResolverLogger(l zerolog.Logger) ResolverOption {
	return func(c *resolverConfig) { c.logger = l }
}

// classify maps a lookup result onto the outcome taxonomy.
func classify(code DiagnosisCode, m *icd10.Match, err error) Outcome {
	o := Outcome{Code: code, Err: err}
	switch {
	case err == nil && m == nil:
		o.Kind = LookupMiss
	case err == nil:
		o.Kind = Resolved
		o.Description = m.Description
	case errors.Is(err, icd10.ErrMalformedResponse):
		o.Kind = ShapeError
	default:
		o.Kind = TransportFailure
	}
	return o
}

func (c *resolverConfig) record(t *ResolutionTables, o Outcome) {
	switch o.Kind {
	case ShapeError, TransportFailure:
		c.logger.Warn().
			Err(o.Err).
			Str("code", o.Code.Text()).
			Str("outcome", o.Kind.String()).
			Msg("diagnosis code classified malformed")
	}
	t.add(o, c.keywords)
}

// SequentialResolver issues one lookup at a time and waits for each.
type SequentialResolver struct {
	lookup Lookuper
	cfg    resolverConfig
}

// NewSequentialResolver creates a resolver that looks codes up in order.
func NewSequentialResolver(l Lookuper, opts ...ResolverOption) *SequentialResolver {
	return &SequentialResolver{lookup: l, cfg: newResolverConfig(opts)}
}

func (r *SequentialResolver) Resolve(ctx context.Context, codes []DiagnosisCode) (*ResolutionTables, error) {
	codes = uniqueCodes(codes)
	t := newTables(len(codes))
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !code.IsString() {
			r.cfg.record(t, Outcome{Code: code, Kind: TypeMismatch})
			continue
		}
		if t.known(code) {
			continue
		}

		m, err := r.lookup.Lookup(ctx, code.Text())
		o := classify(code, m, err)
		if o.Kind == TransportFailure {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if r.cfg.failFast {
				return nil, fmt.Errorf("resolve %q: %w", code.Text(), err)
			}
		}
		r.cfg.record(t, o)
	}
	return t, nil
}

// ConcurrentResolver looks every code up in its own goroutine over a shared
// client, waits for all of them, then folds the outcomes on the calling
// goroutine. Each goroutine writes only its own slot of the outcome slice.
type ConcurrentResolver struct {
	lookup Lookuper
	cfg    resolverConfig
}

// NewConcurrentResolver creates a fan-out resolver. l must be safe for
// concurrent use.
func NewConcurrentResolver(l Lookuper, opts ...ResolverOption) *ConcurrentResolver {
	return &ConcurrentResolver{lookup: l, cfg: newResolverConfig(opts)}
}

func (r *ConcurrentResolver) Resolve(ctx context.Context, codes []DiagnosisCode) (*ResolutionTables, error) {
	codes = uniqueCodes(codes)
	outcomes := make([]Outcome, len(codes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.workers)
	for i, code := range codes {
		if !code.IsString() {
			outcomes[i] = Outcome{Code: code, Kind: TypeMismatch}
			continue
		}
		g.Go(func() error {
			m, err := r.lookup.Lookup(gctx, code.Text())
			outcomes[i] = classify(code, m, err)
			if r.cfg.failFast && outcomes[i].Kind == TransportFailure {
				return fmt.Errorf("resolve %q: %w", code.Text(), err)
			}
			return nil
		})
	}
	waitErr := g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if waitErr != nil {
		return nil, waitErr
	}

	t := newTables(len(codes))
	for _, o := range outcomes {
		r.cfg.record(t, o)
	}
	return t, nil
}

package aggregate

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/careview-api/internal/store"
	"github.com/jwalitptl/careview-api/pkg/metrics"
)

// OwnerFilter is an equality filter whose field name varies across
// collections. The planner tries Candidates in order; on an
// unknown-field rejection it retries once with the next candidate.
type OwnerFilter struct {
	Candidates []string
	Value      string
}

// QuerySpec describes one logical read ("pending lab requests for doctor
// X", "appointments for doctor X today").
type QuerySpec struct {
	Collection string
	Owner      *OwnerFilter
	Filters    []store.Filter
	Range      *store.RangeFilter
	Sort       *store.Sort
}

// QueryResult carries the records plus how they were obtained. Degraded
// results are still correct (range/sort applied in memory) but came from
// a broader read than intended; an empty degraded result with a Failure
// reason means the query was abandoned.
type QueryResult struct {
	Docs     []store.Document
	Degraded bool
	Failure  string
}

// Planner issues collection queries against the store, preferring the
// fully-specified indexed path and degrading to equality-only plus
// in-memory filtering when the store rejects the query for a missing
// composite index. No store error escapes this layer.
type Planner struct {
	store   store.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewPlanner(st store.Store, logger zerolog.Logger, m *metrics.Metrics) *Planner {
	return &Planner{store: st, logger: logger, metrics: m}
}

func (p *Planner) Query(ctx context.Context, spec QuerySpec) QueryResult {
	candidates := [][]store.Filter{spec.Filters}
	if spec.Owner != nil {
		candidates = nil
		// One retry with the next alias, per the field-drift contract.
		limit := len(spec.Owner.Candidates)
		if limit > 2 {
			limit = 2
		}
		for _, field := range spec.Owner.Candidates[:limit] {
			filters := append([]store.Filter{{Field: field, Value: spec.Owner.Value}}, spec.Filters...)
			candidates = append(candidates, filters)
		}
	}

	var lastFailure string
	for attempt, filters := range candidates {
		res, err := p.attempt(ctx, spec, filters)
		if err == nil {
			if p.metrics != nil {
				p.metrics.PlannerQueries.WithLabelValues(spec.Collection, "ok").Inc()
				if res.Degraded {
					p.metrics.DegradedQueries.WithLabelValues(spec.Collection).Inc()
				}
			}
			return res
		}
		lastFailure = err.Error()
		if errors.Is(err, store.ErrUnknownField) && attempt+1 < len(candidates) {
			if p.metrics != nil {
				p.metrics.PlannerFallbacks.WithLabelValues(spec.Collection, "unknown_field").Inc()
			}
			p.logger.Debug().
				Str("collection", spec.Collection).
				Msg("owner field rejected, retrying with next alias")
			continue
		}
		break
	}

	if p.metrics != nil {
		p.metrics.PlannerQueries.WithLabelValues(spec.Collection, "failed").Inc()
	}
	p.logger.Warn().
		Str("collection", spec.Collection).
		Str("reason", lastFailure).
		Msg("query abandoned after all attempts")
	return QueryResult{Degraded: true, Failure: lastFailure}
}

// attempt runs the fully-specified query, falling back to equality-only
// with in-memory range/sort on an index-missing rejection.
func (p *Planner) attempt(ctx context.Context, spec QuerySpec, filters []store.Filter) (QueryResult, error) {
	docs, err := p.store.Find(ctx, store.Query{
		Collection: spec.Collection,
		Filters:    filters,
		Range:      spec.Range,
		Sort:       spec.Sort,
	})
	if err == nil {
		return QueryResult{Docs: docs}, nil
	}
	if !errors.Is(err, store.ErrIndexRequired) {
		return QueryResult{}, err
	}

	if p.metrics != nil {
		p.metrics.PlannerFallbacks.WithLabelValues(spec.Collection, "index_missing").Inc()
	}
	p.logger.Debug().
		Str("collection", spec.Collection).
		Msg("composite index missing, falling back to equality-only query")

	docs, err = p.store.Find(ctx, store.Query{Collection: spec.Collection, Filters: filters})
	if err != nil {
		return QueryResult{}, err
	}
	if spec.Range != nil {
		docs = filterRange(docs, *spec.Range)
	}
	if spec.Sort != nil {
		sortByField(docs, spec.Sort.Field)
	}
	return QueryResult{Docs: docs, Degraded: true}, nil
}

// filterRange keeps documents whose timestamp field resolves inside
// [From, To). Records with an unparseable timestamp cannot be placed in
// the window and are excluded.
func filterRange(docs []store.Document, r store.RangeFilter) []store.Document {
	out := docs[:0:0]
	for _, doc := range docs {
		ts, ok := Instant(doc[r.Field])
		if !ok {
			continue
		}
		if !ts.Before(r.From) && ts.Before(r.To) {
			out = append(out, doc)
		}
	}
	return out
}

// sortByField reproduces the store's native ordering: ascending by the
// queried timestamp field, ties broken by document id.
func sortByField(docs []store.Document, field string) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, iok := Instant(docs[i][field])
		tj, jok := Instant(docs[j][field])
		if iok != jok {
			return iok
		}
		if ti.Equal(tj) {
			return docs[i].ID() < docs[j].ID()
		}
		return ti.Before(tj)
	})
}

package aggregate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/careview-api/internal/store"
	"github.com/jwalitptl/careview-api/pkg/metrics"
)

// JoinStep resolves one referenced document and merges selected fields
// into the primary record under a namespaced key. A missing foreign key,
// a missing target, and a fetch error are treated identically: the step
// fills DefaultOnMiss and enrichment continues.
type JoinStep struct {
	// ForeignKey candidates on the primary record, tried in order. A
	// dotted name ("request.doctorId") reads from a previously merged
	// namespace, which is how the bounded two-hop chain is expressed.
	ForeignKey       []string
	TargetCollection string
	TargetFields     []string
	As               string
	DefaultOnMiss    map[string]any
}

// profileCacheTTL bounds staleness of people-profile join targets, which
// change rarely relative to clinical records.
const (
	profileCacheTTL     = 5 * time.Minute
	profileCacheCleanup = 10 * time.Minute
)

// Joiner enriches primary records with referenced documents from other
// collections. Fetches within one batch are deduplicated and batched
// per target collection by a dataloader; people-profile collections sit
// behind a short-TTL cache shared across builds.
type Joiner struct {
	store   store.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics

	cached  map[string]bool
	profile *gocache.Cache

	mu      sync.Mutex
	loaders map[string]*dataloader.Loader[string, store.Document]
}

// NewJoiner builds a joiner. cachedCollections names the collections
// whose join targets may be served from the TTL cache (typically the
// doctors and nurses profile collections).
func NewJoiner(st store.Store, logger zerolog.Logger, m *metrics.Metrics, cachedCollections ...string) *Joiner {
	cached := make(map[string]bool, len(cachedCollections))
	for _, c := range cachedCollections {
		cached[c] = true
	}
	return &Joiner{
		store:   st,
		logger:  logger,
		metrics: m,
		cached:  cached,
		profile: gocache.New(profileCacheTTL, profileCacheCleanup),
		loaders: make(map[string]*dataloader.Loader[string, store.Document]),
	}
}

// Enrich applies the join plan to one record, returning a merged copy.
// The primary record is never mutated and enrichment never fails: every
// miss is filled from the step's defaults.
func (j *Joiner) Enrich(ctx context.Context, doc store.Document, plan []JoinStep) store.Document {
	out := doc.Clone()
	for _, step := range plan {
		j.applyStep(ctx, out, step)
	}
	return out
}

// EnrichAll enriches a batch concurrently. Joins for separate primary
// records are independent; the dataloader coalesces their overlapping
// target fetches.
func (j *Joiner) EnrichAll(ctx context.Context, docs []store.Document, plan []JoinStep) []store.Document {
	out := make([]store.Document, len(docs))
	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc store.Document) {
			defer wg.Done()
			out[i] = j.Enrich(ctx, doc, plan)
		}(i, doc)
	}
	wg.Wait()
	return out
}

func (j *Joiner) applyStep(ctx context.Context, doc store.Document, step JoinStep) {
	fk, ok := resolvePath(doc, step.ForeignKey)
	if !ok {
		j.miss(doc, step, "missing foreign key")
		return
	}

	target, err := j.fetch(ctx, step.TargetCollection, fk)
	if err != nil {
		j.miss(doc, step, err.Error())
		return
	}
	if j.metrics != nil {
		j.metrics.JoinFetches.WithLabelValues(step.TargetCollection).Inc()
	}

	merged := make(map[string]any, len(step.TargetFields)+1)
	merged["id"] = target.ID()
	for _, field := range step.TargetFields {
		if v, present := target[field]; present {
			merged[field] = v
		} else if def, has := step.DefaultOnMiss[field]; has {
			merged[field] = def
		}
	}
	doc[step.As] = merged
}

func (j *Joiner) miss(doc store.Document, step JoinStep, reason string) {
	if j.metrics != nil {
		j.metrics.JoinMisses.WithLabelValues(step.TargetCollection).Inc()
	}
	j.logger.Debug().
		Str("collection", step.TargetCollection).
		Str("reason", reason).
		Msg("join target unavailable, using defaults")
	defaults := make(map[string]any, len(step.DefaultOnMiss))
	for k, v := range step.DefaultOnMiss {
		defaults[k] = v
	}
	doc[step.As] = defaults
}

func (j *Joiner) fetch(ctx context.Context, collection, id string) (store.Document, error) {
	cacheKey := collection + "/" + id
	if j.cached[collection] {
		if v, found := j.profile.Get(cacheKey); found {
			return v.(store.Document), nil
		}
	}
	doc, err := j.loader(collection).Load(ctx, id)()
	if err != nil {
		return nil, err
	}
	if j.cached[collection] {
		j.profile.Set(cacheKey, doc, gocache.DefaultExpiration)
	}
	return doc, nil
}

func (j *Joiner) loader(collection string) *dataloader.Loader[string, store.Document] {
	j.mu.Lock()
	defer j.mu.Unlock()
	if l, ok := j.loaders[collection]; ok {
		return l
	}
	l := dataloader.NewBatchedLoader(func(ctx context.Context, keys []string) []*dataloader.Result[store.Document] {
		results := make([]*dataloader.Result[store.Document], len(keys))
		for i, key := range keys {
			doc, err := j.store.GetByID(ctx, collection, key)
			if err != nil {
				results[i] = &dataloader.Result[store.Document]{Error: err}
				continue
			}
			results[i] = &dataloader.Result[store.Document]{Data: doc}
		}
		return results
	}, dataloader.WithBatchCapacity[string, store.Document](50),
		// Dedupe within a batch only; a later build must observe
		// documents created or deleted since the previous one.
		dataloader.WithClearCacheOnBatch[string, store.Document]())
	j.loaders[collection] = l
	return l
}

// resolvePath reads the first present non-empty candidate, descending
// into merged namespaces for dotted names.
func resolvePath(doc store.Document, candidates []string) (string, bool) {
	for _, field := range candidates {
		if !strings.Contains(field, ".") {
			if v := doc.String(field); v != "" {
				return v, true
			}
			continue
		}
		parts := strings.Split(field, ".")
		cur := doc
		for i, part := range parts {
			if i == len(parts)-1 {
				if v := cur.String(part); v != "" {
					return v, true
				}
				break
			}
			cur = cur.Map(part)
			if cur == nil {
				break
			}
		}
	}
	return "", false
}

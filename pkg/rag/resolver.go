package rag

import (
	"context"
	"sort"
	"strings"

	"github.com/wfmeta/workflow-agent/pkg/errors"
	"github.com/wfmeta/workflow-agent/pkg/logging"
	"github.com/wfmeta/workflow-agent/pkg/metadata"
	"github.com/wfmeta/workflow-agent/pkg/monitoring"
	"github.com/wfmeta/workflow-agent/pkg/store"
)

// MatchReason explains how a match was found
type MatchReason string

const (
	ReasonExact    MatchReason = "exact"
	ReasonSemantic MatchReason = "semantic"
)

// triggerPhrases are stripped from the front of an utterance before exact
// lookup, longest first
var triggerPhrases = []string{
	"show me the workflow",
	"show me workflow",
	"show the workflow",
	"show workflow",
	"find the workflow",
	"find workflow",
	"get the workflow",
	"get workflow",
	"tell me about workflow",
	"what is workflow",
	"workflow",
	"show me",
	"find",
	"get",
}

// Match is one validated retrieval result with provenance
type Match struct {
	Workflow   *metadata.Workflow `json:"workflow"`
	SetFile    string             `json:"set_file"`
	Confidence float32            `json:"confidence"`
	Reason     MatchReason        `json:"reason"`
	RecordIDs  []string           `json:"record_ids,omitempty"`
}

// Resolution is the outcome of one resolve pass: either validated matches
// with provenance, or an explicit empty result. Unvalidated semantic hits
// never appear here.
type Resolution struct {
	Query   string   `json:"query"`
	Matches []*Match `json:"matches"`
}

// Found reports whether any candidate survived validation
func (r *Resolution) Found() bool {
	return len(r.Matches) > 0
}

// SetFiles returns the distinct set files the matches came from
func (r *Resolution) SetFiles() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range r.Matches {
		if !seen[m.SetFile] {
			seen[m.SetFile] = true
			out = append(out, m.SetFile)
		}
	}
	return out
}

// Options tunes one resolve call
type Options struct {
	SetFile   string // optional set-file qualifier
	ExactOnly bool   // skip the semantic stage entirely
	TopK      int    // 0 means the configured default
}

// ResultCache caches full resolutions. Entries are keyed by every option
// that changes the outcome, so an exact-only or limited resolution never
// collides with a full one for the same query.
type ResultCache interface {
	Get(ctx context.Context, query string, opts Options) (*Resolution, bool)
	Set(ctx context.Context, query string, opts Options, res *Resolution)
}

// Resolver runs the two-tier lookup: exact name match against the
// authoritative store first, semantic search second, and every semantic
// candidate cross-checked against the store before it is accepted. A
// candidate whose backing record does not exist is rejected outright; one
// whose name match looks implausible keeps only half its score. Nothing
// below the confidence threshold survives.
type Resolver struct {
	store     *store.Store
	vector    VectorStore
	cache     ResultCache // nil when the cache is disabled
	topK      int
	threshold float32
	logger    *logging.StructuredLogger
	metrics   *monitoring.Metrics
}

// ResolverConfig holds resolver tuning parameters
type ResolverConfig struct {
	TopK                int
	ConfidenceThreshold float32
}

// NewResolver creates a resolver over the given authoritative store and
// vector store. cache may be nil.
func NewResolver(s *store.Store, vector VectorStore, cache ResultCache, cfg ResolverConfig, logger *logging.StructuredLogger, metrics *monitoring.Metrics) *Resolver {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 10
	}
	return &Resolver{
		store:     s,
		vector:    vector,
		cache:     cache,
		topK:      topK,
		threshold: cfg.ConfidenceThreshold,
		logger:    logger.WithComponent("resolver"),
		metrics:   metrics,
	}
}

// Resolve runs the state machine for one utterance
func (r *Resolver) Resolve(ctx context.Context, utterance string, opts Options) (*Resolution, error) {
	normalized := NormalizeQuery(utterance)
	resolution := &Resolution{Query: normalized}
	r.store.RecordSearch()

	if normalized == "" {
		return resolution, nil
	}

	// Normalize TopK up front so a defaulted call and an explicit one land
	// on the same cache entry.
	if opts.TopK <= 0 {
		opts.TopK = r.topK
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, normalized, opts); ok {
			r.metrics.ObserveCacheHit()
			return cached, nil
		}
		r.metrics.ObserveCacheMiss()
	}

	// Exact stage: a cache hit short-circuits, semantic search is skipped
	if exact := r.exactStage(normalized, opts.SetFile); len(exact) > 0 {
		resolution.Matches = exact
		r.metrics.ObserveResolution("exact")
		r.storeInCache(ctx, normalized, opts, resolution)
		return resolution, nil
	}

	if opts.ExactOnly {
		r.metrics.ObserveResolution("not_found")
		return resolution, nil
	}

	// Semantic stage
	filters := map[string]string{}
	if opts.SetFile != "" {
		filters["setFile"] = opts.SetFile
	}
	hits, err := r.vector.Query(ctx, normalized, opts.TopK, filters)
	if err != nil {
		return nil, err
	}

	// Validation stage: a semantic hit is never trusted standalone
	resolution.Matches = r.validateStage(normalized, hits)

	if resolution.Found() {
		r.metrics.ObserveResolution("semantic")
	} else {
		// Fallback stage: explicit not-found beats an unvalidated guess
		r.metrics.ObserveResolution("not_found")
	}
	r.storeInCache(ctx, normalized, opts, resolution)
	return resolution, nil
}

// ResolveTable returns validated matches for workflows referencing a table.
// The derived store relation is authoritative; the vector store only ever
// adds candidates that pass the same existence check plus a table-membership
// check.
func (r *Resolver) ResolveTable(ctx context.Context, table string) (*Resolution, error) {
	normalized := strings.TrimSpace(strings.ToLower(table))
	resolution := &Resolution{Query: normalized}
	r.store.RecordSearch()

	seen := make(map[string]bool)
	for _, wf := range r.store.WorkflowsForTable(table) {
		if seen[wf.Key()] {
			continue
		}
		seen[wf.Key()] = true
		resolution.Matches = append(resolution.Matches, &Match{
			Workflow:   wf,
			SetFile:    wf.SetFile,
			Confidence: 1.0,
			Reason:     ReasonExact,
		})
	}

	if resolution.Found() {
		r.metrics.ObserveResolution("exact")
		return resolution, nil
	}

	hits, err := r.vector.Query(ctx, table, r.topK, map[string]string{})
	if err != nil {
		// the derived relation already answered with certainty; a vector
		// outage only removes the fuzzy fallback
		r.logger.Warn("Semantic table lookup unavailable", "table", table, "error", err)
		r.metrics.ObserveResolution("not_found")
		return resolution, nil
	}

	for _, hit := range hits {
		wf, ok := r.store.Workflow(hit.WorkflowName, hit.SetFile)
		if !ok {
			r.rejectCandidate(hit, "backing workflow no longer cached")
			continue
		}
		if !wf.ReferencesTable(table) {
			r.rejectCandidate(hit, "table not present in workflow")
			continue
		}
		if hit.Score < r.threshold {
			r.rejectCandidate(hit, "confidence below threshold")
			continue
		}
		if seen[wf.Key()] {
			continue
		}
		seen[wf.Key()] = true
		resolution.Matches = append(resolution.Matches, &Match{
			Workflow:   wf,
			SetFile:    wf.SetFile,
			Confidence: hit.Score,
			Reason:     ReasonSemantic,
			RecordIDs:  []string{hit.RecordID},
		})
	}

	if resolution.Found() {
		r.metrics.ObserveResolution("semantic")
	} else {
		r.metrics.ObserveResolution("not_found")
	}
	return resolution, nil
}

func (r *Resolver) exactStage(normalized, setFile string) []*Match {
	var matches []*Match
	if setFile != "" {
		if wf, ok := r.store.Workflow(normalized, setFile); ok {
			matches = append(matches, exactMatch(wf))
		}
		return matches
	}
	for _, wf := range r.store.ExactSearch(normalized) {
		matches = append(matches, exactMatch(wf))
	}
	return matches
}

func (r *Resolver) validateStage(query string, hits []*Hit) []*Match {
	byWorkflow := make(map[string]*Match)
	for _, hit := range hits {
		wf, ok := r.store.Workflow(hit.WorkflowName, hit.SetFile)
		if !ok {
			r.rejectCandidate(hit, "backing workflow no longer cached")
			continue
		}

		confidence := hit.Score
		if !plausibleMatch(query, wf.Name) {
			confidence *= 0.5
		}
		if confidence < r.threshold {
			r.rejectCandidate(hit, "confidence below threshold")
			continue
		}

		key := wf.Key()
		if existing, ok := byWorkflow[key]; ok {
			existing.RecordIDs = append(existing.RecordIDs, hit.RecordID)
			if confidence > existing.Confidence {
				existing.Confidence = confidence
			}
			continue
		}
		byWorkflow[key] = &Match{
			Workflow:   wf,
			SetFile:    wf.SetFile,
			Confidence: confidence,
			Reason:     ReasonSemantic,
			RecordIDs:  []string{hit.RecordID},
		}
	}

	matches := make([]*Match, 0, len(byWorkflow))
	for _, m := range byWorkflow {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].Workflow.Key() < matches[j].Workflow.Key()
	})
	return matches
}

func (r *Resolver) rejectCandidate(hit *Hit, reason string) {
	rejection := errors.NewErrorBuilder("resolver", "validate").
		ValidationRejectedError(hit.RecordID, reason)
	r.logger.Debug("Rejected semantic candidate",
		"record_id", hit.RecordID,
		"workflow", hit.WorkflowName,
		"set_file", hit.SetFile,
		"reason", rejection.Message,
	)
	r.metrics.ObserveRejection()
}

func (r *Resolver) storeInCache(ctx context.Context, query string, opts Options, res *Resolution) {
	if r.cache == nil {
		return
	}
	r.cache.Set(ctx, query, opts, res)
}

func exactMatch(wf *metadata.Workflow) *Match {
	return &Match{
		Workflow:   wf,
		SetFile:    wf.SetFile,
		Confidence: 1.0,
		Reason:     ReasonExact,
		RecordIDs:  []string{RecordID(wf.SetFile, metadata.ComponentWorkflow, wf.Name, wf.Name)},
	}
}

// NormalizeQuery case-folds an utterance, strips known trigger phrases and
// trailing punctuation, and collapses whitespace
func NormalizeQuery(utterance string) string {
	q := strings.ToLower(strings.TrimSpace(utterance))
	q = strings.Trim(q, "?!.,;:")
	q = strings.Join(strings.Fields(q), " ")

	for changed := true; changed; {
		changed = false
		for _, phrase := range triggerPhrases {
			if strings.HasPrefix(q, phrase+" ") {
				q = strings.TrimSpace(strings.TrimPrefix(q, phrase+" "))
				changed = true
			}
		}
	}
	return q
}

// plausibleMatch guards against a semantically similar but unrelated record
// being returned for a name-like query. Mirrors exact, containment, and
// prefix-stripped comparisons.
func plausibleMatch(query, workflowName string) bool {
	q := strings.ToLower(query)
	w := strings.ToLower(workflowName)

	if q == w {
		return true
	}
	if strings.Contains(w, q) || strings.Contains(q, w) {
		return true
	}

	qClean := stripNamePrefix(q)
	wClean := stripNamePrefix(w)
	if qClean == wClean {
		return true
	}
	if len(qClean) > 3 && strings.Contains(wClean, qClean) {
		return true
	}
	return false
}

func stripNamePrefix(name string) string {
	for _, prefix := range []string{"wf_", "workflow_", "mapping_", "m_"} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}

package rag

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wfmeta/workflow-agent/pkg/logging"
	"github.com/wfmeta/workflow-agent/pkg/metadata"
	"github.com/wfmeta/workflow-agent/pkg/store"
)

// fakeVectorStore is an in-memory VectorStore double. Hits are scripted per
// query; Upsert and DeleteSet track state for ingest assertions.
type fakeVectorStore struct {
	hits       map[string][]*Hit
	records    map[string]*IndexedRecord
	queryCount int
	queryErr   error
	onQuery    func() // runs before scripted hits are returned
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		hits:    make(map[string][]*Hit),
		records: make(map[string]*IndexedRecord),
	}
}

func (f *fakeVectorStore) Upsert(_ context.Context, records []*IndexedRecord) (*BatchResult, error) {
	for _, rec := range records {
		f.records[rec.ID] = rec
	}
	return &BatchResult{Indexed: len(records)}, nil
}

func (f *fakeVectorStore) Query(_ context.Context, text string, topK int, _ map[string]string) ([]*Hit, error) {
	f.queryCount++
	if f.onQuery != nil {
		f.onQuery()
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	hits := f.hits[text]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeVectorStore) DeleteSet(_ context.Context, setFile string) error {
	for id, rec := range f.records {
		if rec.SetFile == setFile {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeVectorStore) Ready(_ context.Context) error { return nil }

// fakeCache is an in-memory ResultCache keyed exactly like the Redis cache
type fakeCache struct {
	entries map[string]*Resolution
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*Resolution)}
}

func (f *fakeCache) cacheKey(query string, opts Options) string {
	return fmt.Sprintf("%s|%s|%t|%d", query, opts.SetFile, opts.ExactOnly, opts.TopK)
}

func (f *fakeCache) Get(_ context.Context, query string, opts Options) (*Resolution, bool) {
	res, ok := f.entries[f.cacheKey(query, opts)]
	return res, ok
}

func (f *fakeCache) Set(_ context.Context, query string, opts Options, res *Resolution) {
	f.entries[f.cacheKey(query, opts)] = res
}

var _ = Describe("Resolver", func() {
	var (
		authoritative *store.Store
		vector        *fakeVectorStore
		resolver      *Resolver
		ctx           context.Context
	)

	newWorkflow := func(name, setFile string, targets ...string) *metadata.Workflow {
		wf := &metadata.Workflow{Name: name, SetFile: setFile, Status: metadata.StatusActive}
		for _, t := range targets {
			wf.TargetTables = append(wf.TargetTables, &metadata.TargetTable{Name: t})
		}
		return wf
	}

	BeforeEach(func() {
		ctx = context.Background()
		authoritative = store.New()
		vector = newFakeVectorStore()
		logger := logging.NewStructuredLogger(logging.Config{Level: logging.LevelError, ServiceName: "test"})
		resolver = NewResolver(authoritative, vector, nil, ResolverConfig{
			TopK:                10,
			ConfidenceThreshold: 0.30,
		}, logger, nil)
	})

	Describe("exact stage", func() {
		BeforeEach(func() {
			authoritative.ReplaceSet("set30", []*metadata.Workflow{
				newWorkflow("wf_customer_load", "set30", "DIM_CUSTOMER"),
			})
		})

		It("short-circuits on an exact name match and skips semantic search", func() {
			res, err := resolver.Resolve(ctx, "Show me workflow wf_customer_load", Options{})

			Expect(err).ToNot(HaveOccurred())
			Expect(res.Found()).To(BeTrue())
			Expect(res.Matches).To(HaveLen(1))
			Expect(res.Matches[0].Workflow.Name).To(Equal("wf_customer_load"))
			Expect(res.Matches[0].SetFile).To(Equal("set30"))
			Expect(res.Matches[0].Confidence).To(BeNumerically("==", 1.0))
			Expect(res.Matches[0].Reason).To(Equal(ReasonExact))
			Expect(vector.queryCount).To(BeZero(), "semantic stage must be skipped")
		})

		It("honors the set-file qualifier", func() {
			authoritative.ReplaceSet("set31", []*metadata.Workflow{
				newWorkflow("wf_customer_load", "set31"),
			})

			res, err := resolver.Resolve(ctx, "wf_customer_load", Options{SetFile: "set31"})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Matches).To(HaveLen(1))
			Expect(res.Matches[0].SetFile).To(Equal("set31"))
		})

		It("returns one match per set for same-named workflows", func() {
			authoritative.ReplaceSet("set31", []*metadata.Workflow{
				newWorkflow("wf_customer_load", "set31"),
			})

			res, err := resolver.Resolve(ctx, "wf_customer_load", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Matches).To(HaveLen(2))
			Expect(res.SetFiles()).To(ConsistOf("set30", "set31"))
		})
	})

	Describe("semantic stage with validation", func() {
		BeforeEach(func() {
			authoritative.ReplaceSet("set30", []*metadata.Workflow{
				newWorkflow("wf_customer_load", "set30", "DIM_CUSTOMER"),
			})
		})

		It("accepts a validated candidate above the threshold", func() {
			vector.hits["customer loading"] = []*Hit{{
				RecordID:     "rec-1",
				Score:        0.85,
				WorkflowName: "wf_customer_load",
				SetFile:      "set30",
			}}

			res, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Matches).To(HaveLen(1))
			Expect(res.Matches[0].Reason).To(Equal(ReasonSemantic))
			Expect(res.Matches[0].RecordIDs).To(ContainElement("rec-1"))
		})

		It("rejects candidates whose backing record is no longer cached", func() {
			vector.hits["customer loading"] = []*Hit{{
				RecordID:     "rec-orphan",
				Score:        0.95,
				WorkflowName: "wf_deleted",
				SetFile:      "set_gone",
			}}

			res, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Found()).To(BeFalse(), "orphaned matches must never be returned")
		})

		It("rejects candidates below the confidence threshold", func() {
			vector.hits["customer loading"] = []*Hit{{
				RecordID:     "rec-low",
				Score:        0.10,
				WorkflowName: "wf_customer_load",
				SetFile:      "set30",
			}}

			res, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Found()).To(BeFalse())
		})

		It("halves the confidence of implausible name matches", func() {
			authoritative.ReplaceSet("set40", []*metadata.Workflow{
				newWorkflow("wf_inventory_sync", "set40"),
			})
			// 0.5 halved lands below the 0.3 threshold
			vector.hits["customer"] = []*Hit{{
				RecordID:     "rec-unrelated",
				Score:        0.5,
				WorkflowName: "wf_inventory_sync",
				SetFile:      "set40",
			}}

			res, err := resolver.Resolve(ctx, "customer", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Found()).To(BeFalse())
		})

		It("keeps a strong but implausibly named candidate at half confidence", func() {
			authoritative.ReplaceSet("set40", []*metadata.Workflow{
				newWorkflow("wf_inventory_sync", "set40"),
			})
			vector.hits["customer"] = []*Hit{{
				RecordID:     "rec-strong",
				Score:        0.9,
				WorkflowName: "wf_inventory_sync",
				SetFile:      "set40",
			}}

			res, err := resolver.Resolve(ctx, "customer", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Matches).To(HaveLen(1))
			Expect(res.Matches[0].Confidence).To(BeNumerically("~", 0.45, 0.001))
		})

		It("merges multiple hits of one workflow into a single match", func() {
			vector.hits["customer loading"] = []*Hit{
				{RecordID: "rec-1", Score: 0.8, WorkflowName: "wf_customer_load", SetFile: "set30"},
				{RecordID: "rec-2", Score: 0.6, WorkflowName: "wf_customer_load", SetFile: "set30"},
			}

			res, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Matches).To(HaveLen(1))
			Expect(res.Matches[0].RecordIDs).To(ConsistOf("rec-1", "rec-2"))
			Expect(res.Matches[0].Confidence).To(BeNumerically("~", 0.8, 0.001))
		})

		It("surfaces a dependency error when the vector store is down and no exact match exists", func() {
			vector.queryErr = fmt.Errorf("connection refused")

			_, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("fallback stage", func() {
		It("returns an explicit empty resolution instead of a guess", func() {
			res, err := resolver.Resolve(ctx, "wf_does_not_exist", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Found()).To(BeFalse())
			Expect(res.Matches).To(BeEmpty())
		})
	})

	Describe("ResolveTable", func() {
		BeforeEach(func() {
			authoritative.ReplaceSet("set30", []*metadata.Workflow{
				newWorkflow("wf_customer_load", "set30", "DIM_CUSTOMER"),
			})
			authoritative.ReplaceSet("set31", []*metadata.Workflow{
				newWorkflow("wf_customer_refresh", "set31", "DIM_CUSTOMER"),
			})
		})

		It("returns every owning workflow without duplicates", func() {
			res, err := resolver.ResolveTable(ctx, "DIM_CUSTOMER")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Matches).To(HaveLen(2))

			names := []string{res.Matches[0].Workflow.Name, res.Matches[1].Workflow.Name}
			Expect(names).To(ConsistOf("wf_customer_load", "wf_customer_refresh"))
		})

		It("rejects below-threshold semantic hits for workflows indexed mid-query", func() {
			// the derived relation reported nothing, then an ingest landed
			// before the semantic stage answered
			vector.onQuery = func() {
				authoritative.ReplaceSet("set50", []*metadata.Workflow{
					newWorkflow("wf_archive_load", "set50", "DIM_ARCHIVE"),
				})
			}
			vector.hits["DIM_ARCHIVE"] = []*Hit{{
				RecordID:     "rec-low",
				Score:        0.10,
				WorkflowName: "wf_archive_load",
				SetFile:      "set50",
			}}

			res, err := resolver.ResolveTable(ctx, "DIM_ARCHIVE")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Found()).To(BeFalse())
		})

		It("rejects semantic table hits when the table is absent from the workflow", func() {
			vector.hits["UNKNOWN_TABLE"] = []*Hit{{
				RecordID:     "rec-x",
				Score:        0.9,
				WorkflowName: "wf_customer_load",
				SetFile:      "set30",
			}}

			res, err := resolver.ResolveTable(ctx, "UNKNOWN_TABLE")
			Expect(err).ToNot(HaveOccurred())
			Expect(res.Found()).To(BeFalse())
		})
	})

	Describe("result cache", func() {
		var cache *fakeCache

		BeforeEach(func() {
			cache = newFakeCache()
			logger := logging.NewStructuredLogger(logging.Config{Level: logging.LevelError, ServiceName: "test"})
			resolver = NewResolver(authoritative, vector, cache, ResolverConfig{
				TopK:                10,
				ConfidenceThreshold: 0.30,
			}, logger, nil)

			authoritative.ReplaceSet("set30", []*metadata.Workflow{
				newWorkflow("wf_customer_load", "set30", "DIM_CUSTOMER"),
			})
			vector.hits["customer loading"] = []*Hit{{
				RecordID:     "rec-1",
				Score:        0.85,
				WorkflowName: "wf_customer_load",
				SetFile:      "set30",
			}}
		})

		It("serves a repeated query from the cache", func() {
			first, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(first.Found()).To(BeTrue())
			Expect(vector.queryCount).To(Equal(1))

			second, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(second.Matches).To(HaveLen(1))
			Expect(vector.queryCount).To(Equal(1), "cached result must skip the vector store")
		})

		It("never serves cached semantic matches to an exact-only query", func() {
			full, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(full.Matches[0].Reason).To(Equal(ReasonSemantic))

			exact, err := resolver.Resolve(ctx, "customer loading", Options{ExactOnly: true})
			Expect(err).ToNot(HaveOccurred())
			Expect(exact.Found()).To(BeFalse(), "no workflow is named 'customer loading'")
			Expect(vector.queryCount).To(Equal(1), "exact-only must not reach the vector store")
		})

		It("keys cached entries by the requested limit", func() {
			_, err := resolver.Resolve(ctx, "customer loading", Options{TopK: 3})
			Expect(err).ToNot(HaveOccurred())

			_, err = resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(vector.queryCount).To(Equal(2), "differing limits must not share an entry")
		})

		It("lands defaulted and explicit default limits on the same entry", func() {
			_, err := resolver.Resolve(ctx, "customer loading", Options{})
			Expect(err).ToNot(HaveOccurred())

			_, err = resolver.Resolve(ctx, "customer loading", Options{TopK: 10})
			Expect(err).ToNot(HaveOccurred())
			Expect(vector.queryCount).To(Equal(1))
		})
	})

	Describe("NormalizeQuery", func() {
		It("strips trigger phrases and punctuation", func() {
			Expect(NormalizeQuery("Show me workflow wf_customer_load")).To(Equal("wf_customer_load"))
			Expect(NormalizeQuery("  FIND WORKFLOW wf_orders!  ")).To(Equal("wf_orders"))
			Expect(NormalizeQuery("wf_orders")).To(Equal("wf_orders"))
			Expect(NormalizeQuery("")).To(Equal(""))
		})
	})
})

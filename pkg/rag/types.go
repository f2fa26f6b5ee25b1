package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wfmeta/workflow-agent/pkg/metadata"
)

// recordNamespace seeds deterministic record ids. A stable id per
// (set_file, component_type, component_name, workflow) makes upserts
// idempotent: re-ingesting an unchanged file replaces records instead of
// duplicating them.
var recordNamespace = uuid.MustParse("8f0d9e6a-4a1c-4b3e-9c2f-1d8a6f0b2c4e")

// IndexedRecord is the flattened projection of one extracted entity stored
// in the vector index. Every record is traceable back to exactly one source
// entity via (SetFile, WorkflowName, ComponentType, ComponentName); that
// traceability is what lets the resolver validate semantic hits against the
// authoritative cache.
type IndexedRecord struct {
	ID            string                 `json:"id"`
	Text          string                 `json:"text"`
	WorkflowName  string                 `json:"workflow_name"`
	SetFile       string                 `json:"set_file"`
	ComponentType metadata.ComponentType `json:"component_type"`
	ComponentName string                 `json:"component_name"`
}

// RecordID derives the stable id for one entity instance
func RecordID(setFile string, componentType metadata.ComponentType, componentName, workflowName string) string {
	seed := strings.ToLower(fmt.Sprintf("%s|%s|%s|%s", setFile, componentType, componentName, workflowName))
	return uuid.NewSHA1(recordNamespace, []byte(seed)).String()
}

// Hit is one candidate returned by a vector store query
type Hit struct {
	RecordID      string  `json:"record_id"`
	Score         float32 `json:"score"`
	Text          string  `json:"text,omitempty"`
	WorkflowName  string  `json:"workflow_name"`
	SetFile       string  `json:"set_file"`
	ComponentType string  `json:"component_type"`
	ComponentName string  `json:"component_name"`
}

// RecordError is a per-record indexing failure. A malformed record never
// aborts the batch; failures are collected and reported alongside the
// successes.
type RecordError struct {
	RecordID string `json:"record_id"`
	Message  string `json:"message"`
}

// BatchResult reports the outcome of one ingest batch
type BatchResult struct {
	Indexed int           `json:"indexed"`
	Failed  []RecordError `json:"failed,omitempty"`
}

// VectorStore is the narrow interface the index builder and resolver consume.
// The production implementation is Weaviate; tests substitute fakes.
type VectorStore interface {
	Upsert(ctx context.Context, records []*IndexedRecord) (*BatchResult, error)
	Query(ctx context.Context, text string, topK int, filters map[string]string) ([]*Hit, error)
	DeleteSet(ctx context.Context, setFile string) error
	Ready(ctx context.Context) error
}

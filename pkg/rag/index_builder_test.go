package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfmeta/workflow-agent/pkg/logging"
	"github.com/wfmeta/workflow-agent/pkg/metadata"
)

func sampleWorkflow() *metadata.Workflow {
	return &metadata.Workflow{
		Name:    "wf_customer_load",
		SetFile: "set30",
		Status:  metadata.StatusActive,
		Sessions: []*metadata.Session{
			{Name: "s_customer_load", WorkflowName: "wf_customer_load", MappingName: "m_customer_load"},
		},
		SourceTables: []*metadata.SourceTable{{Name: "STG_CUSTOMERS"}},
		TargetTables: []*metadata.TargetTable{{Name: "DIM_CUSTOMER", LoadType: "upsert"}},
		Transformations: []*metadata.Transformation{
			{Name: "fil_active", Type: "Filter", Expression: "STATUS = 'ACTIVE'"},
		},
	}
}

func TestBuildRecords(t *testing.T) {
	records := BuildRecords("set30", []*metadata.Workflow{sampleWorkflow()})

	// one record per entity: workflow + session + source + target + transformation
	require.Len(t, records, 5)

	types := make(map[metadata.ComponentType]int)
	for _, rec := range records {
		types[rec.ComponentType]++
		assert.Equal(t, "set30", rec.SetFile)
		assert.Equal(t, "wf_customer_load", rec.WorkflowName)
		assert.NotEmpty(t, rec.ID)
		assert.NotEmpty(t, rec.Text)
	}
	assert.Equal(t, 1, types[metadata.ComponentWorkflow])
	assert.Equal(t, 1, types[metadata.ComponentSession])
	assert.Equal(t, 1, types[metadata.ComponentSourceTable])
	assert.Equal(t, 1, types[metadata.ComponentTargetTable])
	assert.Equal(t, 1, types[metadata.ComponentTransformation])
}

func TestRecordIDStable(t *testing.T) {
	a := RecordID("set30", metadata.ComponentWorkflow, "wf_customer_load", "wf_customer_load")
	b := RecordID("set30", metadata.ComponentWorkflow, "wf_customer_load", "wf_customer_load")
	assert.Equal(t, a, b, "record ids must be deterministic")

	c := RecordID("set31", metadata.ComponentWorkflow, "wf_customer_load", "wf_customer_load")
	assert.NotEqual(t, a, c, "same workflow in another set is a distinct record")

	// case-insensitive identity
	d := RecordID("set30", metadata.ComponentWorkflow, "WF_CUSTOMER_LOAD", "WF_CUSTOMER_LOAD")
	assert.Equal(t, a, d)
}

func TestIngestSetIdempotent(t *testing.T) {
	vector := newFakeVectorStore()
	logger := logging.NewStructuredLogger(logging.Config{Level: logging.LevelError, ServiceName: "test"})
	builder := NewIndexBuilder(vector, logger)

	workflows := []*metadata.Workflow{sampleWorkflow()}

	result, err := builder.IngestSet(context.Background(), "set30", workflows)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Indexed)
	firstCount := len(vector.records)

	// re-ingesting the unchanged file must not change the record count
	result, err = builder.IngestSet(context.Background(), "set30", workflows)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Indexed)
	assert.Equal(t, firstCount, len(vector.records))
}

func TestIngestSetReplacesPreviousRecords(t *testing.T) {
	vector := newFakeVectorStore()
	logger := logging.NewStructuredLogger(logging.Config{Level: logging.LevelError, ServiceName: "test"})
	builder := NewIndexBuilder(vector, logger)

	_, err := builder.IngestSet(context.Background(), "set30", []*metadata.Workflow{sampleWorkflow()})
	require.NoError(t, err)

	slim := &metadata.Workflow{Name: "wf_customer_load", SetFile: "set30", Status: metadata.StatusActive}
	_, err = builder.IngestSet(context.Background(), "set30", []*metadata.Workflow{slim})
	require.NoError(t, err)

	assert.Len(t, vector.records, 1, "old records of the set must be gone")
}

func TestRecordTextMentionsRelations(t *testing.T) {
	records := BuildRecords("set30", []*metadata.Workflow{sampleWorkflow()})

	var wfText, tgtText string
	for _, rec := range records {
		switch rec.ComponentType {
		case metadata.ComponentWorkflow:
			wfText = rec.Text
		case metadata.ComponentTargetTable:
			tgtText = rec.Text
		}
	}

	assert.Contains(t, wfText, "set30")
	assert.Contains(t, wfText, "DIM_CUSTOMER")
	assert.Contains(t, tgtText, "wf_customer_load")
	assert.Contains(t, tgtText, "upsert")
}

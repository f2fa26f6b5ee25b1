package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/wfmeta/workflow-agent/pkg/logging"
	"github.com/wfmeta/workflow-agent/pkg/metadata"
)

// IndexBuilder flattens extracted workflow records into indexed records and
// loads them into the vector store, one record per entity instance.
type IndexBuilder struct {
	vector VectorStore
	logger *logging.StructuredLogger
}

// NewIndexBuilder creates an index builder writing to the given store
func NewIndexBuilder(vector VectorStore, logger *logging.StructuredLogger) *IndexBuilder {
	return &IndexBuilder{
		vector: vector,
		logger: logger.WithComponent("index-builder"),
	}
}

// IngestSet replaces the indexed records of one set file: previous records of
// the set are deleted, then the new projection is upserted in one batch.
// A malformed record never aborts the batch; per-record failures come back in
// the result. Stable ids keep re-ingest of an unchanged file idempotent.
func (ib *IndexBuilder) IngestSet(ctx context.Context, setFile string, workflows []*metadata.Workflow) (*BatchResult, error) {
	if err := ib.vector.DeleteSet(ctx, setFile); err != nil {
		return nil, err
	}

	records := BuildRecords(setFile, workflows)
	result, err := ib.vector.Upsert(ctx, records)
	if err != nil {
		return nil, err
	}

	if len(result.Failed) > 0 {
		ib.logger.Warn("Ingest completed with record failures",
			"set_file", setFile,
			"indexed", result.Indexed,
			"failed", len(result.Failed),
		)
	} else {
		ib.logger.Info("Ingest completed",
			"set_file", setFile,
			"workflows", len(workflows),
			"records", result.Indexed,
		)
	}
	return result, nil
}

// BuildRecords projects workflows into their flattened indexed form
func BuildRecords(setFile string, workflows []*metadata.Workflow) []*IndexedRecord {
	var records []*IndexedRecord
	for _, wf := range workflows {
		records = append(records, &IndexedRecord{
			ID:            RecordID(setFile, metadata.ComponentWorkflow, wf.Name, wf.Name),
			Text:          workflowText(wf),
			WorkflowName:  wf.Name,
			SetFile:       setFile,
			ComponentType: metadata.ComponentWorkflow,
			ComponentName: wf.Name,
		})

		for _, sess := range wf.Sessions {
			records = append(records, &IndexedRecord{
				ID:            RecordID(setFile, metadata.ComponentSession, sess.Name, wf.Name),
				Text:          sessionText(wf, sess),
				WorkflowName:  wf.Name,
				SetFile:       setFile,
				ComponentType: metadata.ComponentSession,
				ComponentName: sess.Name,
			})
		}
		for _, src := range wf.SourceTables {
			records = append(records, &IndexedRecord{
				ID:            RecordID(setFile, metadata.ComponentSourceTable, src.Name, wf.Name),
				Text:          sourceTableText(wf, src),
				WorkflowName:  wf.Name,
				SetFile:       setFile,
				ComponentType: metadata.ComponentSourceTable,
				ComponentName: src.Name,
			})
		}
		for _, tgt := range wf.TargetTables {
			records = append(records, &IndexedRecord{
				ID:            RecordID(setFile, metadata.ComponentTargetTable, tgt.Name, wf.Name),
				Text:          targetTableText(wf, tgt),
				WorkflowName:  wf.Name,
				SetFile:       setFile,
				ComponentType: metadata.ComponentTargetTable,
				ComponentName: tgt.Name,
			})
		}
		for _, tr := range wf.Transformations {
			records = append(records, &IndexedRecord{
				ID:            RecordID(setFile, metadata.ComponentTransformation, tr.Name, wf.Name),
				Text:          transformationText(wf, tr),
				WorkflowName:  wf.Name,
				SetFile:       setFile,
				ComponentType: metadata.ComponentTransformation,
				ComponentName: tr.Name,
			})
		}
	}
	return records
}

func workflowText(wf *metadata.Workflow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %s in set file %s.", wf.Name, wf.SetFile)
	if wf.Description != "" {
		fmt.Fprintf(&b, " %s.", wf.Description)
	}
	if len(wf.Sessions) > 0 {
		fmt.Fprintf(&b, " Sessions: %s.", joinNames(sessionNames(wf.Sessions)))
	}
	if len(wf.SourceTables) > 0 {
		fmt.Fprintf(&b, " Reads tables: %s.", joinNames(sourceNames(wf.SourceTables)))
	}
	if len(wf.TargetTables) > 0 {
		fmt.Fprintf(&b, " Loads tables: %s.", joinNames(targetNames(wf.TargetTables)))
	}
	return b.String()
}

func sessionText(wf *metadata.Workflow, sess *metadata.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s of workflow %s.", sess.Name, wf.Name)
	if sess.MappingName != "" {
		fmt.Fprintf(&b, " Runs mapping %s.", sess.MappingName)
	}
	if len(sess.SourceConnections) > 0 {
		fmt.Fprintf(&b, " Source connections: %s.", joinNames(sess.SourceConnections))
	}
	if len(sess.TargetConnections) > 0 {
		fmt.Fprintf(&b, " Target connections: %s.", joinNames(sess.TargetConnections))
	}
	return b.String()
}

func sourceTableText(wf *metadata.Workflow, src *metadata.SourceTable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source table %s read by workflow %s.", src.Name, wf.Name)
	if src.Schema != "" {
		fmt.Fprintf(&b, " Schema %s.", src.Schema)
	}
	if src.Database != "" {
		fmt.Fprintf(&b, " Database %s.", src.Database)
	}
	return b.String()
}

func targetTableText(wf *metadata.Workflow, tgt *metadata.TargetTable) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target table %s loaded by workflow %s.", tgt.Name, wf.Name)
	if tgt.LoadType != "" {
		fmt.Fprintf(&b, " Load type %s.", tgt.LoadType)
	}
	if tgt.Schema != "" {
		fmt.Fprintf(&b, " Schema %s.", tgt.Schema)
	}
	return b.String()
}

func transformationText(wf *metadata.Workflow, tr *metadata.Transformation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transformation %s", tr.Name)
	if tr.Type != "" {
		fmt.Fprintf(&b, " of type %s", tr.Type)
	}
	fmt.Fprintf(&b, " in workflow %s.", wf.Name)
	if tr.Expression != "" {
		fmt.Fprintf(&b, " Expression: %s.", tr.Expression)
	}
	return b.String()
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}

func sessionNames(sessions []*metadata.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.Name
	}
	return out
}

func sourceNames(tables []*metadata.SourceTable) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Name
	}
	return out
}

func targetNames(tables []*metadata.TargetTable) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Name
	}
	return out
}

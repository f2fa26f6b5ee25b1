package metadata

import (
	"fmt"
	"strings"
	"time"
)

// ComponentStatus describes the lifecycle state of an extracted component
type ComponentStatus string

const (
	StatusActive   ComponentStatus = "active"
	StatusInactive ComponentStatus = "inactive"
	StatusError    ComponentStatus = "error"
	StatusUnknown  ComponentStatus = "unknown"
)

// ComponentType identifies the kind of entity behind an indexed record
type ComponentType string

const (
	ComponentWorkflow       ComponentType = "workflow"
	ComponentSession        ComponentType = "session"
	ComponentSourceTable    ComponentType = "source_table"
	ComponentTargetTable    ComponentType = "target_table"
	ComponentTransformation ComponentType = "transformation"
)

// SourceFile describes one vendor XML export batch ("set file"). A re-upload
// of the same file supersedes the previous parse.
type SourceFile struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ParsedAt      time.Time `json:"parsed_at"`
	WorkflowCount int       `json:"workflow_count"`
}

// Workflow is a named unit of ETL logic. Its name is unique within one set
// file but not globally, so lookups carry an optional set-file qualifier.
type Workflow struct {
	Name            string            `json:"name"`
	SetFile         string            `json:"set_file"`
	Description     string            `json:"description,omitempty"`
	CreatedAt       *time.Time        `json:"created_at,omitempty"`
	ModifiedAt      *time.Time        `json:"modified_at,omitempty"`
	Status          ComponentStatus   `json:"status"`
	Sessions        []*Session        `json:"sessions"`
	SourceTables    []*SourceTable    `json:"source_tables"`
	TargetTables    []*TargetTable    `json:"target_tables"`
	Transformations []*Transformation `json:"transformations"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// Session is a run-configuration bound to one workflow
type Session struct {
	Name              string            `json:"name"`
	WorkflowName      string            `json:"workflow_name"`
	MappingName       string            `json:"mapping_name,omitempty"`
	SourceConnections []string          `json:"source_connections,omitempty"`
	TargetConnections []string          `json:"target_connections,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
}

// SourceTable is a table read by a workflow's sessions
type SourceTable struct {
	Name       string    `json:"name"`
	Schema     string    `json:"schema,omitempty"`
	Database   string    `json:"database,omitempty"`
	Connection string    `json:"connection,omitempty"`
	Columns    []*Column `json:"columns,omitempty"`
}

// TargetTable is a table written by a workflow's sessions
type TargetTable struct {
	Name       string    `json:"name"`
	Schema     string    `json:"schema,omitempty"`
	Database   string    `json:"database,omitempty"`
	Connection string    `json:"connection,omitempty"`
	LoadType   string    `json:"load_type,omitempty"`
	Columns    []*Column `json:"columns,omitempty"`
}

// Transformation is a named processing step inside a mapping
type Transformation struct {
	Name        string            `json:"name"`
	Type        string            `json:"type,omitempty"`
	InputPorts  []string          `json:"input_ports,omitempty"`
	OutputPorts []string          `json:"output_ports,omitempty"`
	Expression  string            `json:"expression,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// Column describes one column of a source or target table
type Column struct {
	Name      string `json:"name"`
	DataType  string `json:"data_type,omitempty"`
	Precision string `json:"precision,omitempty"`
	Scale     string `json:"scale,omitempty"`
}

// Key returns the set-file qualified identity of the workflow
func (w *Workflow) Key() string {
	return fmt.Sprintf("%s/%s", w.SetFile, w.Name)
}

// ReferencesTable reports whether the workflow reads or writes the named
// table. Matching is case-insensitive, like all name lookups in the service.
func (w *Workflow) ReferencesTable(table string) bool {
	return w.readsTable(table) || w.WritesTable(table)
}

// WritesTable reports whether the named table is a target of this workflow
func (w *Workflow) WritesTable(table string) bool {
	for _, t := range w.TargetTables {
		if strings.EqualFold(t.Name, table) {
			return true
		}
	}
	return false
}

func (w *Workflow) readsTable(table string) bool {
	for _, t := range w.SourceTables {
		if strings.EqualFold(t.Name, table) {
			return true
		}
	}
	return false
}

// FilterTransformations returns the workflow's filter-type transformations,
// the usual suspects when a target table comes up empty.
func (w *Workflow) FilterTransformations() []*Transformation {
	var filters []*Transformation
	for _, tr := range w.Transformations {
		if strings.EqualFold(tr.Type, "filter") {
			filters = append(filters, tr)
		}
	}
	return filters
}

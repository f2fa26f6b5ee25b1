package debug

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wfmeta/workflow-agent/pkg/errors"
	"github.com/wfmeta/workflow-agent/pkg/logging"
	"github.com/wfmeta/workflow-agent/pkg/metadata"
	"github.com/wfmeta/workflow-agent/pkg/store"
)

// Issue is one diagnostic finding tied to a rule from the table
type Issue struct {
	RuleID    string   `json:"rule_id"`
	Title     string   `json:"title"`
	Diagnosis string   `json:"diagnosis"`
	Evidence  []string `json:"evidence,omitempty"`
	Weight    float32  `json:"weight"`
}

// Report is the full diagnosis for one table symptom
type Report struct {
	Table           string   `json:"table"`
	Symptom         string   `json:"symptom"`
	Workflows       []string `json:"workflows"`
	Issues          []Issue  `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Confidence      float32  `json:"confidence"`
}

// WorkflowReport is the full diagnosis for one workflow symptom
type WorkflowReport struct {
	Workflow        string          `json:"workflow"`
	SetFile         string          `json:"set_file"`
	Symptom         string          `json:"symptom"`
	Components      ComponentCounts `json:"components"`
	Issues          []Issue         `json:"issues"`
	Recommendations []string        `json:"recommendations"`
	Confidence      float32         `json:"confidence"`
}

// ComponentCounts summarizes a workflow's structure
type ComponentCounts struct {
	Sessions        int `json:"sessions"`
	SourceTables    int `json:"source_tables"`
	TargetTables    int `json:"target_tables"`
	Transformations int `json:"transformations"`
}

// Engine diagnoses table-level load problems by matching the reported
// symptom against the rule table and backing each finding with evidence
// from the metadata of the workflows that touch the table.
type Engine struct {
	store  *store.Store
	rules  []Rule
	logger *logging.StructuredLogger
}

// NewEngine creates a debugging engine over the loaded metadata
func NewEngine(st *store.Store, rules []Rule, logger *logging.StructuredLogger) *Engine {
	return &Engine{store: st, rules: rules, logger: logger.WithComponent("debug-engine")}
}

// AnalyzeTable diagnoses a symptom reported against a table. The table must
// be referenced by at least one loaded workflow; diagnosing a table the
// metadata has never seen would be guesswork, so it is rejected instead.
func (e *Engine) AnalyzeTable(table, symptom string) (*Report, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.NewErrorBuilder("debug", "analyze_table").
			InvalidInputError("table", "table name is required")
	}

	workflows := e.store.WorkflowsForTable(table)
	if len(workflows) == 0 {
		return nil, errors.NewErrorBuilder("debug", "analyze_table").
			NotFoundError("table", table)
	}

	report := &Report{
		Table:   table,
		Symptom: symptom,
	}
	for _, wf := range workflows {
		report.Workflows = append(report.Workflows, wf.Key())
	}

	seen := make(map[string]bool)
	for _, rule := range e.rules {
		if !rule.Matches(symptom) {
			continue
		}
		issue := Issue{
			RuleID:    rule.ID,
			Title:     rule.Title,
			Diagnosis: strings.TrimSpace(rule.Diagnosis),
			Evidence:  e.gatherEvidence(rule.ID, table, workflows),
			Weight:    rule.Weight,
		}
		report.Issues = append(report.Issues, issue)
		for _, rec := range rule.Recommendations {
			if !seen[rec] {
				seen[rec] = true
				report.Recommendations = append(report.Recommendations, rec)
			}
		}
		if rule.Weight > report.Confidence {
			report.Confidence = rule.Weight
		}
	}

	// An unmatched symptom still gets the structural walkthrough so the
	// caller knows where to start looking.
	if len(report.Issues) == 0 {
		report.Issues = append(report.Issues, Issue{
			RuleID:    "general",
			Title:     "No specific pattern matched",
			Diagnosis: fmt.Sprintf("The reported symptom did not match a known pattern. %d workflow(s) touch %s; start from their sessions and transformations.", len(workflows), table),
			Evidence:  e.gatherEvidence("general", table, workflows),
			Weight:    0.3,
		})
		report.Confidence = 0.3
	}

	sortIssues(report.Issues)

	e.logger.Info("table diagnosis complete",
		"table", table,
		"workflows", len(workflows),
		"issues", len(report.Issues),
		"confidence", report.Confidence,
	)
	return report, nil
}

// AnalyzeWorkflow diagnoses a symptom reported against one workflow by exact
// name, looked up across all loaded sets. The structural walkthrough always
// runs; rule matches add weighted findings on top.
func (e *Engine) AnalyzeWorkflow(name, symptom string) (*WorkflowReport, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.NewErrorBuilder("debug", "analyze_workflow").
			InvalidInputError("workflow", "workflow name is required")
	}

	wf, ok := e.store.Workflow(name, "")
	if !ok {
		return nil, errors.NewErrorBuilder("debug", "analyze_workflow").
			NotFoundError("workflow", name)
	}

	report := &WorkflowReport{
		Workflow: wf.Name,
		SetFile:  wf.SetFile,
		Symptom:  symptom,
		Components: ComponentCounts{
			Sessions:        len(wf.Sessions),
			SourceTables:    len(wf.SourceTables),
			TargetTables:    len(wf.TargetTables),
			Transformations: len(wf.Transformations),
		},
	}

	if structural := e.structuralFindings(wf); len(structural) > 0 {
		report.Issues = append(report.Issues, Issue{
			RuleID:    "structure",
			Title:     "Structural checks",
			Diagnosis: fmt.Sprintf("%d structural finding(s) in workflow %s.", len(structural), wf.Name),
			Evidence:  structural,
			Weight:    0.4,
		})
		report.Confidence = 0.4
	}

	seen := make(map[string]bool)
	single := []*metadata.Workflow{wf}
	for _, rule := range e.rules {
		if !rule.Matches(symptom) {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			RuleID:    rule.ID,
			Title:     rule.Title,
			Diagnosis: strings.TrimSpace(rule.Diagnosis),
			Evidence:  e.gatherEvidence(rule.ID, primaryTarget(wf), single),
			Weight:    rule.Weight,
		})
		for _, rec := range rule.Recommendations {
			if !seen[rec] {
				seen[rec] = true
				report.Recommendations = append(report.Recommendations, rec)
			}
		}
		if rule.Weight > report.Confidence {
			report.Confidence = rule.Weight
		}
	}

	if len(report.Issues) == 0 {
		report.Issues = append(report.Issues, Issue{
			RuleID:    "general",
			Title:     "No specific pattern matched",
			Diagnosis: fmt.Sprintf("The reported symptom did not match a known pattern. Workflow %s has %d session(s) and %d transformation(s); start there.", wf.Name, len(wf.Sessions), len(wf.Transformations)),
			Weight:    0.3,
		})
		report.Confidence = 0.3
	}

	sortIssues(report.Issues)

	e.logger.Info("workflow diagnosis complete",
		"workflow", wf.Name,
		"set_file", wf.SetFile,
		"issues", len(report.Issues),
		"confidence", report.Confidence,
	)
	return report, nil
}

// structuralFindings flags workflow metadata that commonly explains a broken
// run regardless of the reported symptom.
func (e *Engine) structuralFindings(wf *metadata.Workflow) []string {
	var findings []string
	if wf.Status != "" && wf.Status != metadata.StatusActive {
		findings = append(findings, fmt.Sprintf("workflow status is %s", wf.Status))
	}
	if len(wf.Sessions) == 0 {
		findings = append(findings, "workflow has no sessions")
	}
	for _, s := range wf.Sessions {
		if s.MappingName == "" {
			findings = append(findings, fmt.Sprintf("session %s has no mapping assigned", s.Name))
		}
	}
	if len(wf.TargetTables) == 0 {
		findings = append(findings, "workflow loads no target tables")
	}
	for _, tr := range wf.Transformations {
		if strings.EqualFold(tr.Type, "Filter") && tr.Expression == "" {
			findings = append(findings, fmt.Sprintf("filter transformation %s has no condition", tr.Name))
		}
	}
	return findings
}

func primaryTarget(wf *metadata.Workflow) string {
	if len(wf.TargetTables) > 0 {
		return wf.TargetTables[0].Name
	}
	return ""
}

func sortIssues(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Weight != issues[j].Weight {
			return issues[i].Weight > issues[j].Weight
		}
		return issues[i].RuleID < issues[j].RuleID
	})
}

// gatherEvidence pulls rule-relevant facts out of the workflow metadata so
// every finding points at something concrete.
func (e *Engine) gatherEvidence(ruleID, table string, workflows []*metadata.Workflow) []string {
	var evidence []string
	for _, wf := range workflows {
		switch ruleID {
		case "empty-table":
			for _, tr := range wf.FilterTransformations() {
				line := fmt.Sprintf("workflow %s has filter transformation %s", wf.Name, tr.Name)
				if tr.Expression != "" {
					line += fmt.Sprintf(" with condition %q", tr.Expression)
				}
				evidence = append(evidence, line)
			}
			if wf.Status == metadata.StatusInactive {
				evidence = append(evidence, fmt.Sprintf("workflow %s is marked inactive", wf.Name))
			}
		case "session-failure":
			if wf.Status == metadata.StatusError {
				evidence = append(evidence, fmt.Sprintf("workflow %s last known status is error", wf.Name))
			}
			for _, s := range wf.Sessions {
				evidence = append(evidence, fmt.Sprintf("session %s runs mapping %s in workflow %s", s.Name, s.MappingName, wf.Name))
			}
		case "dependency":
			for _, src := range wf.SourceTables {
				producers := e.store.WorkflowsForTable(src.Name)
				for _, p := range producers {
					if p.WritesTable(src.Name) && !strings.EqualFold(p.Name, wf.Name) {
						evidence = append(evidence, fmt.Sprintf("%s consumed by %s is produced by workflow %s", src.Name, wf.Name, p.Name))
					}
				}
			}
		default:
			if table == "" {
				evidence = append(evidence, fmt.Sprintf("workflow %s has %d session(s) and %d transformation(s)", wf.Name, len(wf.Sessions), len(wf.Transformations)))
			} else if wf.WritesTable(table) {
				evidence = append(evidence, fmt.Sprintf("workflow %s loads %s with %d transformation(s)", wf.Name, table, len(wf.Transformations)))
			} else {
				evidence = append(evidence, fmt.Sprintf("workflow %s reads %s", wf.Name, table))
			}
		}
	}
	return evidence
}

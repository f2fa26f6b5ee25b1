package llm

import (
	"fmt"
	"strings"

	"github.com/wfmeta/workflow-agent/pkg/rag"
)

const systemPrompt = `You are an assistant for ETL workflow metadata questions.
Answer only from the metadata context provided. The context comes from parsed
workflow export files and is authoritative. If the context does not contain
the answer, say so plainly instead of guessing. Reference workflows by name
and always mention which set file they come from.`

// PromptBuilder renders validated retrieval results into a bounded prompt.
// The context block is truncated to MaxContextChars so the request always
// fits the completion backend's context window.
type PromptBuilder struct {
	maxContextChars int
}

// NewPromptBuilder creates a prompt builder with the given character budget
func NewPromptBuilder(maxContextChars int) *PromptBuilder {
	if maxContextChars <= 0 {
		maxContextChars = 12000
	}
	return &PromptBuilder{maxContextChars: maxContextChars}
}

// SystemPrompt returns the assistant persona prompt
func (pb *PromptBuilder) SystemPrompt() string {
	return systemPrompt
}

// Build renders the user prompt and returns it together with the ids of
// every record that made it into the context, for auditability. Matches are
// consumed in order; once the budget is spent the rest are dropped.
func (pb *PromptBuilder) Build(utterance string, matches []*rag.Match) (string, []string) {
	var context strings.Builder
	var recordIDs []string

	for _, m := range matches {
		block := renderMatch(m)
		if context.Len()+len(block) > pb.maxContextChars {
			break
		}
		context.WriteString(block)
		recordIDs = append(recordIDs, m.RecordIDs...)
	}

	prompt := fmt.Sprintf("Metadata context:\n%s\nQuestion: %s", context.String(), utterance)
	return prompt, recordIDs
}

func renderMatch(m *rag.Match) string {
	var b strings.Builder
	wf := m.Workflow
	fmt.Fprintf(&b, "- Workflow %s (set file %s, confidence %.2f)\n", wf.Name, m.SetFile, m.Confidence)
	if wf.Description != "" {
		fmt.Fprintf(&b, "  Description: %s\n", wf.Description)
	}
	if len(wf.Sessions) > 0 {
		fmt.Fprintf(&b, "  Sessions:")
		for _, s := range wf.Sessions {
			fmt.Fprintf(&b, " %s", s.Name)
			if s.MappingName != "" {
				fmt.Fprintf(&b, " (mapping %s)", s.MappingName)
			}
		}
		b.WriteString("\n")
	}
	if len(wf.SourceTables) > 0 {
		fmt.Fprintf(&b, "  Reads:")
		for _, t := range wf.SourceTables {
			fmt.Fprintf(&b, " %s", t.Name)
		}
		b.WriteString("\n")
	}
	if len(wf.TargetTables) > 0 {
		fmt.Fprintf(&b, "  Loads:")
		for _, t := range wf.TargetTables {
			fmt.Fprintf(&b, " %s", t.Name)
			if t.LoadType != "" {
				fmt.Fprintf(&b, " (%s)", t.LoadType)
			}
		}
		b.WriteString("\n")
	}
	if len(wf.Transformations) > 0 {
		fmt.Fprintf(&b, "  Transformations:")
		for _, tr := range wf.Transformations {
			fmt.Fprintf(&b, " %s", tr.Name)
			if tr.Type != "" {
				fmt.Fprintf(&b, " (%s)", tr.Type)
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

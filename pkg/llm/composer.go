package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wfmeta/workflow-agent/pkg/logging"
	"github.com/wfmeta/workflow-agent/pkg/monitoring"
	"github.com/wfmeta/workflow-agent/pkg/rag"
)

// Response is the composed answer for a chat turn. Sources lists the record
// ids behind the answer so callers can audit what the text was grounded on.
type Response struct {
	Text     string   `json:"text"`
	Sources  []string `json:"sources,omitempty"`
	Degraded bool     `json:"degraded"`
}

// Composer turns validated retrieval results into a natural-language answer.
// When no completion backend is configured, or the backend fails, it falls
// back to a deterministic rendering of the retrieval results so the service
// still answers from metadata it actually holds.
type Composer struct {
	client  Client
	prompts *PromptBuilder
	logger  *logging.StructuredLogger
	metrics *monitoring.Metrics
}

// NewComposer creates a composer. client may be nil when no backend is
// configured; every response is then the deterministic rendering.
func NewComposer(client Client, prompts *PromptBuilder, logger *logging.StructuredLogger, metrics *monitoring.Metrics) *Composer {
	return &Composer{
		client:  client,
		prompts: prompts,
		logger:  logger,
		metrics: metrics,
	}
}

// Compose answers the utterance from the resolution. A backend failure is not
// surfaced as an error when retrieval succeeded; the degraded rendering is
// returned instead and the failure is logged.
func (c *Composer) Compose(ctx context.Context, utterance string, resolution *rag.Resolution) (*Response, error) {
	if resolution == nil || !resolution.Found() {
		return &Response{
			Text:     fmt.Sprintf("I could not find any workflow matching %q in the loaded metadata. Try the exact workflow name, or upload the export file that contains it.", utterance),
			Degraded: false,
		}, nil
	}

	if c.client == nil {
		return c.degraded(utterance, resolution), nil
	}

	prompt, recordIDs := c.prompts.Build(utterance, resolution.Matches)

	start := time.Now()
	text, err := c.client.Complete(ctx, c.prompts.SystemPrompt(), prompt)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.ObserveLLMRequest("error", elapsed)
		c.logger.Warn("completion backend failed, serving retrieval-only answer",
			"error", err,
			"query", resolution.Query,
		)
		return c.degraded(utterance, resolution), nil
	}
	c.metrics.ObserveLLMRequest("ok", elapsed)

	return &Response{
		Text:    strings.TrimSpace(text),
		Sources: recordIDs,
	}, nil
}

// degraded renders the answer directly from the retrieval results. The output
// is deterministic for a given resolution.
func (c *Composer) degraded(utterance string, resolution *rag.Resolution) *Response {
	var b strings.Builder
	var sources []string

	if len(resolution.Matches) == 1 {
		b.WriteString("Found 1 matching workflow:\n\n")
	} else {
		fmt.Fprintf(&b, "Found %d matching workflows:\n\n", len(resolution.Matches))
	}
	for _, m := range resolution.Matches {
		b.WriteString(renderMatch(m))
		sources = append(sources, m.RecordIDs...)
	}

	return &Response{
		Text:     strings.TrimSpace(b.String()),
		Sources:  sources,
		Degraded: true,
	}
}

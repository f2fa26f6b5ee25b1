// Package handlers exposes the workflow agent's REST surface.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfmeta/workflow-agent/pkg/debug"
	"github.com/wfmeta/workflow-agent/pkg/errors"
	"github.com/wfmeta/workflow-agent/pkg/health"
	"github.com/wfmeta/workflow-agent/pkg/llm"
	"github.com/wfmeta/workflow-agent/pkg/logging"
	"github.com/wfmeta/workflow-agent/pkg/metadata"
	"github.com/wfmeta/workflow-agent/pkg/monitoring"
	"github.com/wfmeta/workflow-agent/pkg/rag"
	"github.com/wfmeta/workflow-agent/pkg/store"
)

// AgentService is the slice of the service layer the upload and refresh
// endpoints need.
type AgentService interface {
	IngestSetFile(ctx context.Context, setFile string, data []byte) (*metadata.SourceFile, error)
	Refresh(ctx context.Context) (int, error)
}

// WorkflowAgentHandler serves the REST API over the initialized components
type WorkflowAgentHandler struct {
	store     *store.Store
	resolver  *rag.Resolver
	composer  *llm.Composer
	debugger  *debug.Engine
	checker   *health.Checker
	metrics   *monitoring.Metrics
	service   AgentService
	logger    *logging.StructuredLogger
	maxUpload int64
	started   time.Time
}

// NewWorkflowAgentHandler creates the handler over initialized components
func NewWorkflowAgentHandler(
	st *store.Store,
	resolver *rag.Resolver,
	composer *llm.Composer,
	debugger *debug.Engine,
	checker *health.Checker,
	metrics *monitoring.Metrics,
	service AgentService,
	maxUpload int64,
	logger *logging.StructuredLogger,
) *WorkflowAgentHandler {
	if maxUpload <= 0 {
		maxUpload = 50 * 1024 * 1024
	}
	return &WorkflowAgentHandler{
		store:     st,
		resolver:  resolver,
		composer:  composer,
		debugger:  debugger,
		checker:   checker,
		metrics:   metrics,
		service:   service,
		logger:    logger.WithComponent("http"),
		maxUpload: maxUpload,
		started:   time.Now(),
	}
}

// SetupRoutes registers every endpoint on the router
func (h *WorkflowAgentHandler) SetupRoutes(router *mux.Router) {
	router.Use(RequestMiddleware(h.logger, h.metrics))

	router.HandleFunc("/chat", h.ChatHandler).Methods("POST")
	router.HandleFunc("/workflows/search", h.SearchHandler).Methods("GET")
	router.HandleFunc("/workflows/{name}", h.WorkflowHandler).Methods("GET")
	router.HandleFunc("/tables/{name}/workflows", h.TableWorkflowsHandler).Methods("GET")
	router.HandleFunc("/debug/table", h.DebugTableHandler).Methods("POST")
	router.HandleFunc("/debug/workflow", h.DebugWorkflowHandler).Methods("POST")
	router.HandleFunc("/upload/xml", h.UploadHandler).Methods("POST")
	router.HandleFunc("/refresh", h.RefreshHandler).Methods("POST")
	router.HandleFunc("/statistics", h.StatisticsHandler).Methods("GET")
	router.HandleFunc("/health", h.checker.HealthzHandler).Methods("GET")
	router.HandleFunc("/healthz", h.checker.HealthzHandler).Methods("GET")
	router.HandleFunc("/readyz", h.checker.ReadyzHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

type chatRequest struct {
	Message   string `json:"message"`
	SetFile   string `json:"set_file,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	SessionID string        `json:"session_id"`
	Intent    string        `json:"intent"`
	Answer    string        `json:"answer"`
	Sources   []string      `json:"sources,omitempty"`
	Matches   []*rag.Match  `json:"matches,omitempty"`
	Report    *debug.Report `json:"report,omitempty"`
	Degraded  bool          `json:"degraded"`
}

// ChatHandler answers a free-form question about loaded workflow metadata.
// Debugging phrasing is routed to the rule engine; everything else goes
// through retrieval and composition.
func (h *WorkflowAgentHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.NewErrorBuilder("http", "chat").
			InvalidInputError("body", "request body must be JSON"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.writeError(w, errors.NewErrorBuilder("http", "chat").
			InvalidInputError("message", "message is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	intent, table := detectIntent(req.Message)
	if intent == intentDebug {
		if table != "" {
			report, err := h.debugger.AnalyzeTable(table, req.Message)
			if err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
				h.writeError(w, err)
				return
			}
			if err == nil {
				h.writeJSON(w, http.StatusOK, &chatResponse{
					SessionID: req.SessionID,
					Intent:    intentDebug,
					Answer:    renderReport(report),
					Report:    report,
				})
				return
			}
		}
		// An unknown or missing table is not a debuggable one; fall through
		// to retrieval so the user still gets a search answer.
		intent = intentSearch
	}

	resolution, err := h.resolver.Resolve(r.Context(), req.Message, rag.Options{SetFile: req.SetFile})
	if err != nil {
		h.writeError(w, err)
		return
	}

	answer, err := h.composer.Compose(r.Context(), req.Message, resolution)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, &chatResponse{
		SessionID: req.SessionID,
		Intent:    intent,
		Answer:    answer.Text,
		Sources:   answer.Sources,
		Matches:   resolution.Matches,
		Degraded:  answer.Degraded,
	})
}

// SearchHandler resolves a query to workflows. exact_match=true skips the
// semantic stage entirely.
func (h *WorkflowAgentHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, errors.NewErrorBuilder("http", "search").
			InvalidInputError("query", "query parameter is required"))
		return
	}

	opts := rag.Options{
		SetFile:   r.URL.Query().Get("set_file"),
		ExactOnly: r.URL.Query().Get("exact_match") == "true",
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			h.writeError(w, errors.NewErrorBuilder("http", "search").
				InvalidInputError("limit", "limit must be a positive integer"))
			return
		}
		opts.TopK = n
	}

	resolution, err := h.resolver.Resolve(r.Context(), query, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   resolution.Query,
		"found":   resolution.Found(),
		"matches": resolution.Matches,
	})
}

// WorkflowHandler returns one workflow by exact name. With multiple set
// files holding the name, set_file disambiguates.
func (h *WorkflowAgentHandler) WorkflowHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	setFile := r.URL.Query().Get("set_file")

	wf, ok := h.store.Workflow(name, setFile)
	if !ok {
		h.writeError(w, errors.NewErrorBuilder("http", "get_workflow").
			NotFoundError("workflow", name))
		return
	}
	h.writeJSON(w, http.StatusOK, wf)
}

// TableWorkflowsHandler lists the workflows that read or write a table
func (h *WorkflowAgentHandler) TableWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["name"]

	resolution, err := h.resolver.ResolveTable(r.Context(), table)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"table":     table,
		"found":     resolution.Found(),
		"workflows": resolution.Matches,
	})
}

type debugRequest struct {
	Table   string `json:"table_name"`
	Symptom string `json:"issue_description"`
}

// DebugTableHandler diagnoses a table-level load problem
func (h *WorkflowAgentHandler) DebugTableHandler(w http.ResponseWriter, r *http.Request) {
	req := debugRequest{
		Table:   r.URL.Query().Get("table_name"),
		Symptom: r.URL.Query().Get("issue_description"),
	}
	if req.Table == "" && r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			h.writeError(w, errors.NewErrorBuilder("http", "debug_table").
				InvalidInputError("body", "request body must be JSON"))
			return
		}
	}

	report, err := h.debugger.AnalyzeTable(req.Table, req.Symptom)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

type debugWorkflowRequest struct {
	Workflow string `json:"workflow_name"`
	Symptom  string `json:"issue_description"`
}

// DebugWorkflowHandler diagnoses a single workflow by exact name
func (h *WorkflowAgentHandler) DebugWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	req := debugWorkflowRequest{
		Workflow: r.URL.Query().Get("workflow_name"),
		Symptom:  r.URL.Query().Get("issue_description"),
	}
	if req.Workflow == "" && r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			h.writeError(w, errors.NewErrorBuilder("http", "debug_workflow").
				InvalidInputError("body", "request body must be JSON"))
			return
		}
	}

	report, err := h.debugger.AnalyzeWorkflow(req.Workflow, req.Symptom)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// multipartOverhead is headroom for multipart framing on top of the file
// size limit.
const multipartOverhead = 16 * 1024

// UploadHandler ingests one XML export. Malformed XML is rejected with 422;
// re-uploading a file replaces its previous contents. The request body is
// capped before any of it is buffered.
func (h *WorkflowAgentHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.writeError(w, errors.NewErrorBuilder("http", "upload").
				InvalidInputError("file", fmt.Sprintf("upload exceeds the %d byte limit", h.maxUpload)))
			return
		}
		h.writeError(w, errors.NewErrorBuilder("http", "upload").
			InvalidInputError("file", "multipart field 'file' is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.writeError(w, errors.NewErrorBuilder("http", "upload").
				InvalidInputError("file", fmt.Sprintf("upload exceeds the %d byte limit", h.maxUpload)))
			return
		}
		h.writeError(w, errors.NewErrorBuilder("http", "upload").
			InvalidInputError("file", "reading upload failed"))
		return
	}

	source, err := h.service.IngestSetFile(r.Context(), header.Filename, data)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"set_file":  source.Name,
		"workflows": source.WorkflowCount,
		"parsed_at": source.ParsedAt,
	})
}

// RefreshHandler re-ingests every file in the configured XML directory
func (h *WorkflowAgentHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Refresh(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed_files": n,
	})
}

// StatisticsHandler reports store contents and usage counters
func (h *WorkflowAgentHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := h.store.Stats()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_workflows":   snapshot.TotalWorkflows,
		"total_set_files":   snapshot.TotalSets,
		"search_count":      snapshot.SearchCount,
		"workflows_per_set": snapshot.WorkflowsPerSet,
		"source_files":      h.store.SourceFiles(),
		"uptime":            time.Since(h.started).String(),
	})
}

func (h *WorkflowAgentHandler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encoding response failed", "error", err)
	}
}

func (h *WorkflowAgentHandler) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	body := map[string]interface{}{
		"error": err.Error(),
	}
	if svcErr, ok := err.(*errors.ServiceError); ok {
		body["type"] = svcErr.Type
		body["code"] = svcErr.Code
		if svcErr.Details != "" {
			body["details"] = svcErr.Details
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, body)
}

const (
	intentSearch    = "search"
	intentDebug     = "debug"
	intentComponent = "component"
	intentGeneral   = "general"
)

var debugPhrases = []string{
	"why is", "why does", "debug", "empty", "no data", "failed", "failing",
	"not loading", "missing rows", "troubleshoot",
}

var componentPhrases = []string{"component", "transformation", "mapping", "session"}

// detectIntent classifies a chat message and, for debugging intents, pulls
// out the table name the user is asking about. Component questions go
// through the same retrieval path as workflow searches; only the label
// differs.
func detectIntent(message string) (string, string) {
	lowered := strings.ToLower(message)
	for _, phrase := range debugPhrases {
		if strings.Contains(lowered, phrase) {
			return intentDebug, extractTableName(message)
		}
	}
	if strings.Contains(lowered, "workflow") || strings.Contains(lowered, "wf_") {
		return intentSearch, ""
	}
	for _, phrase := range componentPhrases {
		if strings.Contains(lowered, phrase) {
			return intentComponent, ""
		}
	}
	return intentGeneral, ""
}

var tableStopwords = map[string]bool{
	"is": true, "has": true, "was": true, "the": true, "a": true, "an": true,
	"empty": true, "my": true, "this": true, "that": true, "not": true,
}

// extractTableName finds the likely table reference in debugging phrasing
// such as "why is table DIM_CUSTOMERS empty" or "the FACT_ORDERS table has
// no data". The original casing is preserved for the report.
func extractTableName(message string) string {
	words := strings.Fields(message)
	cleaned := make([]string, len(words))
	for i, w := range words {
		cleaned[i] = strings.Trim(w, ".,?!'\"")
	}
	for i, w := range cleaned {
		if !strings.EqualFold(w, "table") {
			continue
		}
		if i+1 < len(cleaned) && !tableStopwords[strings.ToLower(cleaned[i+1])] {
			return cleaned[i+1]
		}
		if i > 0 && !tableStopwords[strings.ToLower(cleaned[i-1])] {
			return cleaned[i-1]
		}
	}
	// No "table" keyword; snake_case tokens are the next best signal.
	for _, w := range cleaned {
		if strings.Contains(w, "_") && len(w) > 3 {
			return w
		}
	}
	return ""
}

func renderReport(report *debug.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Diagnosis for table %s:\n", report.Table)
	for _, issue := range report.Issues {
		fmt.Fprintf(&b, "\n%s\n%s\n", issue.Title, issue.Diagnosis)
		for _, ev := range issue.Evidence {
			fmt.Fprintf(&b, "  - %s\n", ev)
		}
	}
	if len(report.Recommendations) > 0 {
		b.WriteString("\nRecommended checks:\n")
		for i, rec := range report.Recommendations {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, rec)
		}
	}
	return strings.TrimSpace(b.String())
}

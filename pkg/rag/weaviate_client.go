package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/wfmeta/workflow-agent/pkg/errors"
	"github.com/wfmeta/workflow-agent/pkg/logging"
)

// WeaviateConfig holds configuration for the Weaviate-backed vector store
type WeaviateConfig struct {
	Host        string        `json:"host"`
	Scheme      string        `json:"scheme"`
	APIKey      string        `json:"api_key"`
	ClassName   string        `json:"class_name"`
	HybridAlpha float32       `json:"hybrid_alpha"`
	Timeout     time.Duration `json:"timeout"`

	// OpenAI key forwarded to the text2vec-openai vectorizer module
	OpenAIAPIKey string `json:"openai_api_key"`
}

// WeaviateStore implements VectorStore on a single Weaviate class. Hybrid
// search (vector + BM25) lets one class serve both the semantic-lookup and
// keyword-lookup roles.
type WeaviateStore struct {
	client *weaviate.Client
	config *WeaviateConfig
	logger *logging.StructuredLogger
	eb     *errors.ErrorBuilder
}

// NewWeaviateStore creates the store and ensures its schema class exists
func NewWeaviateStore(config *WeaviateConfig, logger *logging.StructuredLogger) (*WeaviateStore, error) {
	if config == nil {
		return nil, fmt.Errorf("weaviate config cannot be nil")
	}
	if config.Scheme == "" {
		config.Scheme = "http"
	}
	if config.ClassName == "" {
		config.ClassName = "WorkflowMetadata"
	}
	if config.HybridAlpha == 0 {
		config.HybridAlpha = 0.7 // 70% vector, 30% keyword
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}

	clientConfig := weaviate.Config{
		Host:   config.Host,
		Scheme: config.Scheme,
	}
	if config.APIKey != "" {
		clientConfig.AuthConfig = auth.ApiKey{Value: config.APIKey}
	}
	if config.OpenAIAPIKey != "" {
		clientConfig.Headers = map[string]string{"X-OpenAI-Api-Key": config.OpenAIAPIKey}
	}

	client, err := weaviate.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	ws := &WeaviateStore{
		client: client,
		config: config,
		logger: logger.WithComponent("weaviate-store"),
		eb:     errors.NewErrorBuilder("weaviate-store", "vector"),
	}

	if err := ws.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return ws, nil
}

// ensureSchema creates the metadata class if it does not exist yet
func (ws *WeaviateStore) ensureSchema(ctx context.Context) error {
	class := &models.Class{
		Class:       ws.config.ClassName,
		Description: "Flattened ETL workflow metadata records",
		Vectorizer:  "text2vec-openai",
		Properties: []*models.Property{
			{
				Name:            "text",
				DataType:        []string{"text"},
				Description:     "Denormalized description of the component",
				IndexSearchable: boolPtr(true),
			},
			{
				Name:            "workflowName",
				DataType:        []string{"text"},
				Description:     "Owning workflow name",
				IndexFilterable: boolPtr(true),
				IndexSearchable: boolPtr(true),
			},
			{
				Name:            "setFile",
				DataType:        []string{"text"},
				Description:     "Source set file the record was extracted from",
				IndexFilterable: boolPtr(true),
			},
			{
				Name:            "componentType",
				DataType:        []string{"text"},
				Description:     "Entity kind (workflow, session, source_table, target_table, transformation)",
				IndexFilterable: boolPtr(true),
			},
			{
				Name:            "componentName",
				DataType:        []string{"text"},
				Description:     "Component name",
				IndexFilterable: boolPtr(true),
				IndexSearchable: boolPtr(true),
			},
		},
	}

	err := ws.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return ws.eb.DependencyError("weaviate", "failed to create schema class").WithCause(err)
	}
	ws.logger.Info("Created schema class", "class", ws.config.ClassName)
	return nil
}

// Upsert writes records in one batch. Stable record ids make this idempotent:
// an existing object with the same id is replaced. Per-object failures are
// collected into the batch result and never abort the rest.
func (ws *WeaviateStore) Upsert(ctx context.Context, records []*IndexedRecord) (*BatchResult, error) {
	if len(records) == 0 {
		return &BatchResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ws.config.Timeout)
	defer cancel()

	batcher := ws.client.Batch().ObjectsBatcher()
	for _, rec := range records {
		batcher = batcher.WithObjects(&models.Object{
			Class: ws.config.ClassName,
			ID:    strfmt.UUID(rec.ID),
			Properties: map[string]interface{}{
				"text":          rec.Text,
				"workflowName":  rec.WorkflowName,
				"setFile":       rec.SetFile,
				"componentType": string(rec.ComponentType),
				"componentName": rec.ComponentName,
			},
		})
	}

	resp, err := batcher.Do(ctx)
	if err != nil {
		return nil, ws.eb.DependencyError("weaviate", "batch upsert failed").WithCause(err)
	}

	result := &BatchResult{}
	for i, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			result.Failed = append(result.Failed, RecordError{
				RecordID: records[i].ID,
				Message:  obj.Result.Errors.Error[0].Message,
			})
			continue
		}
		result.Indexed++
	}

	ws.logger.Info("Batch upsert completed",
		"indexed", result.Indexed,
		"failed", len(result.Failed),
	)
	return result, nil
}

// Query runs a hybrid search and returns scored hits
func (ws *WeaviateStore) Query(ctx context.Context, text string, topK int, queryFilters map[string]string) ([]*Hit, error) {
	if text == "" {
		return nil, ws.eb.InvalidInputError("text", "query text cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	ctx, cancel := context.WithTimeout(ctx, ws.config.Timeout)
	defer cancel()

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "workflowName"},
		{Name: "setFile"},
		{Name: "componentType"},
		{Name: "componentName"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "score"},
		}},
	}

	query := ws.client.GraphQL().Get().
		WithClassName(ws.config.ClassName).
		WithHybrid(ws.client.GraphQL().HybridArgumentBuilder().
			WithQuery(text).
			WithAlpha(ws.config.HybridAlpha)).
		WithFields(fields...).
		WithLimit(topK)

	if where := buildWhere(queryFilters); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, ws.eb.DependencyError("weaviate", "hybrid search failed").WithCause(err)
	}
	if len(result.Errors) > 0 {
		return nil, ws.eb.DependencyError("weaviate", result.Errors[0].Message)
	}

	hits := ws.parseHits(result.Data)
	ws.logger.Debug("Hybrid search completed", "query", text, "hits", len(hits))
	return hits, nil
}

// DeleteSet removes every record belonging to one set file
func (ws *WeaviateStore) DeleteSet(ctx context.Context, setFile string) error {
	ctx, cancel := context.WithTimeout(ctx, ws.config.Timeout)
	defer cancel()

	where := filters.Where().
		WithPath([]string{"setFile"}).
		WithOperator(filters.Equal).
		WithValueText(setFile)

	_, err := ws.client.Batch().ObjectsBatchDeleter().
		WithClassName(ws.config.ClassName).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return ws.eb.DependencyError("weaviate", "batch delete failed").
			WithMetadata("set_file", setFile).WithCause(err)
	}
	return nil
}

// Ready probes cluster liveness
func (ws *WeaviateStore) Ready(ctx context.Context) error {
	ready, err := ws.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return ws.eb.DependencyError("weaviate", "readiness probe failed").WithCause(err)
	}
	if !ready {
		return ws.eb.DependencyError("weaviate", "cluster not ready")
	}
	return nil
}

func (ws *WeaviateStore) parseHits(data map[string]models.JSONObject) []*Hit {
	hits := make([]*Hit, 0)
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return hits
	}
	items, ok := get[ws.config.ClassName].([]interface{})
	if !ok {
		return hits
	}

	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		hit := &Hit{}
		if v, ok := m["text"].(string); ok {
			hit.Text = v
		}
		if v, ok := m["workflowName"].(string); ok {
			hit.WorkflowName = v
		}
		if v, ok := m["setFile"].(string); ok {
			hit.SetFile = v
		}
		if v, ok := m["componentType"].(string); ok {
			hit.ComponentType = v
		}
		if v, ok := m["componentName"].(string); ok {
			hit.ComponentName = v
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if v, ok := add["id"].(string); ok {
				hit.RecordID = v
			}
			switch s := add["score"].(type) {
			case float64:
				hit.Score = float32(s)
			case string:
				hit.Score = parseScore(s)
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

func buildWhere(queryFilters map[string]string) *filters.WhereBuilder {
	if len(queryFilters) == 0 {
		return nil
	}
	operands := make([]*filters.WhereBuilder, 0, len(queryFilters))
	for field, value := range queryFilters {
		operands = append(operands, filters.Where().
			WithPath([]string{field}).
			WithOperator(filters.Equal).
			WithValueText(value))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func parseScore(s string) float32 {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return 0
	}
	return float32(f)
}

func boolPtr(b bool) *bool { return &b }

// Package services wires the workflow agent's components together and owns
// their lifecycle.
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wfmeta/workflow-agent/pkg/blobstore"
	"github.com/wfmeta/workflow-agent/pkg/config"
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

// WorkflowAgentService owns the component graph: metadata store, extractor,
// vector index, resolver, composer, debug engine, and the optional cache and
// blob archive.
type WorkflowAgentService struct {
	cfg    *config.Config
	logger *logging.StructuredLogger

	store     *store.Store
	extractor *metadata.Extractor
	vector    rag.VectorStore
	indexer   *rag.IndexBuilder
	resolver  *rag.Resolver
	cache     *rag.QueryCache
	composer  *llm.Composer
	debugger  *debug.Engine
	archive   *blobstore.Store
	checker   *health.Checker
	metrics   *monitoring.Metrics
}

// NewWorkflowAgentService creates the service shell. Initialize builds the
// component graph.
func NewWorkflowAgentService(cfg *config.Config, logger *logging.StructuredLogger) *WorkflowAgentService {
	return &WorkflowAgentService{
		cfg:    cfg,
		logger: logger.WithComponent("service"),
	}
}

// Initialize builds and connects every component. The vector store is a hard
// dependency; the query cache, blob archive, and completion backend are
// optional and their absence only narrows functionality.
func (s *WorkflowAgentService) Initialize(ctx context.Context) error {
	s.metrics = monitoring.NewMetrics(prometheus.DefaultRegisterer)
	s.store = store.New()
	s.extractor = metadata.NewExtractor()
	s.checker = health.NewChecker(s.cfg.ServiceVersion, s.logger)

	vector, err := rag.NewWeaviateStore(&rag.WeaviateConfig{
		Host:         s.cfg.WeaviateHost,
		Scheme:       s.cfg.WeaviateScheme,
		APIKey:       s.cfg.WeaviateAPIKey,
		ClassName:    s.cfg.WeaviateClass,
		HybridAlpha:  s.cfg.HybridAlpha,
		Timeout:      s.cfg.WeaviateTimeout,
		OpenAIAPIKey: s.cfg.LLMAPIKey,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}
	s.vector = vector
	s.indexer = rag.NewIndexBuilder(s.vector, s.logger)
	s.checker.RegisterCheck(health.Check{
		Name:     "weaviate",
		Critical: true,
		Probe:    s.vector.Ready,
	})

	if s.cfg.RedisEnabled() {
		cache, err := rag.NewQueryCache(&rag.QueryCacheConfig{
			Address:  s.cfg.RedisAddress,
			Password: s.cfg.RedisPassword,
			Database: s.cfg.RedisDatabase,
			TTL:      s.cfg.QueryCacheTTL,
		}, s.logger)
		if err != nil {
			// Cache-less operation is slower, not broken.
			s.logger.Warn("query cache unavailable, continuing without it", "error", err)
		} else {
			s.cache = cache
			s.checker.RegisterCheck(health.Check{
				Name:     "query-cache",
				Critical: false,
				Probe:    cache.Ping,
			})
		}
	}

	var resultCache rag.ResultCache
	if s.cache != nil {
		resultCache = s.cache
	}
	s.resolver = rag.NewResolver(s.store, s.vector, resultCache, rag.ResolverConfig{
		TopK:                s.cfg.SemanticTopK,
		ConfidenceThreshold: s.cfg.ConfidenceThreshold,
	}, s.logger, s.metrics)

	var client llm.Client
	if s.cfg.LLMEnabled() {
		client = llm.NewOpenAIClient(&llm.ClientConfig{
			APIKey:    s.cfg.LLMAPIKey,
			Endpoint:  s.cfg.LLMEndpoint,
			Model:     s.cfg.LLMModelName,
			MaxTokens: s.cfg.LLMMaxTokens,
			Timeout:   s.cfg.LLMTimeout,
		}, s.logger)
	} else {
		s.logger.Info("no completion backend configured, answers will be retrieval-only")
	}
	s.composer = llm.NewComposer(client, llm.NewPromptBuilder(s.cfg.MaxContextChars), s.logger, s.metrics)

	rules, err := debug.LoadRules(s.cfg.DebugRulesFile)
	if err != nil {
		return fmt.Errorf("loading debug rules: %w", err)
	}
	s.debugger = debug.NewEngine(s.store, rules, s.logger)

	if s.cfg.BlobStoreEnabled() {
		archive, err := blobstore.NewStore(ctx, s.cfg.S3Bucket, s.cfg.S3Region, s.logger)
		if err != nil {
			return fmt.Errorf("initializing blob archive: %w", err)
		}
		s.archive = archive
	}

	if err := s.loadStartupDirectory(ctx); err != nil {
		return err
	}

	s.logger.Info("service initialized",
		"llm_enabled", s.cfg.LLMEnabled(),
		"cache_enabled", s.cache != nil,
		"archive_enabled", s.archive != nil,
	)
	return nil
}

// IngestSetFile parses one set file, replaces its workflows in the store,
// and rebuilds its slice of the vector index. Re-ingesting the same bytes is
// a no-op for queries: record ids are deterministic and the previous records
// for the set are removed first.
func (s *WorkflowAgentService) IngestSetFile(ctx context.Context, setFile string, data []byte) (*metadata.SourceFile, error) {
	if int64(len(data)) > s.cfg.MaxXMLFileSize {
		return nil, errors.NewErrorBuilder("service", "ingest").
			InvalidInputError("file", fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxXMLFileSize))
	}

	workflows, err := s.extractor.Extract(setFile, data)
	if err != nil {
		return nil, err
	}

	source := s.store.ReplaceSet(setFile, workflows)

	result, err := s.indexer.IngestSet(ctx, setFile, workflows)
	if err != nil {
		// Exact lookups still work from the store; semantic search for this
		// set is stale until the next successful refresh.
		s.logger.Error("vector indexing failed, exact lookups remain available",
			"set_file", setFile, "error", err)
	} else {
		s.metrics.ObserveIngest(result.Indexed, len(result.Failed))
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}

	if s.archive != nil {
		if err := s.archive.Put(ctx, setFile, data); err != nil {
			s.logger.Warn("archiving set file failed", "set_file", setFile, "error", err)
		}
	}

	s.logger.Info("set file ingested",
		"set_file", setFile,
		"workflows", source.WorkflowCount,
	)
	return source, nil
}

// Refresh re-ingests every XML file in the configured directory
func (s *WorkflowAgentService) Refresh(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.cfg.XMLDirectory)
	if err != nil {
		return 0, errors.NewErrorBuilder("service", "refresh").
			InvalidInputError("directory", fmt.Sprintf("reading %s: %v", s.cfg.XMLDirectory, err))
	}

	ingested := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".xml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.cfg.XMLDirectory, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable file", "file", entry.Name(), "error", err)
			continue
		}
		if _, err := s.IngestSetFile(ctx, entry.Name(), data); err != nil {
			s.logger.Warn("skipping file that failed to parse", "file", entry.Name(), "error", err)
			continue
		}
		ingested++
	}
	return ingested, nil
}

// loadStartupDirectory ingests the XML directory at boot. A missing
// directory is fine; the service starts empty and waits for uploads.
func (s *WorkflowAgentService) loadStartupDirectory(ctx context.Context) error {
	if _, err := os.Stat(s.cfg.XMLDirectory); os.IsNotExist(err) {
		s.logger.Info("XML directory not found, starting with empty metadata",
			"directory", s.cfg.XMLDirectory)
		return nil
	}
	n, err := s.Refresh(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("startup ingest complete", "files", n)
	return nil
}

// GetComponents returns the initialized component graph for handler wiring
func (s *WorkflowAgentService) GetComponents() (*store.Store, *rag.Resolver, *llm.Composer, *debug.Engine, *health.Checker, *monitoring.Metrics) {
	return s.store, s.resolver, s.composer, s.debugger, s.checker, s.metrics
}

// Shutdown releases held connections
func (s *WorkflowAgentService) Shutdown(ctx context.Context) {
	s.checker.SetReady(false)
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("closing query cache", "error", err)
		}
	}
	s.logger.Info("service shut down")
}

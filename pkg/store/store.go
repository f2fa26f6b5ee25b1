// Package store holds the authoritative cache of extracted workflow records.
// Every semantic search hit is validated against this store before it is
// trusted; the store is therefore the single source of truth for what
// workflows actually exist.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wfmeta/workflow-agent/pkg/metadata"
)

// Store is an in-memory, concurrency-safe cache of workflow records keyed by
// set file. Ingest replaces a whole set file atomically under the write lock;
// reads run concurrently.
type Store struct {
	mu       sync.RWMutex
	sets     map[string]*setEntry
	searches int64
}

type setEntry struct {
	sourceFile *metadata.SourceFile
	workflows  map[string]*metadata.Workflow // lower-cased name -> workflow
	order      []string
}

// Snapshot is a point-in-time view of store statistics
type Snapshot struct {
	TotalWorkflows  int            `json:"total_workflows"`
	TotalSets       int            `json:"total_sets"`
	SearchCount     int64          `json:"search_count"`
	WorkflowsPerSet map[string]int `json:"workflows_per_set"`
}

// New creates an empty store
func New() *Store {
	return &Store{sets: make(map[string]*setEntry)}
}

// ReplaceSet atomically replaces all workflows of one set file. Re-ingesting
// the same file is idempotent; a re-upload supersedes the previous parse.
func (s *Store) ReplaceSet(setFile string, workflows []*metadata.Workflow) *metadata.SourceFile {
	entry := &setEntry{
		sourceFile: &metadata.SourceFile{
			ID:            setFile,
			Name:          setFile,
			ParsedAt:      time.Now(),
			WorkflowCount: len(workflows),
		},
		workflows: make(map[string]*metadata.Workflow, len(workflows)),
	}
	for _, wf := range workflows {
		key := strings.ToLower(wf.Name)
		if _, seen := entry.workflows[key]; !seen {
			entry.order = append(entry.order, key)
		}
		entry.workflows[key] = wf
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[setFile] = entry
	return entry.sourceFile
}

// RemoveSet drops all workflows of one set file
func (s *Store) RemoveSet(setFile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, setFile)
}

// Clear drops all cached records
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = make(map[string]*setEntry)
}

// Workflow looks up one workflow by exact name, optionally qualified by set
// file. Name matching is case-insensitive. With no qualifier the first set
// (in insertion-stable sorted order) containing the name wins.
func (s *Store) Workflow(name, setFile string) (*metadata.Workflow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := strings.ToLower(name)
	if setFile != "" {
		entry, ok := s.sets[setFile]
		if !ok {
			return nil, false
		}
		wf, ok := entry.workflows[key]
		return wf, ok
	}

	for _, set := range s.sortedSetNames() {
		if wf, ok := s.sets[set].workflows[key]; ok {
			return wf, true
		}
	}
	return nil, false
}

// ExactSearch returns every workflow with the given name across all set
// files. Same-named workflows in different sets are distinct records.
func (s *Store) ExactSearch(name string) []*metadata.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := strings.ToLower(name)
	var out []*metadata.Workflow
	for _, set := range s.sortedSetNames() {
		if wf, ok := s.sets[set].workflows[key]; ok {
			out = append(out, wf)
		}
	}
	return out
}

// Has reports whether the set-file qualified workflow exists. This is the
// validation primitive the resolver uses to reject orphaned semantic hits.
func (s *Store) Has(setFile, workflowName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sets[setFile]
	if !ok {
		return false
	}
	_, ok = entry.workflows[strings.ToLower(workflowName)]
	return ok
}

// WorkflowsForTable computes the derived table-to-workflow relation: every
// workflow whose sessions read or write the named table, deduplicated, in
// deterministic order.
func (s *Store) WorkflowsForTable(table string) []*metadata.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.Workflow
	for _, set := range s.sortedSetNames() {
		entry := s.sets[set]
		for _, key := range entry.order {
			wf := entry.workflows[key]
			if wf.ReferencesTable(table) {
				out = append(out, wf)
			}
		}
	}
	return out
}

// Sets returns the names of all ingested set files
func (s *Store) Sets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedSetNames()
}

// SourceFiles returns the parse records for all ingested set files
func (s *Store) SourceFiles() []*metadata.SourceFile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*metadata.SourceFile
	for _, set := range s.sortedSetNames() {
		out = append(out, s.sets[set].sourceFile)
	}
	return out
}

// RecordSearch bumps the search counter for statistics
func (s *Store) RecordSearch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
}

// Stats returns a point-in-time statistics snapshot
func (s *Store) Stats() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		TotalSets:       len(s.sets),
		SearchCount:     s.searches,
		WorkflowsPerSet: make(map[string]int, len(s.sets)),
	}
	for set, entry := range s.sets {
		snap.TotalWorkflows += len(entry.workflows)
		snap.WorkflowsPerSet[set] = len(entry.workflows)
	}
	return snap
}

// sortedSetNames must be called with at least the read lock held
func (s *Store) sortedSetNames() []string {
	names := make([]string, 0, len(s.sets))
	for set := range s.sets {
		names = append(names, set)
	}
	sort.Strings(names)
	return names
}

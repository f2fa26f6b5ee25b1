package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfmeta/workflow-agent/pkg/metadata"
)

func wf(name, setFile string, sources, targets []string) *metadata.Workflow {
	w := &metadata.Workflow{Name: name, SetFile: setFile, Status: metadata.StatusActive}
	for _, s := range sources {
		w.SourceTables = append(w.SourceTables, &metadata.SourceTable{Name: s})
	}
	for _, t := range targets {
		w.TargetTables = append(w.TargetTables, &metadata.TargetTable{Name: t})
	}
	return w
}

func TestWorkflowLookup(t *testing.T) {
	s := New()
	s.ReplaceSet("set30", []*metadata.Workflow{
		wf("wf_customer_load", "set30", []string{"CRM_CUSTOMERS"}, []string{"DIM_CUSTOMER"}),
	})

	got, ok := s.Workflow("wf_customer_load", "set30")
	require.True(t, ok)
	assert.Equal(t, "set30", got.SetFile)

	// case-insensitive
	_, ok = s.Workflow("WF_CUSTOMER_LOAD", "set30")
	assert.True(t, ok)

	// unqualified lookup
	got, ok = s.Workflow("wf_customer_load", "")
	require.True(t, ok)
	assert.Equal(t, "set30", got.SetFile)

	_, ok = s.Workflow("wf_customer_load", "set31")
	assert.False(t, ok)

	_, ok = s.Workflow("wf_missing", "")
	assert.False(t, ok)
}

func TestSameNameAcrossSets(t *testing.T) {
	s := New()
	s.ReplaceSet("set30", []*metadata.Workflow{wf("wf_customer_load", "set30", nil, nil)})
	s.ReplaceSet("set31", []*metadata.Workflow{wf("wf_customer_load", "set31", nil, nil)})

	results := s.ExactSearch("wf_customer_load")
	require.Len(t, results, 2)
	assert.Equal(t, "set30", results[0].SetFile)
	assert.Equal(t, "set31", results[1].SetFile)
}

func TestReplaceSetSupersedes(t *testing.T) {
	s := New()
	s.ReplaceSet("set30", []*metadata.Workflow{
		wf("wf_a", "set30", nil, nil),
		wf("wf_b", "set30", nil, nil),
	})
	require.Equal(t, 2, s.Stats().TotalWorkflows)

	// re-upload: old content fully replaced, not merged
	s.ReplaceSet("set30", []*metadata.Workflow{wf("wf_c", "set30", nil, nil)})
	assert.Equal(t, 1, s.Stats().TotalWorkflows)
	_, ok := s.Workflow("wf_a", "set30")
	assert.False(t, ok)
	assert.True(t, s.Has("set30", "wf_c"))
}

func TestReplaceSetIdempotent(t *testing.T) {
	s := New()
	workflows := []*metadata.Workflow{wf("wf_a", "set30", nil, nil)}
	s.ReplaceSet("set30", workflows)
	s.ReplaceSet("set30", workflows)
	assert.Equal(t, 1, s.Stats().TotalWorkflows)
	assert.Equal(t, 1, s.Stats().TotalSets)
}

func TestWorkflowsForTable(t *testing.T) {
	s := New()
	s.ReplaceSet("set30", []*metadata.Workflow{
		wf("wf_customer_load", "set30", []string{"STG_CUSTOMERS"}, []string{"DIM_CUSTOMER"}),
		wf("wf_customer_export", "set30", []string{"DIM_CUSTOMER"}, []string{"EXT_CUSTOMER"}),
	})
	s.ReplaceSet("set31", []*metadata.Workflow{
		wf("wf_customer_refresh", "set31", nil, []string{"DIM_CUSTOMER"}),
	})

	results := s.WorkflowsForTable("dim_customer")
	require.Len(t, results, 3)

	names := make(map[string]bool)
	for _, w := range results {
		names[w.Name] = true
	}
	assert.Len(t, names, 3, "no duplicates")
	assert.True(t, names["wf_customer_refresh"])
}

func TestHas(t *testing.T) {
	s := New()
	s.ReplaceSet("set30", []*metadata.Workflow{wf("wf_a", "set30", nil, nil)})

	assert.True(t, s.Has("set30", "wf_a"))
	assert.True(t, s.Has("set30", "WF_A"))
	assert.False(t, s.Has("set31", "wf_a"))
	assert.False(t, s.Has("set30", "wf_gone"))
}

func TestRemoveSetOrphansValidation(t *testing.T) {
	s := New()
	s.ReplaceSet("set30", []*metadata.Workflow{wf("wf_a", "set30", nil, nil)})
	require.True(t, s.Has("set30", "wf_a"))

	s.RemoveSet("set30")
	assert.False(t, s.Has("set30", "wf_a"), "removed records must fail validation")
	assert.Empty(t, s.Sets())
}

func TestStats(t *testing.T) {
	s := New()
	s.ReplaceSet("set30", []*metadata.Workflow{wf("wf_a", "set30", nil, nil), wf("wf_b", "set30", nil, nil)})
	s.ReplaceSet("set31", []*metadata.Workflow{wf("wf_c", "set31", nil, nil)})
	s.RecordSearch()
	s.RecordSearch()

	snap := s.Stats()
	assert.Equal(t, 3, snap.TotalWorkflows)
	assert.Equal(t, 2, snap.TotalSets)
	assert.Equal(t, int64(2), snap.SearchCount)
	assert.Equal(t, 2, snap.WorkflowsPerSet["set30"])
}

func TestConcurrentReadsAndIngest(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			set := fmt.Sprintf("set%d", i)
			s.ReplaceSet(set, []*metadata.Workflow{wf(fmt.Sprintf("wf_%d", i), set, nil, []string{"T"})})
		}(i)
		go func() {
			defer wg.Done()
			s.WorkflowsForTable("T")
			s.Stats()
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, s.Stats().TotalSets)
}

package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfmeta/workflow-agent/pkg/errors"
)

const namespacedExport = `<?xml version="1.0" encoding="UTF-8"?>
<EXPORT xmlns="http://www.example.com/etl/export">
  <REPOSITORY>
    <WORKFLOW>
      <NAME>wf_customer_load</NAME>
      <DESCRIPTION>Loads customer dimension</DESCRIPTION>
      <CREATED>2023-04-01 10:30:00</CREATED>
      <SESSION>
        <NAME>s_customer_load</NAME>
        <MAPPING>m_customer_load</MAPPING>
        <SOURCECONNECTION><NAME>SRC_CRM</NAME></SOURCECONNECTION>
        <TARGETCONNECTION><NAME>TGT_DWH</NAME></TARGETCONNECTION>
        <PROPERTY><NAME>CommitInterval</NAME><VALUE>10000</VALUE></PROPERTY>
      </SESSION>
      <SOURCE>
        <NAME>CRM_CUSTOMERS</NAME>
        <SCHEMA>CRM</SCHEMA>
        <COLUMN><NAME>CUST_ID</NAME><DATATYPE>number</DATATYPE></COLUMN>
        <COLUMN><NAME>CUST_NAME</NAME><DATATYPE>varchar2</DATATYPE></COLUMN>
      </SOURCE>
      <TARGET>
        <NAME>DIM_CUSTOMER</NAME>
        <SCHEMA>DWH</SCHEMA>
        <LOADTYPE>upsert</LOADTYPE>
      </TARGET>
      <TRANSFORMATION>
        <NAME>fil_active_customers</NAME>
        <TYPE>Filter</TYPE>
        <EXPRESSION>STATUS = 'ACTIVE'</EXPRESSION>
        <INPUTPORT><NAME>STATUS</NAME></INPUTPORT>
        <OUTPUTPORT><NAME>STATUS</NAME></OUTPUTPORT>
      </TRANSFORMATION>
    </WORKFLOW>
  </REPOSITORY>
</EXPORT>`

const attributeStyleExport = `<?xml version="1.0"?>
<POWERMART>
  <REPOSITORY NAME="REP_MAIN">
    <FOLDER NAME="SALES">
      <WORKFLOW NAME="wf_orders_daily" DESCRIPTION="Daily order load">
        <SESSION NAME="s_orders" MAPPING="m_orders"/>
        <SOURCE NAME="STG_ORDERS" DATABASE="STAGING"/>
        <TARGET NAME="FACT_ORDERS" LOADTYPE="insert"/>
        <TRANSFORMATION NAME="exp_amounts" TYPE="Expression"/>
      </WORKFLOW>
    </FOLDER>
  </REPOSITORY>
</POWERMART>`

func TestExtractNamespacedExport(t *testing.T) {
	workflows, err := NewExtractor().Extract("set30", []byte(namespacedExport))
	require.NoError(t, err)
	require.Len(t, workflows, 1)

	wf := workflows[0]
	assert.Equal(t, "wf_customer_load", wf.Name)
	assert.Equal(t, "set30", wf.SetFile)
	assert.Equal(t, "Loads customer dimension", wf.Description)
	assert.Equal(t, StatusActive, wf.Status)
	require.NotNil(t, wf.CreatedAt)
	assert.Equal(t, 2023, wf.CreatedAt.Year())

	require.Len(t, wf.Sessions, 1)
	sess := wf.Sessions[0]
	assert.Equal(t, "s_customer_load", sess.Name)
	assert.Equal(t, "wf_customer_load", sess.WorkflowName)
	assert.Equal(t, "m_customer_load", sess.MappingName)
	assert.Equal(t, []string{"SRC_CRM"}, sess.SourceConnections)
	assert.Equal(t, []string{"TGT_DWH"}, sess.TargetConnections)
	assert.Equal(t, "10000", sess.Properties["CommitInterval"])

	require.Len(t, wf.SourceTables, 1)
	assert.Equal(t, "CRM_CUSTOMERS", wf.SourceTables[0].Name)
	assert.Len(t, wf.SourceTables[0].Columns, 2)

	require.Len(t, wf.TargetTables, 1)
	assert.Equal(t, "DIM_CUSTOMER", wf.TargetTables[0].Name)
	assert.Equal(t, "upsert", wf.TargetTables[0].LoadType)

	require.Len(t, wf.Transformations, 1)
	tr := wf.Transformations[0]
	assert.Equal(t, "fil_active_customers", tr.Name)
	assert.Equal(t, "Filter", tr.Type)
	assert.Equal(t, "STATUS = 'ACTIVE'", tr.Expression)
	assert.Equal(t, []string{"STATUS"}, tr.InputPorts)
}

func TestExtractAttributeStyleExport(t *testing.T) {
	// older exports put names in attributes instead of child elements
	workflows, err := NewExtractor().Extract("set12", []byte(attributeStyleExport))
	require.NoError(t, err)
	require.Len(t, workflows, 1)

	wf := workflows[0]
	assert.Equal(t, "wf_orders_daily", wf.Name)
	require.Len(t, wf.Sessions, 1)
	assert.Equal(t, "s_orders", wf.Sessions[0].Name)
	require.Len(t, wf.SourceTables, 1)
	assert.Equal(t, "STG_ORDERS", wf.SourceTables[0].Name)
	require.Len(t, wf.TargetTables, 1)
	assert.Equal(t, "FACT_ORDERS", wf.TargetTables[0].Name)
	require.Len(t, wf.Transformations, 1)
	assert.Equal(t, "Expression", wf.Transformations[0].Type)
}

func TestExtractDeterminism(t *testing.T) {
	e := NewExtractor()
	first, err := e.Extract("set30", []byte(namespacedExport))
	require.NoError(t, err)
	second, err := e.Extract("set30", []byte(namespacedExport))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractEmptyFile(t *testing.T) {
	workflows, err := NewExtractor().Extract("empty", nil)
	require.NoError(t, err)
	assert.Empty(t, workflows)

	workflows, err = NewExtractor().Extract("blank", []byte("   \n  "))
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestExtractMalformedXML(t *testing.T) {
	_, err := NewExtractor().Extract("broken", []byte(`<EXPORT><WORKFLOW><NAME>wf_x`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
}

func TestExtractDuplicateWorkflowLastWins(t *testing.T) {
	doc := `<EXPORT>
	  <WORKFLOW><NAME>wf_dup</NAME><DESCRIPTION>first</DESCRIPTION></WORKFLOW>
	  <WORKFLOW><NAME>wf_dup</NAME><DESCRIPTION>second</DESCRIPTION></WORKFLOW>
	</EXPORT>`

	workflows, err := NewExtractor().Extract("set1", []byte(doc))
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "second", workflows[0].Description)
}

func TestExtractDeduplicatesTables(t *testing.T) {
	doc := `<EXPORT><WORKFLOW><NAME>wf_multi</NAME>
	  <SOURCE NAME="ORDERS"/>
	  <SOURCE NAME="orders"/>
	  <TARGET NAME="FACT_ORDERS"/>
	  <TARGET NAME="FACT_ORDERS"/>
	</WORKFLOW></EXPORT>`

	workflows, err := NewExtractor().Extract("set1", []byte(doc))
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Len(t, workflows[0].SourceTables, 1)
	assert.Len(t, workflows[0].TargetTables, 1)
}

func TestReferencesTable(t *testing.T) {
	wf := &Workflow{
		Name:         "wf_customer_load",
		SetFile:      "set30",
		SourceTables: []*SourceTable{{Name: "CRM_CUSTOMERS"}},
		TargetTables: []*TargetTable{{Name: "DIM_CUSTOMER"}},
	}

	assert.True(t, wf.ReferencesTable("dim_customer"))
	assert.True(t, wf.ReferencesTable("CRM_CUSTOMERS"))
	assert.True(t, wf.WritesTable("DIM_CUSTOMER"))
	assert.False(t, wf.WritesTable("CRM_CUSTOMERS"))
	assert.False(t, wf.ReferencesTable("FACT_ORDERS"))
}

package metadata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wfmeta/workflow-agent/pkg/errors"
)

// dateLayouts covers the date formats seen across export versions
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// Extractor parses vendor XML exports into structured workflow records.
// The export dialect varies across versions: element names may be
// namespace-qualified or not, and names may appear either as a NAME child
// element or a NAME attribute. The extractor matches on local names only and
// accepts both name conventions.
type Extractor struct{}

// NewExtractor creates a metadata extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract parses raw XML from one set file into workflow records. It is a
// pure function over the input bytes: an empty document yields an empty
// record set and no error, malformed XML yields a ParseError naming the
// offending element. Duplicate workflow names within one file resolve
// last-wins.
func (e *Extractor) Extract(setFile string, data []byte) ([]*Workflow, error) {
	eb := errors.NewErrorBuilder("extractor", "extract")

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	root, err := parseTree(data)
	if err != nil {
		return nil, eb.ParseError(elementOf(err), "malformed XML document").
			WithDetails(setFile).WithCause(err)
	}
	if root == nil {
		return nil, nil
	}

	byName := make(map[string]int)
	var workflows []*Workflow

	for _, wfNode := range root.findAll("WORKFLOW") {
		wf, err := e.extractWorkflow(wfNode, setFile)
		if err != nil {
			return nil, err
		}
		if wf == nil {
			continue
		}
		if i, ok := byName[strings.ToLower(wf.Name)]; ok {
			workflows[i] = wf // last wins
			continue
		}
		byName[strings.ToLower(wf.Name)] = len(workflows)
		workflows = append(workflows, wf)
	}

	return workflows, nil
}

func (e *Extractor) extractWorkflow(node *element, setFile string) (*Workflow, error) {
	name := node.nameOf()
	if name == "" {
		return nil, errors.NewErrorBuilder("extractor", "extract").
			ParseError("WORKFLOW", "workflow element has no name").WithDetails(setFile)
	}

	wf := &Workflow{
		Name:        name,
		SetFile:     setFile,
		Description: node.childText("DESCRIPTION"),
		Status:      StatusActive,
		CreatedAt:   parseDate(node.childText("CREATED")),
		ModifiedAt:  parseDate(node.childText("MODIFIED")),
		Attributes:  node.properties(),
	}

	for _, sessNode := range node.findAll("SESSION") {
		sessName := sessNode.nameOf()
		if sessName == "" {
			continue
		}
		mapping := sessNode.childText("MAPPING")
		if mapping == "" {
			mapping = strings.TrimSpace(sessNode.attrs["MAPPINGNAME"])
		}
		wf.Sessions = append(wf.Sessions, &Session{
			Name:              sessName,
			WorkflowName:      name,
			MappingName:       mapping,
			SourceConnections: sessNode.connectionNames("SOURCECONNECTION"),
			TargetConnections: sessNode.connectionNames("TARGETCONNECTION"),
			Properties:        sessNode.properties(),
		})
	}

	seenSources := make(map[string]bool)
	for _, srcNode := range node.findAll("SOURCE") {
		srcName := srcNode.nameOf()
		if srcName == "" || seenSources[strings.ToLower(srcName)] {
			continue
		}
		seenSources[strings.ToLower(srcName)] = true
		wf.SourceTables = append(wf.SourceTables, &SourceTable{
			Name:       srcName,
			Schema:     srcNode.childText("SCHEMA"),
			Database:   srcNode.childText("DATABASE"),
			Connection: srcNode.childText("CONNECTION"),
			Columns:    srcNode.columns(),
		})
	}

	seenTargets := make(map[string]bool)
	for _, tgtNode := range node.findAll("TARGET") {
		tgtName := tgtNode.nameOf()
		if tgtName == "" || seenTargets[strings.ToLower(tgtName)] {
			continue
		}
		seenTargets[strings.ToLower(tgtName)] = true
		wf.TargetTables = append(wf.TargetTables, &TargetTable{
			Name:       tgtName,
			Schema:     tgtNode.childText("SCHEMA"),
			Database:   tgtNode.childText("DATABASE"),
			Connection: tgtNode.childText("CONNECTION"),
			LoadType:   tgtNode.childText("LOADTYPE"),
			Columns:    tgtNode.columns(),
		})
	}

	seenTrans := make(map[string]bool)
	for _, trNode := range node.findAll("TRANSFORMATION") {
		trName := trNode.nameOf()
		if trName == "" || seenTrans[strings.ToLower(trName)] {
			continue
		}
		seenTrans[strings.ToLower(trName)] = true
		tr := &Transformation{
			Name:       trName,
			Type:       trNode.childOrAttr("TYPE"),
			Expression: trNode.childText("EXPRESSION"),
			Properties: trNode.properties(),
		}
		for _, p := range trNode.findAll("INPUTPORT") {
			if n := p.nameOf(); n != "" {
				tr.InputPorts = append(tr.InputPorts, n)
			}
		}
		for _, p := range trNode.findAll("OUTPUTPORT") {
			if n := p.nameOf(); n != "" {
				tr.OutputPorts = append(tr.OutputPorts, n)
			}
		}
		wf.Transformations = append(wf.Transformations, tr)
	}

	return wf, nil
}

// element is a namespace-stripped view of one XML element
type element struct {
	local    string
	attrs    map[string]string
	text     string
	children []*element
}

// parseTree decodes the document into a local-name element tree
func parseTree(data []byte) (*element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*element
	var root *element

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{local: strings.ToUpper(t.Name.Local), attrs: make(map[string]string)}
			for _, a := range t.Attr {
				el.attrs[strings.ToUpper(a.Name.Local)] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, el)
			} else if root == nil {
				root = el
			}
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}

	if len(stack) != 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return root, nil
}

// findAll returns all descendants with the given local name
func (el *element) findAll(local string) []*element {
	var out []*element
	for _, c := range el.children {
		if c.local == local {
			out = append(out, c)
		}
		out = append(out, c.findAll(local)...)
	}
	return out
}

// childText returns the trimmed text of the first direct child with the
// given local name
func (el *element) childText(local string) string {
	for _, c := range el.children {
		if c.local == local {
			return strings.TrimSpace(c.text)
		}
	}
	return ""
}

// nameOf resolves the element's name from either the NAME child element or
// the NAME attribute, whichever the export dialect used
func (el *element) nameOf() string {
	return el.childOrAttr("NAME")
}

func (el *element) childOrAttr(key string) string {
	if v := el.childText(key); v != "" {
		return v
	}
	return strings.TrimSpace(el.attrs[key])
}

// properties collects PROPERTY and ATTRIBUTE name/value pairs under the
// element
func (el *element) properties() map[string]string {
	props := make(map[string]string)
	for _, p := range append(el.findAll("PROPERTY"), el.findAll("ATTRIBUTE")...) {
		name := p.childOrAttr("NAME")
		value := p.childOrAttr("VALUE")
		if name != "" && value != "" {
			props[name] = value
		}
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

func (el *element) columns() []*Column {
	var cols []*Column
	for _, c := range el.findAll("COLUMN") {
		name := c.nameOf()
		if name == "" {
			continue
		}
		cols = append(cols, &Column{
			Name:      name,
			DataType:  c.childOrAttr("DATATYPE"),
			Precision: c.childOrAttr("PRECISION"),
			Scale:     c.childOrAttr("SCALE"),
		})
	}
	return cols
}

func (el *element) connectionNames(local string) []string {
	var names []string
	for _, c := range el.findAll(local) {
		if n := c.nameOf(); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// elementOf pulls a position hint out of a decoder error for the ParseError
// report; the decoder does not expose the element name directly
func elementOf(err error) string {
	if syn, ok := err.(*xml.SyntaxError); ok {
		return fmt.Sprintf("line %d", syn.Line)
	}
	return "document"
}

package debug

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wfmeta/workflow-agent/pkg/errors"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

// Rule maps symptom keywords to diagnostic steps. Rules live in an external
// YAML table so operators can extend the diagnosis catalogue without a
// rebuild.
type Rule struct {
	ID              string   `yaml:"id" json:"id"`
	Title           string   `yaml:"title" json:"title"`
	Keywords        []string `yaml:"keywords" json:"keywords"`
	Diagnosis       string   `yaml:"diagnosis" json:"diagnosis"`
	Recommendations []string `yaml:"recommendations" json:"recommendations"`
	Weight          float32  `yaml:"weight" json:"weight"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Matches reports whether any of the rule's keywords appears in the symptom
// text. Matching is case-insensitive substring matching.
func (r *Rule) Matches(symptom string) bool {
	lowered := strings.ToLower(symptom)
	for _, kw := range r.Keywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// LoadRules reads the rule table. With an empty path the embedded default
// table is used; otherwise the file at path replaces it entirely.
func LoadRules(path string) ([]Rule, error) {
	data := defaultRulesYAML
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.NewErrorBuilder("debug", "load_rules").
				ConfigError(fmt.Sprintf("reading rule table %s: %v", path, err))
		}
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewErrorBuilder("debug", "load_rules").
			ConfigError(fmt.Sprintf("parsing rule table: %v", err))
	}
	if len(f.Rules) == 0 {
		return nil, errors.NewErrorBuilder("debug", "load_rules").
			ConfigError("rule table contains no rules")
	}
	for i := range f.Rules {
		if f.Rules[i].ID == "" {
			return nil, errors.NewErrorBuilder("debug", "load_rules").
				ConfigError(fmt.Sprintf("rule at index %d has no id", i))
		}
		if f.Rules[i].Weight == 0 {
			f.Rules[i].Weight = 0.5
		}
	}
	return f.Rules, nil
}

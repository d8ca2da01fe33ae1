package extractor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	DocTypes map[string][]ruleSpec `yaml:"docTypes"`
}

type ruleSpec struct {
	Key      string    `yaml:"key"`
	Label    string    `yaml:"label"`
	Pattern  string    `yaml:"pattern"`
	Group    *int      `yaml:"group"`
	Cleanups []Cleanup `yaml:"cleanups"`
}

// LoadFile reads a YAML rule file and merges it over the built-in rules.
// A document type named in the file replaces the built-in rules for that type.
func LoadFile(path string) (FieldConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML rule definitions and merges them over the built-in rules.
func Parse(data []byte) (FieldConfig, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse field rules: %w", err)
	}

	cfg := BuiltinConfig()
	for docType, specs := range file.DocTypes {
		if len(specs) == 0 {
			return nil, fmt.Errorf("docType %q has no rules", docType)
		}

		rules := make([]FieldRule, 0, len(specs))
		keys := make(map[string]bool, len(specs))
		for _, s := range specs {
			if keys[s.Key] {
				return nil, fmt.Errorf("docType %q: duplicate rule key %q", docType, s.Key)
			}
			keys[s.Key] = true

			group := GroupAuto
			if s.Group != nil {
				group = *s.Group
			}

			rule, err := NewFieldRule(s.Key, s.Label, s.Pattern, group, s.Cleanups...)
			if err != nil {
				return nil, fmt.Errorf("docType %q: %w", docType, err)
			}
			rules = append(rules, rule)
		}
		cfg[docType] = rules
	}

	return cfg, nil
}

/**
 * Field extraction
 *
 * Applies a per-document-type rule table to recognized text. A rule that
 * does not match leaves its key absent; extraction never fails.
 */

package extractor

import (
	"sort"
	"strings"
)

// Result is the outcome of one extraction.
type Result struct {
	DocType string `json:"docType"`
	// RuleSet is the document type whose rules were applied. It differs from
	// DocType when an unknown type fell back to the generic rules.
	RuleSet string            `json:"ruleSet"`
	Fields  map[string]string `json:"fields"`
	// Order lists matched keys in rule order.
	Order   []string `json:"order"`
	RawText string   `json:"rawText"`
}

// Extractor holds a read-only rule table.
type Extractor struct {
	config FieldConfig
}

// New builds an extractor over cfg. cfg must contain the generic rule set.
func New(cfg FieldConfig) *Extractor {
	if _, ok := cfg[GenericDocType]; !ok {
		cfg[GenericDocType] = BuiltinConfig()[GenericDocType]
	}
	return &Extractor{config: cfg}
}

// Default returns an extractor over the built-in rules.
func Default() *Extractor {
	return New(BuiltinConfig())
}

// Extract applies the rules for docType to text. Unknown document types use
// the generic rules.
func (e *Extractor) Extract(text, docType string) *Result {
	ruleSet := docType
	rules, ok := e.config[docType]
	if !ok {
		ruleSet = GenericDocType
		rules = e.config[GenericDocType]
	}

	corpus := NormalizeText(text)
	result := &Result{
		DocType: docType,
		RuleSet: ruleSet,
		Fields:  make(map[string]string, len(rules)),
		Order:   make([]string, 0, len(rules)),
		RawText: text,
	}

	for _, rule := range rules {
		value, ok := rule.Match(corpus)
		if !ok {
			continue
		}
		if _, seen := result.Fields[rule.Key]; !seen {
			result.Order = append(result.Order, rule.Key)
		}
		result.Fields[rule.Key] = value
	}

	return result
}

// DocTypes lists the configured document types, sorted.
func (e *Extractor) DocTypes() []string {
	types := make([]string, 0, len(e.config))
	for t := range e.config {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Rules returns the rules applied for docType.
func (e *Extractor) Rules(docType string) []FieldRule {
	if rules, ok := e.config[docType]; ok {
		return rules
	}
	return e.config[GenericDocType]
}

// NormalizeText splits on any line ending, trims each line, drops blank lines
// and joins the rest with "\n".
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

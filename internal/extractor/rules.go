package extractor

import (
	"fmt"
	"regexp"
	"strings"
)

// GroupAuto selects the first capture group when the pattern has one,
// otherwise the whole match.
const GroupAuto = -1

// GenericDocType is the fallback rule set for unknown document types.
const GenericDocType = "generic"

// Cleanup is a named post-processing step applied to a matched value.
type Cleanup string

const (
	// CleanupCollapseSpaces replaces runs of two or more whitespace characters with one space.
	CleanupCollapseSpaces Cleanup = "collapse_spaces"
	// CleanupStripWhitespace removes all whitespace.
	CleanupStripWhitespace Cleanup = "strip_whitespace"
)

var (
	reMultiSpace = regexp.MustCompile(`\s{2,}`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Apply runs the cleanup on v.
func (c Cleanup) Apply(v string) string {
	switch c {
	case CleanupCollapseSpaces:
		return reMultiSpace.ReplaceAllString(v, " ")
	case CleanupStripWhitespace:
		return reWhitespace.ReplaceAllString(v, "")
	}
	return v
}

func (c Cleanup) valid() bool {
	return c == CleanupCollapseSpaces || c == CleanupStripWhitespace
}

// FieldRule pulls one value out of recognized text.
type FieldRule struct {
	Key      string
	Label    string
	Pattern  *regexp.Regexp
	Group    int
	Cleanups []Cleanup
}

// NewFieldRule compiles pattern and validates the capture group.
func NewFieldRule(key, label, pattern string, group int, cleanups ...Cleanup) (FieldRule, error) {
	if key == "" {
		return FieldRule{}, fmt.Errorf("rule key is required")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return FieldRule{}, fmt.Errorf("rule %q: invalid pattern: %w", key, err)
	}

	if group != GroupAuto && (group < 0 || group > re.NumSubexp()) {
		return FieldRule{}, fmt.Errorf("rule %q: capture group %d out of range (pattern has %d)", key, group, re.NumSubexp())
	}

	for _, c := range cleanups {
		if !c.valid() {
			return FieldRule{}, fmt.Errorf("rule %q: unknown cleanup %q", key, c)
		}
	}

	if label == "" {
		label = key
	}

	return FieldRule{
		Key:      key,
		Label:    label,
		Pattern:  re,
		Group:    group,
		Cleanups: cleanups,
	}, nil
}

func mustRule(key, label, pattern string, group int, cleanups ...Cleanup) FieldRule {
	r, err := NewFieldRule(key, label, pattern, group, cleanups...)
	if err != nil {
		panic(err)
	}
	return r
}

// ResolvedGroup is the capture group whose text becomes the value.
func (r FieldRule) ResolvedGroup() int {
	if r.Group != GroupAuto {
		return r.Group
	}
	if r.Pattern.NumSubexp() > 0 {
		return 1
	}
	return 0
}

// Match applies the rule to corpus. ok is false when the pattern does not
// match or the selected group did not participate.
func (r FieldRule) Match(corpus string) (value string, ok bool) {
	loc := r.Pattern.FindStringSubmatchIndex(corpus)
	if loc == nil {
		return "", false
	}

	g := r.ResolvedGroup()
	start, end := loc[2*g], loc[2*g+1]
	if start < 0 {
		return "", false
	}

	value = strings.TrimSpace(corpus[start:end])
	for _, c := range r.Cleanups {
		value = c.Apply(value)
	}
	return value, true
}

// FieldConfig maps a document type to its ordered rules.
type FieldConfig map[string][]FieldRule

// BuiltinConfig returns the rule table shipped with the worker.
func BuiltinConfig() FieldConfig {
	return FieldConfig{
		"die_repair_request": {
			mustRule("part_name", "Part Name", `(?i)part\s*name\s*[:\-]?\s*(.+)`, GroupAuto, CleanupCollapseSpaces),
			mustRule("part_no", "Part No", `(?i)part\s*no\.?\s*[:\-]?\s*([A-Za-z0-9\-/]+)`, GroupAuto),
			mustRule("model", "Model", `(?i)model\s*[:\-]?\s*(.+)`, GroupAuto),
			mustRule("issued_by", "Issued By", `(?i)(issued\s*by|issued\s*by\.)\s*[:\-]?\s*(.+)`, 2),
			mustRule("date", "Date", `(?i)\bdate\b\s*[:\-]?\s*([0-9]{1,2}[./-][0-9]{1,2}[./-][0-9]{2,4})`, GroupAuto),
			mustRule("time", "Time", `(?i)\btime\b\s*[:\-]?\s*([0-9]{1,2}[:.][0-9]{2}\s*(?:am|pm|hrs)?)`, GroupAuto, CleanupStripWhitespace),
			mustRule("completed_date", "Completed Date", `(?i)(completed\s*date)\s*[:\-]?\s*([0-9]{1,2}[./-][0-9]{1,2}[./-][0-9]{2,4})`, 2),
			mustRule("verified_by", "Verified By", `(?i)(verified\s*by)\s*[:\-]?\s*(.+)`, 2),
			mustRule("stage", "Stage", `(?i)\bstage\b\s*[:\-]?\s*([A-Za-z0-9]+)`, GroupAuto),
			mustRule("point", "Point", `(?i)\bpoint\b\s*[:\-]?\s*(.+)`, GroupAuto),
			mustRule("problem_reported", "Problem Reported", `(?i)(problem\s*reported)\s*[:\-]?\s*(.+)`, 2),
		},
		GenericDocType: {
			mustRule("text", "All Text", `(?s)(.*)`, GroupAuto),
		},
	}
}

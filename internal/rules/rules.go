// Package rules loads the declarative tables that drive extraction and
// parsing: structural paths, preprocessors, pattern kinds per field and the
// ordered constant table.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // source timezone must resolve on hosts without zoneinfo

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

//go:embed rules.yaml
var defaultRules []byte

// PatternKind names one stage of the field parser.
type PatternKind string

const (
	PatternConstant      PatternKind = "consts"
	PatternNumeric       PatternKind = "num"
	PatternLocalizedName PatternKind = "zh_name"
	PatternTimestamp     PatternKind = "datetime"
)

// Known reports whether the parser implements k.
func (k PatternKind) Known() bool {
	switch k {
	case PatternConstant, PatternNumeric, PatternLocalizedName, PatternTimestamp:
		return true
	}
	return false
}

// PathRule locates a field in the document: a single selector for a list
// field, or a row selector plus a cell selector for a tabular field.
type PathRule struct {
	Selector string
	Rows     string
	Cells    string

	compiled cascadia.Selector
	rows     cascadia.Selector
	cells    cascadia.Selector
}

// Single returns a one-dimensional rule.
func Single(selector string) PathRule {
	return PathRule{Selector: selector}
}

// Table returns a two-dimensional rule.
func Table(rows, cells string) PathRule {
	return PathRule{Rows: rows, Cells: cells}
}

// Tabular reports whether the rule yields rows of cells.
func (p PathRule) Tabular() bool {
	return p.Rows != "" || p.Cells != ""
}

// Compile validates the selectors and caches the compiled form.
func (p *PathRule) Compile() error {
	switch {
	case p.Selector != "" && !p.Tabular():
		sel, err := cascadia.Compile(p.Selector)
		if err != nil {
			return fmt.Errorf("%w: selector %q: %v", domain.ErrInvalidRuleKind, p.Selector, err)
		}
		p.compiled = sel
	case p.Selector == "" && p.Rows != "" && p.Cells != "":
		rows, err := cascadia.Compile(p.Rows)
		if err != nil {
			return fmt.Errorf("%w: row selector %q: %v", domain.ErrInvalidRuleKind, p.Rows, err)
		}
		cells, err := cascadia.Compile(p.Cells)
		if err != nil {
			return fmt.Errorf("%w: cell selector %q: %v", domain.ErrInvalidRuleKind, p.Cells, err)
		}
		p.rows, p.cells = rows, cells
	default:
		return fmt.Errorf("%w: need a selector or a (row, cell) pair", domain.ErrInvalidRuleKind)
	}
	return nil
}

// Matchers returns the compiled selectors, compiling on first use.
// For a list rule rows and cells are nil.
func (p *PathRule) Matchers() (single, rows, cells cascadia.Selector, err error) {
	if p.compiled == nil && p.rows == nil {
		if err := p.Compile(); err != nil {
			return nil, nil, nil, err
		}
	}
	return p.compiled, p.rows, p.cells, nil
}

// UnmarshalYAML accepts a scalar selector or a two element sequence.
func (p *PathRule) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = Single(node.Value)
	case yaml.SequenceNode:
		if len(node.Content) != 2 || node.Content[0].Kind != yaml.ScalarNode || node.Content[1].Kind != yaml.ScalarNode {
			return fmt.Errorf("%w: line %d: a tabular rule is [row selector, cell selector]", domain.ErrInvalidRuleKind, node.Line)
		}
		*p = Table(node.Content[0].Value, node.Content[1].Value)
	default:
		return fmt.Errorf("%w: line %d", domain.ErrInvalidRuleKind, node.Line)
	}
	return nil
}

// FieldPath binds a field to its path rule.
type FieldPath struct {
	Field domain.FieldName `yaml:"field"`
	Path  PathRule         `yaml:"selector"`
}

// Constant maps text matching Pattern to a canonical code.
type Constant struct {
	Pattern *regexp.Regexp
	Value   string
}

// Preprocessor rewrites the extracted strings of one field (or one row of a
// tabular field) before parsing.
type Preprocessor func([]string) []string

// Rules is the immutable rule configuration.
type Rules struct {
	Paths         []FieldPath
	Preprocessors map[domain.FieldName]Preprocessor
	Patterns      map[domain.FieldName][]PatternKind
	Constants     []Constant
	Location      *time.Location
	TimeLayout    string
}

type preprocessorSpec struct {
	Kind      string `yaml:"kind"`
	Pattern   string `yaml:"pattern"`
	Label     string `yaml:"label"`
	Separator string `yaml:"separator"`
}

type constantSpec struct {
	Pattern string `yaml:"pattern"`
	Value   string `yaml:"value"`
}

type file struct {
	Timezone      string                                `yaml:"timezone"`
	TimeLayout    string                                `yaml:"time_layout"`
	Paths         []FieldPath                           `yaml:"paths"`
	Preprocessors map[domain.FieldName]preprocessorSpec `yaml:"preprocessors"`
	Patterns      map[domain.FieldName][]PatternKind    `yaml:"patterns"`
	Constants     []constantSpec                        `yaml:"constants"`
}

var loadDefault = sync.OnceValues(func() (*Rules, error) {
	return Parse(defaultRules)
})

// Default returns the embedded rule tables. They are parsed once per
// process.
func Default() (*Rules, error) {
	return loadDefault()
}

// Load reads rule tables from path, or returns the embedded tables when path
// is empty.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rule document.
func Parse(data []byte) (*Rules, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	r := &Rules{
		Preprocessors: make(map[domain.FieldName]Preprocessor, len(f.Preprocessors)),
		Patterns:      f.Patterns,
		Constants:     make([]Constant, 0, len(f.Constants)),
		TimeLayout:    f.TimeLayout,
	}
	if r.Patterns == nil {
		r.Patterns = map[domain.FieldName][]PatternKind{}
	}
	if r.TimeLayout == "" {
		r.TimeLayout = time.DateTime
	}

	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("rules timezone: %w", err)
	}
	r.Location = loc

	seen := make(map[domain.FieldName]bool, len(f.Paths))
	for _, fp := range f.Paths {
		if seen[fp.Field] {
			return nil, fmt.Errorf("rules: field %s has more than one path", fp.Field)
		}
		seen[fp.Field] = true
		if err := fp.Path.Compile(); err != nil {
			return nil, fmt.Errorf("rules: field %s: %w", fp.Field, err)
		}
		r.Paths = append(r.Paths, fp)
	}

	for field, spec := range f.Preprocessors {
		pre, err := buildPreprocessor(spec)
		if err != nil {
			return nil, fmt.Errorf("rules: preprocessor for %s: %w", field, err)
		}
		r.Preprocessors[field] = pre
	}

	for field, kinds := range r.Patterns {
		for _, k := range kinds {
			if !k.Known() {
				return nil, fmt.Errorf("rules: field %s: %w: %q", field, domain.ErrUnknownPatternKind, k)
			}
		}
	}

	for i, c := range f.Constants {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rules: constant %d: %w", i, err)
		}
		r.Constants = append(r.Constants, Constant{Pattern: re, Value: c.Value})
	}

	return r, nil
}

func buildPreprocessor(spec preprocessorSpec) (Preprocessor, error) {
	switch spec.Kind {
	case "search":
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, err
		}
		return SearchEach(re), nil
	case "split_tail":
		label, err := regexp.Compile(spec.Label)
		if err != nil {
			return nil, err
		}
		sep, err := regexp.Compile(spec.Separator)
		if err != nil {
			return nil, err
		}
		return SplitTail(label, sep), nil
	default:
		return nil, fmt.Errorf("unknown preprocessor kind %q", spec.Kind)
	}
}

// SearchEach replaces every string with the leftmost match of re. Strings
// without a match are kept so the parser can leave them unresolved.
func SearchEach(re *regexp.Regexp) Preprocessor {
	return func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			if m := re.FindString(s); m != "" {
				out[i] = m
			} else {
				out[i] = s
			}
		}
		return out
	}
}

// SplitTail takes the first string, drops everything up to the first label
// separator, and splits the remainder into a list.
// "首要污染物：臭氧8小时,颗粒物(PM10)" becomes ["臭氧8小时", "颗粒物(PM10)"].
func SplitTail(label, sep *regexp.Regexp) Preprocessor {
	return func(in []string) []string {
		if len(in) == 0 {
			return []string{}
		}
		s := strings.Join(strings.Fields(in[0]), " ")
		parts := label.Split(s, 2)
		return sep.Split(parts[len(parts)-1], -1)
	}
}

// Lookup returns the code of the first constant whose pattern matches s.
func (r *Rules) Lookup(s string) (string, bool) {
	for _, c := range r.Constants {
		if c.Pattern.MatchString(s) {
			return c.Value, true
		}
	}
	return "", false
}

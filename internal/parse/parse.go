// Package parse turns extracted field text into typed values by running each
// field through its configured pattern stages.
package parse

import (
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/rules"
)

// localizedName matches names made of ASCII alphanumerics, full-width forms,
// CJK unified ideographs and spaces.
var localizedName = regexp.MustCompile(`^(?i:[0-9a-z\x{ff00}-\x{ffef}\x{4e00}-\x{9fff} ]+)$`)

// Parser applies pattern stages to raw field tables.
type Parser struct {
	patterns   map[domain.FieldName][]rules.PatternKind
	constants  []rules.Constant
	location   *time.Location
	timeLayout string
}

// New builds a Parser from explicit tables. A nil location means UTC.
func New(patterns map[domain.FieldName][]rules.PatternKind, constants []rules.Constant, loc *time.Location, layout string) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	if layout == "" {
		layout = time.DateTime
	}
	return &Parser{
		patterns:   patterns,
		constants:  constants,
		location:   loc,
		timeLayout: layout,
	}
}

// FromRules builds a Parser from loaded rule tables.
func FromRules(r *rules.Rules) *Parser {
	return New(r.Patterns, r.Constants, r.Location, r.TimeLayout)
}

// Parse converts every field of table. Values start unresolved and each
// stage only touches values still unresolved, so stage order decides
// precedence. Fields without configured patterns pass through unresolved.
func (p *Parser) Parse(table domain.RawFieldTable) (domain.ParsedFieldTable, error) {
	out := make(domain.ParsedFieldTable, len(table))
	for name, field := range table {
		kinds := p.patterns[name]

		var parsed domain.ParsedField
		var err error
		if field.Tabular {
			parsed, err = p.parseRows(name, field.Rows, kinds)
		} else {
			parsed, err = p.parseList(name, field.Values, kinds)
		}
		if err != nil {
			return nil, err
		}
		out[name] = parsed
	}
	return out, nil
}

func (p *Parser) parseList(name domain.FieldName, values []string, kinds []rules.PatternKind) (domain.ParsedField, error) {
	if ListDepth(values) == 0 {
		return domain.ParsedField{Values: []domain.Value{}}, nil
	}
	parsed, err := p.Values(name, values, kinds)
	if err != nil {
		return domain.ParsedField{}, err
	}
	return domain.ParsedField{Values: parsed}, nil
}

func (p *Parser) parseRows(name domain.FieldName, rows [][]string, kinds []rules.PatternKind) (domain.ParsedField, error) {
	out := domain.ParsedField{Rows: make([][]domain.Value, 0, len(rows)), Tabular: true}
	if ListDepth(rows) == 0 {
		return out, nil
	}
	for _, row := range rows {
		parsed, err := p.Values(name, row, kinds)
		if err != nil {
			return domain.ParsedField{}, err
		}
		out.Rows = append(out.Rows, parsed)
	}
	return out, nil
}

// Values runs the pattern stages over a flat list of strings.
func (p *Parser) Values(name domain.FieldName, raw []string, kinds []rules.PatternKind) ([]domain.Value, error) {
	values := make([]domain.Value, len(raw))
	for i, s := range raw {
		values[i] = domain.Unresolved(s)
	}

	for _, kind := range kinds {
		stage, err := p.stage(kind)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		for i, v := range values {
			if v.Resolved() {
				continue
			}
			values[i] = stage(v.Raw())
		}
	}
	return values, nil
}

type stageFunc func(raw string) domain.Value

func (p *Parser) stage(kind rules.PatternKind) (stageFunc, error) {
	switch kind {
	case rules.PatternConstant:
		return p.constant, nil
	case rules.PatternNumeric:
		return numeric, nil
	case rules.PatternLocalizedName:
		return localized, nil
	case rules.PatternTimestamp:
		return p.timestamp, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPatternKind, kind)
	}
}

func (p *Parser) constant(raw string) domain.Value {
	for _, c := range p.constants {
		if c.Pattern.MatchString(raw) {
			return domain.Text(c.Value).WithRaw(raw)
		}
	}
	return domain.Unresolved(raw)
}

func numeric(raw string) domain.Value {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.Unresolved(raw)
	}
	return domain.Decimal(d).WithRaw(raw)
}

func localized(raw string) domain.Value {
	if localizedName.MatchString(raw) {
		return domain.Text(raw)
	}
	return domain.Unresolved(raw)
}

func (p *Parser) timestamp(raw string) domain.Value {
	t, err := time.ParseInLocation(p.timeLayout, raw, p.location)
	if err != nil {
		return domain.Unresolved(raw)
	}
	return domain.Timestamp(t).WithRaw(raw)
}

// ListDepth returns the nesting depth of v: 0 for a non-slice or an empty
// slice, otherwise one more than the deepest element.
func ListDepth(v any) int {
	return depth(reflect.ValueOf(v))
}

func depth(rv reflect.Value) int {
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return 0
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return 0
	}
	if rv.Len() == 0 {
		return 0
	}
	deepest := 0
	for i := 0; i < rv.Len(); i++ {
		if d := depth(rv.Index(i)); d > deepest {
			deepest = d
		}
	}
	return 1 + deepest
}

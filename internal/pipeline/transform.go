package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/aqhi-etl/internal/aggregate"
	"github.com/couchcryptid/aqhi-etl/internal/aqhi"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/extract"
	"github.com/couchcryptid/aqhi-etl/internal/parse"
	"github.com/couchcryptid/aqhi-etl/internal/rules"
)

// ErrPageIdentifier is returned for a page whose key does not name a city.
var ErrPageIdentifier = errors.New("page identifier does not name a city")

// PageTransformer implements Transformer: it extracts, parses and
// aggregates a page with one set of rules and adds the simple AQHI.
type PageTransformer struct {
	rules  *rules.Rules
	parser *parse.Parser
}

// NewTransformer creates a PageTransformer for r.
func NewTransformer(r *rules.Rules) *PageTransformer {
	return &PageTransformer{rules: r, parser: parse.FromRules(r)}
}

func (t *PageTransformer) Transform(_ context.Context, raw domain.RawPage) (domain.CityPage, error) {
	id := string(raw.Key)
	key, ok := domain.CityKeyFromIdentifier(id)
	if !ok {
		return domain.CityPage{}, fmt.Errorf("%w: %q", ErrPageIdentifier, id)
	}

	rec, err := t.Aggregate(string(raw.Value))
	if err != nil {
		return domain.CityPage{}, fmt.Errorf("page %s: %w", id, err)
	}
	aqhi.AppendAQHI(&rec)

	return domain.CityPage{CityKey: key, Source: id, Record: rec}, nil
}

// Aggregate runs extract, parse and aggregate on one page without the AQHI
// enrichment.
func (t *PageTransformer) Aggregate(html string) (domain.AggregateRecord, error) {
	table, err := extract.WithRules(html, t.rules)
	if err != nil {
		return domain.AggregateRecord{}, fmt.Errorf("extract: %w", err)
	}
	parsed, err := t.parser.Parse(table)
	if err != nil {
		return domain.AggregateRecord{}, fmt.Errorf("parse: %w", err)
	}
	rec, err := aggregate.Aggregate(parsed)
	if err != nil {
		return domain.AggregateRecord{}, fmt.Errorf("aggregate: %w", err)
	}
	return rec, nil
}

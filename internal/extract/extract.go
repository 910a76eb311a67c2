// Package extract pulls raw field text out of an HTML page using structural
// selector rules.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/rules"
)

// Extract selects every field in paths from html and returns the normalized
// text. Each field in paths is present in the result; a selector that
// matches nothing yields an empty list. Preprocessors receive the whole list
// of a list field, or each row of a tabular field.
func Extract(html string, paths []rules.FieldPath, pre map[domain.FieldName]rules.Preprocessor) (domain.RawFieldTable, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := make(domain.RawFieldTable, len(paths))
	for _, fp := range paths {
		path := fp.Path
		single, rowSel, cellSel, err := path.Matchers()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fp.Field, err)
		}
		preprocess := pre[fp.Field]

		if single != nil {
			values := texts(doc.FindMatcher(single))
			if preprocess != nil {
				values = preprocess(values)
			}
			table[fp.Field] = domain.RawList(values...)
			continue
		}

		rows := make([][]string, 0)
		doc.FindMatcher(rowSel).Each(func(_ int, row *goquery.Selection) {
			cells := texts(row.FindMatcher(cellSel))
			if preprocess != nil {
				cells = preprocess(cells)
			}
			rows = append(rows, cells)
		})
		table[fp.Field] = domain.RawRows(rows...)
	}
	return table, nil
}

// WithRules extracts using the paths and preprocessors of r.
func WithRules(html string, r *rules.Rules) (domain.RawFieldTable, error) {
	return Extract(html, r.Paths, r.Preprocessors)
}

func texts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Normalize(s.Text()))
	})
	return out
}

// Normalize collapses whitespace runs to a single space and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

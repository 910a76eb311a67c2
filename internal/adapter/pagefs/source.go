// Package pagefs reads stored pages from a directory tree. Pages follow the
// {key}.html naming convention at any depth.
package pagefs

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
)

// Source lists and reads page files. It implements pipeline.BatchExtractor,
// handing out each matching file once.
type Source struct {
	fsys    fs.FS
	pattern string

	paths   []string
	listed  bool
	pending int
}

// New creates a Source over fsys restricted to the given city keys, or to
// every page when none are given.
func New(fsys fs.FS, cities ...string) *Source {
	return &Source{fsys: fsys, pattern: Pattern(cities...)}
}

// Pattern returns the glob matching the pages of cities.
func Pattern(cities ...string) string {
	switch len(cities) {
	case 0:
		return "**/*.html"
	case 1:
		return "**/" + cities[0] + ".html"
	default:
		return "**/{" + strings.Join(cities, ",") + "}.html"
	}
}

// Paths returns every matching page path in lexical order.
func (s *Source) Paths() ([]string, error) {
	paths, err := doublestar.Glob(s.fsys, s.pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", s.pattern, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Read loads one page. Its key is the path, from which the city key is
// derived downstream.
func (s *Source) Read(path string) (domain.RawPage, error) {
	data, err := fs.ReadFile(s.fsys, path)
	if err != nil {
		return domain.RawPage{}, fmt.Errorf("read page %s: %w", path, err)
	}
	info, err := fs.Stat(s.fsys, path)
	if err != nil {
		return domain.RawPage{}, fmt.Errorf("stat page %s: %w", path, err)
	}
	return domain.RawPage{
		Key:       []byte(path),
		Value:     data,
		Topic:     "file",
		Timestamp: info.ModTime(),
	}, nil
}

// ExtractBatch returns the next batchSize pages, or an empty batch once
// every page has been handed out.
func (s *Source) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawPage, error) {
	if !s.listed {
		paths, err := s.Paths()
		if err != nil {
			return nil, err
		}
		s.paths, s.listed = paths, true
	}

	pages := make([]domain.RawPage, 0, batchSize)
	for len(pages) < batchSize && s.pending < len(s.paths) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.Read(s.paths[s.pending])
		if err != nil {
			return nil, err
		}
		page.Offset = int64(s.pending)
		s.pending++
		pages = append(pages, page)
	}
	return pages, nil
}

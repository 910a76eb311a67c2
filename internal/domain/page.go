package domain

import (
	"context"
	"path"
	"regexp"
	"strings"
	"time"
)

// RawPage is an unprocessed page from a source: HTML text plus the opaque
// identifier it was stored or published under.
type RawPage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// CityPage is a transformed page ready to be stored.
type CityPage struct {
	CityKey string
	Source  string
	Record  AggregateRecord
}

var (
	pageFilePattern = regexp.MustCompile(`([a-z]+)\.html$`)
	bareKeyPattern  = regexp.MustCompile(`^[a-z]+$`)
)

// CityKeyFromIdentifier derives the external city key from a page
// identifier following the {key}.html naming convention. A bare lower-case
// key is accepted as is.
func CityKeyFromIdentifier(id string) (string, bool) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(id), `\`, "/"))
	if m := pageFilePattern.FindStringSubmatch(base); m != nil {
		return m[1], true
	}
	if bareKeyPattern.MatchString(base) {
		return base, true
	}
	return "", false
}

package pagefs

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pages() fstest.MapFS {
	html := &fstest.MapFile{Data: []byte("<html></html>")}
	return fstest.MapFS{
		"beijing.html":              html,
		"2016/05/07/beijing.html":   html,
		"2016/05/07/shanghai.html":  html,
		"2016/05/07/guangzhou.html": html,
		"2016/05/07/notes.txt":      &fstest.MapFile{Data: []byte("skip")},
	}
}

func TestPattern(t *testing.T) {
	assert.Equal(t, "**/*.html", Pattern())
	assert.Equal(t, "**/beijing.html", Pattern("beijing"))
	assert.Equal(t, "**/{beijing,shanghai}.html", Pattern("beijing", "shanghai"))
}

func TestSource_Paths(t *testing.T) {
	tests := []struct {
		name   string
		cities []string
		want   []string
	}{
		{
			name: "all pages",
			want: []string{
				"2016/05/07/beijing.html",
				"2016/05/07/guangzhou.html",
				"2016/05/07/shanghai.html",
				"beijing.html",
			},
		},
		{
			name:   "one city at any depth",
			cities: []string{"beijing"},
			want:   []string{"2016/05/07/beijing.html", "beijing.html"},
		},
		{
			name:   "several cities",
			cities: []string{"beijing", "shanghai"},
			want:   []string{"2016/05/07/beijing.html", "2016/05/07/shanghai.html", "beijing.html"},
		},
		{
			name:   "no match",
			cities: []string{"tianjin"},
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(pages(), tt.cities...).Paths()
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSource_ExtractBatch(t *testing.T) {
	s := New(pages())
	ctx := context.Background()

	first, err := s.ExtractBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "2016/05/07/beijing.html", string(first[0].Key))
	assert.Equal(t, "<html></html>", string(first[0].Value))
	assert.Equal(t, int64(2), first[2].Offset)

	second, err := s.ExtractBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, int64(3), second[0].Offset)

	done, err := s.ExtractBatch(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestSource_ReadMissing(t *testing.T) {
	_, err := New(pages()).Read("tianjin.html")
	assert.Error(t, err)
}

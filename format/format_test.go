package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/repack/internal/jobtype"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Format
	}{
		{"zip", Zip},
		{"7z", SevenZip},
		{"tar", Tar},
		{"tar.gz", TarGz},
		{"TGZ", TarGz},
		{"tar.bz2", TarBz2},
		{" tar.xz ", TarXz},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"rar", "", "docx", "tar.zst"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, jobtype.ErrUnsupportedFormat, in)
	}
}

func TestRoundTripTags(t *testing.T) {
	t.Parallel()

	for _, f := range All {
		got, err := Parse(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
		assert.True(t, f.Valid())
		assert.NotEmpty(t, f.MediaType())
	}
	assert.False(t, Invalid.Valid())
	assert.Empty(t, Invalid.Extension())
}

func TestFilter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FilterNone, Tar.Filter())
	assert.Equal(t, FilterGzip, TarGz.Filter())
	assert.Equal(t, FilterBzip2, TarBz2.Filter())
	assert.Equal(t, FilterXz, TarXz.Filter())
	assert.Equal(t, FilterNone, Zip.Filter())
	assert.True(t, TarXz.IsTar())
	assert.False(t, SevenZip.IsTar())
}

func TestSuggestedName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "photos.tar.gz", SuggestedName("photos.zip", TarGz))
	assert.Equal(t, "backup.7z", SuggestedName("/tmp/backup.tar.xz", SevenZip))
	assert.Equal(t, "data.zip", SuggestedName(`C:\in\data.RAR`, Zip))
	assert.Equal(t, "archive.tar", SuggestedName("", Tar))
	assert.Equal(t, "notes.txt.zip", SuggestedName("notes.txt", Zip))
	assert.Equal(t, "movie.tar", SuggestedName("dl/movie.part01.rar", Tar))
	assert.Equal(t, "archive.zip", SuggestedName("/", Zip))
}

func TestPickPrimary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		names []string
		want  int
	}{
		{name: "empty", names: nil, want: -1},
		{name: "part1 wins", names: []string{"a.part2.rar", "a.part01.rar"}, want: 1},
		{name: "r00 before rar", names: []string{"a.rar", "a.r00"}, want: 1},
		{name: "split 001", names: []string{"a.7z.002", "a.7z.001"}, want: 1},
		{name: "plain rar", names: []string{"readme.txt", "a.rar"}, want: 1},
		{name: "archive ext", names: []string{"readme.txt", "a.ZIP"}, want: 1},
		{name: "fallback first", names: []string{"x.bin", "y.bin"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, PickPrimary(tt.names))
		})
	}
}

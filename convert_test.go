package repack_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/repack"
	"github.com/meigma/repack/format"
	"github.com/meigma/repack/internal/testutil"
	"github.com/meigma/repack/staging"
)

func memoryStaging() repack.ConvertOption {
	return repack.ConvertWithRunnerOptions(repack.WithStagingOptions(staging.WithPreferMemory(true)))
}

func TestConvertZipToTarXz(t *testing.T) {
	t.Parallel()

	entries := testutil.Example()
	var percents []int
	res, err := repack.Convert(context.Background(), testutil.Zip(t, entries), repack.TarXz,
		memoryStaging(),
		repack.ConvertWithName("photos.zip"),
		repack.ConvertWithProgress(func(p int) { percents = append(percents, p) }),
	)
	require.NoError(t, err)

	assert.Equal(t, "photos.tar.xz", res.Name)
	assert.Equal(t, repack.TarXz, res.Format)
	assert.Equal(t, testutil.Expect(entries, true), testutil.ListTar(t, res.Buffer, format.FilterXz))
	require.NotEmpty(t, percents)
	assert.Equal(t, 100, percents[len(percents)-1])
	assert.IsNonDecreasing(t, percents)
}

func TestConvertErrors(t *testing.T) {
	t.Parallel()

	_, err := repack.Convert(context.Background(), []byte("Rar!\x1a\x07\x01\x00"), repack.Zip, memoryStaging())
	require.ErrorIs(t, err, repack.ErrUnsupportedFormat)

	_, err = repack.Convert(context.Background(), testutil.Zip(t, nil), repack.Tar, memoryStaging())
	require.ErrorIs(t, err, repack.ErrEmptyArchive)

	_, err = repack.Convert(context.Background(), testutil.Zip(t, testutil.Example()), repack.Format(0), memoryStaging())
	require.ErrorIs(t, err, repack.ErrUnsupportedFormat)
}

func TestConvertCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repack.Convert(ctx, testutil.Zip(t, testutil.Example()), repack.Zip, memoryStaging())
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := repack.ParseFormat("TGZ")
	require.NoError(t, err)
	assert.Equal(t, repack.TarGz, f)

	_, err = repack.ParseFormat("rar")
	require.ErrorIs(t, err, repack.ErrUnsupportedFormat)
}

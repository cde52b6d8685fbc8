package file

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyWithContext(t *testing.T) {
	t.Parallel()

	var dst bytes.Buffer
	n, err := CopyWithContext(context.Background(), &dst, strings.NewReader("hello world"), make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "hello world", dst.String())
}

func TestCopyWithContextCanceled(t *testing.T) {
	t.Parallel()

	cause := errors.New("stop")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	var dst bytes.Buffer
	_, err := CopyWithContext(ctx, &dst, strings.NewReader("data"), nil)
	require.ErrorIs(t, err, cause)
	assert.Zero(t, dst.Len())
}

func TestCountingWriter(t *testing.T) {
	t.Parallel()

	var totals []int64
	cw := &CountingWriter{W: &bytes.Buffer{}, OnWrite: func(total int64) { totals = append(totals, total) }}
	_, err := cw.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = cw.Write([]byte("de"))
	require.NoError(t, err)

	assert.Equal(t, int64(5), cw.N)
	assert.Equal(t, []int64{3, 5}, totals)
}

func TestCountingReader(t *testing.T) {
	t.Parallel()

	cr := &CountingReader{R: strings.NewReader("abcdef")}
	buf := make([]byte, 4)
	_, _ = cr.Read(buf)
	_, _ = cr.Read(buf)
	assert.Equal(t, int64(6), cr.N)
}

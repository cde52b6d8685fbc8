package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	id     int
	closed bool
}

func newCountingHandle() (*Handle[*fakeEngine], *int, *[]*fakeEngine) {
	created := 0
	var torn []*fakeEngine
	h := NewHandle(func() (*fakeEngine, error) {
		created++
		return &fakeEngine{id: created}, nil
	}, func(e *fakeEngine) error {
		e.closed = true
		torn = append(torn, e)
		return nil
	})
	return h, &created, &torn
}

func TestHandleReusesValue(t *testing.T) {
	t.Parallel()

	h, created, _ := newCountingHandle()
	assert.Zero(t, h.Generation())

	l1, err := h.Acquire()
	require.NoError(t, err)
	require.NoError(t, l1.Release())

	l2, err := h.Acquire()
	require.NoError(t, err)
	assert.Same(t, l1.Value(), l2.Value())
	require.NoError(t, l2.Release())

	assert.Equal(t, 1, *created)
	assert.Zero(t, h.Refs())
}

func TestHandleInvalidateRecreates(t *testing.T) {
	t.Parallel()

	h, created, torn := newCountingHandle()

	l1, err := h.Acquire()
	require.NoError(t, err)
	first := l1.Value()
	require.NoError(t, l1.Invalidate())

	require.Len(t, *torn, 1)
	assert.True(t, first.closed)

	l2, err := h.Acquire()
	require.NoError(t, err)
	assert.NotSame(t, first, l2.Value())
	assert.Equal(t, uint64(2), l2.Generation())
	assert.Equal(t, 2, *created)
	require.NoError(t, l2.Release())
}

func TestHandleInvalidateWaitsForHolders(t *testing.T) {
	t.Parallel()

	h, _, torn := newCountingHandle()

	l1, err := h.Acquire()
	require.NoError(t, err)
	l2, err := h.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 2, h.Refs())

	require.NoError(t, l1.Invalidate())
	assert.Empty(t, *torn)

	_, err = h.Acquire()
	require.Error(t, err)

	require.NoError(t, l2.Release())
	assert.Len(t, *torn, 1)
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	t.Parallel()

	h, _, _ := newCountingHandle()
	l, err := h.Acquire()
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
	assert.Zero(t, h.Refs())
}

func TestHandleFactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	h := NewHandle(func() (int, error) { return 0, boom }, nil)
	_, err := h.Acquire()
	require.ErrorIs(t, err, boom)
	assert.Zero(t, h.Refs())
}

func TestHandleClose(t *testing.T) {
	t.Parallel()

	h, _, torn := newCountingHandle()
	l, err := h.Acquire()
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.Empty(t, *torn)
	require.NoError(t, l.Release())
	assert.Len(t, *torn, 1)

	_, err = h.Acquire()
	require.ErrorIs(t, err, ErrClosed)
}

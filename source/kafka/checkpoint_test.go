package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapped_HighestIsContiguous(t *testing.T) {
	c := NewCapped[int](10)
	ctx := context.Background()

	r1, err := c.Track(ctx, 1, 1)
	require.NoError(t, err)
	r2, err := c.Track(ctx, 2, 1)
	require.NoError(t, err)
	r3, err := c.Track(ctx, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Pending())

	// out of order: nothing contiguous yet
	assert.Nil(t, r2())
	assert.Nil(t, c.Highest())

	got := r1()
	require.NotNil(t, got)
	assert.Equal(t, 2, *got)

	got = r3()
	require.NotNil(t, got)
	assert.Equal(t, 3, *got)
	assert.Equal(t, int64(0), c.Pending())
}

func TestCapped_BlocksAtCapUntilCanceled(t *testing.T) {
	c := NewCapped[int](1)
	_, err := c.Track(context.Background(), 1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Track(ctx, 2, 1)
	assert.ErrorIs(t, err, errTrackCanceled)
}

func TestCapped_UnblocksOnResolve(t *testing.T) {
	c := NewCapped[int](1)
	r1, err := c.Track(context.Background(), 1, 1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Track(context.Background(), 2, 1)
		done <- err
	}()

	r1()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Track did not unblock after resolve")
	}
}

func TestManager_CommitCadence(t *testing.T) {
	m := NewManager[int](10, time.Hour)

	resolve, err := m.Track(context.Background(), 1)
	require.NoError(t, err)
	_, due := resolve()
	assert.True(t, due, "first resolve is always due")

	resolve, err = m.Track(context.Background(), 2)
	require.NoError(t, err)
	highest, due := resolve()
	assert.False(t, due)
	require.NotNil(t, highest)
	assert.Equal(t, 2, *highest)
}

package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
)

func TestReplay_ServesInOrderThenRepeatsLast(t *testing.T) {
	r, err := NewReplay("testdata/replay")
	require.NoError(t, err)
	require.Equal(t, 3, r.Len())

	want := []game.Status{game.StatusPreview, game.StatusLive, game.StatusIntermission, game.StatusIntermission}
	for i, status := range want {
		assert.Equal(t, i >= 3, r.Exhausted(), "before fetch %d", i)
		snap, err := r.Fetch(context.Background(), "ignored")
		require.NoError(t, err)
		assert.Equal(t, status, snap.Status, "fetch %d", i)
		assert.Equal(t, "2025020001", snap.GameID)
	}
	assert.True(t, r.Exhausted())
}

func TestNewReplay_Errors(t *testing.T) {
	_, err := NewReplay("testdata/does-not-exist")
	assert.Error(t, err)

	_, err = NewReplay(t.TempDir())
	assert.ErrorContains(t, err, "no .json documents")
}

func TestReplay_CancelledContext(t *testing.T) {
	r, err := NewReplay("testdata/replay")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Fetch(ctx, "1")
	assert.Error(t, err)
	assert.False(t, IsPermanent(err))
}

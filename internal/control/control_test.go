package control

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreshChannelStartsUnpaused(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "control.record"))
	assert.False(t, c.Snapshot().Paused)
}

func TestRefreshOnMissingFileKeepsPriorState(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing.record"))
	require.NoError(t, c.Refresh())
	assert.False(t, c.Snapshot().Paused)
}

func TestRefreshFailsClosedOnMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.record")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	c := New(path)
	err := c.Refresh()
	require.Error(t, err)
	assert.True(t, c.Snapshot().Paused, "a malformed control record must fail closed")
}

func TestPauseThenResumeRoundTrips(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "control.record"))

	require.NoError(t, c.Pause())
	assert.True(t, c.Snapshot().Paused)

	require.NoError(t, c.Resume())
	assert.False(t, c.Snapshot().Paused)
}

func TestKillPreservesAcrossRefresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.record")
	c := New(path)

	require.NoError(t, c.Kill("manual_stop"))

	other := New(path)
	require.NoError(t, other.Refresh())
	state := other.Snapshot()
	assert.True(t, state.KillActive)
	assert.Equal(t, "manual_stop", state.KillReason)
}

func TestWriteIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.record")
	c := New(path)
	require.NoError(t, c.Pause())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "the temp file must be renamed away, not left behind")
}

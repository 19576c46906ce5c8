package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/findex/pkg/findex/types"
)

func TestTryGetWhileBusy(t *testing.T) {
	e := New(Config{DatabaseDir: t.TempDir()})
	defer e.Close()
	e.Flush()

	// With the mutex held, every TryGet refuses instead of blocking.
	e.mu.Lock()
	_, err := e.TryGetDatabaseInfo()
	assert.ErrorIs(t, err, types.ErrBusy)
	_, err = e.TryGetSearchInfo(0)
	assert.ErrorIs(t, err, types.ErrBusy)
	_, err = e.TryGetItemInfo(0, 0)
	assert.ErrorIs(t, err, types.ErrBusy)
	e.mu.Unlock()

	info, err := e.TryGetDatabaseInfo()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), info.NumFiles)
}

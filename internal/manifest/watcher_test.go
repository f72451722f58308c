package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatcherLifecycle(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// A rewrite must not break the watcher.
	require.NoError(t, os.WriteFile(path, []byte(`[{"path":"/x"}]`), 0o600))

	require.NoError(t, w.Stop())
}

func TestWatcherStopWithoutStart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Stop())
}

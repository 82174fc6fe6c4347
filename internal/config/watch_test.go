package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchManifestDeliversNewDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v1\nprecache: [\"/\"]\n"), 0o600))

	changes := make(chan Manifest, 4)
	watcher, err := WatchManifest(context.Background(), path, func(m Manifest) {
		changes <- m
	}, func(error) {})
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("version: v2\nprecache: [\"/\", \"/styles.css\"]\n"), 0o600))

	select {
	case m := <-changes:
		require.Equal(t, "v2", m.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for manifest change")
	}
}

func TestWatchManifestReportsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v1\nprecache: [\"/\"]\n"), 0o600))

	errs := make(chan error, 4)
	watcher, err := WatchManifest(context.Background(), path, func(Manifest) {}, func(err error) {
		errs <- err
	})
	require.NoError(t, err)
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("version: \"\"\nprecache: []\n"), 0o600))

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher error")
	}
}

func TestWatchManifestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v1\nprecache: [\"/\"]\n"), 0o600))

	watcher, err := WatchManifest(context.Background(), path, func(Manifest) {}, nil)
	require.NoError(t, err)
	watcher.Stop()
	watcher.Stop()
}

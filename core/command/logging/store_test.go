package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store LogStore) {
	t.Helper()
	ctx := context.Background()
	records := []Record{
		{Timestamp: base, DeviceID: "d1", CommandID: "c1", Kind: "RESTART", State: "ACKED", LatencyMS: 40},
		{Timestamp: base.Add(time.Minute), DeviceID: "d2", CommandID: "c2", Kind: "APPLY_CONFIG", State: "TIMEOUT", Error: "ack timeout"},
		{Timestamp: base.Add(2 * time.Minute), DeviceID: "d1", CommandID: "c3", Kind: "CUSTOM", State: "ACKED", LatencyMS: 15},
	}
	for _, r := range records {
		require.NoError(t, store.Append(ctx, r))
	}
}

func openStores(t *testing.T) map[string]LogStore {
	t.Helper()
	dir := t.TempDir()
	jsonl, err := NewJSONLStore(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	sqlite, err := NewSQLiteStore(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, jsonl.Close())
		require.NoError(t, sqlite.Close())
	})
	return map[string]LogStore{"jsonl": jsonl, "sqlite": sqlite}
}

func TestLogStoreAppendQuery(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, store)
			ctx := context.Background()

			all, err := store.Query(ctx, Query{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "c1", all[0].CommandID)
			assert.Equal(t, "ack timeout", all[1].Error)
			assert.Equal(t, int64(15), all[2].LatencyMS)

			byDevice, err := store.Query(ctx, Query{DeviceID: "d1"})
			require.NoError(t, err)
			require.Len(t, byDevice, 2)
			assert.Equal(t, "c1", byDevice[0].CommandID)
			assert.Equal(t, "c3", byDevice[1].CommandID)

			byKind, err := store.Query(ctx, Query{Kind: "APPLY_CONFIG"})
			require.NoError(t, err)
			require.Len(t, byKind, 1)
			assert.Equal(t, "d2", byKind[0].DeviceID)
		})
	}
}

func TestLogStoreQueryTimeWindow(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, store)
			ctx := context.Background()

			got, err := store.Query(ctx, Query{Start: base.Add(30 * time.Second), End: base.Add(90 * time.Second)})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "c2", got[0].CommandID)

			got, err = store.Query(ctx, Query{Start: base.Add(time.Hour)})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestLogStoreQueryEmpty(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Query(context.Background(), Query{})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestJSONLStoreSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	store, err := NewJSONLStore(path)
	require.NoError(t, err)
	seed(t, store)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := store.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianBench/services/bench/metric"
	"github.com/AleutianAI/AleutianBench/services/bench/result"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract exercises the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrBaselineNotFound)
	})

	t.Run("delete missing", func(t *testing.T) {
		assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrBaselineNotFound)
	})

	t.Run("empty list", func(t *testing.T) {
		names, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("set get list delete", func(t *testing.T) {
		main := New("main")
		main.Add(idX, []result.Result{wallResult(metric.Milliseconds, 1.5, 2)})
		release := New("release")
		release.Add(idZ, []result.Result{mallocResult(7)})

		require.NoError(t, s.Set(ctx, release))
		require.NoError(t, s.Set(ctx, main))

		got, err := s.Get(ctx, "main")
		require.NoError(t, err)
		assert.True(t, Equal(main, got))
		assert.Equal(t, main.RunID, got.RunID)

		names, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"main", "release"}, names)

		require.NoError(t, s.Delete(ctx, "release"))
		names, err = s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"main"}, names)
	})

	t.Run("set replaces", func(t *testing.T) {
		b := New("replace")
		b.Add(idX, []result.Result{wallResult(metric.Milliseconds, 1, 1)})
		require.NoError(t, s.Set(ctx, b))

		b2 := New("replace")
		b2.RunID = uuid.New()
		b2.Add(idY, []result.Result{wallResult(metric.Milliseconds, 2, 2)})
		require.NoError(t, s.Set(ctx, b2))

		got, err := s.Get(ctx, "replace")
		require.NoError(t, err)
		assert.Equal(t, b2.RunID, got.RunID)
		assert.Equal(t, []result.ID{idY}, got.IDs())
	})

	t.Run("returned baseline is a copy", func(t *testing.T) {
		b := New("copy")
		b.Add(idX, []result.Result{wallResult(metric.Milliseconds, 1, 1)})
		require.NoError(t, s.Set(ctx, b))

		got, err := s.Get(ctx, "copy")
		require.NoError(t, err)
		got.Results[idX][0].Percentiles[metric.P50] = 99

		again, err := s.Get(ctx, "copy")
		require.NoError(t, err)
		x, _ := again.Lookup(idX, metric.WallClock)
		assert.Equal(t, 1.0, x.Percentiles[metric.P50])
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		assert.Error(t, s.Set(ctx, nil))
		assert.ErrorIs(t, s.Set(ctx, New("a/b")), ErrInvalidName)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Set(ctx, New("concurrent")))
				_, err := s.Get(ctx, "concurrent")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	storeContract(t, s)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "baselines")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)

	t.Run("ignores foreign files", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))
		require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0750))
		names, err := s.List(context.Background())
		require.NoError(t, err)
		assert.NotContains(t, names, "notes")
		assert.NotContains(t, names, "sub")
	})

	t.Run("corrupted file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0600))
		_, err := s.Get(context.Background(), "broken")
		assert.ErrorIs(t, err, ErrInvalidBaseline)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		_, err := s.Get(context.Background(), "../etc")
		assert.ErrorIs(t, err, ErrInvalidName)
	})
}

func TestBadgerStore(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		s, err := OpenBadger(InMemoryBadgerConfig())
		require.NoError(t, err)
		defer s.Close()
		storeContract(t, s)
	})

	t.Run("persists across reopen", func(t *testing.T) {
		cfg := DefaultBadgerConfig(t.TempDir())
		cfg.SyncWrites = false
		cfg.GCInterval = 0

		s, err := OpenBadger(cfg)
		require.NoError(t, err)
		b := New("main")
		b.Add(idX, []result.Result{wallResult(metric.Milliseconds, 1, 2)})
		require.NoError(t, s.Set(context.Background(), b))
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		s, err = OpenBadger(cfg)
		require.NoError(t, err)
		defer s.Close()
		got, err := s.Get(context.Background(), "main")
		require.NoError(t, err)
		assert.True(t, Equal(b, got))
	})

	t.Run("requires path", func(t *testing.T) {
		_, err := OpenBadger(BadgerConfig{})
		assert.Error(t, err)
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		s, err := OpenSQLite(":memory:")
		require.NoError(t, err)
		defer s.Close()
		storeContract(t, s)
	})

	t.Run("on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "baselines.db")
		s, err := OpenSQLite(path)
		require.NoError(t, err)
		b := New("main")
		require.NoError(t, s.Set(context.Background(), b))
		require.NoError(t, s.Close())

		s, err = OpenSQLite(path)
		require.NoError(t, err)
		defer s.Close()
		names, err := s.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"main"}, names)
	})
}

// TestRedisStore needs a running server; set BENCH_TEST_REDIS_ADDR to enable.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("BENCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BENCH_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	s, err := OpenRedis(ctx, RedisConfig{Addr: addr, Prefix: "bench-test-" + uuid.NewString()})
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)

	names, err := s.List(ctx)
	require.NoError(t, err)
	for _, name := range names {
		require.NoError(t, s.Delete(ctx, name))
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  StoreConfig
		want any
	}{
		{"memory", StoreConfig{Backend: BackendMemory}, &MemoryStore{}},
		{"default is file", StoreConfig{Path: filepath.Join(dir, "files")}, &FileStore{}},
		{"badger", StoreConfig{Backend: BackendBadger, Path: filepath.Join(dir, "badger")}, &BadgerStore{}},
		{"sqlite", StoreConfig{Backend: BackendSQLite, Path: filepath.Join(dir, "b.db")}, &SQLiteStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.cfg, nil)
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, tt.want, s)
		})
	}

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Open(ctx, StoreConfig{Backend: "tape"}, nil)
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})

	t.Run("redis requires address", func(t *testing.T) {
		_, err := Open(ctx, StoreConfig{Backend: BackendRedis}, nil)
		assert.Error(t, err)
	})
}

package disk

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = t.TempDir()
	}
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetDataIsImmediatelyReadable(t *testing.T) {
	s := openTestStore(t, Config{})

	s.SetData("k", []byte("payload"))

	// Staged write must be visible before any flush happens.
	got, ok := s.Data("k")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestFlushThenReadReturnsFlushedValue(t *testing.T) {
	s := openTestStore(t, Config{})

	s.SetData("k", []byte("v1"))
	s.SetData("k", []byte("v2"))
	require.NoError(t, s.Flush())

	got, ok := s.Data("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)
}

func TestRemoveData(t *testing.T) {
	s := openTestStore(t, Config{})

	s.SetData("k", []byte("v"))
	require.NoError(t, s.Flush())

	s.RemoveData("k")
	_, ok := s.Data("k")
	assert.False(t, ok, "staged delete must hide the entry")

	require.NoError(t, s.Flush())
	_, ok = s.Data("k")
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Path: dir}, nil)
	require.NoError(t, err)
	s.SetData("k", []byte("durable"))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s2, err := Open(Config{Path: dir}, nil)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	got, ok := s2.Data("k")
	require.True(t, ok)
	assert.Equal(t, []byte("durable"), got)
}

func TestMissingKey(t *testing.T) {
	s := openTestStore(t, Config{})
	_, ok := s.Data("absent")
	assert.False(t, ok)
}

func TestDataReturnsCopy(t *testing.T) {
	s := openTestStore(t, Config{})
	s.SetData("k", []byte("abc"))

	got, ok := s.Data("k")
	require.True(t, ok)
	got[0] = 'X'

	again, _ := s.Data("k")
	assert.True(t, bytes.Equal(again, []byte("abc")), "mutating a returned slice must not affect the store")
}

func TestCloseIsIdempotent(t *testing.T) {
	s := openTestStore(t, Config{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestOperationsAfterClose(t *testing.T) {
	s := openTestStore(t, Config{})
	require.NoError(t, s.Close())

	s.SetData("k", []byte("v")) // dropped
	_, ok := s.Data("k")
	assert.False(t, ok)
	assert.ErrorIs(t, s.Flush(), ErrClosed)
}

func TestSweepEvictsOldestFirst(t *testing.T) {
	s := openTestStore(t, Config{SizeLimit: 3000})

	payload := make([]byte, 1000)
	for i := 0; i < 4; i++ {
		s.SetData(fmt.Sprintf("k%d", i), payload)
		require.NoError(t, s.Flush())
		// Distinct commit timestamps so eviction order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}

	require.NoError(t, s.sweep())

	_, ok := s.Data("k0")
	assert.False(t, ok, "oldest entry must be evicted")
	_, ok = s.Data("k3")
	assert.True(t, ok, "newest entry must survive")
}

func TestConcurrentDistinctKeys(t *testing.T) {
	s := openTestStore(t, Config{})

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				s.SetData(key, []byte(key))
				got, ok := s.Data(key)
				if !ok || string(got) != key {
					t.Errorf("read-your-writes violated for %s", key)
					return
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	require.NoError(t, s.Flush())
}

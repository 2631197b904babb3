package backlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmon/notifyd/event"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testStore(t *testing.T, size int) *Store {
	return NewStore(filepath.Join(t.TempDir(), "backlog.json"), size)
}

func numberedContext(i int) event.Context {
	return event.Context{"HOSTNAME": fmt.Sprintf("host-%d", i)}
}

func TestStoreKeepsNewestFirst(t *testing.T) {
	s := testStore(t, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Add(numberedContext(i)))
	}

	for nr, want := range []string{"host-4", "host-3", "host-2"} {
		c, err := s.Replay(nr)
		require.NoError(t, err)
		require.Equal(t, want, c["HOSTNAME"])
	}

	_, err := s.Replay(3)
	require.EqualError(t, err, "no notification number 3 in backlog")

	_, err = s.Replay(-1)
	require.Error(t, err)
}

func TestStoreConcurrentAddsLoseNothing(t *testing.T) {
	s := testStore(t, 1000)

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		i := i
		g.Go(func() error {
			for j := 0; j < 25; j++ {
				if err := s.Add(event.Context{"HOSTNAME": fmt.Sprintf("host-%d-%d", i, j)}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	payload, err := os.ReadFile(s.path)
	require.NoError(t, err)

	var backlog []event.Context
	require.NoError(t, json.Unmarshal(payload, &backlog))
	require.Len(t, backlog, 100)

	seen := map[string]bool{}
	for _, c := range backlog {
		seen[c["HOSTNAME"]] = true
	}
	require.Len(t, seen, 100)
}

func TestStoreDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backlog.json")

	// A leftover file from an earlier configuration goes away.
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))

	s := NewStore(path, 0)
	require.NoError(t, s.Add(numberedContext(0)))
	require.NoFileExists(t, path)

	// Removing twice must not fail.
	require.NoError(t, s.Add(numberedContext(1)))
}

func TestStoreRecoversFromCorruption(t *testing.T) {
	s := testStore(t, 3)
	require.NoError(t, os.WriteFile(s.path, []byte("not json"), 0o644))

	require.NoError(t, s.Add(numberedContext(7)))

	c, err := s.Replay(0)
	require.NoError(t, err)
	require.Equal(t, "host-7", c["HOSTNAME"])

	_, err = s.Replay(1)
	require.Error(t, err)
}

func TestReplayWithoutBacklog(t *testing.T) {
	s := testStore(t, 3)

	_, err := s.Replay(0)
	require.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	require.Equal(t, "var/notify/backlog.json", DefaultPath("var/notify"))
}

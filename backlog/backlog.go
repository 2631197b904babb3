// Package backlog keeps the most recent raw notification contexts on disk so
// that a notification can be replayed later, e.g. while developing a plugin.
package backlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"

	"github.com/openmon/notifyd/event"
	"github.com/pkg/errors"
)

// Store is a bounded FIFO of raw notification contexts, newest first,
// persisted as one JSON file.
type Store struct {
	path string
	size int
}

// NewStore returns a Store holding up to size contexts at path.
// A size of 0 disables the backlog.
func NewStore(path string, size int) *Store {
	return &Store{path: path, size: size}
}

// Add prepends a context, truncating the backlog to its configured size.
// With the backlog disabled a leftover file from an earlier configuration is removed.
func (s *Store) Add(c event.Context) error {
	if s.size <= 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "cannot remove backlog")
		}
		return nil
	}

	// Concurrent notifications serialize on the backlog file.
	file, err := lockBacklog(s.path)
	if err != nil {
		return err
	}
	defer func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
	}()

	// A fresh or corrupted backlog starts over.
	var backlog []event.Context
	if err := json.NewDecoder(file).Decode(&backlog); err != nil {
		backlog = nil
	}
	if len(backlog) > s.size-1 {
		backlog = backlog[:s.size-1]
	}
	backlog = append([]event.Context{c}, backlog...)

	payload, err := json.MarshalIndent(backlog, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot encode backlog")
	}

	// Write-then-rename keeps a replay from seeing a half-written file.
	tmp := s.path + ".new"
	if err := os.WriteFile(tmp, append(payload, '\n'), 0o644); err != nil {
		return errors.Wrap(err, "cannot write backlog")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "cannot replace backlog")
	}

	return nil
}

// lockBacklog opens the backlog and takes an exclusive advisory lock on it.
// The holder replaces the file by rename, so a lock acquired on a descriptor
// opened before that rename guards a dead inode. Re-open until the locked
// descriptor still refers to the file at path.
func lockBacklog(path string) (*os.File, error) {
	for {
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "cannot open backlog")
		}

		if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
			_ = file.Close()
			return nil, errors.Wrap(err, "cannot lock backlog")
		}

		locked, err := file.Stat()
		if err != nil {
			_ = file.Close()
			return nil, errors.Wrap(err, "cannot stat backlog")
		}

		live, err := os.Stat(path)
		if err == nil && os.SameFile(locked, live) {
			return file, nil
		}
		if err != nil && !os.IsNotExist(err) {
			_ = file.Close()
			return nil, errors.Wrap(err, "cannot stat backlog")
		}

		_ = file.Close()
	}
}

// Replay returns the nr-th most recent context, counting from 0.
func (s *Store) Replay(nr int) (event.Context, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read backlog")
	}

	var backlog []event.Context
	if err := json.Unmarshal(payload, &backlog); err != nil {
		return nil, errors.Wrap(err, "cannot decode backlog")
	}

	if nr < 0 || nr >= len(backlog) {
		return nil, errors.Errorf("no notification number %d in backlog", nr)
	}

	return backlog[nr], nil
}

// DefaultPath returns the backlog location below the notification log directory.
func DefaultPath(logDir string) string {
	return filepath.Join(logDir, "backlog.json")
}

package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFinderPrefersLocalDir(t *testing.T) {
	localDir := t.TempDir()
	globalDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(localDir, "mail"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "mail"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "sms"), []byte("#!/bin/sh\n"), 0o755))

	f := NewFinder(localDir, globalDir)

	path, err := f.Path("mail")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(localDir, "mail"), path)

	path, err = f.Path("sms")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(globalDir, "sms"), path)
}

func TestFinderNotFound(t *testing.T) {
	f := NewFinder(t.TempDir(), t.TempDir())

	_, err := f.Path("missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

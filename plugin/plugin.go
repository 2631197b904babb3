// Package plugin executes notification plugins: external scripts receiving the
// notification context as NOTIFY_* environment variables (single mode) or as
// concatenated VAR=value blocks on standard input (bulk mode, --bulk flag).
package plugin

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Plugin exit codes, also used for the engine's own results:
// 0 means delivered, 1 means a retry may help, 2 means it will not.
const (
	StatusOK        = 0
	StatusRetryable = 1
	StatusPermanent = 2
)

// ErrNotFound is returned when a plugin executable exists in neither plugin directory.
var ErrNotFound = errors.New("notification plugin not found")

// Finder resolves plugin names to executable paths, preferring the local
// (site-specific) plugin directory over the shipped one.
type Finder struct {
	localDir  string
	globalDir string
}

// NewFinder returns a Finder over the given plugin directory pair.
func NewFinder(localDir, globalDir string) *Finder {
	return &Finder{localDir: localDir, globalDir: globalDir}
}

// Path returns the executable path for a plugin name or ErrNotFound.
func (f *Finder) Path(name string) (string, error) {
	local := filepath.Join(f.localDir, name)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	global := filepath.Join(f.globalDir, name)
	if _, err := os.Stat(global); err == nil {
		return global, nil
	}

	return "", errors.Wrapf(ErrNotFound, "%q is neither in %s nor in %s", name, f.localDir, f.globalDir)
}

// Package spool persists notifications as single-file work items.
//
// There are three kinds of spool files:
//  1. notifications to be forwarded to a remote site (Forward set),
//  2. notifications for asynchronous local delivery (Plugin set),
//  3. raw notifications received from a remote site (neither set),
//     which run through the local rule processing on pickup.
//
// The spooler daemon shipping files of kind 1 is a separate component; this
// package only produces and parses the files.
package spool

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
	"github.com/pkg/errors"
)

// Spooling modes deciding where a notification is processed.
const (
	SpoolingOff    = "off"    // deliver locally, no spooling
	SpoolingLocal  = "local"  // spool for asynchronous local delivery
	SpoolingRemote = "remote" // forward to a remote site, no local delivery
	SpoolingBoth   = "both"   // forward and deliver locally
)

// File is the payload of one spool file.
type File struct {
	Context event.Context `json:"context"`

	// Plugin marks the file for local delivery via that plugin.
	Plugin string `json:"plugin,omitempty"`

	// Forward marks the file for forwarding to a remote site.
	Forward bool `json:"forward,omitempty"`
}

// Spooler writes spool files into one directory.
type Spooler struct {
	dir    string
	logger *logging.Logger
}

// NewSpooler returns a Spooler writing to dir.
func NewSpooler(dir string, logger *logging.Logger) *Spooler {
	return &Spooler{dir: dir, logger: logger}
}

// SpoolLocal stores a finished plugin notification for asynchronous delivery.
func (s *Spooler) SpoolLocal(pluginName string, c event.Context) error {
	return s.write(File{Context: c, Plugin: pluginName})
}

// SpoolForward stores a raw notification for forwarding to a remote site.
func (s *Spooler) SpoolForward(c event.Context) error {
	return s.write(File{Context: c, Forward: true})
}

func (s *Spooler) write(file File) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create spool directory %s", s.dir)
	}

	payload, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot encode spool file")
	}

	path := filepath.Join(s.dir, uuid.New().String())
	s.logger.Infof("Creating spoolfile: %s", path)

	if err := os.WriteFile(path+".new", append(payload, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "cannot write spool file %s", path)
	}
	if err := os.Rename(path+".new", path); err != nil {
		return errors.Wrapf(err, "cannot finalize spool file %s", path)
	}

	return nil
}

// Load parses a spool file.
func Load(path string) (*File, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read spool file %s", path)
	}

	var file File
	if err := json.Unmarshal(payload, &file); err != nil {
		return nil, errors.Wrapf(err, "cannot decode spool file %s", path)
	}

	return &file, nil
}

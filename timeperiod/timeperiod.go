// Package timeperiod defines the timeperiod activity oracle the dispatch engine
// consults. The authoritative answer lives in the monitoring core; this package
// only carries the interface plus trivial implementations for wiring and tests.
package timeperiod

import "github.com/pkg/errors"

// Oracle answers whether a named timeperiod is currently active.
// Implementations may fail, e.g. when the core connection is down;
// callers decide their own fail-open direction (see rule.ClassifyBulk and bulk.FindBulks).
type Oracle interface {
	Active(name string) (bool, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(name string) (bool, error)

// Active implements the Oracle interface.
func (f Func) Active(name string) (bool, error) {
	return f(name)
}

// Static is a fixed activity table. Unknown timeperiods yield an error,
// mirroring a core that has never heard of the period.
type Static map[string]bool

// Active implements the Oracle interface.
func (s Static) Active(name string) (bool, error) {
	active, ok := s[name]
	if !ok {
		return false, errors.Errorf("unknown timeperiod %q", name)
	}

	return active, nil
}

// AlwaysActive treats every timeperiod as active, the right default for
// deployments without timeperiod-dependent rules.
var AlwaysActive = Func(func(string) (bool, error) { return true, nil })

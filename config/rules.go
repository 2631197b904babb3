package config

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/openmon/notifyd/rule"
	"github.com/openmon/notifyd/timeperiod"
	"github.com/pkg/errors"
)

// LoadRules parses the global notification rules, in file order.
func LoadRules(path string) ([]*rule.Rule, error) {
	payload, err := os.ReadFile(path) // #nosec G304 -- accept user-controlled config path
	if err != nil {
		return nil, errors.Wrap(err, "can't read rules file "+path)
	}

	var rules []*rule.Rule
	if err := yaml.Unmarshal(payload, &rules); err != nil {
		return nil, errors.Wrap(errors.New(yaml.FormatError(err, true, true)), "can't parse rules file "+path)
	}

	return rules, nil
}

// LoadContacts parses the contact configuration, including the contacts'
// personal notification rules.
func LoadContacts(path string) (rule.Contacts, error) {
	payload, err := os.ReadFile(path) // #nosec G304 -- accept user-controlled config path
	if err != nil {
		return nil, errors.Wrap(err, "can't read contacts file "+path)
	}

	contacts := rule.Contacts{}
	if err := yaml.Unmarshal(payload, &contacts); err != nil {
		return nil, errors.Wrap(errors.New(yaml.FormatError(err, true, true)), "can't parse contacts file "+path)
	}

	return contacts, nil
}

// LoadTimeperiods parses a static timeperiod activity table, used when no
// monitoring core is available to answer timeperiod queries. An empty path
// yields an oracle that treats every timeperiod as active.
func LoadTimeperiods(path string) (timeperiod.Oracle, error) {
	if path == "" {
		return timeperiod.AlwaysActive, nil
	}

	payload, err := os.ReadFile(path) // #nosec G304 -- accept user-controlled config path
	if err != nil {
		return nil, errors.Wrap(err, "can't read timeperiods file "+path)
	}

	table := timeperiod.Static{}
	if err := yaml.Unmarshal(payload, &table); err != nil {
		return nil, errors.Wrap(errors.New(yaml.FormatError(err, true, true)), "can't parse timeperiods file "+path)
	}

	return table, nil
}

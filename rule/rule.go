// Package rule implements the rule side of rule based notifications:
// the rule model, the matcher chain deciding whether a rule applies to an event,
// contact resolution and bulk classification.
package rule

import (
	"sort"
)

// Range is an inclusive integer range, e.g. for escalation numbers or service levels.
type Range struct {
	From int `yaml:"from" json:"from"`
	To   int `yaml:"to" json:"to"`
}

// Contains reports whether n lies within the range.
func (r Range) Contains(n int) bool {
	return r.From <= n && n <= r.To
}

// Throttle suppresses all but every Rate-th repeated notification once the
// notification number exceeds From. Recovery notifications always pass.
type Throttle struct {
	From int `yaml:"from" json:"from"`
	Rate int `yaml:"rate" json:"rate"`
}

// MacroMatch requires a contact's custom macro to match a regular expression.
type MacroMatch struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// EventConsoleMatch restricts a rule to (or away from) notifications
// originating from the event console.
type EventConsoleMatch struct {
	// Exclude inverts the condition: the notification must NOT come from the event console.
	Exclude bool `yaml:"exclude"`

	RuleIDs  []string `yaml:"match_rule_id"`
	Priority *Range   `yaml:"match_priority"`
	Facility *int     `yaml:"match_facility"`
	Comment  string   `yaml:"match_comment"`
}

// Rule is one notification rule. Rules are evaluated in configuration order
// against every event; their position in the rule list is semantically
// significant (later rules override or cancel earlier ones).
//
// A nil Parameters marks a cancellation rule: instead of creating a
// notification it removes its contacts from earlier entries of the same plugin.
type Rule struct {
	Description  string `yaml:"description"`
	Disabled     bool   `yaml:"disabled"`
	AllowDisable bool   `yaml:"allow_disable"`

	// Contact is the owner of a user-private rule, empty for global rules.
	// User-private rules may never touch locked table entries.
	Contact string `yaml:"-"`

	Plugin     string            `yaml:"plugin"`
	Parameters *PluginParameters `yaml:"parameters"`
	Bulk       *BulkSpec         `yaml:"bulk"`

	// Event type conditions, two-letter transition codes with '?' wildcards.
	MatchHostEvents    []string `yaml:"match_host_event"`
	MatchServiceEvents []string `yaml:"match_service_event"`

	MatchEscalation          *Range             `yaml:"match_escalation"`
	MatchEscalationThrottle  *Throttle          `yaml:"match_escalation_throttle"`
	MatchNotificationComment string             `yaml:"match_notification_comment"`
	MatchHostLabels          map[string]string  `yaml:"match_hostlabels"`
	MatchServiceLabels       map[string]string  `yaml:"match_servicelabels"`
	MatchEventConsole        *EventConsoleMatch `yaml:"match_ec"`

	// Core matching subset. Everything beyond this is delegated to a CoreMatcher.
	MatchHosts           []string `yaml:"match_hosts"`
	MatchExcludeHosts    []string `yaml:"match_exclude_hosts"`
	MatchServices        []string `yaml:"match_services"`
	MatchExcludeServices []string `yaml:"match_exclude_services"`
	MatchPluginOutput    string   `yaml:"match_plugin_output"`
	MatchCheckType       []string `yaml:"match_checktype"`
	MatchTimeperiod      string   `yaml:"match_timeperiod"`
	MatchServiceLevel    *Range   `yaml:"match_sl"`

	// Contact selection.
	ContactObject       bool         `yaml:"contact_object"`
	ContactAll          bool         `yaml:"contact_all"`
	ContactAllWithEmail bool         `yaml:"contact_all_with_email"`
	ContactUsers        []string     `yaml:"contact_users"`
	ContactGroups       []string     `yaml:"contact_groups"`
	ContactEmails       []string     `yaml:"contact_emails"`
	ContactMatchMacros  []MacroMatch `yaml:"contact_match_macros"`
	ContactMatchGroups  []string     `yaml:"contact_match_groups"`
}

// IsUserRule reports whether the rule is a user-private rule.
func (r *Rule) IsUserRule() bool {
	return r.Contact != ""
}

// IsCancelling reports whether the rule cancels notifications instead of creating them.
func (r *Rule) IsCancelling() bool {
	return r.Parameters == nil
}

// Info returns the log description of the rule, naming its owner for user-private rules.
func (r *Rule) Info() string {
	if r.IsUserRule() {
		return "User " + r.Contact + "'s rule '" + r.Description + "'"
	}

	return "Global rule '" + r.Description + "'"
}

// DisableNotifications is a contact's personal notification switch,
// either unconditional or bounded to an inclusive unix-time range.
type DisableNotifications struct {
	Disable bool  `yaml:"disable"`
	From    int64 `yaml:"timerange_from"`
	To      int64 `yaml:"timerange_to"`
}

// Contact is the configuration of one notification recipient.
type Contact struct {
	Alias                string               `yaml:"alias"`
	Email                string               `yaml:"email"`
	Pager                string               `yaml:"pager"`
	ContactGroups        []string             `yaml:"contactgroups"`
	FallbackContact      bool                 `yaml:"fallback_contact"`
	DisableNotifications DisableNotifications `yaml:"disable_notifications"`

	// Macros are the contact's custom attributes, keyed without the
	// historical underscore prefix.
	Macros map[string]string `yaml:"macros"`

	// Rules are the contact's personal notification rules,
	// folded after the global rules in sorted contact order.
	Rules []*Rule `yaml:"notification_rules"`
}

// Contacts maps contact names to their configuration.
type Contacts map[string]*Contact

// Names returns all contact names in sorted order.
func (cs Contacts) Names() []string {
	names := make([]string, 0, len(cs))
	for name := range cs {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// GroupIndex builds the reverse contact group index: group name to member names.
func (cs Contacts) GroupIndex() map[string][]string {
	index := map[string][]string{}
	for _, name := range cs.Names() {
		for _, group := range cs[name].ContactGroups {
			index[group] = append(index[group], name)
		}
	}

	return index
}

// Package notify wires the rule engine to the delivery mechanisms: it folds
// the matching rules into a notification table and dispatches its entries to
// plugins, the bulk queue or the spool.
package notify

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/rule"
	"github.com/openmon/notifyd/timeperiod"
)

// Rule evaluation verdicts in the analysis trail.
const (
	VerdictMatch = "match"
	VerdictMiss  = "miss"
)

// RuleInfo records the evaluation of one rule against one event.
// A miss carries the first failing condition as reason.
type RuleInfo struct {
	Verdict string     `json:"verdict"`
	Rule    *rule.Rule `json:"rule"`
	Reason  string     `json:"reason,omitempty"`
}

// Entry is one row of the notification table: a set of contacts notified via
// one plugin with one parameter set. A locked entry may not be modified or
// cancelled by user-private rules.
type Entry struct {
	Contacts rule.ContactSet
	Plugin   string
	Locked   bool
	Params   *rule.PluginParameters
	Bulk     *rule.BulkSpec
}

// Table is the notification table, keyed by (contact set, plugin).
type Table struct {
	entries map[tableKey]*Entry
}

type tableKey struct {
	contacts string
	plugin   string
}

// Len returns the number of table entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns the table rows in deterministic order.
func (t *Table) Entries() []*Entry {
	keys := make([]tableKey, 0, len(t.entries))
	for key := range t.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].contacts != keys[j].contacts {
			return keys[i].contacts < keys[j].contacts
		}
		return keys[i].plugin < keys[j].plugin
	})

	entries := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, t.entries[key])
	}

	return entries
}

// ParameterLookup returns the baseline plugin parameters configured for a
// host, to be overlaid by the rule's own parameters. May be nil.
type ParameterLookup func(hostname, pluginName string) *rule.PluginParameters

// Builder folds notification rules into notification tables.
type Builder struct {
	rules         []*rule.Rule
	contacts      rule.Contacts
	oracle        timeperiod.Oracle
	core          rule.CoreMatcher
	params        ParameterLookup
	fallbackEmail string
	logger        *logging.Logger
}

// NewBuilder returns a Builder over the global rules and the contact
// configuration. The contacts' personal rules are folded after the global
// ones, in sorted contact order so that rule indices stay deterministic.
func NewBuilder(
	rules []*rule.Rule, contacts rule.Contacts, oracle timeperiod.Oracle,
	core rule.CoreMatcher, params ParameterLookup, fallbackEmail string,
	logger *logging.Logger,
) *Builder {
	return &Builder{
		rules:         append(append([]*rule.Rule(nil), rules...), userRules(contacts)...),
		contacts:      contacts,
		oracle:        oracle,
		core:          core,
		params:        params,
		fallbackEmail: fallbackEmail,
		logger:        logger,
	}
}

// userRules collects the contacts' personal rules. They are always
// disablable and carry their owner for the lock check.
func userRules(contacts rule.Contacts) []*rule.Rule {
	var rules []*rule.Rule
	for _, name := range contacts.Names() {
		for _, r := range contacts[name].Rules {
			rc := *r
			rc.AllowDisable = true
			rc.Contact = name
			rules = append(rules, &rc)
		}
	}

	return rules
}

// Build evaluates every rule against the context and folds the matches into a
// notification table. It returns the table, the per-rule audit trail and the
// number of matching rules.
func (b *Builder) Build(c event.Context, now time.Time, analyse bool) (*Table, []RuleInfo, int) {
	table := &Table{entries: map[tableKey]*Entry{}}

	var infos []RuleInfo
	matches := 0
	for nr, r := range b.rules {
		reason := rule.Match(r, c, rule.MatchOptions{Core: b.core, Oracle: b.oracle, Analyse: analyse})
		if reason != "" {
			b.logger.Debugf("%s...", r.Info())
			b.logger.Debugf(" -> does not match: %s", reason)
			infos = append(infos, RuleInfo{Verdict: VerdictMiss, Rule: r, Reason: reason})
			continue
		}

		b.logger.Infof("%s...", r.Info())
		b.logger.Info(" -> matches!")
		matches++

		b.apply(table, r, nr, c, now)
		infos = append(infos, RuleInfo{Verdict: VerdictMatch, Rule: r})
	}

	return table, infos, matches
}

// apply folds one matching rule into the table: a cancelling rule removes its
// contacts from earlier entries of the same plugin, any other rule adds or
// modifies an entry.
func (b *Builder) apply(table *Table, r *rule.Rule, nr int, c event.Context, now time.Time) {
	contacts := rule.ResolveContacts(r, c, b.contacts, b.fallbackEmail, now, b.logger)
	contactsTxt := strings.Join(contacts.Names(), ", ")

	if r.IsCancelling() {
		b.cancel(table, r, contacts, contactsTxt)
		return
	}

	if len(contacts) == 0 {
		return
	}

	key := tableKey{contacts: contacts.Key(), plugin: r.Plugin}
	if existing, ok := table.entries[key]; ok {
		if existing.Locked && r.IsUserRule() {
			b.logger.Infof("   - cannot modify notification of %s via %s: it is locked", contactsTxt, r.Plugin)
			return
		}
		b.logger.Infof("   - modifying notification of %s via %s", contactsTxt, r.Plugin)
	} else {
		b.logger.Infof("   - adding notification of %s via %s", contactsTxt, r.Plugin)
	}

	table.entries[key] = &Entry{
		Contacts: contacts,
		Plugin:   r.Plugin,
		Locked:   !r.AllowDisable,
		Params:   b.finalizeParameters(c["HOSTNAME"], r, nr),
		Bulk:     rule.ClassifyBulk(r, b.oracle, b.logger),
	}
}

// cancel removes the rule's contacts from all entries of the same plugin.
// Locked entries resist cancellation by user-private rules. An entry losing
// all contacts disappears; otherwise it is rekeyed under the remaining ones.
func (b *Builder) cancel(table *Table, r *rule.Rule, contacts rule.ContactSet, contactsTxt string) {
	keys := make([]tableKey, 0, len(table.entries))
	for key := range table.entries {
		keys = append(keys, key)
	}

	for _, key := range keys {
		entry := table.entries[key]

		overlap := entry.Contacts.Intersect(contacts)
		if entry.Plugin != r.Plugin || len(overlap) == 0 {
			continue
		}

		if entry.Locked && r.IsUserRule() {
			b.logger.Infof("   - cannot cancel notification of %s via %s: it is locked", contactsTxt, r.Plugin)
			continue
		}

		b.logger.Infof("   - cancelling notification of %s via %s",
			strings.Join(overlap.Names(), ", "), r.Plugin)

		remaining := entry.Contacts.Difference(contacts)
		delete(table.entries, key)
		if len(remaining) > 0 {
			entry.Contacts = remaining
			table.entries[tableKey{contacts: remaining.Key(), plugin: entry.Plugin}] = entry
		}
	}
}

// finalizeParameters overlays the rule's parameters over the host's baseline
// parameters for the plugin and stamps the matching rule for later debugging.
func (b *Builder) finalizeParameters(hostname string, r *rule.Rule, nr int) *rule.PluginParameters {
	var params *rule.PluginParameters
	if b.params != nil {
		if baseline := b.params(hostname, r.Plugin); baseline != nil {
			params = overlayParameters(baseline, r.Parameters)
		}
	}
	if params == nil {
		params = r.Parameters.Copy()
	}

	// The builtin mail plugin embeds performance graphs; unset limits get
	// the stock value of five.
	if r.Plugin == "" || r.Plugin == PlainEmailPlugin {
		if params.GraphsPerNotification == 0 {
			params.GraphsPerNotification = 5
		}
		if params.NotificationsWithGraphs == 0 {
			params.NotificationsWithGraphs = 5
		}
	}

	params.SetExtra("MATCHING_RULE_NR", strconv.Itoa(nr))
	params.SetExtra("MATCHING_RULE_TEXT", r.Description)

	return params
}

// overlayParameters merges rule parameters over a baseline: every field the
// rule sets wins, everything else keeps the baseline value.
func overlayParameters(baseline, overlay *rule.PluginParameters) *rule.PluginParameters {
	merged := baseline.Copy()
	if overlay == nil {
		return merged
	}

	if overlay.DisableMultiplexing {
		merged.DisableMultiplexing = true
	}
	if overlay.BulkSortOrder != "" {
		merged.BulkSortOrder = overlay.BulkSortOrder
	}
	if overlay.From != "" {
		merged.From = overlay.From
	}
	if overlay.ReplyTo != "" {
		merged.ReplyTo = overlay.ReplyTo
	}
	if overlay.GraphsPerNotification > 0 {
		merged.GraphsPerNotification = overlay.GraphsPerNotification
	}
	if overlay.NotificationsWithGraphs > 0 {
		merged.NotificationsWithGraphs = overlay.NotificationsWithGraphs
	}
	for key, value := range overlay.Extra {
		merged.SetExtra(key, value)
	}

	return merged
}

package notify

import (
	"testing"
	"time"

	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/rule"
	"github.com/openmon/notifyd/timeperiod"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *logging.Logger {
	return logging.NewLogger(zaptest.NewLogger(t).Sugar())
}

func testContacts() rule.Contacts {
	return rule.Contacts{
		"hh": {Email: "hh@example.com", ContactGroups: []string{"oncall"}},
		"ll": {Email: "ll@example.com", ContactGroups: []string{"oncall"}},
		"aa": {Email: "aa@example.com"},
	}
}

func problemContext() event.Context {
	return event.Context{
		"WHAT":                   "HOST",
		"HOSTNAME":               "gateway",
		"NOTIFICATIONTYPE":       "PROBLEM",
		"HOSTSTATE":              "DOWN",
		"PREVIOUSHOSTHARDSTATE":  "UP",
		"HOSTNOTIFICATIONNUMBER": "1",
	}
}

func newTestBuilder(t *testing.T, rules []*rule.Rule, contacts rule.Contacts) *Builder {
	return NewBuilder(rules, contacts, timeperiod.AlwaysActive, nil, nil, "", testLogger(t))
}

func TestBuildAuditTrailCoversEveryRule(t *testing.T) {
	rules := []*rule.Rule{
		{Description: "oncall", ContactGroups: []string{"oncall"}, Plugin: "mail", Parameters: &rule.PluginParameters{}},
		{Description: "disabled", Disabled: true, ContactUsers: []string{"aa"}, Plugin: "mail", Parameters: &rule.PluginParameters{}},
		{Description: "hosts-only", MatchHosts: []string{"other"}, ContactUsers: []string{"aa"}, Plugin: "sms", Parameters: &rule.PluginParameters{}},
	}

	table, infos, matches := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)

	require.Len(t, infos, len(rules))
	require.Equal(t, VerdictMatch, infos[0].Verdict)
	require.Empty(t, infos[0].Reason)
	require.Equal(t, VerdictMiss, infos[1].Verdict)
	require.Equal(t, "This rule is disabled", infos[1].Reason)
	require.Equal(t, VerdictMiss, infos[2].Verdict)
	require.NotEmpty(t, infos[2].Reason)

	require.Equal(t, 1, matches)
	require.Equal(t, 1, table.Len())
}

func TestBuildCancellation(t *testing.T) {
	rules := []*rule.Rule{
		{Description: "notify oncall", ContactGroups: []string{"oncall"}, Plugin: "mail",
			AllowDisable: true, Parameters: &rule.PluginParameters{}},
		{Description: "silence hh", ContactUsers: []string{"hh"}, Plugin: "mail"},
	}

	table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)

	require.Equal(t, 1, table.Len())
	entry := table.Entries()[0]
	require.Equal(t, "ll", entry.Contacts.Key())

	// No entry may be left with an empty contact set.
	for _, e := range table.Entries() {
		require.NotEmpty(t, e.Contacts)
	}
}

func TestBuildCancellationRemovesEmptyEntry(t *testing.T) {
	rules := []*rule.Rule{
		{Description: "notify hh", ContactUsers: []string{"hh"}, Plugin: "mail",
			AllowDisable: true, Parameters: &rule.PluginParameters{}},
		{Description: "silence oncall", ContactGroups: []string{"oncall"}, Plugin: "mail"},
	}

	table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)
	require.Zero(t, table.Len())
}

func TestBuildCancellationIgnoresOtherPlugins(t *testing.T) {
	rules := []*rule.Rule{
		{Description: "notify hh", ContactUsers: []string{"hh"}, Plugin: "sms",
			AllowDisable: true, Parameters: &rule.PluginParameters{}},
		{Description: "silence mail", ContactUsers: []string{"hh"}, Plugin: "mail"},
	}

	table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)
	require.Equal(t, 1, table.Len())
}

func TestBuildLockedEntryResistsUserRules(t *testing.T) {
	contacts := testContacts()
	contacts["hh"].Rules = []*rule.Rule{
		{Description: "my silence", ContactUsers: []string{"hh"}, Plugin: "mail"},
	}

	t.Run("locked", func(t *testing.T) {
		global := []*rule.Rule{
			{Description: "mandatory", ContactUsers: []string{"hh"}, Plugin: "mail",
				Parameters: &rule.PluginParameters{}},
		}

		table, _, _ := newTestBuilder(t, global, contacts).Build(problemContext(), time.Now(), false)
		require.Equal(t, 1, table.Len())
	})

	t.Run("disablable", func(t *testing.T) {
		global := []*rule.Rule{
			{Description: "optional", ContactUsers: []string{"hh"}, Plugin: "mail",
				AllowDisable: true, Parameters: &rule.PluginParameters{}},
		}

		table, _, _ := newTestBuilder(t, global, contacts).Build(problemContext(), time.Now(), false)
		require.Zero(t, table.Len())
	})
}

func TestBuildGlobalCancellationBeatsLock(t *testing.T) {
	global := []*rule.Rule{
		{Description: "mandatory", ContactUsers: []string{"hh"}, Plugin: "mail",
			Parameters: &rule.PluginParameters{}},
		{Description: "global silence", ContactUsers: []string{"hh"}, Plugin: "mail"},
	}

	table, _, _ := newTestBuilder(t, global, testContacts()).Build(problemContext(), time.Now(), false)
	require.Zero(t, table.Len())
}

func TestBuildUserRulesAreAlwaysDisablable(t *testing.T) {
	contacts := testContacts()
	contacts["hh"].Rules = []*rule.Rule{
		{Description: "my sms", ContactUsers: []string{"hh"}, Plugin: "sms",
			Parameters: &rule.PluginParameters{}},
	}

	table, infos, _ := newTestBuilder(t, nil, contacts).Build(problemContext(), time.Now(), false)

	require.Equal(t, 1, table.Len())
	require.False(t, table.Entries()[0].Locked)
	require.Equal(t, "hh", infos[0].Rule.Contact)
}

func TestBuildLaterRuleModifiesEntry(t *testing.T) {
	rules := []*rule.Rule{
		{Description: "first", ContactUsers: []string{"hh"}, Plugin: "mail",
			Parameters: &rule.PluginParameters{From: "first@example.com"}},
		{Description: "second", ContactUsers: []string{"hh"}, Plugin: "mail",
			Parameters: &rule.PluginParameters{From: "second@example.com"}},
	}

	table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)

	require.Equal(t, 1, table.Len())
	require.Equal(t, "second@example.com", table.Entries()[0].Params.From)
}

func TestBuildStampsMatchingRule(t *testing.T) {
	rules := []*rule.Rule{
		{Description: "miss", MatchHosts: []string{"other"}, ContactUsers: []string{"hh"},
			Plugin: "mail", Parameters: &rule.PluginParameters{}},
		{Description: "notify hh", ContactUsers: []string{"hh"}, Plugin: "mail",
			Parameters: &rule.PluginParameters{}},
	}

	table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)

	params := table.Entries()[0].Params
	require.Equal(t, "1", params.Extra["MATCHING_RULE_NR"])
	require.Equal(t, "notify hh", params.Extra["MATCHING_RULE_TEXT"])
}

func TestBuildParameterBaselineOverlay(t *testing.T) {
	lookup := func(hostname, pluginName string) *rule.PluginParameters {
		require.Equal(t, "gateway", hostname)
		return &rule.PluginParameters{From: "base@example.com", ReplyTo: "base-reply@example.com"}
	}

	rules := []*rule.Rule{
		{Description: "notify hh", ContactUsers: []string{"hh"}, Plugin: "mail",
			Parameters: &rule.PluginParameters{From: "rule@example.com"}},
	}

	builder := NewBuilder(rules, testContacts(), timeperiod.AlwaysActive, nil, lookup, "", testLogger(t))
	table, _, _ := builder.Build(problemContext(), time.Now(), false)

	params := table.Entries()[0].Params
	require.Equal(t, "rule@example.com", params.From)
	require.Equal(t, "base-reply@example.com", params.ReplyTo)
}

func TestBuildMailGraphDefaults(t *testing.T) {
	t.Run("unset-defaults-to-five", func(t *testing.T) {
		rules := []*rule.Rule{
			{Description: "notify hh", ContactUsers: []string{"hh"}, Plugin: "mail",
				Parameters: &rule.PluginParameters{}},
		}

		table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)

		params := table.Entries()[0].Params
		require.Equal(t, 5, params.GraphsPerNotification)
		require.Equal(t, 5, params.NotificationsWithGraphs)
	})

	t.Run("configured-values-win", func(t *testing.T) {
		rules := []*rule.Rule{
			{Description: "notify hh", ContactUsers: []string{"hh"}, Plugin: "mail",
				Parameters: &rule.PluginParameters{GraphsPerNotification: 2, NotificationsWithGraphs: 3}},
		}

		table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)

		params := table.Entries()[0].Params
		require.Equal(t, 2, params.GraphsPerNotification)
		require.Equal(t, 3, params.NotificationsWithGraphs)
	})

	t.Run("other-plugins-untouched", func(t *testing.T) {
		rules := []*rule.Rule{
			{Description: "notify hh", ContactUsers: []string{"hh"}, Plugin: "sms",
				Parameters: &rule.PluginParameters{}},
		}

		table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)

		params := table.Entries()[0].Params
		require.Zero(t, params.GraphsPerNotification)
		require.Zero(t, params.NotificationsWithGraphs)
	})
}

func TestTableEntriesDeterministicOrder(t *testing.T) {
	rules := []*rule.Rule{
		{Description: "b", ContactUsers: []string{"ll"}, Plugin: "sms", Parameters: &rule.PluginParameters{}},
		{Description: "a", ContactUsers: []string{"hh"}, Plugin: "mail", Parameters: &rule.PluginParameters{}},
		{Description: "c", ContactUsers: []string{"hh"}, Plugin: "sms", Parameters: &rule.PluginParameters{}},
	}

	table, _, _ := newTestBuilder(t, rules, testContacts()).Build(problemContext(), time.Now(), false)

	entries := table.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, "mail", entries[0].Plugin)
	require.Equal(t, "sms", entries[1].Plugin)
	require.Equal(t, "ll", entries[2].Contacts.Key())
}

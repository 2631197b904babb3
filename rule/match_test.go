package rule

import (
	"fmt"
	"testing"

	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/timeperiod"
	"github.com/stretchr/testify/require"
)

func hostProblemContext(number int) event.Context {
	return event.Context{
		"WHAT":                      "HOST",
		"HOSTNAME":                  "gateway",
		"NOTIFICATIONTYPE":          "PROBLEM",
		"HOSTSTATE":                 "DOWN",
		"PREVIOUSHOSTHARDSTATE":     "UP",
		"HOSTNOTIFICATIONNUMBER":    fmt.Sprintf("%d", number),
		"SERVICENOTIFICATIONNUMBER": "",
	}
}

func TestMatchRuleDisabled(t *testing.T) {
	r := &Rule{Description: "off", Disabled: true, Parameters: &PluginParameters{}}

	reason := Match(r, hostProblemContext(1), MatchOptions{})
	require.Equal(t, "This rule is disabled", reason)
}

func TestMatchEscalation(t *testing.T) {
	r := &Rule{MatchEscalation: &Range{From: 2, To: 4}}

	require.NotEmpty(t, Match(r, hostProblemContext(1), MatchOptions{}))
	require.Empty(t, Match(r, hostProblemContext(2), MatchOptions{}))
	require.Empty(t, Match(r, hostProblemContext(4), MatchOptions{}))
	require.NotEmpty(t, Match(r, hostProblemContext(5), MatchOptions{}))
}

func TestMatchEscalationThrottle(t *testing.T) {
	r := &Rule{MatchEscalationThrottle: &Throttle{From: 2, Rate: 3}}

	tests := []struct {
		number  int
		matches bool
		reason  string
	}{
		{1, true, ""},
		{2, true, ""},
		{3, false, "This notification is being skipped due to throttling. The next number will be 5"},
		{4, false, "This notification is being skipped due to throttling. The next number will be 5"},
		{5, true, ""},
		{6, false, "This notification is being skipped due to throttling. The next number will be 8"},
		{7, false, "This notification is being skipped due to throttling. The next number will be 8"},
		{8, true, ""},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("number-%d", test.number), func(t *testing.T) {
			reason := Match(r, hostProblemContext(test.number), MatchOptions{})
			if test.matches {
				require.Empty(t, reason)
			} else {
				require.Equal(t, test.reason, reason)
			}
		})
	}
}

func TestMatchEscalationThrottleSkipsRecoveries(t *testing.T) {
	r := &Rule{MatchEscalationThrottle: &Throttle{From: 1, Rate: 10}}

	c := hostProblemContext(7)
	c["HOSTSTATE"] = "UP"
	c["NOTIFICATIONTYPE"] = "RECOVERY"

	require.Empty(t, Match(r, c, MatchOptions{}))
}

func TestMatchHostEvent(t *testing.T) {
	t.Run("transition-matches", func(t *testing.T) {
		r := &Rule{MatchHostEvents: []string{"du", "rd"}}
		require.Empty(t, Match(r, hostProblemContext(1), MatchOptions{}))
	})

	t.Run("recovery-wildcard-does-not-match-problem", func(t *testing.T) {
		r := &Rule{MatchHostEvents: []string{"?r"}}
		require.NotEmpty(t, Match(r, hostProblemContext(1), MatchOptions{}))
	})

	t.Run("service-event-with-host-only-rule", func(t *testing.T) {
		r := &Rule{MatchHostEvents: []string{"rd"}}
		c := hostProblemContext(1)
		c["WHAT"] = "SERVICE"
		require.Equal(t,
			"This is a service notification, but the rule just matches host events",
			Match(r, c, MatchOptions{}))
	})

	t.Run("service-event-deferred-to-service-matcher", func(t *testing.T) {
		r := &Rule{
			MatchHostEvents:    []string{"rd"},
			MatchServiceEvents: []string{"rc"},
		}
		c := hostProblemContext(1)
		c["WHAT"] = "SERVICE"
		c["SERVICESTATE"] = "CRITICAL"
		c["PREVIOUSSERVICEHARDSTATE"] = "OK"
		require.Empty(t, Match(r, c, MatchOptions{}))
	})
}

func TestMatchNotificationComment(t *testing.T) {
	r := &Rule{MatchNotificationComment: "maintenance .*"}

	c := hostProblemContext(1)
	c["NOTIFICATIONCOMMENT"] = "maintenance window prolonged"
	require.Empty(t, Match(r, c, MatchOptions{}))

	c["NOTIFICATIONCOMMENT"] = "unrelated"
	require.NotEmpty(t, Match(r, c, MatchOptions{}))

	// Anchored at the beginning only.
	c["NOTIFICATIONCOMMENT"] = "no maintenance here"
	require.NotEmpty(t, Match(r, c, MatchOptions{}))
}

func TestMatchLabels(t *testing.T) {
	r := &Rule{MatchHostLabels: map[string]string{"os": "linux", "env": "prod"}}

	c := hostProblemContext(1)
	c["HOSTLABEL_os"] = "linux"
	c["HOSTLABEL_env"] = "prod"
	require.Empty(t, Match(r, c, MatchOptions{}))

	c["HOSTLABEL_env"] = "staging"
	require.NotEmpty(t, Match(r, c, MatchOptions{}))
}

func TestMatchEventConsole(t *testing.T) {
	base := func() event.Context {
		c := hostProblemContext(1)
		c["EC_ID"] = "17"
		c["EC_RULE_ID"] = "srv"
		c["EC_PRIORITY"] = "4"
		c["EC_FACILITY"] = "3"
		c["EC_COMMENT"] = "disk failure imminent"
		return c
	}

	t.Run("exclude", func(t *testing.T) {
		r := &Rule{MatchEventConsole: &EventConsoleMatch{Exclude: true}}
		require.NotEmpty(t, Match(r, base(), MatchOptions{}))
		require.Empty(t, Match(r, hostProblemContext(1), MatchOptions{}))
	})

	t.Run("requires-ec-origin", func(t *testing.T) {
		r := &Rule{MatchEventConsole: &EventConsoleMatch{}}
		require.NotEmpty(t, Match(r, hostProblemContext(1), MatchOptions{}))
		require.Empty(t, Match(r, base(), MatchOptions{}))
	})

	t.Run("rule-ids", func(t *testing.T) {
		r := &Rule{MatchEventConsole: &EventConsoleMatch{RuleIDs: []string{"srv", "net"}}}
		require.Empty(t, Match(r, base(), MatchOptions{}))

		r = &Rule{MatchEventConsole: &EventConsoleMatch{RuleIDs: []string{"net"}}}
		require.NotEmpty(t, Match(r, base(), MatchOptions{}))
	})

	t.Run("priority-range-normalized", func(t *testing.T) {
		// Reversed bounds are accepted.
		r := &Rule{MatchEventConsole: &EventConsoleMatch{Priority: &Range{From: 6, To: 2}}}
		require.Empty(t, Match(r, base(), MatchOptions{}))

		r = &Rule{MatchEventConsole: &EventConsoleMatch{Priority: &Range{From: 0, To: 3}}}
		require.NotEmpty(t, Match(r, base(), MatchOptions{}))
	})

	t.Run("facility", func(t *testing.T) {
		daemon := 3
		r := &Rule{MatchEventConsole: &EventConsoleMatch{Facility: &daemon}}
		require.Empty(t, Match(r, base(), MatchOptions{}))

		kern := 0
		r = &Rule{MatchEventConsole: &EventConsoleMatch{Facility: &kern}}
		require.NotEmpty(t, Match(r, base(), MatchOptions{}))
	})

	t.Run("comment", func(t *testing.T) {
		r := &Rule{MatchEventConsole: &EventConsoleMatch{Comment: "disk failure"}}
		require.Empty(t, Match(r, base(), MatchOptions{}))

		r = &Rule{MatchEventConsole: &EventConsoleMatch{Comment: "^cpu"}}
		require.NotEmpty(t, Match(r, base(), MatchOptions{}))
	})
}

func TestMatchTimeperiodAnalyseOnly(t *testing.T) {
	r := &Rule{MatchTimeperiod: "workhours"}
	oracle := timeperiod.Static{"workhours": false}

	// Live dispatch trusts the core's own timeperiod suppression.
	require.Empty(t, Match(r, hostProblemContext(1), MatchOptions{Oracle: oracle}))

	reason := Match(r, hostProblemContext(1), MatchOptions{Oracle: oracle, Analyse: true})
	require.Equal(t, "The timeperiod 'workhours' is currently not active.", reason)

	// An unreachable oracle must not hide the rule from analysis.
	broken := timeperiod.Static{}
	require.Empty(t, Match(r, hostProblemContext(1), MatchOptions{Oracle: broken, Analyse: true}))
}

func TestMatchCoreSubset(t *testing.T) {
	serviceContext := func() event.Context {
		return event.Context{
			"WHAT":                "SERVICE",
			"HOSTNAME":            "web01",
			"SERVICEDESC":         "CPU load",
			"SERVICEOUTPUT":       "CRIT - load 42",
			"SERVICECHECKCOMMAND": "check_mk-cpu.loads",
			"SVC_SL":              "20",
			"NOTIFICATIONTYPE":    "PROBLEM",
		}
	}

	t.Run("hosts", func(t *testing.T) {
		r := &Rule{MatchHosts: []string{"web01", "web02"}}
		require.Empty(t, Match(r, serviceContext(), MatchOptions{}))

		r = &Rule{MatchHosts: []string{"db01"}}
		require.NotEmpty(t, Match(r, serviceContext(), MatchOptions{}))
	})

	t.Run("exclude-hosts", func(t *testing.T) {
		r := &Rule{MatchExcludeHosts: []string{"web01"}}
		require.NotEmpty(t, Match(r, serviceContext(), MatchOptions{}))
	})

	t.Run("services-regex-prefix", func(t *testing.T) {
		r := &Rule{MatchServices: []string{"CPU"}}
		require.Empty(t, Match(r, serviceContext(), MatchOptions{}))
	})

	t.Run("services-negation-wins-first", func(t *testing.T) {
		r := &Rule{MatchServices: []string{"!CPU load", "CPU"}}
		require.NotEmpty(t, Match(r, serviceContext(), MatchOptions{}))
	})

	t.Run("services-on-host-notification", func(t *testing.T) {
		r := &Rule{MatchServices: []string{"CPU"}}
		require.NotEmpty(t, Match(r, hostProblemContext(1), MatchOptions{}))
	})

	t.Run("plugin-output", func(t *testing.T) {
		r := &Rule{MatchPluginOutput: "load [0-9]+"}
		require.Empty(t, Match(r, serviceContext(), MatchOptions{}))

		r = &Rule{MatchPluginOutput: "out of memory"}
		require.NotEmpty(t, Match(r, serviceContext(), MatchOptions{}))
	})

	t.Run("check-type", func(t *testing.T) {
		r := &Rule{MatchCheckType: []string{"cpu.loads", "df"}}
		require.Empty(t, Match(r, serviceContext(), MatchOptions{}))

		r = &Rule{MatchCheckType: []string{"df"}}
		require.NotEmpty(t, Match(r, serviceContext(), MatchOptions{}))

		c := serviceContext()
		c["SERVICECHECKCOMMAND"] = "check_http"
		r = &Rule{MatchCheckType: []string{"cpu.loads"}}
		require.Equal(t,
			"The rule specified a list of Check_MK plugins, but this is no Check_MK check.",
			Match(r, c, MatchOptions{}))
	})

	t.Run("service-level", func(t *testing.T) {
		r := &Rule{MatchServiceLevel: &Range{From: 10, To: 30}}
		require.Empty(t, Match(r, serviceContext(), MatchOptions{}))

		r = &Rule{MatchServiceLevel: &Range{From: 30, To: 50}}
		require.NotEmpty(t, Match(r, serviceContext(), MatchOptions{}))
	})
}

type coreMatcherFunc func(r *Rule, c event.Context) string

func (f coreMatcherFunc) Match(r *Rule, c event.Context) string { return f(r, c) }

func TestMatchDelegatesToCoreMatcher(t *testing.T) {
	r := &Rule{}
	opts := MatchOptions{Core: coreMatcherFunc(func(*Rule, event.Context) string {
		return "host is not in the monitored site"
	})}

	require.Equal(t, "host is not in the monitored site", Match(r, hostProblemContext(1), opts))
}

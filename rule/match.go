package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/timeperiod"
)

// Matcher evaluates one predicate of a rule against an event context.
// It returns a human-readable mismatch reason, or "" if the predicate passes.
type Matcher func(r *Rule, c event.Context) string

// ApplyMatchers runs the matchers in order and returns the first mismatch reason.
// Later matchers are not evaluated once one fails; some predicates rely on
// earlier ones having filtered already.
func ApplyMatchers(matchers []Matcher, r *Rule, c event.Context) string {
	for _, matcher := range matchers {
		if reason := matcher(r, c); reason != "" {
			return reason
		}
	}

	return ""
}

// CoreMatcher is the seam to the monitoring core's generic rule matching
// (host/service groups, tags, folders, ...). The engine only implements the
// subset it owns; everything else is delegated here.
type CoreMatcher interface {
	// Match returns a mismatch reason, or "" if the rule applies to the context.
	Match(r *Rule, c event.Context) string
}

// MatchOptions bundle the collaborators of rule matching.
type MatchOptions struct {
	// Core, if not nil, extends the built-in core matching subset.
	Core CoreMatcher

	// Oracle answers timeperiod activity, needed in analyse mode only:
	// during live dispatch the core has already suppressed notifications
	// outside the rule's timeperiod.
	Oracle timeperiod.Oracle

	// Analyse marks an analysis run (no delivery, explicit timeperiod check).
	Analyse bool
}

// Match evaluates the rule against the context and returns a mismatch reason,
// or "" if the rule matches. It is pure: no state outside the return value is touched.
func Match(r *Rule, c event.Context, opts MatchOptions) string {
	matchers := []Matcher{
		matchRuleDisabled,
		matchCore(opts.Core),
		matchEscalation,
		matchEscalationThrottle,
		matchHostEvent,
		matchServiceEvent,
		matchNotificationComment,
		matchHostLabels,
		matchServiceLabels,
		matchEventConsole,
	}
	if opts.Analyse {
		matchers = append(matchers, matchTimeperiod(opts.Oracle))
	}

	return ApplyMatchers(matchers, r, c)
}

// matchRuleDisabled must run first so that a disabled rule never produces a
// state-dependent mismatch reason.
func matchRuleDisabled(r *Rule, _ event.Context) string {
	if r.Disabled {
		return "This rule is disabled"
	}

	return ""
}

func matchCore(core CoreMatcher) Matcher {
	return func(r *Rule, c event.Context) string {
		if reason := matchCoreSubset(r, c); reason != "" {
			return reason
		}
		if core != nil {
			return core.Match(r, c)
		}

		return ""
	}
}

func matchEscalation(r *Rule, c event.Context) string {
	if r.MatchEscalation == nil {
		return ""
	}

	n := c.NotificationNumber()
	if !r.MatchEscalation.Contains(n) {
		return fmt.Sprintf("The notification number %d does not lie in range %d ... %d",
			n, r.MatchEscalation.From, r.MatchEscalation.To)
	}

	return ""
}

func matchEscalationThrottle(r *Rule, c event.Context) string {
	if r.MatchEscalationThrottle == nil {
		return ""
	}

	// Recovery notifications are never suppressed by throttling.
	if (!c.IsService() && stateOrDefault(c, "HOSTSTATE", "UP") == "UP") ||
		(c.IsService() && stateOrDefault(c, "SERVICESTATE", "OK") == "OK") {
		return ""
	}

	from, rate := r.MatchEscalationThrottle.From, r.MatchEscalationThrottle.Rate
	n := c.NotificationNumber()
	if n <= from {
		return ""
	}
	if rem := (n - from) % rate; rem != 0 {
		return fmt.Sprintf("This notification is being skipped due to throttling. The next number will be %d",
			n+rate-rem)
	}

	return ""
}

func matchHostEvent(r *Rule, c event.Context) string {
	if len(r.MatchHostEvents) == 0 {
		return ""
	}

	if c.IsService() {
		if len(r.MatchServiceEvents) == 0 {
			return "This is a service notification, but the rule just matches host events"
		}
		return "" // Handled by matchServiceEvent.
	}

	return matchEventTypes(c, c["HOSTSTATE"], c["PREVIOUSHOSTHARDSTATE"], hostStateCodes, r.MatchHostEvents)
}

func matchServiceEvent(r *Rule, c event.Context) string {
	if len(r.MatchServiceEvents) == 0 {
		return ""
	}

	if !c.IsService() {
		if len(r.MatchHostEvents) == 0 {
			return "This is a host notification, but the rule just matches service events"
		}
		return "" // Handled by matchHostEvent.
	}

	return matchEventTypes(c, c["SERVICESTATE"], c["PREVIOUSSERVICEHARDSTATE"], serviceStateCodes, r.MatchServiceEvents)
}

func matchNotificationComment(r *Rule, c event.Context) string {
	if r.MatchNotificationComment == "" {
		return ""
	}

	comment := c["NOTIFICATIONCOMMENT"]
	matched, err := regexp.MatchString("^(?:"+r.MatchNotificationComment+")", comment)
	if err != nil || !matched {
		return fmt.Sprintf("The beginning of the notification comment '%s' is not matched by the regex '%s'",
			comment, r.MatchNotificationComment)
	}

	return ""
}

func matchHostLabels(r *Rule, c event.Context) string {
	if len(r.MatchHostLabels) == 0 {
		return ""
	}

	return matchLabels(r.MatchHostLabels, c, "host")
}

func matchServiceLabels(r *Rule, c event.Context) string {
	if len(r.MatchServiceLabels) == 0 {
		return ""
	}

	return matchLabels(r.MatchServiceLabels, c, "service")
}

func matchLabels(required map[string]string, c event.Context, what string) string {
	prefix := strings.ToUpper(what) + "LABEL_"

	labels := map[string]string{}
	for variable, value := range c {
		if strings.HasPrefix(variable, prefix) {
			labels[strings.TrimPrefix(variable, prefix)] = value
		}
	}

	for name, value := range required {
		if labels[name] != value {
			return fmt.Sprintf("The %s labels %v did not match %v", what, required, labels)
		}
	}

	return ""
}

func matchEventConsole(r *Rule, c event.Context) string {
	match := r.MatchEventConsole
	if match == nil {
		return ""
	}

	_, isECNotification := c["EC_ID"]
	if match.Exclude {
		if isECNotification {
			return "Notification has been created by the Event Console."
		}
		return ""
	}
	if !isECNotification {
		return "Notification has not been created by the Event Console."
	}

	if len(match.RuleIDs) > 0 && !contains(match.RuleIDs, c["EC_RULE_ID"]) {
		return fmt.Sprintf("EC Event has rule ID '%s', but '%s' is required",
			c["EC_RULE_ID"], strings.Join(match.RuleIDs, ", "))
	}

	if match.Priority != nil {
		// Normalize a reversed range before checking.
		from, to := match.Priority.From, match.Priority.To
		if from > to {
			from, to = to, from
		}
		p := atoiOrZero(c["EC_PRIORITY"])
		if p < from || p > to {
			return fmt.Sprintf("Event has priority %d, but matched range is %d .. %d", p, from, to)
		}
	}

	if match.Facility != nil && *match.Facility != atoiOrZero(c["EC_FACILITY"]) {
		return fmt.Sprintf("Wrong syslog facility %s, required is %d", c["EC_FACILITY"], *match.Facility)
	}

	if match.Comment != "" {
		matched, err := regexp.MatchString(match.Comment, c["EC_COMMENT"])
		if err != nil || !matched {
			return fmt.Sprintf("The event comment '%s' does not match the regular expression '%s'",
				c["EC_COMMENT"], match.Comment)
		}
	}

	return ""
}

func matchTimeperiod(oracle timeperiod.Oracle) Matcher {
	return func(r *Rule, _ event.Context) string {
		if r.MatchTimeperiod == "" || r.MatchTimeperiod == "24X7" {
			return ""
		}

		active, err := oracle.Active(r.MatchTimeperiod)
		if err != nil {
			// Assume active; the analyser must not hide rules just because the core is unreachable.
			return ""
		}
		if !active {
			return fmt.Sprintf("The timeperiod '%s' is currently not active.", r.MatchTimeperiod)
		}

		return ""
	}
}

func stateOrDefault(c event.Context, key, def string) string {
	if state, ok := c[key]; ok {
		return state
	}

	return def
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}

	return n
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}

	return false
}

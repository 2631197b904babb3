package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/openmon/notifyd/event"
)

// matchCoreSubset covers the core matching conditions the engine owns itself:
// host/service name lists, plugin output, check type and service level.
// Groups, tags and folders stay with the CoreMatcher collaborator.
func matchCoreSubset(r *Rule, c event.Context) string {
	matchers := []Matcher{
		matchHosts,
		matchExcludeHosts,
		matchServices,
		matchExcludeServices,
		matchPluginOutput,
		matchCheckType,
		matchServiceLevel,
	}

	return ApplyMatchers(matchers, r, c)
}

func matchHosts(r *Rule, c event.Context) string {
	if len(r.MatchHosts) == 0 {
		return ""
	}

	host := c["HOSTNAME"]
	if !contains(r.MatchHosts, host) {
		return fmt.Sprintf("The host's name '%s' is not on the list of allowed hosts (%s)",
			host, strings.Join(r.MatchHosts, ", "))
	}

	return ""
}

func matchExcludeHosts(r *Rule, c event.Context) string {
	host := c["HOSTNAME"]
	if contains(r.MatchExcludeHosts, host) {
		return fmt.Sprintf("The host's name '%s' is on the list of excluded hosts", host)
	}

	return ""
}

func matchServices(r *Rule, c event.Context) string {
	if len(r.MatchServices) == 0 {
		return ""
	}

	if !c.IsService() {
		return "The rule specifies a list of services, but this is a host notification."
	}

	if !serviceListMatches(r.MatchServices, c["SERVICEDESC"]) {
		return fmt.Sprintf("The service's description '%s' does not match by the list of allowed services (%s)",
			c["SERVICEDESC"], strings.Join(r.MatchServices, ", "))
	}

	return ""
}

func matchExcludeServices(r *Rule, c event.Context) string {
	if len(r.MatchExcludeServices) == 0 || !c.IsService() {
		return ""
	}

	if serviceListMatches(r.MatchExcludeServices, c["SERVICEDESC"]) {
		return fmt.Sprintf("The service's description '%s' matches the list of excluded services",
			c["SERVICEDESC"])
	}

	return ""
}

// serviceListMatches checks a service description against a pattern list.
// Patterns are regexes anchored at the beginning; a '!' prefix negates, and the
// first pattern deciding either way wins.
func serviceListMatches(patterns []string, servicedesc string) bool {
	for _, pattern := range patterns {
		negate := strings.HasPrefix(pattern, "!")
		pattern = strings.TrimPrefix(pattern, "!")

		matched, err := regexp.MatchString("^(?:"+pattern+")", servicedesc)
		if err == nil && matched {
			return !negate
		}
	}

	return false
}

func matchPluginOutput(r *Rule, c event.Context) string {
	if r.MatchPluginOutput == "" {
		return ""
	}

	var output string
	if c.IsService() {
		output = c["SERVICEOUTPUT"]
	} else {
		output = c["HOSTOUTPUT"]
	}

	matched, err := regexp.MatchString(r.MatchPluginOutput, output)
	if err != nil || !matched {
		return fmt.Sprintf("The expression '%s' cannot be found in the plugin output '%s'",
			r.MatchPluginOutput, output)
	}

	return ""
}

func matchCheckType(r *Rule, c event.Context) string {
	if len(r.MatchCheckType) == 0 {
		return ""
	}

	if !c.IsService() {
		return "The rule specifies a list of Check_MK plugins, but this is a host notification."
	}

	command := c["SERVICECHECKCOMMAND"]
	if !strings.HasPrefix(command, "check_mk-") {
		return "The rule specified a list of Check_MK plugins, but this is no Check_MK check."
	}

	plugin := strings.TrimPrefix(command, "check_mk-")
	if !contains(r.MatchCheckType, plugin) {
		return fmt.Sprintf("The Check_MK plugin '%s' is not on the list of allowed plugins (%s)",
			plugin, strings.Join(r.MatchCheckType, ", "))
	}

	return ""
}

func matchServiceLevel(r *Rule, c event.Context) string {
	if r.MatchServiceLevel == nil {
		return ""
	}

	var sl int
	if c.IsService() && c["SVC_SL"] != "" {
		sl = atoiOrZero(c["SVC_SL"])
	} else {
		sl = atoiOrZero(c["HOST_SL"])
	}

	if !r.MatchServiceLevel.Contains(sl) {
		return fmt.Sprintf("The service level %d is not between %d and %d.",
			sl, r.MatchServiceLevel.From, r.MatchServiceLevel.To)
	}

	return ""
}

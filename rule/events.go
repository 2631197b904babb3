package rule

import (
	"fmt"
	"strings"

	"github.com/openmon/notifyd/event"
)

// Single-letter state codes per host/service state. Recovery transitions use
// the target letter 'r' regardless of the map.
var (
	hostStateCodes    = map[string]byte{"UP": 'r', "DOWN": 'd', "UNREACHABLE": 'u'}
	serviceStateCodes = map[string]byte{"OK": 'r', "WARNING": 'w', "CRITICAL": 'c', "UNKNOWN": 'u'}
)

// EventCode derives the event type code of a notification: a two-letter
// transition code (previous state letter + new state letter, e.g. "dr" for a
// recovery from DOWN), or one of the literal codes 'f' (flapping),
// 's' (downtime), 'x' (acknowledgement), "as"/"af" (alert handler success/failure).
// Unknown states map to '?'.
func EventCode(c event.Context, state, lastState string, codes map[string]byte) string {
	notificationType := c["NOTIFICATIONTYPE"]

	switch {
	case notificationType == "RECOVERY":
		return string(codeOrWildcard(codes, lastState)) + "r"
	case notificationType == "FLAPPINGSTART" || notificationType == "FLAPPINGSTOP" || notificationType == "FLAPPINGDISABLED":
		return "f"
	case notificationType == "DOWNTIMESTART" || notificationType == "DOWNTIMEEND" || notificationType == "DOWNTIMECANCELLED":
		return "s"
	case notificationType == "ACKNOWLEDGEMENT":
		return "x"
	case strings.HasPrefix(notificationType, "ALERTHANDLER ("):
		if strings.TrimSuffix(strings.TrimPrefix(notificationType, "ALERTHANDLER ("), ")") == "OK" {
			return "as"
		}
		return "af"
	default:
		return string(codeOrWildcard(codes, lastState)) + string(codeOrWildcard(codes, state))
	}
}

// matchEventTypes checks the event's type code against the rule's allowed
// events. '?' is a wildcard for either letter of a two-letter code and may
// appear on both sides of the comparison.
func matchEventTypes(c event.Context, state, lastState string, codes map[string]byte, allowedEvents []string) string {
	ev := EventCode(c, state, lastState, codes)

	for _, allowed := range allowedEvents {
		if ev == allowed {
			return ""
		}
		if len(ev) > 1 && len(allowed) > 1 && ev[1] == allowed[1] && (allowed[0] == '?' || ev[0] == '?') {
			return ""
		}
	}

	return fmt.Sprintf("Event type '%s' not handled by this rule. Allowed are: %s",
		ev, strings.Join(allowedEvents, ", "))
}

func codeOrWildcard(codes map[string]byte, state string) byte {
	if code, ok := codes[state]; ok {
		return code
	}

	return '?'
}

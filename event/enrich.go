package event

import (
	"fmt"
	"time"
)

// RulebasedContactName is the pseudo contact the core uses when rule based
// notifications decide the recipients instead of the core itself.
const RulebasedContactName = "check-mk-notify"

// ContactsUnknown is the CONTACTS value signalling that the object's contacts
// could not be determined; the engine then falls back to the fallback contacts.
const ContactsUnknown = "?"

// Enrich adds the derived variables rule evaluation and the plugins rely on.
// It mutates the passed context, which therefore must be the dispatch pass's own copy;
// the backlog stores the context before enrichment so that replays start from scratch.
func Enrich(c Context, now time.Time, logDir string) {
	if c["WHAT"] == "" {
		if c["SERVICEDESC"] != "" {
			c["WHAT"] = "SERVICE"
		} else {
			c["WHAT"] = "HOST"
		}
	}

	if _, ok := c["CONTACTS"]; !ok {
		c["CONTACTS"] = ContactsUnknown
	}

	// Spool files are created per contact; rule based notifications do not
	// distinguish contacts at this point yet.
	if c["CONTACTNAME"] == "" {
		c["CONTACTNAME"] = RulebasedContactName
	}

	if _, ok := c["MICROTIME"]; !ok {
		c["MICROTIME"] = fmt.Sprintf("%d", now.UnixMicro())
	}

	c["LOGDIR"] = logDir
}

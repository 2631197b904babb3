// Package event defines the notification contexts handed over by the monitoring core and
// the sources they can be read from.
//
// A raw context is the unprocessed KEY=value data of one state-change event. It is created
// once per event and not mutated afterwards; everything derived from it (plugin contexts)
// works on explicit copies.
package event

import (
	"sort"
	"strings"

	"golang.org/x/exp/maps"
)

// Context is one notification context: a mapping of macro names like
// HOSTNAME or SERVICESTATE to their values.
type Context map[string]string

// Copy returns an independent copy of the context.
func (c Context) Copy() Context {
	cc := make(Context, len(c))
	for k, v := range c {
		cc[k] = v
	}

	return cc
}

// HostService returns "host" or "host;service" for log messages.
func (c Context) HostService() string {
	host := c["HOSTNAME"]
	if host == "" {
		host = "UNKNOWN"
	}

	if service := c["SERVICEDESC"]; service != "" {
		return host + ";" + service
	}

	return host
}

// IsService reports whether the context describes a service event.
func (c Context) IsService() bool {
	return c["WHAT"] == "SERVICE"
}

// NotificationNumber returns the host or service notification number, defaulting to 1.
func (c Context) NotificationNumber() int {
	var raw string
	if c.IsService() {
		raw = c["SERVICENOTIFICATIONNUMBER"]
	} else {
		raw = c["HOSTNOTIFICATIONNUMBER"]
	}

	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			n = 0
			break
		}
		n = n*10 + int(r-'0')
	}
	if n < 1 {
		return 1
	}

	return n
}

// Dump renders the context sorted by key, one "key=value" pair per line.
// Used for debug logging only.
func (c Context) Dump() string {
	keys := maps.Keys(c)
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(c[k])
	}

	return sb.String()
}

// contactKeys are the per-contact context variables that carry one
// comma-separated element per contact before splitting.
var contactKeys = []string{"CONTACTNAME", "CONTACTALIAS", "CONTACTEMAIL", "CONTACTPAGER"}

// SplitByContact takes a plugin context containing multiple contacts and returns
// one context per contact, each with its own CONTACT* fields.
func SplitByContact(c Context) []Context {
	numContacts := len(strings.Split(c["CONTACTNAME"], ","))
	if numContacts <= 1 {
		return []Context{c}
	}

	keysToSplit := append([]string(nil), contactKeys...)
	for key := range c {
		if strings.HasPrefix(key, "CONTACT_") {
			keysToSplit = append(keysToSplit, key)
		}
	}

	contexts := make([]Context, 0, numContacts)
	for i := 0; i < numContacts; i++ {
		cc := c.Copy()
		for _, key := range keysToSplit {
			parts := strings.Split(cc[key], ",")
			if i < len(parts) {
				cc[key] = parts[i]
			} else {
				cc[key] = ""
			}
		}
		contexts = append(contexts, cc)
	}

	return contexts
}

package rule

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
)

// MailtoPrefix marks synthetic contacts created from literal email addresses.
const MailtoPrefix = "mailto:"

// ContactSet is a deduplicated, order-independent set of contact names.
// Its canonical Key makes it usable as part of the notification table key.
type ContactSet map[string]struct{}

// NewContactSet builds a ContactSet from names.
func NewContactSet(names ...string) ContactSet {
	s := make(ContactSet, len(names))
	for _, name := range names {
		s[name] = struct{}{}
	}

	return s
}

// Names returns the contact names in sorted order.
func (s ContactSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Key returns the canonical representation: sorted names, comma-joined.
func (s ContactSet) Key() string {
	return strings.Join(s.Names(), ",")
}

// Contains reports set membership.
func (s ContactSet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Intersect returns the contacts present in both sets.
func (s ContactSet) Intersect(other ContactSet) ContactSet {
	result := ContactSet{}
	for name := range s {
		if other.Contains(name) {
			result[name] = struct{}{}
		}
	}

	return result
}

// Difference returns the contacts of s that are not in other.
func (s ContactSet) Difference(other ContactSet) ContactSet {
	result := ContactSet{}
	for name := range s {
		if !other.Contains(name) {
			result[name] = struct{}{}
		}
	}

	return result
}

// FallbackContacts returns the names of all fallback recipients: the global
// fallback email (as a synthetic mailto contact) plus every contact flagged as
// fallback contact that has an email address.
func FallbackContacts(contacts Contacts, fallbackEmail string) []string {
	var names []string
	if fallbackEmail != "" {
		names = append(names, MailtoPrefix+fallbackEmail)
	}

	for _, name := range contacts.Names() {
		contact := contacts[name]
		if contact.FallbackContact && contact.Email != "" {
			names = append(names, name)
		}
	}

	return names
}

// ResolveContacts expands the rule's contact specification against the event
// into the concrete set of recipients: the union of the event's own contacts,
// all (mail-capable) contacts, explicit users, group members and literal email
// addresses, minus contacts that disabled notifications or fail the rule's
// contact conditions. Every skip is logged with its reason.
func ResolveContacts(
	r *Rule, c event.Context, contacts Contacts, fallbackEmail string,
	now time.Time, logger *logging.Logger,
) ContactSet {
	collected := ContactSet{}

	if r.ContactObject {
		for _, name := range objectContacts(c, contacts, fallbackEmail, logger) {
			collected[name] = struct{}{}
		}
	}
	if r.ContactAll {
		for name := range contacts {
			collected[name] = struct{}{}
		}
	}
	if r.ContactAllWithEmail {
		for name, contact := range contacts {
			if contact.Email != "" {
				collected[name] = struct{}{}
			}
		}
	}
	for _, name := range r.ContactUsers {
		collected[name] = struct{}{}
	}
	if len(r.ContactGroups) > 0 {
		index := contacts.GroupIndex()
		for _, group := range r.ContactGroups {
			for _, name := range index[group] {
				collected[name] = struct{}{}
			}
		}
	}
	for _, email := range r.ContactEmails {
		collected[MailtoPrefix+email] = struct{}{}
	}

	enabled := ContactSet{}
	for _, name := range collected.Names() {
		if strings.HasPrefix(name, MailtoPrefix) {
			// Synthetic email contacts carry no settings to check.
			enabled[name] = struct{}{}
			continue
		}

		contact, ok := contacts[name]
		if !ok {
			logger.Warnf("Cannot get information about contact %s: ignoring restrictions", name)
			enabled[name] = struct{}{}
			continue
		}

		if reason := contactDisabled(contact, now); reason != "" {
			logger.Infof("Skipping contact %s: %s", name, reason)
			continue
		}

		reason := matchContactMacros(r, contact)
		if reason == "" {
			reason = matchContactGroups(r, name, contact, logger)
		}
		if reason != "" {
			logger.Infof("Skipping contact %s: %s", name, reason)
			continue
		}

		enabled[name] = struct{}{}
	}

	return enabled
}

// objectContacts returns the contacts from the event's CONTACTS variable, or
// the fallback contacts if the core could not determine any.
func objectContacts(c event.Context, contacts Contacts, fallbackEmail string, logger *logging.Logger) []string {
	commaSeparated := c["CONTACTS"]
	if commaSeparated == event.ContactsUnknown {
		logger.Warnf("Contacts of %s cannot be determined. Using fallback contacts", c.HostService())
		return FallbackContacts(contacts, fallbackEmail)
	}

	if commaSeparated == "" {
		return nil
	}

	return strings.Split(commaSeparated, ",")
}

// contactDisabled checks the contact's personal notification switch,
// either unconditional or within an inclusive unix-time range.
func contactDisabled(contact *Contact, now time.Time) string {
	d := contact.DisableNotifications
	if !d.Disable {
		return ""
	}

	if d.From == 0 || d.To == 0 {
		return "notifications are disabled in personal settings"
	}
	if ts := now.Unix(); d.From <= ts && ts <= d.To {
		return fmt.Sprintf("notifications are disabled in personal settings from %d to %d", d.From, d.To)
	}

	return ""
}

func matchContactMacros(r *Rule, contact *Contact) string {
	for _, mm := range r.ContactMatchMacros {
		value := contact.Macros[mm.Name]

		rx := mm.Regex
		if !strings.HasSuffix(rx, "$") {
			rx += "$"
		}

		matched, err := regexp.MatchString("^(?:"+rx+")", value)
		if err != nil || !matched {
			var overview []string
			for _, name := range sortedKeys(contact.Macros) {
				overview = append(overview, name+"="+contact.Macros[name])
			}
			return fmt.Sprintf("value '%s' for macro '%s' does not match '%s'. The contact's macros are: %s",
				value, mm.Name, rx, strings.Join(overview, ", "))
		}
	}

	return ""
}

func matchContactGroups(r *Rule, name string, contact *Contact, logger *logging.Logger) string {
	if len(r.ContactMatchGroups) == 0 {
		return ""
	}

	if contact.ContactGroups == nil {
		logger.Warnf("Cannot determine contact groups of %s: skipping restrictions", name)
		return ""
	}

	for _, required := range r.ContactMatchGroups {
		if !contains(contact.ContactGroups, required) {
			groups := strings.Join(contact.ContactGroups, ", ")
			if groups == "" {
				groups = "<None>"
			}
			return fmt.Sprintf("the contact is not member of the contact group %s (their groups are %s)",
				required, groups)
		}
	}

	return ""
}

// AddContactInfo joins the contact details of all recipients into the
// CONTACT* context variables, one comma-separated element per contact.
// Synthetic mailto contacts get their address as name and email.
func AddContactInfo(c event.Context, set ContactSet, contacts Contacts) {
	names := set.Names()

	type detail struct {
		name, alias, email, pager string
		macros                    map[string]string
	}

	details := make([]detail, 0, len(names))
	macroKeys := map[string]struct{}{}
	for _, name := range names {
		if strings.HasPrefix(name, MailtoPrefix) {
			address := strings.TrimPrefix(name, MailtoPrefix)
			details = append(details, detail{
				name:  address,
				alias: "Email address " + name,
				email: address,
			})
			continue
		}

		contact, ok := contacts[name]
		if !ok {
			details = append(details, detail{name: name, alias: name})
			continue
		}

		alias := contact.Alias
		if alias == "" {
			alias = name
		}
		details = append(details, detail{
			name:   name,
			alias:  alias,
			email:  contact.Email,
			pager:  contact.Pager,
			macros: contact.Macros,
		})
		for key := range contact.Macros {
			macroKeys[key] = struct{}{}
		}
	}

	join := func(get func(detail) string) string {
		items := make([]string, len(details))
		for i, d := range details {
			items[i] = get(d)
		}
		return strings.Join(items, ",")
	}

	c["CONTACTNAME"] = join(func(d detail) string { return d.name })
	c["CONTACTALIAS"] = join(func(d detail) string { return d.alias })
	c["CONTACTEMAIL"] = join(func(d detail) string { return d.email })
	c["CONTACTPAGER"] = join(func(d detail) string { return d.pager })

	for key := range macroKeys {
		c["CONTACT_"+strings.ToUpper(key)] = join(func(d detail) string { return d.macros[key] })
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

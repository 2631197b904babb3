package plugin

import (
	"os"
	"sort"

	"github.com/openmon/notifyd/event"
)

const truncationNotice = "...\nAttention: Removed remaining content because it was too long."

// Environ renders the notification context as NOTIFY_-prefixed environment
// variables in sorted order. Values exceeding half of the kernel's per-argument
// limit (MAX_ARG_STRLEN, 32 pages) are truncated with a notice so that execve
// never fails on an oversized plugin output carried in the context.
func Environ(c event.Context) []string {
	limit := 32 * os.Getpagesize() / 2

	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		value := c[key]
		if len(value) > limit {
			value = value[:limit] + truncationNotice
		}
		env = append(env, event.EnvPrefix+key+"="+value)
	}

	return env
}

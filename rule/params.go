package rule

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/openmon/notifyd/event"
)

// Sort orders for bulk flushing, see PluginParameters.BulkSortOrder.
const (
	OldestFirst = "oldest_first"
	NewestFirst = "newest_first"
)

// PluginParameters are the parameters handed to a notification plugin.
// The known fields cover the built-in plugin families; everything a custom
// plugin defines beyond that travels in the Extra bag.
type PluginParameters struct {
	// DisableMultiplexing keeps a multi-contact notification in one plugin
	// call instead of splitting it into one call per contact.
	DisableMultiplexing bool `yaml:"disable_multiplexing" json:"disable_multiplexing,omitempty"`

	// BulkSortOrder orders the contexts of a bulk flush, OldestFirst by default.
	BulkSortOrder string `yaml:"bulk_sort_order" json:"bulk_sort_order,omitempty"`

	// Mail plugin family.
	From                    string `yaml:"from" json:"from,omitempty"`
	ReplyTo                 string `yaml:"reply_to" json:"reply_to,omitempty"`
	GraphsPerNotification   int    `yaml:"graphs_per_notification" json:"graphs_per_notification,omitempty"`
	NotificationsWithGraphs int    `yaml:"notifications_with_graphs" json:"notifications_with_graphs,omitempty"`

	// Extra carries plugin specific options opaque to the engine.
	Extra map[string]string `yaml:"extra" json:"extra,omitempty"`
}

// Copy returns an independent copy of the parameters.
func (p *PluginParameters) Copy() *PluginParameters {
	pc := *p
	if p.Extra != nil {
		pc.Extra = make(map[string]string, len(p.Extra))
		for k, v := range p.Extra {
			pc.Extra[k] = v
		}
	}

	return &pc
}

// Equal reports whether two parameter sets are identical. Bulk flushing uses
// this to decide whether queued notifications may share one plugin invocation.
func (p *PluginParameters) Equal(other *PluginParameters) bool {
	if p == nil || other == nil {
		return p == other
	}

	return reflect.DeepEqual(p.normalized(), other.normalized())
}

func (p *PluginParameters) normalized() PluginParameters {
	pc := *p
	if len(pc.Extra) == 0 {
		pc.Extra = nil
	}

	return pc
}

// SetExtra stores an opaque option, initializing the bag on first use.
func (p *PluginParameters) SetExtra(key, value string) {
	if p.Extra == nil {
		p.Extra = map[string]string{}
	}
	p.Extra[key] = value
}

// AddToContext flattens the parameters into PARAMETER_* context variables,
// the convention plugins read them by.
func (p *PluginParameters) AddToContext(c event.Context) {
	if p == nil {
		return
	}

	set := func(key, value string) {
		if value != "" {
			c["PARAMETER_"+key] = value
		}
	}

	if p.DisableMultiplexing {
		set("DISABLE_MULTIPLEXING", "1")
	}
	set("BULK_SORT_ORDER", p.BulkSortOrder)
	set("FROM", p.From)
	set("REPLY_TO", p.ReplyTo)
	if p.GraphsPerNotification > 0 {
		set("GRAPHS_PER_NOTIFICATION", fmt.Sprintf("%d", p.GraphsPerNotification))
	}
	if p.NotificationsWithGraphs > 0 {
		set("NOTIFICATIONS_WITH_GRAPHS", fmt.Sprintf("%d", p.NotificationsWithGraphs))
	}

	for key, value := range p.Extra {
		set(paramKey(key), value)
	}
}

// ContextLines renders the parameters as the VAR=value header block of a bulk
// plugin invocation, sorted for determinism.
func (p *PluginParameters) ContextLines() []string {
	c := event.Context{}
	p.AddToContext(c)

	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+EncodeContextValue(c[k])+"\n")
	}

	return lines
}

// EncodeContextValue makes a value single-line for the bulk stdin protocol:
// carriage returns are dropped, newlines encoded as \x01.
func EncodeContextValue(value string) string {
	return strings.ReplaceAll(strings.ReplaceAll(value, "\r", ""), "\n", "\x01")
}

func paramKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

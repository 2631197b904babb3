package notify

import (
	"context"
	"strings"
	"time"

	"github.com/openmon/notifyd/backlog"
	"github.com/openmon/notifyd/bulk"
	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/history"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/plugin"
	"github.com/openmon/notifyd/rule"
	"github.com/openmon/notifyd/spool"
	"go.uber.org/zap"
)

// PlainEmailPlugin delivers notifications for which no plugin is configured,
// i.e. the classic plain email path.
const PlainEmailPlugin = "mail"

// multiplexedPlugins deliver a multi-contact notification in a single call by
// default; every other plugin gets one call per contact.
var multiplexedPlugins = []string{"", PlainEmailPlugin, "asciimail", "slack"}

// PluginInfo describes one planned or performed plugin notification,
// for the analysis output.
type PluginInfo struct {
	Contact string                 `json:"contact"`
	Plugin  string                 `json:"plugin"`
	Params  *rule.PluginParameters `json:"params,omitempty"`
	Bulk    *rule.BulkSpec         `json:"bulk,omitempty"`
}

// Analysis is the outcome of an analysis run: the full rule audit trail and
// the notifications that would be sent.
type Analysis struct {
	Rules   []RuleInfo   `json:"rules"`
	Plugins []PluginInfo `json:"plugins"`
}

// Dispatcher processes raw notification contexts end to end: backlog,
// enrichment, rule evaluation and delivery via plugin, bulk queue or spool.
type Dispatcher struct {
	builder  *Builder
	contacts rule.Contacts
	executor *plugin.Executor
	queue    *bulk.Queue
	spooler  *spool.Spooler
	history  history.Writer
	backlog  *backlog.Store
	logger   *logging.Logger

	spooling      string
	fallbackEmail string
	logDir        string
}

// DispatcherOptions bundle the collaborators and settings of a Dispatcher.
type DispatcherOptions struct {
	Builder  *Builder
	Contacts rule.Contacts
	Executor *plugin.Executor
	Queue    *bulk.Queue
	Spooler  *spool.Spooler
	History  history.Writer
	Backlog  *backlog.Store
	Logger   *logging.Logger

	// Spooling is one of the spool.Spooling* modes.
	Spooling string

	FallbackEmail string

	// LogDir is exported to plugins as NOTIFY_LOGDIR.
	LogDir string
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		builder:       opts.Builder,
		contacts:      opts.Contacts,
		executor:      opts.Executor,
		queue:         opts.Queue,
		spooler:       opts.Spooler,
		history:       opts.History,
		backlog:       opts.Backlog,
		logger:        opts.Logger,
		spooling:      opts.Spooling,
		fallbackEmail: opts.FallbackEmail,
		logDir:        opts.LogDir,
	}
}

// Process handles one raw notification context: it is recorded in the backlog,
// enriched, optionally forwarded to a remote site and, unless spooling is
// remote-only, delivered locally.
func (d *Dispatcher) Process(ctx context.Context, raw event.Context) {
	if err := d.backlog.Add(raw); err != nil {
		d.logger.Errorw("Cannot store notification in backlog", zap.Error(err))
	}

	d.logger.Info(strings.Repeat("-", 70))
	d.logger.Infof("Got raw notification (%s) context with %d variables", raw.HostService(), len(raw))
	d.logger.Debug(raw.Dump())

	c := raw.Copy()
	event.Enrich(c, time.Now(), d.logDir)

	if d.spooling == spool.SpoolingRemote || d.spooling == spool.SpoolingBoth {
		if err := d.spooler.SpoolForward(c); err != nil {
			d.logger.Errorw("Cannot spool notification for forwarding", zap.Error(err))
		}
	}

	if d.spooling != spool.SpoolingRemote {
		d.deliverLocally(ctx, c, false)
	}
}

// Analyse evaluates the rules against a raw context without delivering
// anything and returns the audit trail.
func (d *Dispatcher) Analyse(ctx context.Context, raw event.Context) *Analysis {
	d.logger.Info(strings.Repeat("-", 70))
	d.logger.Infof("Analysing notification (%s) context with %d variables", raw.HostService(), len(raw))

	c := raw.Copy()
	event.Enrich(c, time.Now(), d.logDir)

	return d.deliverLocally(ctx, c, true)
}

// Replay re-processes the nr-th most recent notification from the backlog.
func (d *Dispatcher) Replay(ctx context.Context, nr int) error {
	raw, err := d.backlog.Replay(nr)
	if err != nil {
		return err
	}

	d.logger.Infof("Replaying notification %d from backlog...", nr)
	d.Process(ctx, raw)

	return nil
}

// HandleSpoolfile processes one spool file and returns a delivery exit code.
// A file carrying a plugin is a finished notification for asynchronous local
// delivery; a raw context received from a remote site runs through the local
// rules instead.
func (d *Dispatcher) HandleSpoolfile(ctx context.Context, path string) int {
	d.logger.Info(strings.Repeat("-", 70))

	file, err := spool.Load(path)
	if err != nil {
		d.logger.Errorw("Cannot process spool file", zap.Error(err))
		return plugin.StatusPermanent
	}

	if file.Plugin != "" {
		d.logger.Infof("Got spool file (%s) for local delivery via %s",
			file.Context.HostService(), file.Plugin)
		return d.deliver(ctx, file.Plugin, file.Context)
	}

	d.logger.Infof("Got spool file (%s) from remote host for local delivery.",
		file.Context.HostService())

	if err := d.backlog.Add(file.Context); err != nil {
		d.logger.Errorw("Cannot store notification in backlog", zap.Error(err))
	}
	d.deliverLocally(ctx, file.Context, false)

	// Asynchronous delivery has no error handling beyond its own history entries.
	return plugin.StatusOK
}

// deliverLocally decides between rule based processing and the plain email
// path for cores that resolved the contact themselves.
func (d *Dispatcher) deliverLocally(ctx context.Context, c event.Context, analyse bool) *Analysis {
	// With rule based notifications enabled the core hands over the pseudo
	// contact; a concrete contact means the core already decided who to notify.
	if name := c["CONTACTNAME"]; name != "" && name != event.RulebasedContactName {
		if analyse {
			return nil
		}

		if contact, ok := d.contacts[name]; ok {
			if reason := contactMuted(contact, time.Now()); reason != "" {
				d.logger.Infof("Notifications for %s are disabled %s. Skipping.", name, reason)
				return nil
			}
		}

		d.logger.Infof("Preparing plain email notifications for %s", name)
		d.deliver(ctx, PlainEmailPlugin, c.Copy())
		return nil
	}

	d.logger.Debug("Preparing rule based notifications")

	table, infos, matches := d.builder.Build(c, time.Now(), analyse)
	plugins := d.processTable(ctx, c, table, matches, analyse)

	return &Analysis{Rules: infos, Plugins: plugins}
}

// processTable dispatches the notification table. An empty table falls back to
// notifying the fallback contacts, but only if no rule matched at all: a
// matching rule that produced no notification is a deliberate silence.
func (d *Dispatcher) processTable(
	ctx context.Context, c event.Context, table *Table, matches int, analyse bool,
) []PluginInfo {
	var plugins []PluginInfo

	if table.Len() == 0 {
		switch {
		case matches > 0:
			d.logger.Infof("%d rules matched, but no notification has been created.", matches)
		case analyse:
		default:
			d.notifyFallbackContacts(ctx, c)
		}

		return plugins
	}

	d.logger.Infof("Executing %d notifications:", table.Len())
	for _, entry := range table.Entries() {
		verb := "notifying"
		if analyse {
			verb = "would notify"
		}
		d.logger.Infof("  * %s %s via %s, bulk: %s",
			verb, strings.Join(entry.Contacts.Names(), ", "), pluginText(entry.Plugin), yesNo(entry.Bulk != nil))

		// A rule without a plugin means the built-in plain email path.
		pluginName := entry.Plugin
		if pluginName == "" {
			pluginName = PlainEmailPlugin
		}

		pluginContext := c.Copy()
		entry.Params.AddToContext(pluginContext)
		rule.AddContactInfo(pluginContext, entry.Contacts, d.contacts)

		contexts := []event.Context{pluginContext}
		if splitContexts(entry) {
			contexts = event.SplitByContact(pluginContext)
		}

		for _, pc := range contexts {
			plugins = append(plugins, PluginInfo{
				Contact: pc["CONTACTNAME"],
				Plugin:  pluginName,
				Params:  entry.Params,
				Bulk:    entry.Bulk,
			})

			if analyse {
				continue
			}

			switch {
			case entry.Bulk != nil:
				if err := d.queue.Add(pluginName, entry.Params, pc, entry.Bulk); err != nil {
					d.logger.Errorw("Cannot queue bulk notification", zap.Error(err))
				}
			case d.spooling == spool.SpoolingLocal || d.spooling == spool.SpoolingBoth:
				if err := d.spooler.SpoolLocal(pluginName, pc); err != nil {
					d.logger.Errorw("Cannot spool notification", zap.Error(err))
				}
			default:
				d.deliver(ctx, pluginName, pc)
			}
		}
	}

	return plugins
}

// notifyFallbackContacts sends a plain email to the configured fallback
// contacts when no rule produced a notification.
func (d *Dispatcher) notifyFallbackContacts(ctx context.Context, c event.Context) {
	fallback := rule.FallbackContacts(d.contacts, d.fallbackEmail)
	if len(fallback) == 0 {
		d.logger.Info("No rule matched, would notify fallback contacts, but none configured")
		return
	}

	d.logger.Info("No rule matched, notifying fallback contacts")

	pluginContext := c.Copy()
	rule.AddContactInfo(pluginContext, rule.NewContactSet(fallback...), d.contacts)
	for _, pc := range event.SplitByContact(pluginContext) {
		d.deliver(ctx, PlainEmailPlugin, pc)
	}
}

// deliver runs one plugin call for one context, framed by its history entries.
func (d *Dispatcher) deliver(ctx context.Context, pluginName string, c event.Context) int {
	d.history.Sent(pluginName, c)

	result := d.executor.Run(ctx, pluginName, c)
	if result.ExitCode != plugin.StatusOK {
		d.logger.Errorw("Notification plugin failed",
			zap.String("plugin", pluginName), zap.Int("exit_code", result.ExitCode))
	}

	d.history.Result(pluginName, c, result.ExitCode, result.Output)

	return result.ExitCode
}

// splitContexts reports whether a multi-contact notification is delivered in
// one plugin call per contact. Bulked notifications always split, as the bulk
// identity includes the contact.
func splitContexts(entry *Entry) bool {
	if entry.Bulk != nil {
		return true
	}
	if entry.Params != nil && entry.Params.DisableMultiplexing {
		return true
	}

	for _, name := range multiplexedPlugins {
		if entry.Plugin == name {
			return false
		}
	}

	return true
}

// contactMuted checks the contact's personal notification switch.
func contactMuted(contact *rule.Contact, now time.Time) string {
	dn := contact.DisableNotifications
	if !dn.Disable {
		return ""
	}

	if dn.From == 0 || dn.To == 0 {
		return "in personal settings"
	}
	if ts := now.Unix(); dn.From <= ts && ts <= dn.To {
		return "in personal settings for the current time range"
	}

	return ""
}

func pluginText(name string) string {
	if name == "" {
		return "plain email"
	}

	return name
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

package config

import (
	"time"

	"github.com/openmon/notifyd/history"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/spool"
	"github.com/pkg/errors"
)

// Config is the engine's daemon configuration.
type Config struct {
	Logging logging.Config `yaml:"logging" envPrefix:"LOGGING_"`
	History HistoryConfig  `yaml:"history" envPrefix:"HISTORY_"`

	// LogDir holds the notification log, the backlog and the crash log.
	// It is exported to plugins as NOTIFY_LOGDIR.
	LogDir string `yaml:"log_dir" env:"LOG_DIR" default:"var/notify"`

	// BulkDir is the root of the bulk queue.
	BulkDir string `yaml:"bulk_dir" env:"BULK_DIR" default:"var/notify/bulk"`

	// SpoolDir receives spool files for asynchronous delivery and forwarding.
	SpoolDir string `yaml:"spool_dir" env:"SPOOL_DIR" default:"var/notify/spool"`

	// LocalPluginDir takes precedence over PluginDir when resolving plugins.
	LocalPluginDir string `yaml:"local_plugin_dir" env:"LOCAL_PLUGIN_DIR" default:"local/share/notifyd/plugins"`
	PluginDir      string `yaml:"plugin_dir" env:"PLUGIN_DIR" default:"share/notifyd/plugins"`

	// PluginTimeout kills a plugin that runs longer.
	PluginTimeout time.Duration `yaml:"plugin_timeout" env:"PLUGIN_TIMEOUT" default:"1m"`

	// BulkInterval is the keepalive mode's bulk flush tick.
	BulkInterval time.Duration `yaml:"bulk_interval" env:"BULK_INTERVAL" default:"10s"`

	// Spooling is one of off, local, remote or both.
	Spooling string `yaml:"spooling" env:"SPOOLING" default:"off"`

	// BacklogSize bounds the replay backlog; 0 disables it.
	BacklogSize int `yaml:"backlog_size" env:"BACKLOG_SIZE" default:"10"`

	// FallbackEmail receives a plain email when no rule creates a notification.
	FallbackEmail string `yaml:"fallback_email" env:"FALLBACK_EMAIL"`

	RulesFile       string `yaml:"rules_file" env:"RULES_FILE" default:"etc/notifyd/rules.yml"`
	ContactsFile    string `yaml:"contacts_file" env:"CONTACTS_FILE" default:"etc/notifyd/contacts.yml"`
	TimeperiodsFile string `yaml:"timeperiods_file" env:"TIMEPERIODS_FILE"`
}

// HistoryConfig defines where history entries go: always into the monitoring
// log, optionally mirrored into a database.
type HistoryConfig struct {
	LogFile string `yaml:"log_file" env:"LOG_FILE" default:"var/notify/notify-history.log"`

	DatabaseEnabled bool                   `yaml:"database_enabled" env:"DATABASE_ENABLED"`
	Database        history.DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
}

// Validate checks constraints in the configuration and returns an error if they are violated.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}

	switch c.Spooling {
	case spool.SpoolingOff, spool.SpoolingLocal, spool.SpoolingRemote, spool.SpoolingBoth:
	default:
		return errors.Errorf("spooling must be one of off, local, remote, both, got %q", c.Spooling)
	}

	if c.PluginTimeout <= 0 {
		return errors.New("plugin_timeout must be positive")
	}
	if c.BulkInterval <= 0 {
		return errors.New("bulk_interval must be positive")
	}
	if c.BacklogSize < 0 {
		return errors.New("backlog_size must not be negative")
	}

	if c.History.DatabaseEnabled {
		if err := c.History.Database.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Flags defines the CLI of the engine. The positional mode argument selects
// what to do with exactly one invocation:
//
//	(none)         process one notification from NOTIFY_* environment variables
//	stdin          read one notification context from standard input
//	replay [N]     re-send the N-th notification from the backlog, default 0
//	analyse [N]    show rule matching for the N-th backlog notification as JSON
//	spoolfile F    process one spool file
//	send-bulks     send out all ripe bulk notifications
type Flags struct {
	// Version decides whether to just print the version and exit.
	Version bool `long:"version" description:"print version and exit"`

	// Config is the path to the config file.
	Config string `short:"c" long:"config" description:"path to config file"`

	// Keepalive runs the engine as a long-lived child of the monitoring core.
	Keepalive bool `long:"keepalive" description:"run in keepalive mode, reading events from stdin"`

	Args struct {
		// Mode is the positional dispatch mode, empty for environment dispatch.
		Mode string `positional-arg-name:"mode"`

		// Arg is the mode's argument: the backlog number or the spool file path.
		Arg string `positional-arg-name:"arg"`
	} `positional-args:"yes"`
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "etc/notifyd/config.yml"

// GetConfigPath returns the effective config file path.
func (f Flags) GetConfigPath() string {
	if f.Config == "" {
		return DefaultConfigPath
	}

	return f.Config
}

// IsExplicitConfigPath reports whether the config file path was set via flag.
func (f Flags) IsExplicitConfigPath() bool {
	return f.Config != ""
}

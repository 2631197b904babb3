package history

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/openmon/notifyd/backoff"
	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/retry"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	// Database drivers.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DatabaseConfig defines the history database connection.
type DatabaseConfig struct {
	// Type is the database vendor, one of "mysql", "pgsql" or "sqlite".
	Type string `yaml:"type" env:"TYPE" default:"sqlite"`

	// Host is the database host or a unix socket path (mysql, pgsql).
	Host string `yaml:"host" env:"HOST"`

	// Port is the database port, defaulted per vendor when 0.
	Port int `yaml:"port" env:"PORT"`

	Database string `yaml:"database" env:"DATABASE" default:"notifyd"`
	User     string `yaml:"user" env:"USER" default:"notifyd"`
	Password string `yaml:"password" env:"PASSWORD,unset"`

	// File is the database file for sqlite.
	File string `yaml:"file" env:"FILE" default:"notifyd-history.db"`
}

// Validate checks constraints in the configuration and returns an error if they are violated.
func (c *DatabaseConfig) Validate() error {
	switch c.Type {
	case "mysql", "pgsql":
		if c.Host == "" {
			return errors.New("database host must not be empty")
		}
	case "sqlite":
		if c.File == "" {
			return errors.New("database file must not be empty")
		}
	default:
		return errors.Errorf("unknown database type %q, must be one of: mysql, pgsql, sqlite", c.Type)
	}

	return nil
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS notification_history (
	ts        BIGINT       NOT NULL,
	kind      VARCHAR(32)  NOT NULL,
	contact   VARCHAR(255) NOT NULL,
	host      VARCHAR(255) NOT NULL,
	service   VARCHAR(255) NOT NULL,
	state     VARCHAR(32)  NOT NULL,
	plugin    VARCHAR(255) NOT NULL,
	exit_code INT          NOT NULL,
	message   TEXT         NOT NULL
)`

// SQLWriter mirrors history entries into a relational database so that they
// survive monitoring log rotation and can be queried directly.
type SQLWriter struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// NewSQLWriter connects to the configured database, retrying transient
// connection errors with exponential backoff, and ensures the history table exists.
func NewSQLWriter(ctx context.Context, c *DatabaseConfig, logger *logging.Logger) (*SQLWriter, error) {
	driver, dsn, err := dataSource(c)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open database")
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)

	err = retry.WithBackoff(
		ctx,
		func(ctx context.Context) error { return db.PingContext(ctx) },
		retry.Retryable,
		backoff.NewExponentialWithJitter(128*time.Millisecond, time.Minute),
		retry.Settings{
			Timeout: retry.DefaultTimeout,
			OnRetryableError: func(_ time.Duration, attempt uint64, err, _ error) {
				logger.Warnw("Cannot connect to database. Retrying",
					zap.Error(err), zap.Uint64("attempt", attempt))
			},
			OnSuccess: func(elapsed time.Duration, attempt uint64, _ error) {
				if attempt > 1 {
					logger.Infow("Reconnected to database",
						zap.Duration("after", elapsed), zap.Uint64("attempts", attempt))
				}
			},
		},
	)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "cannot connect to database")
	}

	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "cannot create history table")
	}

	return &SQLWriter{db: db, logger: logger}, nil
}

func (w *SQLWriter) Sent(plugin string, c event.Context) {
	w.insert("sent", plugin, c, 0, Message(plugin, c))
}

func (w *SQLWriter) Result(plugin string, c event.Context, exitCode int, output []string) {
	w.insert("result", plugin, c, exitCode, ResultMessage(plugin, c, exitCode, output))
}

func (w *SQLWriter) Close() error {
	return w.db.Close()
}

func (w *SQLWriter) insert(kind, plugin string, c event.Context, exitCode int, message string) {
	state := c["HOSTSTATE"]
	if c["SERVICEDESC"] != "" {
		state = c["SERVICESTATE"]
	}

	_, err := w.db.Exec(
		w.db.Rebind(`INSERT INTO notification_history (ts, kind, contact, host, service, state, plugin, exit_code, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		time.Now().Unix(), kind, c["CONTACTNAME"], c["HOSTNAME"], c["SERVICEDESC"],
		state, plugin, exitCode, message,
	)
	if err != nil {
		w.logger.Errorw("Cannot insert history entry", zap.Error(err))
	}
}

// dataSource derives the driver name and DSN from the configuration.
func dataSource(c *DatabaseConfig) (string, string, error) {
	switch c.Type {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.DBName = c.Database
		mc.Timeout = time.Minute
		if c.Host[0] == '/' {
			mc.Net = "unix"
			mc.Addr = c.Host
		} else {
			mc.Net = "tcp"
			port := c.Port
			if port == 0 {
				port = 3306
			}
			mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
		}

		return "mysql", mc.FormatDSN(), nil
	case "pgsql":
		port := c.Port
		if port == 0 {
			port = 5432
		}
		dsn := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
			Path:   "/" + url.PathEscape(c.Database),
		}
		query := url.Values{"connect_timeout": {"60"}}
		if c.Host[0] == '/' {
			dsn.Host = fmt.Sprintf("localhost:%d", port)
			query.Set("host", c.Host)
		}
		dsn.RawQuery = query.Encode()

		return "postgres", dsn.String(), nil
	case "sqlite":
		return "sqlite", c.File, nil
	default:
		return "", "", errors.Errorf("unknown database type %q", c.Type)
	}
}

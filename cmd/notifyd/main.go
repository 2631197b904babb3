package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/openmon/notifyd/backlog"
	"github.com/openmon/notifyd/bulk"
	"github.com/openmon/notifyd/config"
	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/history"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/notify"
	"github.com/openmon/notifyd/plugin"
	"github.com/openmon/notifyd/spool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Version is the notifyd version, overridable at build time.
var Version = "0.1.0"

const (
	// ExitFailure is the exit code on operational errors.
	ExitFailure = 1

	// ExitUsage is the exit code on CLI and configuration errors.
	ExitUsage = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var flags config.Flags
	if err := config.ParseFlags(&flags); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return ExitUsage
	}

	if flags.Version {
		fmt.Println("notifyd version", Version)
		return 0
	}

	var cfg config.Config
	if err := config.Load(&cfg, config.LoadOptions{
		Flags:      flags,
		EnvOptions: config.EnvOptions{Prefix: "NOTIFYD_"},
	}); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return ExitUsage
	}

	logs, err := logging.NewLoggingFromConfig("notifyd", cfg.Logging)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return ExitUsage
	}
	logger := logs.GetLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, dir := range []string{cfg.LogDir, cfg.SpoolDir, cfg.BulkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatalw("Cannot create directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		if !errors.Is(errors.Cause(err), os.ErrNotExist) {
			logger.Fatalw("Cannot load notification rules", zap.Error(err))
		}
		logger.Warnf("Rules file %s does not exist, starting without global rules", cfg.RulesFile)
	}

	contacts, err := config.LoadContacts(cfg.ContactsFile)
	if err != nil {
		if !errors.Is(errors.Cause(err), os.ErrNotExist) {
			logger.Fatalw("Cannot load contacts", zap.Error(err))
		}
		logger.Warnf("Contacts file %s does not exist, starting without contacts", cfg.ContactsFile)
	}

	oracle, err := config.LoadTimeperiods(cfg.TimeperiodsFile)
	if err != nil {
		logger.Fatalw("Cannot load timeperiods", zap.Error(err))
	}

	hist, err := newHistoryWriter(ctx, &cfg, logs)
	if err != nil {
		logger.Fatalw("Cannot set up notification history", zap.Error(err))
	}
	defer func() { _ = hist.Close() }()

	finder := plugin.NewFinder(cfg.LocalPluginDir, cfg.PluginDir)
	executor := plugin.NewExecutor(finder, cfg.PluginTimeout, logs.GetChildLogger("plugin"))
	queue := bulk.NewQueue(cfg.BulkDir, oracle, logs.GetChildLogger("bulk"))
	flusher := bulk.NewFlusher(queue, executor, hist, logs.GetChildLogger("bulk"))
	spooler := spool.NewSpooler(cfg.SpoolDir, logs.GetChildLogger("spool"))
	store := backlog.NewStore(backlog.DefaultPath(cfg.LogDir), cfg.BacklogSize)

	builder := notify.NewBuilder(
		rules, contacts, oracle, nil, nil, cfg.FallbackEmail, logs.GetChildLogger("rules"))
	dispatcher := notify.NewDispatcher(notify.DispatcherOptions{
		Builder:       builder,
		Contacts:      contacts,
		Executor:      executor,
		Queue:         queue,
		Spooler:       spooler,
		History:       hist,
		Backlog:       store,
		Logger:        logs.GetChildLogger("notify"),
		Spooling:      cfg.Spooling,
		FallbackEmail: cfg.FallbackEmail,
		LogDir:        cfg.LogDir,
	})

	if flags.Keepalive {
		keepalive := notify.NewKeepalive(
			dispatcher, flusher, cfg.BulkInterval, filepath.Join(cfg.LogDir, "crash.log"), logger)
		if err := keepalive.Run(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Keepalive mode failed", zap.Error(err))
			return ExitFailure
		}

		return 0
	}

	switch flags.Args.Mode {
	case "":
		raw := event.FromEnviron(os.Environ())
		if len(raw) == 0 {
			logger.Error("No notification context found in environment (NOTIFY_* variables missing)")
			return ExitUsage
		}
		dispatcher.Process(ctx, raw)
	case "stdin":
		raw, err := event.Read(os.Stdin)
		if err != nil {
			logger.Errorw("Cannot read notification context from stdin", zap.Error(err))
			return ExitFailure
		}
		dispatcher.Process(ctx, raw)
	case "replay":
		nr := 0
		if flags.Args.Arg != "" {
			if nr, err = strconv.Atoi(flags.Args.Arg); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "replay: invalid backlog number %q\n", flags.Args.Arg)
				return ExitUsage
			}
		}
		if err := dispatcher.Replay(ctx, nr); err != nil {
			logger.Errorw("Cannot replay notification", zap.Error(err))
			return ExitUsage
		}
	case "analyse":
		nr := 0
		if flags.Args.Arg != "" {
			if nr, err = strconv.Atoi(flags.Args.Arg); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "analyse: invalid backlog number %q\n", flags.Args.Arg)
				return ExitUsage
			}
		}
		raw, err := store.Replay(nr)
		if err != nil {
			logger.Errorw("Cannot analyse notification", zap.Error(err))
			return ExitUsage
		}
		analysis := dispatcher.Analyse(ctx, raw)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(analysis); err != nil {
			logger.Errorw("Cannot render analysis", zap.Error(err))
			return ExitFailure
		}
	case "spoolfile":
		if flags.Args.Arg == "" {
			_, _ = fmt.Fprintln(os.Stderr, "spoolfile: path argument missing")
			return ExitUsage
		}
		return dispatcher.HandleSpoolfile(ctx, flags.Args.Arg)
	case "send-bulks":
		flusher.SendRipe(ctx, time.Now())
	default:
		_, _ = fmt.Fprintf(os.Stderr,
			"unknown mode %q, expected one of: stdin, replay, analyse, spoolfile, send-bulks\n",
			flags.Args.Mode)
		return ExitUsage
	}

	return 0
}

// newHistoryWriter assembles the history sinks: the monitoring log, plus the
// database mirror when configured.
func newHistoryWriter(ctx context.Context, cfg *config.Config, logs *logging.Logging) (history.Writer, error) {
	logWriter, err := history.NewLogWriter(cfg.History.LogFile, logs.GetChildLogger("history"))
	if err != nil {
		return nil, err
	}

	if !cfg.History.DatabaseEnabled {
		return logWriter, nil
	}

	sqlWriter, err := history.NewSQLWriter(ctx, &cfg.History.Database, logs.GetChildLogger("history"))
	if err != nil {
		_ = logWriter.Close()
		return nil, err
	}

	return history.MultiWriter{logWriter, sqlWriter}, nil
}

package bulk

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/history"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/plugin"
	"github.com/openmon/notifyd/rule"
	"go.uber.org/zap"
)

// Runner delivers a finished bulk with a single plugin invocation.
type Runner interface {
	RunBulk(ctx context.Context, name string, stdin string) plugin.Result
}

// Flusher sends ripe bulks: it drains a bulk directory, feeds the accumulated
// notifications to the plugin in one call and records a history entry per
// contained notification.
type Flusher struct {
	queue   *Queue
	runner  Runner
	history history.Writer
	logger  *logging.Logger
}

// NewFlusher returns a Flusher draining queue via runner.
func NewFlusher(queue *Queue, runner Runner, historyWriter history.Writer, logger *logging.Logger) *Flusher {
	return &Flusher{queue: queue, runner: runner, history: historyWriter, logger: logger}
}

// SendRipe flushes all bulks that are due at now.
func (f *Flusher) SendRipe(ctx context.Context, now time.Time) {
	ripe := f.queue.FindBulks(true, now)
	if len(ripe) == 0 {
		return
	}

	f.logger.Infof("Sending out %d ripe bulk notifications", len(ripe))
	for _, b := range ripe {
		if err := ctx.Err(); err != nil {
			return
		}
		f.Flush(ctx, b.Dir, b.Files)
	}
}

// Flush delivers the given entries of one bulk directory. Entries whose plugin
// parameters differ from the first entry are postponed into a follow-up flush,
// as one plugin call can only carry one parameter set. Entries created in the
// directory while flushing simply seed the next bulk with the same identity.
func (f *Flusher) Flush(ctx context.Context, dirname string, files []File) {
	parts := strings.Split(dirname, string(os.PathSeparator))
	contact, pluginName := parts[len(parts)-3], parts[len(parts)-2]
	f.logger.Infof("   -> %s/%s %s", contact, pluginName, dirname)

	var (
		contexts  []event.Context
		params    *rule.PluginParameters
		unhandled []File
	)
	for _, file := range files {
		entry, err := f.loadEntry(filepath.Join(dirname, file.UUID))
		if err != nil {
			f.logger.Infof("    Deleting corrupted or empty bulk file %s/%s: %s", dirname, file.UUID, err)
			continue
		}

		if params == nil {
			params = entry.Parameters
		} else if !params.Equal(entry.Parameters) {
			f.logger.Info("     Parameters are different from previous, postponing into separate bulk")
			unhandled = append(unhandled, file)
			continue
		}

		contexts = append(contexts, entry.Context)
	}

	if len(contexts) > 0 {
		f.deliver(ctx, pluginName, params, contexts)
	} else {
		f.logger.Info("No valid notification file left. Skipping this bulk.")
	}

	for _, file := range files {
		if containsFile(unhandled, file) {
			continue
		}
		path := filepath.Join(dirname, file.UUID)
		if err := os.Remove(path); err != nil {
			f.logger.Infof("Cannot remove %s: %s", path, err)
		}
	}

	if len(unhandled) > 0 {
		f.Flush(ctx, dirname, unhandled)
		return
	}

	// Fails while the directory still has entries, which is fine: they become
	// the next bulk.
	if err := os.Remove(dirname); err != nil {
		f.logger.Infof("Warning: cannot remove directory %s: %s", dirname, err)
	}
}

// deliver runs one bulk plugin call for contexts sharing a parameter set and
// writes the per-notification history entries around it.
func (f *Flusher) deliver(ctx context.Context, pluginName string, params *rule.PluginParameters, contexts []event.Context) {
	// Entries arrive sorted chronologically, so the plugin shows the oldest
	// notification first unless the parameters ask for the reverse.
	if params != nil && params.BulkSortOrder == rule.NewestFirst {
		for i, j := 0, len(contexts)-1; i < j; i, j = i+1, j-1 {
			contexts[i], contexts[j] = contexts[j], contexts[i]
		}
	}

	pluginText := "bulk " + pluginName
	lines := params.ContextLines()
	for _, c := range contexts {
		f.history.Sent(pluginText, c)

		lines = append(lines, "\n")
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, k+"="+rule.EncodeContextValue(c[k])+"\n")
		}
	}

	result := f.runner.RunBulk(ctx, pluginName, strings.Join(lines, ""))
	if result.ExitCode != plugin.StatusOK {
		f.logger.Errorw("Bulk notification plugin failed",
			zap.String("plugin", pluginName), zap.Int("exit_code", result.ExitCode))
	}

	for _, c := range contexts {
		f.history.Result(pluginText, c, result.ExitCode, result.Output)
	}
}

func (f *Flusher) loadEntry(path string) (*Entry, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, err
	}

	return &entry, nil
}

func containsFile(files []File, file File) bool {
	for _, f := range files {
		if f.UUID == file.UUID {
			return true
		}
	}

	return false
}

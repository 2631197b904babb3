package history

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LogWriter appends history entries to the monitoring log, using the classic
// "[<unix time>] <message>" line format the core and its log parsers expect.
type LogWriter struct {
	mu     sync.Mutex
	file   *os.File
	logger *logging.Logger
}

// NewLogWriter opens (or creates) the monitoring log at path for appending.
func NewLogWriter(path string, logger *logging.Logger) (*LogWriter, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open monitoring log %s", path)
	}

	return &LogWriter{file: file, logger: logger}, nil
}

func (w *LogWriter) Sent(plugin string, c event.Context) {
	w.append(Message(plugin, c))
}

func (w *LogWriter) Result(plugin string, c event.Context, exitCode int, output []string) {
	w.append(ResultMessage(plugin, c, exitCode, output))
}

func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.file.Close()
}

func (w *LogWriter) append(message string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.file, "[%d] %s\n", time.Now().Unix(), message); err != nil {
		w.logger.Errorw("Cannot write history entry", zap.Error(err))
	}
}

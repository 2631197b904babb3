package plugin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Result carries the outcome of one plugin invocation.
type Result struct {
	// ExitCode is the plugin's exit code, or StatusRetryable on timeout
	// and StatusPermanent when the plugin could not be started at all.
	ExitCode int

	// Output holds the combined stdout and stderr lines.
	Output []string

	// TimedOut is set when the plugin was killed for exceeding the timeout.
	TimedOut bool
}

// Executor runs notification plugins with a hard timeout,
// streaming their output line by line into the log.
type Executor struct {
	finder  *Finder
	timeout time.Duration
	logger  *logging.Logger
}

// NewExecutor returns an Executor resolving plugins via finder.
func NewExecutor(finder *Finder, timeout time.Duration, logger *logging.Logger) *Executor {
	return &Executor{finder: finder, timeout: timeout, logger: logger}
}

// Run executes the plugin for a single notification, passing the context as
// NOTIFY_* environment variables. A plugin exceeding the timeout is killed and
// reported as retryable.
func (e *Executor) Run(ctx context.Context, name string, c event.Context) Result {
	path, err := e.finder.Path(name)
	if err != nil {
		e.logger.Errorw("Cannot resolve notification plugin", zap.String("plugin", name), zap.Error(err))
		return Result{ExitCode: StatusPermanent, Output: []string{err.Error()}}
	}

	return e.run(ctx, exec.Command(path), Environ(c))
}

// RunBulk executes the plugin in bulk mode: the plugin is started with the
// --bulk flag and receives the accumulated notifications on standard input as
// VAR=value blocks separated by blank lines.
func (e *Executor) RunBulk(ctx context.Context, name string, stdin string) Result {
	path, err := e.finder.Path(name)
	if err != nil {
		e.logger.Errorw("Cannot resolve notification plugin", zap.String("plugin", name), zap.Error(err))
		return Result{ExitCode: StatusPermanent, Output: []string{err.Error()}}
	}

	cmd := exec.Command(path, "--bulk")
	cmd.Stdin = strings.NewReader(stdin)

	return e.run(ctx, cmd, nil)
}

func (e *Executor) run(ctx context.Context, cmd *exec.Cmd, extraEnv []string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd.Env = append(os.Environ(), extraEnv...)

	// Stdout and stderr share one pipe so that the plugin's output keeps its
	// original interleaving in the log and in the history record.
	pr, pw, err := os.Pipe()
	if err != nil {
		return Result{ExitCode: StatusPermanent, Output: []string{err.Error()}}
	}
	defer func() { _ = pr.Close() }()

	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		e.logger.Errorw("Cannot start notification plugin", zap.String("path", cmd.Path), zap.Error(err))
		return Result{ExitCode: StatusPermanent, Output: []string{err.Error()}}
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	killed := make(chan struct{})
	go func() {
		defer close(killed)
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			_ = cmd.Process.Kill()
		}
	}()

	var output []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		output = append(output, line)
		e.logger.Debugf("Output: %s", line)
	}

	waitErr := cmd.Wait()
	cancel()
	<-killed

	if ctx.Err() == context.DeadlineExceeded {
		message := fmt.Sprintf("Notification plugin did not finish within %d seconds. Terminating.",
			int(e.timeout.Seconds()))
		e.logger.Warn(message)

		return Result{ExitCode: StatusRetryable, Output: append(output, message), TimedOut: true}
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			e.logger.Errorw("Waiting for notification plugin failed", zap.Error(waitErr))
			return Result{ExitCode: StatusPermanent, Output: append(output, waitErr.Error())}
		}
	}

	return Result{ExitCode: exitCode, Output: output}
}

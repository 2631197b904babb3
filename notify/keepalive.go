package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/openmon/notifyd/bulk"
	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/periodic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Keepalive runs the engine as a long-lived child of the monitoring core.
// Raw contexts arrive as blank-line-terminated KEY=value blocks on one stream;
// after each processed event a ready byte on the reply stream tells the core
// that the next event may be sent. Between events, ripe bulks are flushed.
//
// Dispatch passes and flush passes are serialized on one goroutine, so a flush
// never interleaves with rule processing.
type Keepalive struct {
	dispatcher *Dispatcher
	flusher    *bulk.Flusher
	interval   time.Duration
	crashLog   string
	logger     *logging.Logger
}

// NewKeepalive returns a Keepalive flushing bulks every interval.
// Crashes of a single pass are appended to the crash log at crashLog.
func NewKeepalive(
	dispatcher *Dispatcher, flusher *bulk.Flusher,
	interval time.Duration, crashLog string, logger *logging.Logger,
) *Keepalive {
	return &Keepalive{
		dispatcher: dispatcher,
		flusher:    flusher,
		interval:   interval,
		crashLog:   crashLog,
		logger:     logger,
	}
}

// Run processes events from in until the stream ends or ctx is cancelled.
func (k *Keepalive) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	k.logger.Infof("Starting in keepalive mode with PID %d", os.Getpid())

	g, ctx := errgroup.WithContext(ctx)

	contexts := make(chan event.Context)
	g.Go(func() error {
		defer close(contexts)

		br := bufio.NewReader(in)
		for {
			c, err := event.ReadBlock(br)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}

			select {
			case contexts <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// The tick only nudges the processing goroutine. A slow pass swallows
	// pending ticks instead of queueing flushes behind it.
	ticks := make(chan struct{}, 1)
	stopper := periodic.Start(ctx, k.interval, func(periodic.Tick) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})
	defer stopper.Stop()

	g.Go(func() error {
		if err := k.ready(out); err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c, ok := <-contexts:
				if !ok {
					k.logger.Info("Event stream closed. Shutting down")
					return nil
				}
				k.pass(func() { k.dispatcher.Process(ctx, c) })
				if err := k.ready(out); err != nil {
					return err
				}
			case <-ticks:
				k.pass(func() { k.flusher.SendRipe(ctx, time.Now()) })
			}
		}
	})

	return g.Wait()
}

// ready signals the core that the next event may be sent.
func (k *Keepalive) ready(out io.Writer) error {
	if _, err := out.Write([]byte("*")); err != nil {
		return errors.Wrap(err, "cannot send ready signal")
	}

	return nil
}

// pass runs one dispatch or flush pass. A panic must not take the keepalive
// process down mid-stream, so it is recorded in the crash log instead.
func (k *Keepalive) pass(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Errorw("Pass crashed", zap.Any("panic", r))
			k.recordCrash(r)
		}
	}()

	fn()
}

func (k *Keepalive) recordCrash(reason any) {
	file, err := os.OpenFile(k.crashLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		k.logger.Errorw("Cannot open crash log", zap.Error(err))
		return
	}
	defer func() { _ = file.Close() }()

	fmt.Fprintf(file, "CRASH (%s):\n%v\n%s\n",
		time.Now().Format("2006-01-02 15:04:05"), reason, debug.Stack())
}

package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/opst/knitpipe/cmd/loops/recurring"
	"github.com/opst/knitpipe/cmd/loops/tasks/housekeeping"
	"github.com/opst/knitpipe/cmd/loops/tasks/monitorscan"
	"github.com/opst/knitpipe/cmd/loops/tasks/worker"
	"github.com/opst/knitpipe/pkg/domain"
	"github.com/opst/knitpipe/pkg/domain/knitpipe"
	"github.com/opst/knitpipe/pkg/loop"
	"github.com/opst/knitpipe/pkg/processor"
	"golang.org/x/sync/errgroup"
)

type LoggerOptions func(*log.Logger) *log.Logger

func byLogger(l *log.Logger, opt ...LoggerOptions) *log.Logger {
	for _, o := range opt {
		l = o(l)
	}
	return l
}

func Copied() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		return log.New(l.Writer(), l.Prefix(), l.Flags())
	}
}

func WithPrefix(pre string) LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetPrefix(pre)
		return l
	}
}

func WithTimestamp() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetFlags(l.Flags() | log.Ldate | log.Ltime | log.Lmicroseconds)
		return l
	}
}

// Wrapper for monitoring loop tasks
//
//	Log the start and end of each time a task is executed. Essentially, it executes a task.
func monitor[T any](logger *log.Logger, task loop.Task[T]) loop.Task[T] {
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		timestamp := time.Now()

		logger.Printf("task start: #0x%X: ", counter)

		defer func() {
			logger.Printf(
				"task end: #0x%X (takes %s): %s\n with value = %+v",
				counter, time.Since(timestamp), next, ret,
			)
		}()

		ret, next = task(ctx, t)
		return
	}
}

// Manifest for starting a loop, which determines how the loop should behave.
type LoopManifest struct {
	Type domain.LoopType

	// Policy for the looping
	Policy recurring.Policy

	// number of workers running at once. Used by worker loop only.
	Concurrency int

	// visibility timeout of claimed tasks.
	Visibility time.Duration

	// delay before a failed task is retried.
	RetryAfter time.Duration
}

func StartLoop(
	ctx context.Context,
	logger *log.Logger,
	kp knitpipe.Knitpipe,
	proc *processor.Processor,
	manifest LoopManifest,
) error {
	switch manifest.Type {
	case domain.Worker:
		return StartWorkerLoop(ctx, logger, kp, proc, manifest)
	case domain.MonitorScan:
		return StartMonitorScanLoop(ctx, logger, kp, manifest)
	case domain.Housekeeping:
		return StartHousekeepingLoop(ctx, logger, kp, manifest)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownLoopType, manifest.Type)
	}
}

// Start workers. Each worker is a loop claiming tasks one by one.
//
// Returns when every worker stops. An error of a worker stops the others.
func StartWorkerLoop(
	ctx context.Context,
	logger *log.Logger,
	kp knitpipe.Knitpipe,
	proc *processor.Processor,
	manifest LoopManifest,
) error {
	n := manifest.Concurrency
	if n < 1 {
		n = 1
	}

	eg, ctx := errgroup.WithContext(ctx)
	for i := range n {
		l := byLogger(logger, Copied(), WithPrefix(fmt.Sprintf("[worker loop #%d]", i)))
		eg.Go(func() error {
			_, err := loop.Start(
				ctx, worker.Seed(),
				monitor(
					l,
					worker.Task(
						l, kp.Task().Database(), proc,
						manifest.Visibility, manifest.RetryAfter,
					).Applied(manifest.Policy),
				),
				// a task outliving its visibility timeout may be claimed by others.
				loop.WithTimeout(manifest.Visibility),
			)
			return err
		})
	}
	return eg.Wait()
}

func StartMonitorScanLoop(
	ctx context.Context,
	logger *log.Logger,
	kp knitpipe.Knitpipe,
	manifest LoopManifest,
) error {
	_, err := loop.Start(
		ctx, monitorscan.Seed(),
		monitor(
			byLogger(logger, Copied(), WithPrefix("[monitor scan loop]")),
			monitorscan.Task(
				kp.Node().Database(),
				processor.NewEnqueuer(kp.Task().Database()),
			).Applied(manifest.Policy),
		),
		loop.WithTimeout(30*time.Second),
	)
	return err
}

func StartHousekeepingLoop(
	ctx context.Context,
	logger *log.Logger,
	kp knitpipe.Knitpipe,
	manifest LoopManifest,
) error {
	_, err := loop.Start(
		ctx, housekeeping.Seed(),
		monitor(
			byLogger(logger, Copied(), WithPrefix("[housekeeping loop]")),
			housekeeping.Task(kp.Task().Database()).Applied(manifest.Policy),
		),
		loop.WithTimeout(30*time.Second),
	)
	return err
}

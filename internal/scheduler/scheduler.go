// Package scheduler distributes verification jobs over a pool of worker
// processes, batching jobs by compiler version so that each worker loads as
// few compiler builds as possible.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/records"
	"github.com/pendergraft/contraverify/internal/worker"
)

// DefaultPollInterval is how long a slot waits before re-evaluating pools
// when the version it would join has no pending job.
const DefaultPollInterval = 10 * time.Millisecond

// Options configures a Scheduler.
type Options struct {
	// Jobs is the number of worker slots, runtime.NumCPU() when zero.
	Jobs         int
	Spawner      Spawner
	Reporter     Reporter
	Logger       *slog.Logger
	PollInterval time.Duration
	Observer     Observer
}

// Summary describes a finished run.
type Summary struct {
	Total    int
	Passed   int
	Requeued int
	Sessions int
	// PeakVersions is the largest number of distinct compiler versions
	// bound to slots at the same time.
	PeakVersions int
}

// Scheduler runs verification jobs on workers.
type Scheduler struct {
	jobs     int
	spawner  Spawner
	reporter Reporter
	logger   *slog.Logger
	poll     time.Duration
	observer Observer
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.NumCPU()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Reporter == nil {
		opts.Reporter = NopReporter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		jobs:     opts.Jobs,
		spawner:  opts.Spawner,
		reporter: opts.Reporter,
		logger:   opts.Logger,
		poll:     opts.PollInterval,
		observer: opts.Observer,
	}
}

// run is the state of one Run call.
type run struct {
	*Scheduler
	pools    *poolSet
	total    int
	passed   atomic.Int64
	requeued atomic.Int64
	sessions atomic.Int64
}

// Run verifies every contract. It returns nil only if all of them passed;
// the first genuine failure cancels the remaining sessions.
func (s *Scheduler) Run(ctx context.Context, contracts []*records.Contract) (*Summary, error) {
	r := &run{
		Scheduler: s,
		pools:     newPoolSet(contracts),
		total:     len(contracts),
	}

	slots := min(s.jobs, len(contracts))
	s.logger.Info("starting verification", "contracts", len(contracts), "slots", slots)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < slots; i++ {
		sl := &slot{id: i, observer: s.observer}
		sl.set(StateIdle)
		g.Go(func() error { return r.slotLoop(ctx, sl) })
	}
	err := g.Wait()

	summary := &Summary{
		Total:        r.total,
		Passed:       int(r.passed.Load()),
		Requeued:     int(r.requeued.Load()),
		Sessions:     int(r.sessions.Load()),
		PeakVersions: r.pools.peakVersions(),
	}
	return summary, err
}

type slot struct {
	id       int
	state    SlotState
	observer Observer
	started  bool
}

func (sl *slot) set(to SlotState) {
	if !sl.started {
		sl.started = true
		sl.state = to
		metrics.SlotTransition("", to.String())
		return
	}
	if sl.state == to {
		return
	}
	from := sl.state
	sl.state = to
	metrics.SlotTransition(from.String(), to.String())
	if sl.observer != nil {
		sl.observer(sl.id, from, to)
	}
}

func (r *run) slotLoop(ctx context.Context, sl *slot) error {
	defer func() {
		sl.set(StateTerminated)
		metrics.SlotTransition(StateTerminated.String(), "")
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		version, first, wait := r.pools.acquire()
		if version == "" {
			if !wait {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.poll):
			}
			continue
		}

		err := r.session(ctx, sl, version, first)
		r.pools.release(version)
		if err != nil {
			return err
		}
		sl.set(StateIdle)
	}
}

// session runs one worker bound to version, starting with the reserved job
// first, until its pool is empty.
func (r *run) session(ctx context.Context, sl *slot, version string, first *records.Contract) error {
	logger := r.logger.With("slot", sl.id, "compiler", version)
	r.sessions.Add(1)

	sl.set(StateSpawning)
	proc, err := r.spawner.Spawn(ctx, version)
	if err != nil {
		metrics.WorkerSession("failed")
		return fmt.Errorf("spawning worker for %s: %w", version, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = proc.Kill() })
	defer stop()

	abort := func(err error) error {
		_ = proc.Kill()
		_ = proc.Wait()
		metrics.WorkerSession("failed")
		return err
	}

	conn := proc.Conn()
	m, err := conn.Receive()
	if err != nil {
		return abort(fmt.Errorf("worker for %s: waiting for ready: %w", version, receiveError(err)))
	}
	if m.Event != worker.EventReady {
		return abort(fmt.Errorf("%w: expected ready, got %q", worker.ErrProtocol, m.Event))
	}
	sl.set(StateReady)
	logger.Debug("worker ready")

	succeeded := 0
	for c := first; c != nil; c = r.next(version) {
		sl.set(StateVerifying)
		if err := conn.Send(worker.Message{Event: worker.EventVerify, Contract: c}); err != nil {
			return abort(fmt.Errorf("sending %s to worker: %w", c.ID, err))
		}
		m, err := conn.Receive()
		if err != nil {
			return abort(fmt.Errorf("worker for %s: waiting for result of %s: %w", version, c.ID, receiveError(err)))
		}
		if m.Event != worker.EventResult {
			return abort(fmt.Errorf("%w: expected result, got %q", worker.ErrProtocol, m.Event))
		}

		if m.Result.Failed() {
			if succeeded > 0 {
				// Failures in a warm worker are retried in a fresh one.
				r.pools.push(version, c)
				r.requeued.Add(1)
				metrics.Verification("requeued", m.Result.Kind)
				logger.Warn("requeueing contract after failure in warm worker",
					"id", c.ID,
					"after", succeeded,
					"error", m.Result.Err,
				)
				return r.finish(sl, proc, "recycled")
			}
			err := m.Result.Error()
			metrics.Verification("fail", m.Result.Kind)
			r.reporter.Failed(c, err)
			return abort(fmt.Errorf("%s: %w", c.ID, err))
		}

		succeeded++
		done := r.passed.Add(1)
		metrics.Verification("pass", "")
		r.reporter.Passed(Progress{
			Done:     int(done),
			Total:    r.total,
			Time:     time.Now(),
			Contract: c,
			Warnings: m.Result.Warnings,
		})
		sl.set(StateReady)
	}

	return r.finish(sl, proc, "completed")
}

// next reserves the following job of version, nil when its pool is empty.
func (r *run) next(version string) *records.Contract {
	c, _ := r.pools.pop(version)
	return c
}

// finish asks the worker to exit and waits for it.
func (r *run) finish(sl *slot, proc Process, outcome string) error {
	sl.set(StateExiting)
	conn := proc.Conn()
	if err := conn.Send(worker.Message{Event: worker.EventDone}); err != nil {
		_ = proc.Kill()
		_ = proc.Wait()
		metrics.WorkerSession("failed")
		return fmt.Errorf("sending done to worker: %w", err)
	}

	m, err := conn.Receive()
	if err == nil {
		_ = proc.Kill()
		_ = proc.Wait()
		metrics.WorkerSession("failed")
		return fmt.Errorf("%w: unsolicited %q after done", worker.ErrProtocol, m.Event)
	}
	if !errors.Is(err, io.EOF) {
		_ = proc.Kill()
		_ = proc.Wait()
		metrics.WorkerSession("failed")
		return err
	}

	if err := proc.Wait(); err != nil {
		metrics.WorkerSession("failed")
		return fmt.Errorf("worker exited with error: %w", err)
	}
	metrics.WorkerSession(outcome)
	return nil
}

func receiveError(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: worker exited", worker.ErrProtocol)
	}
	return err
}

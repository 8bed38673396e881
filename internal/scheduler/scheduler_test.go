package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/chains/evm/compiler"
	"github.com/pendergraft/contraverify/internal/records"
	"github.com/pendergraft/contraverify/internal/verification/domain"
	"github.com/pendergraft/contraverify/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func contracts(version string, n int) []*records.Contract {
	out := make([]*records.Contract, n)
	for i := range out {
		out[i] = &records.Contract{
			ID:   fmt.Sprintf("%s-c%d", version, i),
			Info: records.Info{Compiler: version},
		}
	}
	return out
}

// script hands every spawned worker a verifier that asks fail whether the
// n-th job of that session should fail.
type script struct {
	fail func(session, n int, c *records.Contract) error

	mu       sync.Mutex
	sessions int
	attempts map[string]int
}

func newScript(fail func(session, n int, c *records.Contract) error) *script {
	if fail == nil {
		fail = func(int, int, *records.Contract) error { return nil }
	}
	return &script{fail: fail, attempts: make(map[string]int)}
}

func (s *script) spawner() *InProcessSpawner {
	return &InProcessSpawner{
		NewVerifier: func(version string) (worker.Verifier, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.sessions++
			return &sessionVerifier{script: s, session: s.sessions}, nil
		},
		Logger: testLogger(),
	}
}

func (s *script) attemptsOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

type sessionVerifier struct {
	script  *script
	session int
	n       int
}

func (v *sessionVerifier) Verify(ctx context.Context, c *records.Contract) ([]compiler.Diagnostic, error) {
	v.n++
	v.script.mu.Lock()
	v.script.attempts[c.ID]++
	v.script.mu.Unlock()
	return nil, v.script.fail(v.session, v.n, c)
}

// recorder is a Reporter collecting outcomes.
type recorder struct {
	mu     sync.Mutex
	passed map[string]int
	failed []string
	last   Progress
}

func newRecorder() *recorder {
	return &recorder{passed: make(map[string]int)}
}

func (r *recorder) Passed(p Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passed[p.Contract.ID]++
	if p.Done > r.last.Done {
		r.last = p
	}
}

func (r *recorder) Failed(c *records.Contract, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, c.ID)
}

func TestRun_AllPass(t *testing.T) {
	var all []*records.Contract
	all = append(all, contracts("0.4.11+commit.68ef5810", 15)...)
	all = append(all, contracts("0.3.6+commit.3fc68da", 15)...)
	all = append(all, contracts("0.1.1+commit.6ff4cd6", 10)...)

	s := newScript(nil)
	rec := newRecorder()
	sched := New(Options{Jobs: 2, Spawner: s.spawner(), Reporter: rec, Logger: testLogger()})

	summary, err := sched.Run(context.Background(), all)
	require.NoError(t, err)

	assert.Equal(t, 40, summary.Passed)
	assert.Equal(t, 0, summary.Requeued)
	assert.LessOrEqual(t, summary.PeakVersions, 2)
	for _, c := range all {
		assert.Equal(t, 1, rec.passed[c.ID], c.ID)
		assert.Equal(t, 1, s.attemptsOf(c.ID), c.ID)
	}
	assert.Equal(t, 40, rec.last.Done)
	assert.InDelta(t, 100.0, rec.last.Percent(), 0.001)
}

func TestRun_Empty(t *testing.T) {
	summary, err := New(Options{Jobs: 4, Spawner: newScript(nil).spawner()}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sessions)
}

func TestRun_RequeuesFailureInWarmWorker(t *testing.T) {
	// Jobs are taken last-in first-out, so c3 is the second job of the
	// first session.
	jobs := contracts("0.4.11+commit.68ef5810", 5)
	s := newScript(func(session, n int, c *records.Contract) error {
		if c.ID == jobs[3].ID && n > 1 {
			return fmt.Errorf("source check: %w", domain.ErrSourceMismatch)
		}
		return nil
	})
	rec := newRecorder()

	summary, err := New(Options{Jobs: 1, Spawner: s.spawner(), Reporter: rec, Logger: testLogger()}).
		Run(context.Background(), jobs)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Passed)
	assert.Equal(t, 1, summary.Requeued)
	assert.Equal(t, 2, summary.Sessions)
	assert.Equal(t, 2, s.attemptsOf(jobs[3].ID))
	assert.Empty(t, rec.failed)
	for _, c := range jobs {
		assert.Equal(t, 1, rec.passed[c.ID], c.ID)
	}
}

func TestRun_FirstJobFailureAborts(t *testing.T) {
	jobs := contracts("0.4.11+commit.68ef5810", 3)
	s := newScript(func(session, n int, c *records.Contract) error {
		if n == 1 {
			return fmt.Errorf("chain check: %w", evm.ErrChainDataInconsistent)
		}
		return nil
	})
	rec := newRecorder()

	_, err := New(Options{Jobs: 1, Spawner: s.spawner(), Reporter: rec, Logger: testLogger()}).
		Run(context.Background(), jobs)
	require.Error(t, err)
	assert.ErrorIs(t, err, evm.ErrChainDataInconsistent)
	assert.Equal(t, []string{jobs[2].ID}, rec.failed)
}

func TestRun_RetriesOnlyOnce(t *testing.T) {
	jobs := contracts("0.4.11+commit.68ef5810", 3)
	s := newScript(func(session, n int, c *records.Contract) error {
		if c.ID == jobs[1].ID {
			return fmt.Errorf("source check: %w", domain.ErrSourceMismatch)
		}
		return nil
	})

	summary, err := New(Options{Jobs: 1, Spawner: s.spawner(), Logger: testLogger()}).
		Run(context.Background(), jobs)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceMismatch)
	assert.Equal(t, 1, summary.Requeued)
	assert.Equal(t, 2, s.attemptsOf(jobs[1].ID))
}

func TestRun_FailureCancelsSiblings(t *testing.T) {
	var all []*records.Contract
	all = append(all, contracts("a", 20)...)
	all = append(all, contracts("b", 20)...)
	s := newScript(func(session, n int, c *records.Contract) error {
		if c.ID == "a-c19" {
			return evm.ErrTransactionHashMismatch
		}
		return nil
	})

	summary, err := New(Options{Jobs: 4, Spawner: s.spawner(), Logger: testLogger()}).
		Run(context.Background(), all)
	assert.ErrorIs(t, err, evm.ErrTransactionHashMismatch)
	assert.Less(t, summary.Passed, 40)
}

func TestRun_IdleSlotWaitsForWarmVersion(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	s := newScript(func(session, n int, c *records.Contract) error {
		if c.Info.Compiler == "a" {
			time.Sleep(100 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, c.ID)
		mu.Unlock()
		return nil
	})
	all := append(contracts("a", 1), contracts("b", 1)...)

	summary, err := New(Options{Jobs: 2, Spawner: s.spawner(), Logger: testLogger()}).
		Run(context.Background(), all)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 2, summary.Sessions)
	assert.Equal(t, 1, summary.PeakVersions, "b must not load while a is bound")
	assert.Equal(t, []string{"a-c0", "b-c0"}, order)
}

// fakeProcess runs an arbitrary worker-side script.
type fakeProcess struct {
	conn *worker.Conn
	done chan error
	kill func()
}

func (p *fakeProcess) Conn() *worker.Conn { return p.conn }
func (p *fakeProcess) Wait() error        { p.kill(); return <-p.done }
func (p *fakeProcess) Kill() error        { p.kill(); return nil }

type fakeSpawner func(conn *worker.Conn) error

func (f fakeSpawner) Spawn(ctx context.Context, version string) (Process, error) {
	toWorker, parentOut := io.Pipe()
	toParent, workerOut := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := f(worker.NewConn(toWorker, workerOut))
		workerOut.Close()
		done <- err
	}()
	var once sync.Once
	return &fakeProcess{
		conn: worker.NewConn(toParent, parentOut),
		done: done,
		kill: func() {
			once.Do(func() {
				parentOut.Close()
				toParent.Close()
			})
		},
	}, nil
}

func TestRun_WorkerMisbehaves(t *testing.T) {
	okResult := worker.Message{Event: worker.EventResult, Result: &worker.Result{}}

	tests := []struct {
		name    string
		worker  fakeSpawner
		wantErr error
	}{
		{
			name: "result before ready",
			worker: func(conn *worker.Conn) error {
				return conn.Send(okResult)
			},
			wantErr: worker.ErrProtocol,
		},
		{
			name: "exits before ready",
			worker: func(conn *worker.Conn) error {
				return nil
			},
			wantErr: worker.ErrProtocol,
		},
		{
			name: "ready instead of result",
			worker: func(conn *worker.Conn) error {
				_ = conn.Send(worker.Message{Event: worker.EventReady})
				_, _ = conn.Receive()
				return conn.Send(worker.Message{Event: worker.EventReady})
			},
			wantErr: worker.ErrProtocol,
		},
		{
			name: "result with no job assigned",
			worker: func(conn *worker.Conn) error {
				_ = conn.Send(worker.Message{Event: worker.EventReady})
				_, _ = conn.Receive()
				_ = conn.Send(okResult)
				_, _ = conn.Receive()
				return conn.Send(okResult)
			},
			wantErr: worker.ErrProtocol,
		},
		{
			name: "non-zero exit",
			worker: func(conn *worker.Conn) error {
				_ = conn.Send(worker.Message{Event: worker.EventReady})
				_, _ = conn.Receive()
				_ = conn.Send(okResult)
				_, _ = conn.Receive()
				return errExit
			},
			wantErr: errExit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{Jobs: 1, Spawner: tt.worker, Logger: testLogger()}).
				Run(context.Background(), contracts("v", 1))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRun_ObservesSlotStates(t *testing.T) {
	var mu sync.Mutex
	var transitions [][2]SlotState
	observer := func(slot int, from, to SlotState) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, [2]SlotState{from, to})
	}

	_, err := New(Options{Jobs: 1, Spawner: newScript(nil).spawner(), Observer: observer, Logger: testLogger()}).
		Run(context.Background(), contracts("v", 2))
	require.NoError(t, err)

	want := [][2]SlotState{
		{StateIdle, StateSpawning},
		{StateSpawning, StateReady},
		{StateReady, StateVerifying},
		{StateVerifying, StateReady},
		{StateReady, StateVerifying},
		{StateVerifying, StateReady},
		{StateReady, StateExiting},
		{StateExiting, StateIdle},
		{StateIdle, StateTerminated},
	}
	assert.Equal(t, want, transitions)
}

func TestRun_SpawnFailure(t *testing.T) {
	spawner := &InProcessSpawner{NewVerifier: func(string) (worker.Verifier, error) {
		return nil, errors.New("no such compiler")
	}}
	_, err := New(Options{Jobs: 2, Spawner: spawner, Logger: testLogger()}).
		Run(context.Background(), contracts("v", 3))
	assert.ErrorContains(t, err, "no such compiler")
}

var errExit = errors.New("exit status 1")

func TestProgressPercent(t *testing.T) {
	assert.InDelta(t, 25.0, Progress{Done: 1, Total: 4}.Percent(), 0.001)
	assert.InDelta(t, 100.0, Progress{}.Percent(), 0.001)
}

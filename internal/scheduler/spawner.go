package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/pendergraft/contraverify/internal/worker"
)

// Process is a running worker bound to one compiler version.
type Process interface {
	// Conn is the parent end of the worker's channel.
	Conn() *worker.Conn
	// Wait blocks until the worker exits. A non-nil error means the worker
	// did not exit cleanly.
	Wait() error
	// Kill stops the worker without waiting for it.
	Kill() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, version string) (Process, error)
}

// ExecSpawner runs each worker as a child process of the current binary,
// speaking the protocol over the child's stdin and stdout.
type ExecSpawner struct {
	// Path is the binary to run, the current executable when empty.
	Path string
	// Args precede the compiler version on the command line, e.g.
	// {"worker", "--config", "verify.toml", "--compiler"}.
	Args []string
	// Stderr receives the worker's logs.
	Stderr io.Writer
}

// Spawn starts a worker process for version.
func (s *ExecSpawner) Spawn(ctx context.Context, version string) (Process, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
		path = exe
	}

	args := append(append([]string(nil), s.Args...), version)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	return &execProcess{cmd: cmd, stdin: stdin, conn: worker.NewConn(stdout, stdin)}, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.Closer
	conn  *worker.Conn
}

func (p *execProcess) Conn() *worker.Conn { return p.conn }

func (p *execProcess) Wait() error {
	p.stdin.Close()
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("worker pid %d: %w", p.cmd.Process.Pid, err)
	}
	return nil
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// InProcessSpawner serves workers from goroutines over in-memory pipes.
// NewVerifier is called once per spawned worker.
type InProcessSpawner struct {
	NewVerifier func(version string) (worker.Verifier, error)
	Logger      *slog.Logger
}

// Spawn starts an in-process worker for version.
func (s *InProcessSpawner) Spawn(ctx context.Context, version string) (Process, error) {
	v, err := s.NewVerifier(version)
	if err != nil {
		return nil, err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	toWorker, parentOut := io.Pipe()
	toParent, workerOut := io.Pipe()

	p := &inProcess{
		conn:      worker.NewConn(toParent, parentOut),
		parentOut: parentOut,
		toParent:  toParent,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		p.err = worker.Serve(ctx, worker.NewConn(toWorker, workerOut), v, logger.With("compiler", version))
		workerOut.Close()
		toWorker.Close()
	}()
	return p, nil
}

type inProcess struct {
	conn      *worker.Conn
	parentOut *io.PipeWriter
	toParent  *io.PipeReader

	once sync.Once
	done chan struct{}
	err  error
}

func (p *inProcess) Conn() *worker.Conn { return p.conn }

func (p *inProcess) Wait() error {
	p.parentOut.Close()
	<-p.done
	return p.err
}

func (p *inProcess) Kill() error {
	p.once.Do(func() {
		p.parentOut.CloseWithError(errKilled)
		p.toParent.CloseWithError(errKilled)
	})
	return nil
}

var errKilled = errors.New("worker killed")

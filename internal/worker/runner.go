package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const maxLineBytes = 1024 * 1024

// Command describes one worker invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Process is a started worker.
type Process interface {
	// Wait blocks until the output streams drain and the process exits.
	Wait() error
	// Terminate asks the worker's process group to stop.
	Terminate() error
	// Kill forcibly stops the worker's process group.
	Kill() error
	PID() int
}

// Runner starts worker processes. It is the seam tests replace.
type Runner interface {
	Start(ctx context.Context, cmd Command, onStdout, onStderr func(string)) (Process, error)
}

// ExitError reports a worker that exited with a non-zero status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

type commandRunner struct{}

// Start launches cmd detached from ctx: a worker outlives the request that
// scheduled it, so ctx only gates the start itself.
func (commandRunner) Start(ctx context.Context, c Command, onStdout, onStderr func(string)) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(c.Path, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	proc := &osProcess{cmd: cmd}
	proc.streams.Go(func() error { return scan(stdout, onStdout) })
	proc.streams.Go(func() error { return scan(stderr, onStderr) })
	return proc, nil
}

func scan(r io.Reader, forward func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if forward != nil {
			forward(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

type osProcess struct {
	cmd     *exec.Cmd
	streams errgroup.Group
}

func (p *osProcess) Wait() error {
	scanErr := p.streams.Wait()
	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			return &ExitError{Code: exitErr.ExitCode(), Err: err}
		}
		return fmt.Errorf("wait command: %w", err)
	}
	if scanErr != nil {
		return fmt.Errorf("scan output: %w", scanErr)
	}
	return nil
}

func (p *osProcess) Terminate() error { return p.signal(unix.SIGTERM) }

func (p *osProcess) Kill() error { return p.signal(unix.SIGKILL) }

func (p *osProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *osProcess) signal(sig unix.Signal) error {
	pid := p.PID()
	if pid <= 0 {
		return os.ErrProcessDone
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}
	return nil
}

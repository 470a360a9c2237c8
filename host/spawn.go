package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/guseggert/cmdbridge/transport"
	"go.uber.org/zap"
)

type WorkerRequest struct {
	Path string
	Args []string
	// Env is added to the host's environment.
	Env []string
	Dir string
}

// Worker is a running worker process whose stdin and stdout carry the bridge.
type Worker struct {
	log    *zap.SugaredLogger
	cmd    *exec.Cmd
	stdin  *os.File
	stream io.ReadWriteCloser

	exited  chan struct{}
	waitErr error
}

// ExitError is the disconnect reason when the worker process exits.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker process exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// StartWorker spawns the worker. Its stderr is forwarded line by line to log.
func StartWorker(req WorkerRequest, log *zap.SugaredLogger) (*Worker, error) {
	cmd := exec.Command(req.Path, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	// real pipes rather than cmd.StdoutPipe, so Wait does not close our ends
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr := &lineLogger{log: log.Named("worker_stderr")}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderr

	err = cmd.Start()
	stdinR.Close()
	stdoutW.Close()
	if err != nil {
		stdinW.Close()
		stdoutR.Close()
		return nil, fmt.Errorf("starting worker %s: %w", req.Path, err)
	}

	w := &Worker{
		log:    log.Named("worker_process"),
		cmd:    cmd,
		stdin:  stdinW,
		stream: transport.New(stdoutR, stdinW, stdinW, stdoutR),
		exited: make(chan struct{}),
	}
	w.log.Debugw("started worker", "Path", req.Path, "Args", req.Args, "PID", cmd.Process.Pid)

	go func() {
		w.waitErr = cmd.Wait()
		stderr.Flush()
		w.log.Debugw("worker exited", "PID", cmd.Process.Pid, "ExitCode", cmd.ProcessState.ExitCode(), "Error", w.waitErr)
		close(w.exited)
	}()
	return w, nil
}

// Stream is the worker's stdout joined with its stdin.
func (w *Worker) Stream() io.ReadWriteCloser { return w.stream }

func (w *Worker) PID() int { return w.cmd.Process.Pid }

// Exited is closed once the process has exited and been reaped.
func (w *Worker) Exited() <-chan struct{} { return w.exited }

// ExitCode is -1 until the process has exited, or if it was killed by a signal.
func (w *Worker) ExitCode() int {
	select {
	case <-w.exited:
		return w.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// ExitErr describes how the process ended, or nil if it is still running.
func (w *Worker) ExitErr() *ExitError {
	select {
	case <-w.exited:
		return &ExitError{Code: w.cmd.ProcessState.ExitCode(), Err: w.waitErr}
	default:
		return nil
	}
}

func (w *Worker) Kill() error {
	err := w.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Stop closes the worker's stdin, which makes it shut down, and waits for it to exit.
// If ctx is done first, the process is killed.
func (w *Worker) Stop(ctx context.Context) error {
	if err := w.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		w.log.Debugf("error closing worker stdin: %s", err)
	}
	select {
	case <-w.exited:
		return nil
	case <-ctx.Done():
	}
	w.log.Debug("worker did not stop in time, killing it")
	if err := w.Kill(); err != nil {
		return fmt.Errorf("killing worker: %w", err)
	}
	<-w.exited
	return nil
}

// lineLogger logs each line written to it.
type lineLogger struct {
	log *zap.SugaredLogger

	mu  sync.Mutex
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.log.Debug(string(bytes.TrimRight(l.buf[:i], "\r")))
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing partial line.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) > 0 {
		l.log.Debug(string(l.buf))
		l.buf = nil
	}
}

package launcher

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/ZephyrDeng/thp-checker-mcp/config"
)

const waitDelay = 2 * time.Second

// ErrBusy is returned when another run holds the lock file.
var ErrBusy = errors.New("another THP check is already running")

// Result is the captured output of one child run.
type Result struct {
	Args     []string
	Output   string
	ExitCode int
	Duration time.Duration
}

// Launcher starts the child JVM. Only one child runs at a time across
// processes sharing the same lock file, since each one pre-touches 1 GiB.
type Launcher struct {
	Config   config.LauncherConfig
	Registry *Registry
}

func New(cfg config.LauncherConfig, registry *Registry) *Launcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Launcher{Config: cfg, Registry: registry}
}

// Run starts the child, waits for it to exit and returns its complete stdout.
// Without a configured main class the bundled CatSmaps.java is launched as a
// source file. A non-zero exit status is logged and reported in
// Result.ExitCode, not as an error.
func (l *Launcher) Run(ctx context.Context) (*Result, error) {
	if l.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Config.Timeout)
		defer cancel()
	}

	unlock, err := l.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	program := l.Config.MainClass
	if program == "" {
		dir, err := os.MkdirTemp("", "thp-checker-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		defer os.RemoveAll(dir)
		if program, err = writeCatSmaps(dir); err != nil {
			return nil, err
		}
	}

	args := CommandLine(l.Config, program)
	log.Printf("Executing command: %s", strings.Join(args, " "))

	var stdout bytes.Buffer
	stderr := newLogWriter("child stderr: ")
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.Dir = l.Config.WorkDir
	// Grandchildren holding stdout open must not stall Wait after a kill.
	cmd.WaitDelay = waitDelay
	if len(l.Config.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Config.Env...)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", args[0], err)
	}
	pid := cmd.Process.Pid
	l.Registry.Add(cmd.Process)
	defer l.Registry.Remove(pid)
	log.Printf("Started child JVM with PID: %d", pid)

	err = cmd.Wait()
	result := &Result{
		Args:     args,
		Output:   stdout.String(),
		Duration: time.Since(start),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("child PID %d did not finish: %w", pid, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		log.Printf("Warning: child PID %d exited with code %d", pid, result.ExitCode)
	default:
		return nil, fmt.Errorf("failed waiting for child PID %d: %w", pid, err)
	}

	log.Printf("Child PID %d finished in %s, captured %d bytes", pid, result.Duration, len(result.Output))
	return result, nil
}

func (l *Launcher) lock(ctx context.Context) (func(), error) {
	if l.Config.LockFile == "" {
		return func() {}, nil
	}
	retry := l.Config.LockRetry
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}

	fl := flock.New(l.Config.LockFile)
	locked, err := fl.TryLockContext(ctx, retry)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: waiting for %s: %v", ErrBusy, l.Config.LockFile, ctx.Err())
		}
		return nil, fmt.Errorf("failed to lock %s: %w", l.Config.LockFile, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrBusy, l.Config.LockFile)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			log.Printf("Warning: failed to unlock %s: %v", l.Config.LockFile, err)
		}
	}, nil
}

// logWriter forwards each complete line written to it to the standard logger.
type logWriter struct {
	pw   *io.PipeWriter
	done chan struct{}
}

func newLogWriter(prefix string) *logWriter {
	pr, pw := io.Pipe()
	w := &logWriter{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			log.Printf("%s%s", prefix, scanner.Text())
		}
		// Drain so writers never block on a long line.
		_, _ = io.Copy(io.Discard, pr)
	}()
	return w
}

func (w *logWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *logWriter) Close() error {
	err := w.pw.Close()
	<-w.done
	return err
}

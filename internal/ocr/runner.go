package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// maxStderr caps how much of a command's stderr is kept.
const maxStderr = 8 << 10

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecError is a command that ran and exited non-zero.
type ExecError struct {
	Cmd      string
	ExitCode int
	Stderr   string // first non-empty line
	Err      error
}

func (e *ExecError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Cmd, e.ExitCode, e.Stderr)
}

func (e *ExecError) Unwrap() error { return e.Err }

// execRunner runs commands with a pinned thread count. tesseract otherwise
// starts one OpenMP thread per core for every call, and calls already run in
// parallel behind the provider gate.
type execRunner struct {
	logger *slog.Logger
	env    []string
}

func newExecRunner(logger *slog.Logger) execRunner {
	return execRunner{logger: logger, env: append(os.Environ(), "OMP_THREAD_LIMIT=1")}
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.env
	var out bytes.Buffer
	errb := &cappedBuffer{max: maxStderr}
	cmd.Stdout = &out
	cmd.Stderr = errb

	err := cmd.Run()
	dur := time.Since(start)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		err = &ExecError{Cmd: name, ExitCode: exitErr.ExitCode(), Stderr: firstLine(errb.String()), Err: err}
	}
	if err != nil {
		r.logger.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", errb.String(),
			"stderr_truncated", errb.truncated,
		)
	} else {
		r.logger.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

// cappedBuffer keeps the first max bytes and drops the rest without failing
// the writer.
type cappedBuffer struct {
	bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

func firstLine(s string) string {
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			return ln
		}
	}
	return ""
}

// Package shell runs one-off commands typed into the prompt.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"ragterm/internal/domain"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultMaxOutput = 64 << 10
)

// Runner executes command lines through a shell.
type Runner struct {
	// Shell is the interpreter; it receives "-c" and the command line.
	Shell     string
	Dir       string
	Timeout   time.Duration
	MaxOutput int
}

// Result is the outcome of one command.
type Result struct {
	Command   string
	Output    string
	ExitCode  int
	Truncated bool
	Elapsed   time.Duration
}

// New creates a runner using $SHELL, or /bin/sh when unset.
func New(dir string) *Runner {
	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "/bin/sh"
	}
	return &Runner{Shell: sh, Dir: dir, Timeout: DefaultTimeout, MaxOutput: DefaultMaxOutput}
}

// Run executes line and returns its combined output. A non-zero exit is
// reported in Result.ExitCode, not as an error; errors mean the command
// could not run or was stopped.
func (r *Runner) Run(ctx context.Context, line string) (Result, error) {
	line = strings.TrimSpace(line)
	res := Result{Command: line}
	if line == "" {
		return res, domain.InvalidInput("shell.Run", "command is empty")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Shell, "-c", line)
	cmd.Dir = r.Dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	res.Elapsed = time.Since(start)
	res.Output, res.Truncated = truncate(out.String(), r.MaxOutput)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return res, fmt.Errorf("command timed out after %s: %w", r.Timeout, ctx.Err())
	case ctx.Err() != nil:
		return res, domain.Cancelled("shell.Run", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

func truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	cut := limit
	// Step back to a rune boundary.
	for cut > 0 && cut < len(s) && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut], true
}

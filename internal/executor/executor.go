// Package executor spawns external commands and captures their output.
//
// A command that starts but exits non-zero is not an error: it is reported
// through Result.ExitSucceeded with stderr captured. Only a failure to create
// the process at all (missing binary, permission denied) is returned as a
// *SpawnError.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Result is the captured outcome of one command invocation.
type Result struct {
	ExitSucceeded bool          `json:"exitSucceeded"`
	ExitCode      int           `json:"exitCode"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	Duration      time.Duration `json:"-"`
}

// SpawnError reports that the operating system could not start a command.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Invoker runs a named command with discrete arguments. Arguments are never
// interpreted by a shell.
type Invoker interface {
	Invoke(ctx context.Context, command string, args ...string) (*Result, error)
}

// CommandFactory abstracts exec.CommandContext for testing.
type CommandFactory func(ctx context.Context, name string, args ...string) *exec.Cmd

// ExecInvoker is the os/exec backed Invoker.
type ExecInvoker struct {
	newCommand CommandFactory
	// timeout bounds each invocation when positive. Zero leaves the call
	// unbounded: a hung command blocks its caller until it exits.
	timeout time.Duration
}

// NewExecInvoker creates an Invoker. A zero timeout disables the bound.
func NewExecInvoker(timeout time.Duration) *ExecInvoker {
	return &ExecInvoker{
		newCommand: defaultCommand,
		timeout:    timeout,
	}
}

// NewExecInvokerWithFactory creates an ExecInvoker with a custom command factory (for testing).
func NewExecInvokerWithFactory(factory CommandFactory, timeout time.Duration) *ExecInvoker {
	return &ExecInvoker{
		newCommand: factory,
		timeout:    timeout,
	}
}

// waitDelay bounds how long Invoke keeps reading output after a timed-out
// command was killed. Descendants that inherited stdout or stderr would
// otherwise hold the call open until they exit.
const waitDelay = 500 * time.Millisecond

func defaultCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	killProcessGroup(cmd)
	return cmd
}

// Invoke starts the command, waits for it to finish and returns its output.
func (i *ExecInvoker) Invoke(ctx context.Context, command string, args ...string) (*Result, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := i.newCommand(ctx, command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if i.timeout > 0 {
		cmd.WaitDelay = waitDelay
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := &Result{
		Stdout:   strings.ToValidUTF8(stdout.String(), "�"),
		Stderr:   strings.ToValidUTF8(stderr.String(), "�"),
		Duration: elapsed,
	}

	if err != nil && cmd.ProcessState != nil && ctx.Err() != nil {
		result.ExitCode = -1
		result.Stderr = appendLine(result.Stderr, i.terminationNote(ctx.Err()))
		slog.Warn("Command terminated",
			"command", command,
			"reason", ctx.Err().Error(),
			"duration", elapsed.String(),
		)
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &SpawnError{Command: command, Err: err}
		}
		result.ExitCode = exitErr.ExitCode()
		slog.Debug("Command exited with failure",
			"command", command,
			"exitCode", result.ExitCode,
			"duration", elapsed.String(),
		)
		return result, nil
	}

	result.ExitSucceeded = true
	slog.Debug("Command completed", "command", command, "duration", elapsed.String())
	return result, nil
}

func (i *ExecInvoker) terminationNote(ctxErr error) string {
	if errors.Is(ctxErr, context.DeadlineExceeded) && i.timeout > 0 {
		return fmt.Sprintf("command timed out after %s", i.timeout)
	}
	return fmt.Sprintf("command terminated: %v", ctxErr)
}

func appendLine(s, line string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s + line
}

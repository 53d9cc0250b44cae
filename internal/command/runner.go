// Package command executes the external dump/restore tools. Commands are
// shell-style strings: they are tokenized with shell quoting rules before
// being spawned directly (no shell involved), so a quoted value survives as
// a single argument. Credentials ride in the child environment, never in
// the argument vector.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	apperrors "appbackup/internal/errors"
	"appbackup/internal/fs"
	"appbackup/internal/logger"
)

// Runner spawns external processes with layered environments and spooled
// output capture. A Runner carries the connector-level environment; call
// sites add per-call overrides.
type Runner struct {
	log logger.Logger

	// Connector-level environment, applied over the parent environment
	env map[string]string

	// When false the child starts from an empty environment instead of
	// inheriting the parent's
	useParentEnv bool
}

// NewRunner creates a runner with the given connector-level environment.
func NewRunner(log logger.Logger, env map[string]string, useParentEnv bool) *Runner {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Runner{log: log, env: env, useParentEnv: useParentEnv}
}

type runOptions struct {
	stdin io.Reader
	env   map[string]string
}

// Option adjusts a single Run invocation.
type Option func(*runOptions)

// WithStdin feeds r into the child's standard input.
func WithStdin(r io.Reader) Option {
	return func(o *runOptions) { o.stdin = r }
}

// WithEnv adds call-level environment overrides. They take precedence
// over both the parent and the connector-level environment.
func WithEnv(env map[string]string) Option {
	return func(o *runOptions) { o.env = env }
}

// Run tokenizes and executes command, capturing stdout and stderr into
// spooled streams. Both returned spools are rewound and owned by the
// caller; on error no spools are returned and their storage is released.
//
// A non-zero exit reports the captured stderr. A missing executable
// reports installation guidance. Any other spawn failure propagates with
// the raw OS error text.
func (r *Runner) Run(ctx context.Context, command string, opts ...Option) (*fs.Spool, *fs.Spool, error) {
	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}

	tokens, err := shellquote.Split(command)
	if err != nil {
		// The raw string is not echoed: a malformed quote may sit inside
		// an embedded credential value.
		name := command
		if fields := strings.Fields(command); len(fields) > 0 {
			name = fields[0]
		}
		return nil, nil, apperrors.NewConfigError(
			fmt.Sprintf("Cannot parse the %s command string: %v.", name, err),
			"Check quoting in the configured command string.")
	}
	if len(tokens) == 0 {
		return nil, nil, apperrors.NewConfigError(
			"Cannot run an empty command.",
			"Set the dump/restore command for this database.")
	}

	display := maskCommand(tokens)

	path, err := exec.LookPath(tokens[0])
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, nil, apperrors.CommandNotFound(tokens[0], err)
		}
		return nil, nil, fmt.Errorf("Error running: %s\n%s", display, err)
	}

	cmd := exec.CommandContext(ctx, path, tokens[1:]...)
	cmd.Env = r.buildEnvironment(options.env)
	if options.stdin != nil {
		cmd.Stdin = options.stdin
	}

	stdout := fs.NewSpool()
	stderr := fs.NewSpool()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.log.Debug("Running command", "command", tokens[0], "args", len(tokens)-1)

	runErr := cmd.Run()
	if runErr != nil {
		defer func() {
			_ = stdout.Close()
			_ = stderr.Close()
		}()

		// A cancelled context kills the child, which then reports a
		// signal exit; surface the cancellation instead.
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			return nil, nil, apperrors.CommandFailed(display, exitErr.ExitCode(), readSpoolText(stderr))
		case errors.Is(runErr, exec.ErrNotFound):
			return nil, nil, apperrors.CommandNotFound(tokens[0], runErr)
		default:
			return nil, nil, fmt.Errorf("Error running: %s\n%s", display, runErr)
		}
	}

	if err := stdout.Rewind(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, nil, err
	}
	if err := stderr.Rewind(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, nil, err
	}

	return stdout, stderr, nil
}

// buildEnvironment merges the three layers: parent process environment
// (optional), connector-level environment, call-level environment. Later
// layers override earlier ones key-by-key.
func (r *Runner) buildEnvironment(callEnv map[string]string) []string {
	merged := make(map[string]string)

	if r.useParentEnv {
		for _, kv := range os.Environ() {
			key, value, found := strings.Cut(kv, "=")
			if found {
				merged[key] = value
			}
		}
	}
	for k, v := range r.env {
		merged[k] = v
	}
	for k, v := range callEnv {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	// Stable order keeps runs reproducible and debuggable
	sort.Strings(env)
	return env
}

// maskCommand renders tokens for error display with credential values
// blanked. MySQL carries the password as --password=<value>, the Mongo
// tools as a separate token after --password.
func maskCommand(tokens []string) string {
	masked := make([]string, len(tokens))
	for i, tok := range tokens {
		switch {
		case i > 0 && tokens[i-1] == "--password":
			masked[i] = "******"
		case strings.HasPrefix(tok, "--password="):
			masked[i] = "--password=******"
		default:
			masked[i] = tok
		}
	}
	return shellquote.Join(masked...)
}

// readSpoolText drains a spool into a trimmed string for error reporting.
func readSpoolText(s *fs.Spool) string {
	if err := s.Rewind(); err != nil {
		return ""
	}
	data, err := io.ReadAll(s)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

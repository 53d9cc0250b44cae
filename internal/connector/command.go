package connector

import (
	"context"
	"io"
	"strings"

	"appbackup/internal/command"
	"appbackup/internal/fs"
)

// runner executes one external command. Split out as an interface so
// variant tests can observe the exact command string and environment
// without spawning processes.
type runner interface {
	run(ctx context.Context, cmd string, stdin io.Reader, env map[string]string) (*fs.Spool, *fs.Spool, error)
}

// toolRunner adapts the command runner, which holds the connector-level
// environment, to the narrower runner interface.
type toolRunner struct {
	r *command.Runner
}

func (t toolRunner) run(ctx context.Context, cmd string, stdin io.Reader, env map[string]string) (*fs.Spool, *fs.Spool, error) {
	opts := make([]command.Option, 0, 2)
	if stdin != nil {
		opts = append(opts, command.WithStdin(stdin))
	}
	if len(env) > 0 {
		opts = append(opts, command.WithEnv(env))
	}
	return t.r.Run(ctx, cmd, opts...)
}

// commandConnector adds the plumbing shared by every variant that shells
// out to an engine's client tools.
type commandConnector struct {
	base
	run runner

	dumpCmd    string
	restoreCmd string
}

// newCommandConnector wires a variant's default tool names with the
// configured overrides and the layered environment.
func newCommandConnector(b base, dumpCmd, restoreCmd string) commandConnector {
	if b.db.DumpCmd != "" {
		dumpCmd = b.db.DumpCmd
	}
	if b.db.RestoreCmd != "" {
		restoreCmd = b.db.RestoreCmd
	}
	return commandConnector{
		base:       b,
		run:        toolRunner{r: command.NewRunner(b.log, b.db.Env, b.db.UseParentEnv)},
		dumpCmd:    dumpCmd,
		restoreCmd: restoreCmd,
	}
}

// runDump wraps cmd in the configured dump prefix/suffix and executes it
// with the dump-level environment, returning the captured stdout as the
// dump stream.
func (c *commandConnector) runDump(ctx context.Context, cmd string, extraEnv map[string]string) (*fs.Spool, error) {
	cmd = wrap(c.db.DumpPrefix, cmd, c.db.DumpSuffix)
	stdout, stderr, err := c.run.run(ctx, cmd, nil, mergeEnv(c.db.DumpEnv, extraEnv))
	if err != nil {
		return nil, err
	}
	_ = stderr.Close()
	return stdout, nil
}

// runRestore wraps cmd in the configured restore prefix/suffix and
// executes it with the restore-level environment, feeding dump on stdin.
func (c *commandConnector) runRestore(ctx context.Context, cmd string, dump io.Reader, extraEnv map[string]string) error {
	cmd = wrap(c.db.RestorePrefix, cmd, c.db.RestoreSuffix)
	stdout, stderr, err := c.run.run(ctx, cmd, dump, mergeEnv(c.db.RestoreEnv, extraEnv))
	if err != nil {
		return err
	}
	_ = stdout.Close()
	_ = stderr.Close()
	return nil
}

// wrap surrounds a command string with optional prefix and suffix parts.
func wrap(prefix, cmd, suffix string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, cmd, suffix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

package connector

import (
	"context"
	"io"
	"strconv"

	"github.com/kballard/go-shellquote"

	"appbackup/internal/fs"
)

// mongoDump dumps and restores through mongodump and mongorestore using
// archive streams on stdout/stdin. The Mongo tools take credentials as
// space-separated flag pairs; the password value is shell-escaped into
// the command string and masked in error reporting.
type mongoDump struct {
	commandConnector
}

func newMongoDump(b base) Connector {
	b.extension = "archive"
	return &mongoDump{commandConnector: newCommandConnector(b, "mongodump", "mongorestore")}
}

// connectionFlags renders the target and credential flags shared by dump
// and restore.
func (c *mongoDump) connectionFlags() string {
	flags := " --db " + shellquote.Join(c.db.Name)
	if c.db.Host != "" {
		port := c.db.Port
		if port == 0 {
			port = c.db.DefaultPort()
		}
		flags += " --host " + shellquote.Join(c.db.Host) + ":" + strconv.Itoa(port)
	}
	if c.db.User != "" {
		flags += " --username " + shellquote.Join(c.db.User)
	}
	if c.db.Password != "" {
		flags += " --password " + shellquote.Join(c.db.Password)
	}
	if c.db.AuthSource != "" {
		flags += " --authenticationDatabase " + shellquote.Join(c.db.AuthSource)
	}
	return flags
}

func (c *mongoDump) CreateDump(ctx context.Context) (*fs.Spool, error) {
	cmd := c.dumpCmd + c.connectionFlags()
	for _, collection := range c.db.ExcludeTables {
		cmd += " --excludeCollection " + shellquote.Join(collection)
	}
	if c.db.ExtraDumpOptions != "" {
		cmd += " " + c.db.ExtraDumpOptions
	}
	cmd += " --archive"
	return c.runDump(ctx, cmd, nil)
}

func (c *mongoDump) RestoreDump(ctx context.Context, dump io.Reader) error {
	cmd := c.restoreCmd + c.connectionFlags()
	if c.db.ObjectCheck {
		cmd += " --objcheck"
	}
	if c.db.Drop {
		cmd += " --drop"
	}
	if c.db.ExtraRestoreOptions != "" {
		cmd += " " + c.db.ExtraRestoreOptions
	}
	cmd += " --archive"
	return c.runRestore(ctx, cmd, dump, nil)
}

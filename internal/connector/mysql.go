package connector

import (
	"context"
	"io"
	"strconv"

	"github.com/kballard/go-shellquote"

	"appbackup/internal/fs"
)

// mysqlDump dumps and restores through the mysqldump and mysql client
// tools. MySQL has no credential environment variable worth relying on,
// so the password travels as a --password= flag inside the command
// string, shell-escaped; the tokenizer collapses it back to the literal
// value as a single argument and error reporting masks it.
type mysqlDump struct {
	commandConnector
}

func newMysqlDump(b base) Connector {
	b.extension = "dump"
	return &mysqlDump{commandConnector: newCommandConnector(b, "mysqldump", "mysql")}
}

// connectionFlags renders the host/port/user/password flags shared by
// dump and restore. Flags appear only for settings that are present.
func (c *mysqlDump) connectionFlags() string {
	var flags string
	if c.db.Host != "" {
		flags += " --host=" + c.db.Host
	}
	if c.db.Port != 0 {
		flags += " --port=" + strconv.Itoa(c.db.Port)
	}
	if c.db.User != "" {
		flags += " --user=" + c.db.User
	}
	if c.db.Password != "" {
		flags += " --password=" + shellquote.Join(c.db.Password)
	}
	return flags
}

func (c *mysqlDump) CreateDump(ctx context.Context) (*fs.Spool, error) {
	cmd := c.dumpCmd + " " + c.db.Name
	cmd += c.connectionFlags()
	for _, table := range c.db.ExcludeTables {
		cmd += " --ignore-table=" + shellquote.Join(c.db.Name+"."+table)
	}
	if c.db.ExtraDumpOptions != "" {
		cmd += " " + c.db.ExtraDumpOptions
	}
	return c.runDump(ctx, cmd, nil)
}

func (c *mysqlDump) RestoreDump(ctx context.Context, dump io.Reader) error {
	cmd := c.restoreCmd + " " + c.db.Name
	cmd += c.connectionFlags()
	if c.db.ExtraRestoreOptions != "" {
		cmd += " " + c.db.ExtraRestoreOptions
	}
	return c.runRestore(ctx, cmd, dump, nil)
}

package connector

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"appbackup/internal/config"
	"appbackup/internal/fs"
)

// parsePostgresSettings renders the libpq connection argument and the
// credential environment for one database. The user lands URL-escaped in
// the connection URI; the password never does — it rides PGPASSWORD. A
// password configured as the empty string produces neither, leaving the
// client tool free to prompt; no configured password at all disables
// prompting so unattended runs cannot hang.
func parsePostgresSettings(db *config.DatabaseConfig) (string, map[string]string) {
	var uri strings.Builder
	uri.WriteString("--dbname=postgresql://")
	if db.User != "" {
		uri.WriteString(url.User(db.User).String())
		uri.WriteByte('@')
	}
	uri.WriteString(db.Host)
	if db.Port != 0 {
		uri.WriteByte(':')
		uri.WriteString(strconv.Itoa(db.Port))
	}
	uri.WriteByte('/')
	uri.WriteString(db.Name)

	arg := uri.String()
	var env map[string]string
	switch {
	case db.Password != "":
		env = map[string]string{"PGPASSWORD": db.Password}
	case !db.PasswordSet:
		arg += " --no-password"
	}
	return arg, env
}

// schemaFlags expands the configured schema list into repeated -n flags.
func schemaFlags(schemas []string) string {
	if len(schemas) == 0 {
		return ""
	}
	quoted := make([]string, len(schemas))
	for i, schema := range schemas {
		quoted[i] = shellquote.Join(schema)
	}
	return " -n " + strings.Join(quoted, " -n ")
}

// pgDump dumps and restores through pg_dump and psql in plain SQL text
// format.
type pgDump struct {
	commandConnector
}

func newPgDump(b base) Connector {
	b.extension = "dump"
	return &pgDump{commandConnector: newCommandConnector(b, "pg_dump", "psql")}
}

func (c *pgDump) CreateDump(ctx context.Context) (*fs.Spool, error) {
	arg, env := parsePostgresSettings(c.db)
	cmd := c.dumpCmd + " " + arg
	for _, table := range c.db.ExcludeTables {
		cmd += " --exclude-table-data=" + shellquote.Join(table)
	}
	if c.db.Drop {
		cmd += " --clean"
	}
	cmd += schemaFlags(c.db.Schemas)
	if c.db.ExtraDumpOptions != "" {
		cmd += " " + c.db.ExtraDumpOptions
	}
	return c.runDump(ctx, cmd, env)
}

func (c *pgDump) RestoreDump(ctx context.Context, dump io.Reader) error {
	arg, env := parsePostgresSettings(c.db)
	cmd := c.restoreCmd + " " + arg
	// Without this psql exits zero no matter what failed inside the script
	cmd += " --set ON_ERROR_STOP=on"
	cmd += schemaFlags(c.db.Schemas)
	if c.db.SingleTransaction {
		cmd += " --single-transaction"
	}
	if c.db.ExtraRestoreOptions != "" {
		cmd += " " + c.db.ExtraRestoreOptions
	}
	return c.runRestore(ctx, cmd, dump, env)
}

// pgDumpBinary dumps in the custom archive format and restores through
// pg_restore. Drop semantics move to restore time: --clean rides the
// restore command, and enabling it forces --if-exists so dropping objects
// behind generated identity columns cannot error out.
type pgDumpBinary struct {
	commandConnector
}

func newPgDumpBinary(b base) Connector {
	b.extension = "psql.bin"
	return &pgDumpBinary{commandConnector: newCommandConnector(b, "pg_dump", "pg_restore")}
}

func (c *pgDumpBinary) CreateDump(ctx context.Context) (*fs.Spool, error) {
	arg, env := parsePostgresSettings(c.db)
	cmd := c.dumpCmd + " " + arg
	cmd += " --format=custom"
	for _, table := range c.db.ExcludeTables {
		cmd += " --exclude-table-data=" + shellquote.Join(table)
	}
	cmd += schemaFlags(c.db.Schemas)
	if c.db.ExtraDumpOptions != "" {
		cmd += " " + c.db.ExtraDumpOptions
	}
	return c.runDump(ctx, cmd, env)
}

func (c *pgDumpBinary) RestoreDump(ctx context.Context, dump io.Reader) error {
	arg, env := parsePostgresSettings(c.db)
	cmd := c.restoreCmd + " " + arg
	if c.db.Drop {
		cmd += " --clean"
	}
	if c.db.SingleTransaction {
		cmd += " --single-transaction"
	}
	// --if-exists can only be suppressed when drop is off too
	if c.db.IfExists || c.db.Drop {
		cmd += " --if-exists"
	}
	if c.db.ExtraRestoreOptions != "" {
		cmd += " " + c.db.ExtraRestoreOptions
	}
	cmd += schemaFlags(c.db.Schemas)
	return c.runRestore(ctx, cmd, dump, env)
}

// pgDumpGis extends the text variant for PostGIS databases: before
// restoring it makes sure the spatial extension exists, using the
// admin-level credential when one is configured.
type pgDumpGis struct {
	pgDump
	psqlCmd string
}

func newPgDumpGis(b base) Connector {
	b.extension = "dump"
	return &pgDumpGis{
		pgDump:  pgDump{commandConnector: newCommandConnector(b, "pg_dump", "psql")},
		psqlCmd: "psql",
	}
}

func (c *pgDumpGis) RestoreDump(ctx context.Context, dump io.Reader) error {
	if c.db.AdminUser != "" {
		if err := c.enablePostgis(ctx); err != nil {
			return err
		}
	}
	return c.pgDump.RestoreDump(ctx, dump)
}

func (c *pgDumpGis) enablePostgis(ctx context.Context) error {
	cmd := c.psqlCmd + ` -c "CREATE EXTENSION IF NOT EXISTS postgis;"`
	cmd += " --username=" + shellquote.Join(c.db.AdminUser)
	if c.db.Host != "" {
		cmd += " --host=" + shellquote.Join(c.db.Host)
	}
	if c.db.Port != 0 {
		cmd += " --port=" + strconv.Itoa(c.db.Port)
	}

	var env map[string]string
	if c.db.AdminPassword != "" {
		env = map[string]string{"PGPASSWORD": c.db.AdminPassword}
	}
	stdout, stderr, err := c.run.run(ctx, cmd, nil, env)
	if err != nil {
		return err
	}
	_ = stdout.Close()
	_ = stderr.Close()
	return nil
}

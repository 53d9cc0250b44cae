package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/fs"
)

// nativeConnector is the portable fallback: it serializes tables to JSON
// over database/sql instead of shelling out to engine tools. Slower and
// lossier than a real dump tool, but it works anywhere a SQL driver
// reaches, including hosts without client binaries installed.
type nativeConnector struct {
	base

	// open is swappable so tests can hand back a mocked *sql.DB.
	open func(driverName, dsn string) (*sql.DB, error)
}

func newNative(b base) Connector {
	b.extension = "json"
	return &nativeConnector{base: b, open: sql.Open}
}

// nativeTable is one element of the dump payload. Rows hold driver
// values passed through encoding/json, so integers come back as float64
// and binary columns as base64 strings; the SQL drivers coerce them on
// the way back in.
type nativeTable struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (c *nativeConnector) connect() (*sql.DB, string, error) {
	driverName, dsn, err := c.driver()
	if err != nil {
		return nil, "", err
	}
	db, err := c.open(driverName, dsn)
	if err != nil {
		return nil, "", err
	}
	return db, driverName, nil
}

func (c *nativeConnector) driver() (string, string, error) {
	switch c.db.Engine {
	case "postgres", "postgis":
		return "pgx", postgresDSN(c.db), nil
	case "mysql":
		return "mysql", mysqlDSN(c.db), nil
	case "sqlite":
		return "sqlite3", c.db.Name, nil
	default:
		return "", "", apperrors.NewConfigError(
			fmt.Sprintf("The portable serializer cannot reach %q databases.", c.db.Engine),
			"Supported engines: mysql, postgres, sqlite. Set DB_CONNECTOR to a tool-based connector instead.")
	}
}

func postgresDSN(db *config.DatabaseConfig) string {
	u := url.URL{Scheme: "postgres", Path: "/" + db.Name}
	if db.User != "" {
		if db.Password != "" {
			u.User = url.UserPassword(db.User, db.Password)
		} else {
			u.User = url.User(db.User)
		}
	}
	if db.Host != "" {
		port := db.Port
		if port == 0 {
			port = db.DefaultPort()
		}
		u.Host = net.JoinHostPort(db.Host, strconv.Itoa(port))
	}
	return u.String()
}

func mysqlDSN(db *config.DatabaseConfig) string {
	cfg := mysql.NewConfig()
	cfg.User = db.User
	cfg.Passwd = db.Password
	cfg.DBName = db.Name
	host := db.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := db.Port
	if port == 0 {
		port = db.DefaultPort()
	}
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	return cfg.FormatDSN()
}

func (c *nativeConnector) CreateDump(ctx context.Context) (*fs.Spool, error) {
	db, driverName, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	tables, err := c.listTables(ctx, db, driverName)
	if err != nil {
		return nil, err
	}
	tables = c.applyExcludes(tables)

	spool := fs.NewSpool()
	if err := c.writeDump(ctx, db, driverName, tables, spool); err != nil {
		_ = spool.Close()
		return nil, err
	}
	if err := spool.Rewind(); err != nil {
		_ = spool.Close()
		return nil, err
	}
	return spool, nil
}

func (c *nativeConnector) writeDump(ctx context.Context, db *sql.DB, driverName string, tables []string, w io.Writer) error {
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return err
	}
	for i, table := range tables {
		payload, err := c.dumpTable(ctx, db, driverName, table)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if i > 0 {
			if _, err := io.WriteString(w, ",\n"); err != nil {
				return err
			}
		}
		if _, err := w.Write(encoded); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n]\n")
	return err
}

func (c *nativeConnector) dumpTable(ctx context.Context, db *sql.DB, driverName, table string) (*nativeTable, error) {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+quoteTable(driverName, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	payload := &nativeTable{Table: table, Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if raw, ok := v.([]byte); ok {
				values[i] = string(raw)
			}
		}
		payload.Rows = append(payload.Rows, values)
	}
	return payload, rows.Err()
}

func (c *nativeConnector) listTables(ctx context.Context, db *sql.DB, driverName string) ([]string, error) {
	var query string
	switch driverName {
	case "pgx":
		query = `SELECT schemaname || '.' || tablename FROM pg_catalog.pg_tables WHERE schemaname NOT IN ('pg_catalog', 'information_schema') ORDER BY 1`
	case "mysql":
		query = `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name`
	default:
		query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if driverName == "pgx" && len(c.db.Schemas) > 0 {
		wanted := make(map[string]bool, len(c.db.Schemas))
		for _, schema := range c.db.Schemas {
			wanted[schema] = true
		}
		var kept []string
		for _, table := range tables {
			if schema, _, ok := strings.Cut(table, "."); ok && wanted[schema] {
				kept = append(kept, table)
			}
		}
		tables = kept
	}
	return tables, nil
}

// applyExcludes drops excluded tables from the dump list. Qualified
// entries (schema.table) match the full name, bare entries match the
// table part; entries naming nothing are ignored so one list can serve
// several databases.
func (c *nativeConnector) applyExcludes(tables []string) []string {
	if len(c.db.ExcludeTables) == 0 {
		return tables
	}

	matched := make(map[string]bool, len(c.db.ExcludeTables))
	excluded := make(map[string]bool, len(tables))
	for _, table := range tables {
		bare := table
		if _, name, ok := strings.Cut(table, "."); ok {
			bare = name
		}
		for _, entry := range c.db.ExcludeTables {
			if entry == table || (!strings.Contains(entry, ".") && entry == bare) {
				matched[entry] = true
				excluded[table] = true
			}
		}
	}
	for _, entry := range c.db.ExcludeTables {
		if !matched[entry] {
			c.log.Debug("Exclude entry matched no table", "database", c.db.Key, "entry", entry)
		}
	}

	var kept []string
	for _, table := range tables {
		if !excluded[table] {
			kept = append(kept, table)
		}
	}
	return kept
}

// RestoreDump copies the stream to a scratch file and decodes it in full
// before touching any rows, then replaces each table's content inside a
// single transaction.
func (c *nativeConnector) RestoreDump(ctx context.Context, dump io.Reader) error {
	tmp, err := fs.TempFile("", "native-restore-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() { _ = fs.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, dump); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		return err
	}

	var tables []nativeTable
	decodeErr := json.NewDecoder(tmp).Decode(&tables)
	_ = tmp.Close()
	if decodeErr != nil {
		return apperrors.BadStream("not a serialized database dump", decodeErr)
	}

	db, driverName, err := c.connect()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if err := restoreTable(ctx, tx, driverName, table); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func restoreTable(ctx context.Context, tx *sql.Tx, driverName string, table nativeTable) error {
	name := quoteTable(driverName, table.Table)
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+name); err != nil {
		return err
	}
	if len(table.Columns) == 0 {
		return nil
	}

	quoted := make([]string, len(table.Columns))
	holders := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		quoted[i] = quoteIdent(driverName, col)
		if driverName == "pgx" {
			holders[i] = "$" + strconv.Itoa(i+1)
		} else {
			holders[i] = "?"
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		name, strings.Join(quoted, ", "), strings.Join(holders, ", "))

	for _, row := range table.Rows {
		if len(row) != len(table.Columns) {
			return apperrors.BadStream(
				fmt.Sprintf("row width mismatch in table %q", table.Table), nil)
		}
		if _, err := tx.ExecContext(ctx, insert, row...); err != nil {
			return err
		}
	}
	return nil
}

func quoteTable(driverName, table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return quoteIdent(driverName, schema) + "." + quoteIdent(driverName, name)
	}
	return quoteIdent(driverName, table)
}

func quoteIdent(driverName, ident string) string {
	if driverName == "mysql" {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

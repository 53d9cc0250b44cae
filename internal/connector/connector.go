// Package connector selects and drives the per-engine dump/restore
// strategies. Each database engine gets its own variant so engine quirks
// (connection-string formats, credential passing, drop/clean semantics)
// stay isolated; a registry maps identifiers to constructors and unknown
// engines degrade to the portable serializer instead of failing outright.
package connector

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/filename"
	"appbackup/internal/fs"
	"appbackup/internal/logger"
)

// Registry identifiers. These are the values accepted by DB_CONNECTOR and
// recorded in metadata sidecars.
const (
	PgDump       = "postgres"
	PgDumpBinary = "postgres-binary"
	PgDumpGis    = "postgis"
	MysqlDump    = "mysql"
	MongoDump    = "mongodb"
	SqliteSnap   = "sqlite"
	SqliteSQL    = "sqlite-sql"
	SqliteCopy   = "sqlite-cp"
	Native       = "native"
)

// Connector is the per-engine dump/restore strategy.
//
// CreateDump produces a complete dump as a rewound spooled stream owned by
// the caller. RestoreDump consumes a dump stream and applies it to the
// configured database; it is destructive and assumes the caller has
// arranged exclusive access.
type Connector interface {
	// Name returns the registry identifier of this variant.
	Name() string

	// Extension returns the filename extension of the dump format.
	Extension() string

	// GenerateFilename returns the artifact name a fresh backup of this
	// database would get.
	GenerateFilename() string

	CreateDump(ctx context.Context) (*fs.Spool, error)
	RestoreDump(ctx context.Context, dump io.Reader) error
}

// base carries what every variant shares: the database settings, the
// filename generator and structured logging.
type base struct {
	db    *config.DatabaseConfig
	names *filename.Generator
	log   logger.Logger

	name      string
	extension string
}

func (b *base) Name() string      { return b.name }
func (b *base) Extension() string { return b.extension }

func (b *base) GenerateFilename() string {
	return b.names.Generate(filename.Params{
		DatabaseName: b.db.Name,
		Extension:    b.extension,
	})
}

type builderFunc func(b base) Connector

// builders maps registry identifiers to constructors. New engines add an
// entry here, not a branch in the resolution logic.
var builders = map[string]builderFunc{
	PgDump:       newPgDump,
	PgDumpBinary: newPgDumpBinary,
	PgDumpGis:    newPgDumpGis,
	MysqlDump:    newMysqlDump,
	MongoDump:    newMongoDump,
	SqliteSnap:   newSqliteSnapshot,
	SqliteSQL:    newSqliteSQL,
	SqliteCopy:   newSqliteCopy,
	Native:       newNative,
}

// defaults maps canonical engine identifiers to the variant used when no
// explicit override is configured. SQLite gets the in-process snapshot
// strategy rather than shelling out.
var defaults = map[string]string{
	"postgres": PgDump,
	"postgis":  PgDumpGis,
	"mysql":    MysqlDump,
	"sqlite":   SqliteSnap,
	"mongodb":  MongoDump,
}

// Names returns every registry identifier in stable order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether id is a registered connector identifier.
func Known(id string) bool {
	_, ok := builders[id]
	return ok
}

// Get resolves the connector for one configured database. An explicit
// DB_CONNECTOR override wins; otherwise the engine maps to its default
// variant; engines nobody claims degrade to the portable serializer with
// a logged warning instead of a hard failure.
func Get(db *config.DatabaseConfig, names *filename.Generator, log logger.Logger) (Connector, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}

	if db.Connector != "" {
		return Resolve(db.Connector, db, names, log)
	}

	id, ok := defaults[db.Engine]
	if !ok {
		log.Warn("No connector handles this engine, falling back to the portable serializer",
			"engine", db.Engine, "database", db.Key)
		id = Native
	}
	return Resolve(id, db, names, log)
}

// Resolve instantiates the connector registered under id for the given
// database. Unknown identifiers are configuration errors; callers that
// want fallback behaviour (restore honoring a foreign sidecar) check
// Known first and confirm with the operator.
func Resolve(id string, db *config.DatabaseConfig, names *filename.Generator, log logger.Logger) (Connector, error) {
	build, ok := builders[id]
	if !ok {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("Unknown connector %q for database %q.", id, db.Key),
			"Valid connectors: "+strings.Join(Names(), ", ")+".")
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return build(base{db: db, names: names, log: log, name: id}), nil
}

// mergeEnv flattens environment layers left to right, later layers
// overriding earlier ones key-by-key. Returns nil when nothing is set.
func mergeEnv(layers ...map[string]string) map[string]string {
	var merged map[string]string
	for _, layer := range layers {
		for k, v := range layer {
			if merged == nil {
				merged = make(map[string]string)
			}
			merged[k] = v
		}
	}
	return merged
}

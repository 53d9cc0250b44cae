package config

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Config holds all configuration options. It is built once at startup from
// environment variables and treated as read-only afterwards.
type Config struct {
	// Version information
	Version   string
	BuildTime string
	GitCommit string

	// Server identity used in generated filenames and notifications
	ServerName string

	// Configured databases keyed by their settings name ("default", ...)
	Databases map[string]*DatabaseConfig

	// Filename generation
	FilenameTemplate      string
	MediaFilenameTemplate string
	DateFormat            string

	// Optional programmatic templates. When set they take precedence over
	// the string templates above.
	FilenameTemplateFunc      func(params map[string]string) string
	MediaFilenameTemplateFunc func(params map[string]string) string

	// Storage backend selection: "local", "s3" or "sftp"
	StorageBackend string

	// Local storage
	BackupDir string

	// S3 storage
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
	S3PathStyle bool

	// SFTP storage
	SFTPHost       string
	SFTPPort       int
	SFTPUser       string
	SFTPPassword   string
	SFTPKeyFile    string
	SFTPDir        string
	SFTPKnownHosts string
	SFTPInsecure   bool

	// Transform chain
	CompressionFormat string // "gzip" or "zstd"
	CompressionLevel  int

	// Encryption (PGP)
	GPGRecipient      string
	GPGPublicKeyPath  string
	GPGPrivateKeyPath string
	GPGPassphrase     string

	// Media backup source / restore target
	MediaRoot string

	// Retention used by old-backup cleanup
	CleanupKeep      int
	CleanupKeepMedia int
	// Optional predicate sparing matching filenames from cleanup
	CleanupKeepFilter func(filename string) bool

	// Spooled temporary files
	TmpDir         string
	TmpFileMaxSize int64

	// Output options
	NoColor   bool
	Debug     bool
	LogLevel  string
	LogFormat string

	// Interactive controls whether confirmation prompts may block for
	// operator input. Non-interactive operations fail closed instead.
	Interactive bool

	// Notification options
	NotifyEnabled       bool
	NotifyOnSuccess     bool
	NotifyOnFailure     bool
	NotifySubjectPrefix string
	NotifySMTPHost      string
	NotifySMTPPort      int
	NotifySMTPUser      string
	NotifySMTPPassword  string
	NotifySMTPFrom      string
	NotifySMTPTo        []string
	NotifyWebhookURL    string
	NotifyWebhookMethod string
	NotifyWebhookSecret string
}

// DatabaseConfig holds the connection settings and connector tuning for one
// configured database.
type DatabaseConfig struct {
	Key string

	// Engine identifier, canonicalized ("postgres", "postgis", "mysql",
	// "sqlite", "mongodb"). Unknown engines are preserved verbatim; the
	// connector registry degrades them to the portable serializer.
	Engine string

	// Connection settings
	Name     string // database name, or file path for sqlite
	Host     string
	Port     int
	User     string
	Password string

	// PasswordSet distinguishes a password configured as the empty string
	// from one not configured at all. An empty-but-set password lets the
	// client tool prompt interactively; an absent one tells connectors to
	// disable prompting outright (pg_dump --no-password).
	PasswordSet bool

	// Admin-level credential for operations like extension creation
	AdminUser     string
	AdminPassword string

	// Authentication database for MongoDB
	AuthSource string

	// Explicit connector override (registry identifier). Wins over the
	// engine-inferred default.
	Connector string

	// External tool overrides
	DumpCmd    string
	RestoreCmd string

	// Dump shaping
	ExcludeTables []string
	Schemas       []string

	// Restore behaviour
	Drop     bool
	IfExists bool

	// Wrap the Postgres restore in a single transaction
	SingleTransaction bool

	// Validate object structure while restoring a MongoDB archive
	ObjectCheck bool

	// Extra options appended verbatim to the constructed command strings
	ExtraDumpOptions    string
	ExtraRestoreOptions string

	// Command string wrapping
	DumpPrefix    string
	DumpSuffix    string
	RestorePrefix string
	RestoreSuffix string

	// Environment layering for spawned tools
	UseParentEnv bool
	Env          map[string]string
	DumpEnv      map[string]string
	RestoreEnv   map[string]string
}

// New creates a new configuration with defaults from the environment.
//
// Databases are declared by the DATABASES variable (comma-separated keys,
// default "default"). Per-database settings use the DB_ prefix for the
// default entry (DB_ENGINE, DB_HOST, ...) and DB_<KEY>_ for the rest
// (DB_ANALYTICS_ENGINE, ...).
func New() *Config {
	hostname, _ := os.Hostname()

	cfg := &Config{
		ServerName: getEnvString("SERVER_NAME", hostname),

		Databases: loadDatabases(),

		FilenameTemplate:      getEnvString("FILENAME_TEMPLATE", "{databasename}-{servername}-{datetime}.{extension}"),
		MediaFilenameTemplate: getEnvString("MEDIA_FILENAME_TEMPLATE", "{servername}-{datetime}.{extension}"),
		DateFormat:            getEnvString("DATE_FORMAT", "%Y-%m-%d-%H%M%S"),

		StorageBackend: strings.ToLower(getEnvString("STORAGE", "local")),
		BackupDir:      getEnvString("BACKUP_DIR", getDefaultBackupDir()),

		S3Bucket:    getEnvString("S3_BUCKET", ""),
		S3Region:    getEnvString("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnvString("S3_ENDPOINT", ""),
		S3AccessKey: getEnvString("S3_ACCESS_KEY", getEnvString("AWS_ACCESS_KEY_ID", "")),
		S3SecretKey: getEnvString("S3_SECRET_KEY", getEnvString("AWS_SECRET_ACCESS_KEY", "")),
		S3Prefix:    getEnvString("S3_PREFIX", ""),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", false),

		SFTPHost:       getEnvString("SFTP_HOST", ""),
		SFTPPort:       getEnvInt("SFTP_PORT", 22),
		SFTPUser:       getEnvString("SFTP_USER", ""),
		SFTPPassword:   getEnvString("SFTP_PASSWORD", ""),
		SFTPKeyFile:    getEnvString("SFTP_KEY_FILE", ""),
		SFTPDir:        getEnvString("SFTP_DIR", "backups"),
		SFTPKnownHosts: getEnvString("SFTP_KNOWN_HOSTS", ""),
		SFTPInsecure:   getEnvBool("SFTP_INSECURE", false),

		CompressionFormat: strings.ToLower(getEnvString("COMPRESSION_FORMAT", "gzip")),
		CompressionLevel:  getEnvInt("COMPRESSION_LEVEL", 6),

		GPGRecipient:      getEnvString("GPG_RECIPIENT", ""),
		GPGPublicKeyPath:  getEnvString("GPG_PUBLIC_KEY", ""),
		GPGPrivateKeyPath: getEnvString("GPG_PRIVATE_KEY", ""),
		GPGPassphrase:     getEnvString("GPG_PASSPHRASE", ""),

		MediaRoot: getEnvString("MEDIA_ROOT", ""),

		CleanupKeep:      getEnvInt("CLEANUP_KEEP", 10),
		CleanupKeepMedia: getEnvInt("CLEANUP_KEEP_MEDIA", getEnvInt("CLEANUP_KEEP", 10)),

		TmpDir:         getEnvString("TMP_DIR", os.TempDir()),
		TmpFileMaxSize: int64(getEnvInt("TMP_FILE_MAX_SIZE", 10*1024*1024)),

		NoColor:   getEnvBool("NO_COLOR", false),
		Debug:     getEnvBool("DEBUG", false),
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "text"),

		Interactive: !getEnvBool("NOINPUT", false),

		NotifyEnabled:       getEnvBool("NOTIFY_ENABLED", false),
		NotifyOnSuccess:     getEnvBool("NOTIFY_ON_SUCCESS", false),
		NotifyOnFailure:     getEnvBool("NOTIFY_ON_FAILURE", true),
		NotifySubjectPrefix: getEnvString("NOTIFY_SUBJECT_PREFIX", "[appbackup] "),
		NotifySMTPHost:      getEnvString("NOTIFY_SMTP_HOST", ""),
		NotifySMTPPort:      getEnvInt("NOTIFY_SMTP_PORT", 25),
		NotifySMTPUser:      getEnvString("NOTIFY_SMTP_USER", ""),
		NotifySMTPPassword:  getEnvString("NOTIFY_SMTP_PASSWORD", ""),
		NotifySMTPFrom:      getEnvString("NOTIFY_SMTP_FROM", ""),
		NotifySMTPTo:        splitList(getEnvString("NOTIFY_SMTP_TO", "")),
		NotifyWebhookURL:    getEnvString("NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookMethod: getEnvString("NOTIFY_WEBHOOK_METHOD", "POST"),
		NotifyWebhookSecret: getEnvString("NOTIFY_WEBHOOK_SECRET", ""),
	}

	return cfg
}

// loadDatabases reads every declared database entry from the environment.
func loadDatabases() map[string]*DatabaseConfig {
	keys := splitList(getEnvString("DATABASES", "default"))
	if len(keys) == 0 {
		keys = []string{"default"}
	}

	dbs := make(map[string]*DatabaseConfig, len(keys))
	for _, key := range keys {
		dbs[key] = loadDatabase(key)
	}
	return dbs
}

func loadDatabase(key string) *DatabaseConfig {
	prefix := envPrefix(key)

	engine := CanonicalEngine(getEnvString(prefix+"_ENGINE", "postgres"))
	password, passwordSet := os.LookupEnv(prefix + "_PASSWORD")

	db := &DatabaseConfig{
		Key:    key,
		Engine: engine,

		Name:        getEnvString(prefix+"_NAME", ""),
		Host:        getEnvString(prefix+"_HOST", ""),
		Port:        getEnvInt(prefix+"_PORT", 0),
		User:        getEnvString(prefix+"_USER", ""),
		Password:    password,
		PasswordSet: passwordSet,

		AdminUser:     getEnvString(prefix+"_ADMIN_USER", ""),
		AdminPassword: getEnvString(prefix+"_ADMIN_PASSWORD", ""),

		AuthSource: getEnvString(prefix+"_AUTH_SOURCE", ""),

		Connector: getEnvString(prefix+"_CONNECTOR", ""),

		// Plain DUMP_CMD/RESTORE_CMD act as a global override so a caller
		// can point every connector at a custom binary path.
		DumpCmd:    getEnvString(prefix+"_DUMP_CMD", getEnvString("DUMP_CMD", "")),
		RestoreCmd: getEnvString(prefix+"_RESTORE_CMD", getEnvString("RESTORE_CMD", "")),

		ExcludeTables: splitList(getEnvString(prefix+"_EXCLUDE", "")),
		Schemas:       splitList(getEnvString(prefix+"_SCHEMAS", "")),

		Drop:     getEnvBool(prefix+"_DROP", true),
		IfExists: getEnvBool(prefix+"_IF_EXISTS", true),

		SingleTransaction: getEnvBool(prefix+"_SINGLE_TRANSACTION", true),
		ObjectCheck:       getEnvBool(prefix+"_OBJECT_CHECK", true),

		ExtraDumpOptions:    getEnvString(prefix+"_DUMP_EXTRA", ""),
		ExtraRestoreOptions: getEnvString(prefix+"_RESTORE_EXTRA", ""),

		DumpPrefix:    getEnvString(prefix+"_DUMP_PREFIX", ""),
		DumpSuffix:    getEnvString(prefix+"_DUMP_SUFFIX", ""),
		RestorePrefix: getEnvString(prefix+"_RESTORE_PREFIX", ""),
		RestoreSuffix: getEnvString(prefix+"_RESTORE_SUFFIX", ""),

		UseParentEnv: getEnvBool(prefix+"_USE_PARENT_ENV", true),
		Env:          parseEnvList(getEnvString(prefix+"_ENV", "")),
		DumpEnv:      parseEnvList(getEnvString(prefix+"_DUMP_ENV", "")),
		RestoreEnv:   parseEnvList(getEnvString(prefix+"_RESTORE_ENV", "")),
	}

	return db
}

// envPrefix maps a database key to its environment variable prefix.
// The default entry uses the bare DB prefix.
func envPrefix(key string) string {
	if key == "default" {
		return "DB"
	}

	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)

	return "DB_" + sanitized
}

// Database returns the configuration for a database key.
func (c *Config) Database(key string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[key]
	return db, ok
}

// DatabaseKeys returns the configured database keys in stable order.
func (c *Config) DatabaseKeys() []string {
	keys := make([]string, 0, len(c.Databases))
	for key := range c.Databases {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ParseDatabaseList splits a comma-separated list of database keys,
// trimming whitespace and dropping empty entries.
func ParseDatabaseList(s string) []string {
	return splitList(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "local", "s3", "sftp":
	default:
		return &ConfigError{Field: "storage", Value: c.StorageBackend, Message: "must be 'local', 's3', or 'sftp'"}
	}

	if c.StorageBackend == "s3" && c.S3Bucket == "" {
		return &ConfigError{Field: "s3-bucket", Value: "", Message: "required when storage is 's3'"}
	}
	if c.StorageBackend == "sftp" && c.SFTPHost == "" {
		return &ConfigError{Field: "sftp-host", Value: "", Message: "required when storage is 'sftp'"}
	}

	switch c.CompressionFormat {
	case "gzip", "zstd":
	default:
		return &ConfigError{Field: "compression-format", Value: c.CompressionFormat, Message: "must be 'gzip' or 'zstd'"}
	}

	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return &ConfigError{Field: "compression-level", Value: strconv.Itoa(c.CompressionLevel), Message: "must be between 0-9"}
	}

	if c.TmpFileMaxSize < 0 {
		return &ConfigError{Field: "tmp-file-max-size", Value: strconv.FormatInt(c.TmpFileMaxSize, 10), Message: "must not be negative"}
	}

	if len(c.Databases) == 0 {
		return &ConfigError{Field: "databases", Value: "", Message: "at least one database must be configured"}
	}

	for key, db := range c.Databases {
		if db.Port < 0 || db.Port > 65535 {
			return &ConfigError{Field: key + ".port", Value: strconv.Itoa(db.Port), Message: "must be between 0-65535"}
		}
	}

	return nil
}

// DefaultPort returns the conventional port for the database engine,
// or zero when the engine has no network port.
func (d *DatabaseConfig) DefaultPort() int {
	switch d.Engine {
	case "postgres", "postgis":
		return 5432
	case "mysql":
		return 3306
	case "mongodb":
		return 27017
	default:
		return 0
	}
}

// DisplayEngine returns a human-friendly name for the database engine
func (d *DatabaseConfig) DisplayEngine() string {
	switch d.Engine {
	case "postgres":
		return "PostgreSQL"
	case "postgis":
		return "PostGIS"
	case "mysql":
		return "MySQL"
	case "sqlite":
		return "SQLite"
	case "mongodb":
		return "MongoDB"
	default:
		return d.Engine
	}
}

// CanonicalEngine normalizes an engine identifier. Unknown identifiers are
// returned lowercased but otherwise untouched; the connector registry treats
// them as candidates for the portable serializer fallback.
func CanonicalEngine(input string) string {
	normalized := strings.ToLower(strings.TrimSpace(input))
	switch normalized {
	case "postgres", "postgresql", "pg", "psql":
		return "postgres"
	case "postgis", "postgresql_gis", "gis":
		return "postgis"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3", "spatialite":
		return "sqlite"
	case "mongodb", "mongo":
		return "mongodb"
	default:
		return normalized
	}
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "' with value '" + e.Value + "': " + e.Message
}

// Helper functions
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// splitList splits a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseEnvList parses "KEY=value,KEY2=value2" into a map.
func parseEnvList(s string) map[string]string {
	entries := splitList(s)
	if len(entries) == 0 {
		return nil
	}

	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, found := strings.Cut(entry, "=")
		if !found || key == "" {
			continue
		}
		env[key] = value
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

func getDefaultBackupDir() string {
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		return filepath.Join(homeDir, "backups")
	}
	return filepath.Join(os.TempDir(), "backups")
}

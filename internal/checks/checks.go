// Package checks validates configuration before operations run and probes
// the host for conditions that commonly sink a backup. All findings are
// advisory warnings; commands print them and continue.
package checks

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"appbackup/internal/config"
	"appbackup/internal/filename"
)

// Warning flags a configuration value that will degrade or break backup
// runs without failing them outright.
type Warning struct {
	ID      string
	Message string
	Hint    string
}

func (w Warning) String() string {
	if w.Hint == "" {
		return fmt.Sprintf("%s: %s", w.ID, w.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", w.ID, w.Message, w.Hint)
}

// Settings warnings. The IDs are stable so operators can reference them
// in runbooks and bug reports. W006 covered a notification setting that
// no longer exists; the ID is retired, not reused.
var (
	W001 = Warning{
		ID:      "W001",
		Message: "Server name is empty",
		Hint:    "Set SERVER_NAME so generated filenames identify this host.",
	}
	W002 = Warning{
		ID:      "W002",
		Message: "Storage location is empty",
		Hint:    "Point the selected storage backend at a directory, bucket or host.",
	}
	W003 = Warning{
		ID:      "W003",
		Message: "Filename template has no {datetime}",
		Hint:    "Add {datetime} to FILENAME_TEMPLATE so new backups do not overwrite old ones.",
	}
	W004 = Warning{
		ID:      "W004",
		Message: "Media filename template has no {datetime}",
		Hint:    "Add {datetime} to MEDIA_FILENAME_TEMPLATE so new backups do not overwrite old ones.",
	}
	W005 = Warning{
		ID:      "W005",
		Message: "Date format contains unsafe characters",
		Hint:    "Keep DATE_FORMAT to letters, digits, '%', '_' and '-'; anything else breaks timestamp recovery from stored filenames.",
	}
	W007 = Warning{
		ID:      "W007",
		Message: "Filename template contains a path separator",
		Hint:    "Remove '/' from FILENAME_TEMPLATE; backup names are flat storage keys.",
	}
	W008 = Warning{
		ID:      "W008",
		Message: "Media filename template contains a path separator",
		Hint:    "Remove '/' from MEDIA_FILENAME_TEMPLATE; backup names are flat storage keys.",
	}
)

var unsafeDateChars = regexp.MustCompile(`[^A-Za-z0-9%_-]`)

// CheckSettings validates the configuration values that fail quietly:
// unidentifiable filenames, names that collide across runs and timestamps
// that cannot be parsed back out of stored artifacts.
func CheckSettings(cfg *config.Config) []Warning {
	var warnings []Warning

	if cfg.ServerName == "" {
		warnings = append(warnings, W001)
	}
	if storageLocation(cfg) == "" {
		warnings = append(warnings, W002)
	}
	warnings = append(warnings, checkTemplate(
		cfg.FilenameTemplate, cfg.FilenameTemplateFunc, cfg, filename.ContentTypeDB, W003, W007)...)
	warnings = append(warnings, checkTemplate(
		cfg.MediaFilenameTemplate, cfg.MediaFilenameTemplateFunc, cfg, filename.ContentTypeMedia, W004, W008)...)
	if unsafeDateChars.MatchString(cfg.DateFormat) {
		warnings = append(warnings, W005)
	}

	return warnings
}

// storageLocation returns the location setting backing the selected
// storage backend. Unknown backends are rejected with a hard error at
// storage construction, so they pass here.
func storageLocation(cfg *config.Config) string {
	switch cfg.StorageBackend {
	case "", "local":
		return cfg.BackupDir
	case "s3":
		return cfg.S3Bucket
	case "sftp":
		return cfg.SFTPHost
	default:
		return cfg.StorageBackend
	}
}

// checkTemplate inspects one filename template. String templates must
// carry a {datetime} placeholder; callable templates are exercised with
// sample parameters and judged by their output instead.
func checkTemplate(tmpl string, fn func(map[string]string) string, cfg *config.Config, contentType string, missingDate, hasPath Warning) []Warning {
	rendered := tmpl
	if fn != nil {
		rendered = fn(sampleParams(cfg, contentType))
	} else if !strings.Contains(tmpl, "{datetime}") {
		return []Warning{missingDate}
	}
	if strings.Contains(rendered, "/") {
		return []Warning{hasPath}
	}
	return nil
}

// sampleParams mirrors the parameter map filename.Generator passes to
// callable templates.
func sampleParams(cfg *config.Config, contentType string) map[string]string {
	format := cfg.DateFormat
	if format == "" {
		format = filename.DefaultDateFormat
	}
	return map[string]string{
		"databasename": "default",
		"servername":   cfg.ServerName,
		"datetime":     strftime.Format(format, time.Now()),
		"extension":    "dump",
		"content_type": contentType,
	}
}

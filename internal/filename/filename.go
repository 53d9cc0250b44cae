// Package filename generates and parses backup artifact names. Names encode
// the server, the database (for db backups), and a timestamp rendered with a
// strftime-style pattern; the timestamp must be recoverable from the name so
// stored backups can be filtered and sorted by age.
package filename

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"appbackup/internal/config"
)

// DefaultDateFormat matches the format used in generated names when no
// configuration is present.
const DefaultDateFormat = "%Y-%m-%d-%H%M%S"

// Content types of backup artifacts.
const (
	ContentTypeDB    = "db"
	ContentTypeMedia = "media"
)

var dashRuns = regexp.MustCompile(`-+`)

// Params carries the values substituted into a filename template.
type Params struct {
	DatabaseName string
	ServerName   string
	Extension    string
	ContentType  string // "db" or "media"

	// Wildcard, when set, replaces the rendered timestamp. Used to build
	// match patterns for storage listing.
	Wildcard string

	// When defaults to time.Now()
	When time.Time
}

// Generator renders filenames from the configured templates.
type Generator struct {
	Template          string
	MediaTemplate     string
	TemplateFunc      func(params map[string]string) string
	MediaTemplateFunc func(params map[string]string) string
	DateFormat        string
	ServerName        string
}

// FromConfig builds a Generator from the process configuration.
func FromConfig(cfg *config.Config) *Generator {
	return &Generator{
		Template:          cfg.FilenameTemplate,
		MediaTemplate:     cfg.MediaFilenameTemplate,
		TemplateFunc:      cfg.FilenameTemplateFunc,
		MediaTemplateFunc: cfg.MediaFilenameTemplateFunc,
		DateFormat:        cfg.DateFormat,
		ServerName:        cfg.ServerName,
	}
}

// Generate renders a filename for the given parameters.
//
// Database names that look like paths (SQLite files) are reduced to their
// basename with the extension stripped. String templates are cleaned of
// dash runs left by empty fields; callable templates produce their output
// verbatim.
func (g *Generator) Generate(p Params) string {
	contentType := p.ContentType
	if contentType == "" {
		contentType = ContentTypeDB
	}

	databaseName := p.DatabaseName
	if contentType == ContentTypeDB {
		databaseName = NormalizeDatabaseName(databaseName)
	}

	serverName := p.ServerName
	if serverName == "" {
		serverName = g.ServerName
	}

	datetime := p.Wildcard
	if datetime == "" {
		when := p.When
		if when.IsZero() {
			when = time.Now()
		}
		datetime = strftime.Format(g.dateFormat(), when)
	}

	params := map[string]string{
		"databasename": databaseName,
		"servername":   serverName,
		"datetime":     datetime,
		"extension":    p.Extension,
		"content_type": contentType,
	}

	if fn := g.templateFunc(contentType); fn != nil {
		return fn(params)
	}

	name := strings.NewReplacer(
		"{databasename}", params["databasename"],
		"{servername}", params["servername"],
		"{datetime}", params["datetime"],
		"{extension}", params["extension"],
		"{content_type}", params["content_type"],
	).Replace(g.template(contentType))

	// Empty fields leave dash runs behind
	name = dashRuns.ReplaceAllString(name, "-")
	name = strings.TrimPrefix(name, "-")
	return name
}

func (g *Generator) template(contentType string) string {
	if contentType == ContentTypeMedia {
		if g.MediaTemplate != "" {
			return g.MediaTemplate
		}
		return "{servername}-{datetime}.{extension}"
	}
	if g.Template != "" {
		return g.Template
	}
	return "{databasename}-{servername}-{datetime}.{extension}"
}

func (g *Generator) templateFunc(contentType string) func(map[string]string) string {
	if contentType == ContentTypeMedia {
		return g.MediaTemplateFunc
	}
	return g.TemplateFunc
}

func (g *Generator) dateFormat() string {
	if g.DateFormat != "" {
		return g.DateFormat
	}
	return DefaultDateFormat
}

// Datestring extracts the timestamp substring from a generated filename.
func (g *Generator) Datestring(name string) (string, bool) {
	return ToDatestring(name, g.dateFormat())
}

// Date parses the timestamp out of a generated filename.
func (g *Generator) Date(name string) (time.Time, bool) {
	return ToDate(name, g.dateFormat())
}

// NormalizeDatabaseName reduces a database identifier to the form used in
// filenames: the basename of a path, with any extension stripped.
func NormalizeDatabaseName(name string) string {
	if strings.ContainsRune(name, '/') {
		name = filepath.Base(name)
	}
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// strftime tokens and the regex each one matches. Literal text in the
// format passes through unchanged, which is why regex-active characters
// in a date format are flagged by the startup checks.
var patternMatching = []struct {
	token string
	regex string
}{
	{"%%", "%"},
	{"%a", `[A-Z][a-z]+`},
	{"%A", `[A-Z][a-z]+`},
	{"%w", `\d`},
	{"%d", `\d{2}`},
	{"%b", `[A-Z][a-z]+`},
	{"%B", `[A-Z][a-z]+`},
	{"%m", `\d{2}`},
	{"%y", `\d{2}`},
	{"%Y", `\d{4}`},
	{"%H", `\d{2}`},
	{"%I", `\d{2}`},
	{"%p", `(?:AM|PM)`},
	{"%M", `\d{2}`},
	{"%S", `\d{2}`},
	{"%f", `\d{6}`},
	{"%z", `[+-]\d{4}`},
	{"%Z", `[A-Z]{3,5}`},
	{"%j", `\d{3}`},
	{"%U", `\d{2}`},
	{"%W", `\d{2}`},
}

// DatefmtToRegex converts a strftime date format into a regular expression
// with a single capturing group spanning the whole timestamp.
func DatefmtToRegex(datefmt string) (*regexp.Regexp, error) {
	pattern := datefmt
	for _, pm := range patternMatching {
		pattern = strings.ReplaceAll(pattern, pm.token, pm.regex)
	}
	return regexp.Compile("(" + pattern + ")")
}

// ToDatestring extracts the timestamp substring from a filename generated
// with the given date format.
func ToDatestring(filename, datefmt string) (string, bool) {
	re, err := DatefmtToRegex(datefmt)
	if err != nil {
		return "", false
	}
	match := re.FindString(filename)
	if match == "" {
		return "", false
	}
	return match, true
}

// ToDate parses the timestamp out of a filename generated with the given
// date format.
func ToDate(filename, datefmt string) (time.Time, bool) {
	datestring, ok := ToDatestring(filename, datefmt)
	if !ok {
		return time.Time{}, false
	}
	t, err := strftime.Parse(datefmt, datestring)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

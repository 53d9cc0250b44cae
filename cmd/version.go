package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"appbackup/internal/logger"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and environment information",
	Long: `Display the appbackup version, the Go runtime, and the versions of
the database tools the connectors shell out to. Useful in bug reports.

Examples:
  appbackup version
  appbackup version --format json
  appbackup version --format short`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringVar(&versionFormat, "format", "table", "Output format (table, json, short)")
}

// dumpTools are the external commands the connectors invoke. The sqlite
// strategies run in-process and need no tool.
var dumpTools = []string{
	"pg_dump", "pg_restore", "psql",
	"mysqldump", "mysql",
	"mongodump", "mongorestore",
}

type versionInfo struct {
	Version   string            `json:"version"`
	BuildTime string            `json:"build_time"`
	GitCommit string            `json:"git_commit"`
	GoVersion string            `json:"go_version"`
	OS        string            `json:"os"`
	Arch      string            `json:"arch"`
	Tools     map[string]string `json:"database_tools"`
}

func runVersion() error {
	info := versionInfo{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		GitCommit: cfg.GitCommit,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Tools:     map[string]string{},
	}
	for _, tool := range dumpTools {
		if version := toolVersion(tool); version != "" {
			info.Tools[tool] = version
		}
	}

	switch versionFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "short":
		fmt.Printf("appbackup %s\n", info.Version)
		return nil
	default:
		logger.Header("appbackup " + info.Version)
		logger.StatusLine("build time", info.BuildTime)
		logger.StatusLine("git commit", info.GitCommit)
		logger.StatusLine("go", fmt.Sprintf("%s %s/%s", info.GoVersion, info.OS, info.Arch))
		for _, tool := range dumpTools {
			if version, ok := info.Tools[tool]; ok {
				logger.StatusLine(tool, version)
			} else {
				logger.StatusLine(tool, "not found")
			}
		}
		return nil
	}
}

// toolVersion runs "<tool> --version" and reduces the first output line
// to its trailing version token.
func toolVersion(tool string) string {
	out, err := exec.Command(tool, "--version").Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

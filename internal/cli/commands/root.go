// Copyright 2024 NTVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ntvfs/internal/daemon"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

// logLevel is the --log-level flag for commands that log to stderr
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "ntvfs",
	Short: "NTFS semantics for a POSIX tree over SMB",
	Long: `Serves a POSIX directory over SMB with NTFS semantics: creation time,
DOS attributes and alternate data streams kept in extended attributes,
byte-range locks, server-side copy and change notification.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if err := daemon.InitConfigDir(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if logLevel != "" {
			daemon.ConfigureLogging(logLevel, os.Stderr)
		}
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("ntvfs version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log to stderr at level: trace, debug, info, warn")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

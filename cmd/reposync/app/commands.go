// Package app provides the commands of the reposync command line tool.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/reposync/internal/syncerr"
	"github.com/stacklok/reposync/internal/versions"
)

// EnvPrefix is the prefix of environment variables bound to flags
const EnvPrefix = "REPOSYNC"

// Exit codes
const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitAuth      = 3
	exitConflict  = 4
	exitFileSize  = 5
	exitTransient = 6
)

// Flag names shared by several commands
const (
	flagConfig         = "config"
	flagWorkspace      = "workspace"
	flagRepo           = "repo"
	flagRemote         = "remote"
	flagToken          = "token"
	flagTokenExpiresAt = "token-expires-at"
	flagRefreshCommand = "refresh-command"
	flagOutput         = "output"
)

// NewRootCmd creates the root command with every subcommand attached.
// A fresh viper instance backs each tree so tests can build several.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:               "reposync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Short:             "Keep a local working copy in sync with its hosted repository",
		Long: `reposync pulls and pushes a git working copy while checking the credential,
repository access, merge conflicts and file sizes first. Failed transfers are
retried with exponential backoff.

Every flag can also be set through a REPOSYNC_ environment variable, for
example REPOSYNC_TOKEN or REPOSYNC_CONFIG.

Exit codes: 0 success, 1 failure, 2 invalid input, 3 credential or access
problem, 4 unresolved conflicts, 5 files too large, 6 transient failure.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "Path to configuration file (YAML format)")
	flags.StringP(flagWorkspace, "C", ".", "Path to the git working copy")
	flags.String(flagRepo, "", "Repository as owner/name, derived from the remote when empty")
	flags.String(flagRemote, "", "Git remote to pull from and push to (default origin)")
	flags.String(flagToken, "", "Access token for the hosting service")
	flags.String(flagTokenExpiresAt, "", "Token expiry as RFC 3339 or Unix seconds")
	flags.String(flagRefreshCommand, "", "Command printing a fresh token on stdout when the token is rejected")
	flags.StringP(flagOutput, "o", "text", "Output format (text or json)")
	if err := v.BindPFlags(flags); err != nil {
		slog.Error("Error binding flags", "error", err)
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newCheckCmd(v),
		newSyncCmd(v, opSync),
		newSyncCmd(v, opPull),
		newSyncCmd(v, opPush),
		newConflictsCmd(v),
		newSizesCmd(v),
		newStatusCmd(v),
	)
	return rootCmd
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		return report(cmd.ErrOrStderr(), err)
	}
	return exitOK
}

// report prints err with its recommendation and maps it to an exit code
func report(w io.Writer, err error) int {
	se, ok := syncerr.As(err)
	if !ok {
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
		return exitFailure
	}
	_, _ = fmt.Fprintf(w, "Error: %v\nRecommendation: %s\n", se, se.Recommendation())
	return exitCode(se)
}

func exitCode(se *syncerr.Error) int {
	switch se.Kind {
	case syncerr.KindInvalidInput:
		return exitUsage
	case syncerr.KindTokenExpired, syncerr.KindPermissionDenied, syncerr.KindRepositoryNotFound:
		return exitAuth
	case syncerr.KindConflictResolution:
		return exitConflict
	case syncerr.KindFileSizeExceeded:
		return exitFileSize
	case syncerr.KindNetworkSyncFailed:
		return exitTransient
	default:
		return exitFailure
	}
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("error retrieving format flag: %w", err)
			}

			if format == "json" {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "reposync %s\ncommit: %s\nbuilt: %s\ngo: %s\nplatform: %s\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// jsonOutput reports whether --output json was requested
func jsonOutput(v *viper.Viper) (bool, error) {
	switch strings.ToLower(v.GetString(flagOutput)) {
	case "", "text":
		return false, nil
	case "json":
		return true, nil
	default:
		return false, syncerr.InvalidInput(fmt.Sprintf("unknown output format %q (want text or json)", v.GetString(flagOutput)), nil)
	}
}

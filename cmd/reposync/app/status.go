package app

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/reposync/internal/status"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded sync status",
		Long: `Show the status recorded by previous runs for the workspace's repository,
or for every repository with --all. --clear-broken removes the broken marker
once the repository was re-linked or access was granted again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, err := jsonOutput(v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			e, err := newEngine(ctx, v, false)
			if err != nil {
				return err
			}
			defer e.Close()

			all, _ := cmd.Flags().GetBool("all")
			name := e.repo
			if name == "" && !all {
				if derived, err := e.transfer.Repository(); err == nil {
					name = derived
				} else {
					all = true
				}
			}

			if clearBroken, _ := cmd.Flags().GetBool("clear-broken"); clearBroken {
				if name == "" {
					return fmt.Errorf("--clear-broken needs a repository")
				}
				if err := e.statuses.ClearBroken(ctx, name); err != nil {
					return err
				}
			}

			statuses := map[string]*status.RepoStatus{}
			if all {
				statuses, err = e.statuses.LoadAllStatus(ctx)
			} else {
				var st *status.RepoStatus
				st, err = e.statuses.LoadStatus(ctx, name)
				statuses[name] = st
			}
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), statuses)
			}
			writeStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Show every recorded repository")
	cmd.Flags().Bool("clear-broken", false, "Clear the broken marker of the repository")
	return cmd
}

func writeStatuses(w io.Writer, statuses map[string]*status.RepoStatus) {
	if len(statuses) == 0 {
		_, _ = fmt.Fprintln(w, "no status recorded")
		return
	}
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		st := statuses[name]
		phase := string(st.Phase)
		if phase == "" {
			phase = "never synced"
		}
		_, _ = fmt.Fprintf(w, "%s: %s\n", name, phase)
		if st.LastSyncTime != nil {
			_, _ = fmt.Fprintf(w, "  last sync: %s\n", humanize.Time(*st.LastSyncTime))
		}
		if st.LastErrorKind != "" || st.Message != "" {
			_, _ = fmt.Fprintf(w, "  last error: %s\n", strings.TrimSpace(st.LastErrorKind+" "+st.Message))
		}
		if st.Broken {
			since := ""
			if st.BrokenSince != nil {
				since = " since " + humanize.Time(*st.BrokenSince)
			}
			_, _ = fmt.Fprintf(w, "  broken%s: re-link the repository or request access, then run status --clear-broken\n", since)
		}
		for _, warning := range st.Warnings {
			_, _ = fmt.Fprintf(w, "  warning: %s\n", warning)
		}
	}
}

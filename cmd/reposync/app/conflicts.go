package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/reposync/internal/conflict"
)

type conflictsView struct {
	Conflicts      []string `json:"conflicts"`
	Strategy       string   `json:"strategy,omitempty"`
	Resolved       []string `json:"resolved,omitempty"`
	ManualRequired []string `json:"manual_required,omitempty"`
}

func newConflictsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List unmerged files, and optionally resolve them",
		Long: `List the files left unmerged in the workspace. With --resolve the given
strategy (ours, theirs or manual) is applied to each of them.`,
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

			paths, err := e.resolver.DetectAll(ctx, e.conflicts)
			if err != nil {
				return err
			}
			view := conflictsView{Conflicts: paths}

			if s, _ := cmd.Flags().GetString("resolve"); s != "" && len(paths) > 0 {
				strategy, err := conflict.ParseStrategy(s)
				if err != nil {
					return err
				}
				unlock, err := lockWorkspace(ctx, e.workspace)
				if err != nil {
					return err
				}
				defer unlock()

				all, err := e.resolver.ResolveAll(ctx, e.conflicts, strategy)
				if err != nil {
					return err
				}
				view.Strategy = string(strategy)
				view.Resolved = all.Resolved
				view.ManualRequired = all.ManualRequired
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			out := cmd.OutOrStdout()
			if len(view.Conflicts) == 0 {
				_, _ = fmt.Fprintln(out, "no conflicts")
				return nil
			}
			for _, p := range view.Conflicts {
				_, _ = fmt.Fprintln(out, p)
			}
			writeList(out, "resolved with "+view.Strategy, view.Resolved)
			writeList(out, "left for manual resolution", view.ManualRequired)
			return nil
		},
	}
	cmd.Flags().String("resolve", "", "Resolve every conflict with this strategy: ours, theirs or manual")
	return cmd
}

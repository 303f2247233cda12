package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/reposync/internal/access"
	"github.com/stacklok/reposync/internal/repo"
	"github.com/stacklok/reposync/internal/syncerr"
)

type checkView struct {
	Repo                string `json:"repo"`
	CredentialValid     bool   `json:"credential_valid"`
	CredentialRefreshed bool   `json:"credential_refreshed"`
	Access              string `json:"access,omitempty"`
	HasAccess           bool   `json:"has_access"`
	StatusCode          int    `json:"status_code,omitempty"`
}

func newCheckCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the credential and repository access without transferring anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, err := jsonOutput(v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			e, err := newEngine(ctx, v, true)
			if err != nil {
				return err
			}
			defer e.Close()

			ref, err := repo.Parse(e.repo)
			if err != nil {
				return syncerr.InvalidInput("malformed repository", err)
			}
			view := checkView{Repo: ref.String()}

			refreshed, err := e.tokens.WithRefresh(ctx, e.token.Credential, e.token.ExpiresAt, e.refresher)
			if err == nil {
				view.CredentialValid = true
				view.CredentialRefreshed = refreshed.Refreshed

				var result access.Result
				result, err = e.access.Check(ctx, ref.String(), refreshed.Credential, e.cfg.AccessTimeout())
				if err == nil {
					view.Access = string(result.Reason)
					view.HasAccess = result.HasAccess
					view.StatusCode = result.StatusCode
					err = result.Err(ref)
				}
			}

			if asJSON {
				if werr := writeJSON(cmd.OutOrStdout(), view); werr != nil {
					return werr
				}
			} else {
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "repository: %s\n", view.Repo)
				_, _ = fmt.Fprintf(out, "credential valid: %t\n", view.CredentialValid)
				if view.CredentialRefreshed {
					_, _ = fmt.Fprintln(out, "credential refreshed: true")
				}
				if view.Access != "" {
					_, _ = fmt.Fprintf(out, "access: %s\n", view.Access)
				}
			}
			return err
		},
	}
}

package app

import (
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type sizeReportView struct {
	Path                   string `json:"path"`
	SizeBytes              int64  `json:"size_bytes"`
	Size                   string `json:"size"`
	ExceedsIndividualLimit bool   `json:"exceeds_individual_limit,omitempty"`
	ExceedsRepoLimit       bool   `json:"exceeds_repo_limit,omitempty"`
}

type sizesView struct {
	IndividualLimit string           `json:"individual_limit"`
	AggregateLimit  string           `json:"aggregate_limit"`
	Total           string           `json:"total"`
	AllValid        bool             `json:"all_valid"`
	Files           []sizeReportView `json:"files"`
}

func newSizesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sizes [files...]",
		Short: "Report file sizes against the push limits",
		Long: `Report the size of each file against the individual and aggregate limits.
Without file arguments every changed file is checked. Nothing is pushed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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

			files := args
			if len(files) == 0 {
				files, err = e.changedFiles()
				if err != nil {
					return err
				}
			}

			validation, err := e.sizes.Validate(ctx, files)
			if err != nil {
				return err
			}

			limits := e.sizes.Limits()
			view := sizesView{
				IndividualLimit: humanize.IBytes(uint64(limits.Individual)),
				AggregateLimit:  humanize.IBytes(uint64(limits.Aggregate)),
				Total:           humanize.IBytes(uint64(validation.TotalBytes)),
				AllValid:        validation.AllValid,
				Files:           make([]sizeReportView, 0, len(validation.Reports)),
			}
			for _, r := range validation.Reports {
				view.Files = append(view.Files, sizeReportView{
					Path:                   r.Path,
					SizeBytes:              r.SizeBytes,
					Size:                   humanize.IBytes(uint64(r.SizeBytes)),
					ExceedsIndividualLimit: r.ExceedsIndividualLimit,
					ExceedsRepoLimit:       r.ExceedsRepoLimit,
				})
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Path", "Size", "Status")
			for _, f := range view.Files {
				state := "ok"
				switch {
				case f.ExceedsIndividualLimit:
					state = "exceeds " + view.IndividualLimit + " file limit"
				case f.ExceedsRepoLimit:
					state = "exceeds " + view.AggregateLimit + " push limit"
				}
				if err := table.Append(f.Path, f.Size, state); err != nil {
					return err
				}
			}
			table.Footer("Total", view.Total, "")
			return table.Render()
		},
	}
}

package app

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/reposync/internal/conflict"
	"github.com/stacklok/reposync/internal/size"
	pkgsync "github.com/stacklok/reposync/internal/sync"
	"github.com/stacklok/reposync/internal/syncerr"
)

type operation string

const (
	opSync operation = pkgsync.OperationSync
	opPull operation = pkgsync.OperationPull
	opPush operation = pkgsync.OperationPush
)

const (
	flagConflictStrategy = "conflict-strategy"
	flagSizeStrategy     = "size-strategy"
)

var operationHelp = map[operation]struct{ short, long, use string }{
	opSync: {
		use:   "sync [files...]",
		short: "Pull remote changes, then push local ones",
		long: `Pull remote changes into the workspace, resolve the conflicts the merge
leaves, then push local changes. Without file arguments every changed file is
pushed. Conflicts left for manual resolution stop the sync before the push.`,
	},
	opPull: {
		use:   "pull",
		short: "Pull remote changes and resolve conflicts",
		long: `Pull remote changes into the workspace and resolve the conflicts the merge
leaves. Conflicts left for manual resolution are reported but do not fail the pull.`,
	},
	opPush: {
		use:   "push [files...]",
		short: "Push local changes",
		long: `Check file sizes and push local changes. Without file arguments every changed
file is pushed. The push is refused while the workspace has unresolved conflicts.`,
	},
}

func newSyncCmd(v *viper.Viper, op operation) *cobra.Command {
	help := operationHelp[op]
	cmd := &cobra.Command{
		Use:   help.use,
		Short: help.short,
		Long:  help.long,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, v, op, args)
		},
	}
	if op == opPull {
		cmd.Args = cobra.NoArgs
	}
	cmd.Flags().String(flagConflictStrategy, "", "Conflict strategy: ours, theirs or manual (default from config, else ours)")
	if op != opPull {
		cmd.Flags().String(flagSizeStrategy, "", "Oversized file strategy: exclude, lfs or split (default from config, else exclude)")
	}
	return cmd
}

// strategies resolves the strategy flags, falling back to the configuration
func strategies(cmd *cobra.Command, e *engine) (conflict.Strategy, size.Strategy, error) {
	cs := e.cfg.ConflictStrategy()
	if s, _ := cmd.Flags().GetString(flagConflictStrategy); s != "" {
		parsed, err := conflict.ParseStrategy(s)
		if err != nil {
			return "", "", err
		}
		cs = parsed
	}

	ss := e.cfg.SizeStrategy()
	if f := cmd.Flags().Lookup(flagSizeStrategy); f != nil && f.Value.String() != "" {
		parsed, err := size.ParseStrategy(f.Value.String())
		if err != nil {
			return "", "", err
		}
		ss = parsed
	}
	return cs, ss, nil
}

func runSync(cmd *cobra.Command, v *viper.Viper, op operation, args []string) error {
	asJSON, err := jsonOutput(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, v, true)
	if err != nil {
		return err
	}
	defer e.Close()

	cs, ss, err := strategies(cmd, e)
	if err != nil {
		return err
	}

	unlock, err := lockWorkspace(ctx, e.workspace)
	if err != nil {
		return err
	}
	defer unlock()

	files := args
	if op != opPull && len(files) == 0 {
		files, err = e.changedFiles()
		if err != nil {
			return err
		}
	}

	req := e.request(files, cs, ss)
	res, runErr := e.run(ctx, op, req)

	view := newResultView(string(op), res, runErr)
	if asJSON {
		if err := writeJSON(cmd.OutOrStdout(), view); err != nil {
			return err
		}
	} else {
		view.writeText(cmd.OutOrStdout())
	}
	return runErr
}

// changedFiles lists the workspace changes, leaving out the fallback lock file
func (e *engine) changedFiles() ([]string, error) {
	files, err := e.transfer.ChangedFiles()
	if err != nil {
		return nil, syncerr.InvalidInput("cannot list changed files", err)
	}
	return slices.DeleteFunc(files, func(p string) bool { return p == "."+lockFileName }), nil
}

func (e *engine) run(ctx context.Context, op operation, req pkgsync.Request) (*pkgsync.Result, error) {
	switch op {
	case opPull:
		return e.orch.Pull(ctx, req)
	case opPush:
		return e.orch.Push(ctx, req)
	default:
		return e.orch.Sync(ctx, req)
	}
}

// resultView is the printable form of a sync result. It never carries the credential.
type resultView struct {
	Repo                string     `json:"repo"`
	Operation           string     `json:"operation"`
	Succeeded           bool       `json:"succeeded"`
	CredentialRefreshed bool       `json:"credential_refreshed"`
	Access              string     `json:"access,omitempty"`
	PullAttempts        int        `json:"pull_attempts,omitempty"`
	PushAttempts        int        `json:"push_attempts,omitempty"`
	Resolved            []string   `json:"resolved,omitempty"`
	ManualRequired      []string   `json:"manual_required,omitempty"`
	Pushed              []string   `json:"pushed,omitempty"`
	Excluded            []string   `json:"excluded,omitempty"`
	LFS                 []string   `json:"lfs,omitempty"`
	Split               []string   `json:"split,omitempty"`
	Error               *errorView `json:"error,omitempty"`
}

type errorView struct {
	Kind           string   `json:"kind"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
	Paths          []string `json:"paths,omitempty"`
	Attempts       int      `json:"attempts,omitempty"`
}

func newResultView(op string, res *pkgsync.Result, err error) resultView {
	view := resultView{Operation: op, Succeeded: err == nil}
	if se, ok := syncerr.As(err); ok {
		paths := se.Paths
		if len(paths) == 0 && se.Path != "" {
			paths = []string{se.Path}
		}
		view.Error = &errorView{
			Kind:           string(se.Kind),
			Message:        se.Error(),
			Recommendation: string(se.Recommendation()),
			Paths:          paths,
			Attempts:       se.Attempts,
		}
	}
	if res == nil {
		return view
	}

	view.Repo = res.Repo
	view.CredentialRefreshed = res.CredentialRefreshed
	view.Access = string(res.Access.Reason)
	if res.PullAttempt != nil {
		view.PullAttempts = res.PullAttempt.Attempt
	}
	if res.PushAttempt != nil {
		view.PushAttempts = res.PushAttempt.Attempt
		view.Pushed = res.PushSet()
	}
	view.Resolved = res.Conflicts.Resolved
	view.ManualRequired = res.Conflicts.ManualRequired
	if res.Size != nil {
		view.Excluded = res.Size.ExcludedFiles
		view.LFS = res.Size.LFSFiles
		view.Split = res.Size.SplitFiles
	}
	return view
}

func (r resultView) writeText(w io.Writer) {
	state := "completed"
	if !r.Succeeded {
		state = "failed"
	}
	_, _ = fmt.Fprintf(w, "%s %s %s\n", r.Operation, r.Repo, state)
	if r.CredentialRefreshed {
		_, _ = fmt.Fprintln(w, "  credential was refreshed; store the new value from your refresh command")
	}
	if r.PullAttempts > 0 {
		_, _ = fmt.Fprintf(w, "  pull attempts: %d\n", r.PullAttempts)
	}
	if r.PushAttempts > 0 {
		_, _ = fmt.Fprintf(w, "  push attempts: %d\n", r.PushAttempts)
	}
	writeList(w, "resolved conflicts", r.Resolved)
	writeList(w, "conflicts needing manual resolution", r.ManualRequired)
	writeList(w, "pushed", r.Pushed)
	writeList(w, "excluded (too large)", r.Excluded)
	writeList(w, "need large file storage", r.LFS)
	writeList(w, "need splitting", r.Split)
}

func writeList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "  %s (%d): %s\n", label, len(items), strings.Join(items, ", "))
}

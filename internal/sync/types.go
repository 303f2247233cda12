package sync

import (
	"context"
	"time"

	"github.com/stacklok/reposync/internal/access"
	"github.com/stacklok/reposync/internal/conflict"
	"github.com/stacklok/reposync/internal/retry"
	"github.com/stacklok/reposync/internal/size"
	"github.com/stacklok/reposync/internal/token"
)

//go:generate mockgen -destination=mocks/mock_transfer.go -package=mocks -source=types.go Transfer

// Transfer moves changes between the workspace and the remote
type Transfer interface {
	// Pull fetches remote changes and merges them into the workspace
	Pull(ctx context.Context, credential string) error

	// Push sends files to the remote
	Push(ctx context.Context, credential string, files []string) error
}

// TokenValidator is the token stage
type TokenValidator interface {
	WithRefresh(ctx context.Context, credential string, expiresAt any, refresher token.Refresher) (token.Refreshed, error)
}

// AccessChecker is the access stage
type AccessChecker interface {
	Check(ctx context.Context, ref string, credential string, timeout time.Duration) (access.Result, error)
}

// ConflictHandler is the conflict stage
type ConflictHandler interface {
	ResolveAll(ctx context.Context, ws conflict.Workspace, strategy conflict.Strategy) (conflict.AllResult, error)
}

// SizeValidator is the size stage
type SizeValidator interface {
	ApplyStrategy(ctx context.Context, paths []string, strategy size.Strategy) (size.Outcome, error)
}

// Retrier runs transfer work with retries
type Retrier interface {
	Run(ctx context.Context, repo string, work retry.Work) (retry.Outcome, error)
}

var (
	_ TokenValidator  = (*token.Guard)(nil)
	_ AccessChecker   = (*access.Verifier)(nil)
	_ ConflictHandler = (*conflict.Resolver)(nil)
	_ SizeValidator   = (*size.Guard)(nil)
	_ Retrier         = (*retry.Coordinator)(nil)
)

// Deps are the stages an Orchestrator composes. All are required.
type Deps struct {
	Token     TokenValidator
	Access    AccessChecker
	Conflicts ConflictHandler
	Size      SizeValidator
	Retry     Retrier
}

// Request describes one operation on one repository
type Request struct {
	// Repo is the owner/name of the remote repository
	Repo string

	// Workspace inspects the working copy for conflicts. Nil skips the conflict stages.
	Workspace conflict.Workspace

	// Token is borrowed; a refreshed credential is reported in Result
	Token token.State

	// Refresher replaces an unusable credential. Nil means no recovery.
	Refresher token.Refresher

	Transfer Transfer

	// Files are the workspace-relative paths to push
	Files []string

	// ConflictStrategy defaults to conflict.StrategyOurs
	ConflictStrategy conflict.Strategy

	// SizeStrategy defaults to size.StrategyExclude
	SizeStrategy size.Strategy
}

// Result is what the stages that ran produced
type Result struct {
	Repo string

	// Credential is the credential the transfer used
	Credential string

	// CredentialRefreshed is true when Credential came from the Refresher and must be persisted
	CredentialRefreshed bool

	Access access.Result

	PullAttempt *retry.Outcome
	PushAttempt *retry.Outcome

	Conflicts conflict.AllResult

	Size *size.Outcome
}

// PushSet returns the files the size stage selected for the push
func (r *Result) PushSet() []string {
	if r.Size == nil {
		return nil
	}
	return r.Size.PushSet()
}

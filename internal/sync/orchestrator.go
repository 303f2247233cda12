package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/reposync/internal/access"
	"github.com/stacklok/reposync/internal/conflict"
	"github.com/stacklok/reposync/internal/repo"
	"github.com/stacklok/reposync/internal/retry"
	"github.com/stacklok/reposync/internal/size"
	"github.com/stacklok/reposync/internal/status"
	"github.com/stacklok/reposync/internal/syncerr"
	"github.com/stacklok/reposync/internal/telemetry"
)

// TracerName is the name of the orchestrator's tracer
const TracerName = "github.com/stacklok/reposync/sync"

// Operation names used in logs, spans and metrics
const (
	OperationPull = "pull"
	OperationPush = "push"
	OperationSync = "sync"
)

// Orchestrator runs the sync pipeline. It holds no per-request state and may
// serve different repositories concurrently.
type Orchestrator struct {
	deps          Deps
	sink          status.Sink
	tracer        trace.Tracer
	metrics       *telemetry.SyncMetrics
	clock         clock.PassiveClock
	accessTimeout time.Duration
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSink sets the sink receiving errors and warnings
func WithSink(s status.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = status.Safe(s)
	}
}

// WithTracerProvider enables spans for every stage
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithMetrics records operation durations and stage outcomes
func WithMetrics(m *telemetry.SyncMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock sets the clock used to time operations
func WithClock(c clock.PassiveClock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithAccessTimeout bounds the access check, access.DefaultTimeout when unset
func WithAccessTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.accessTimeout = d
	}
}

// New creates an Orchestrator from its stages
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	var missing []string
	if deps.Token == nil {
		missing = append(missing, "token")
	}
	if deps.Access == nil {
		missing = append(missing, "access")
	}
	if deps.Conflicts == nil {
		missing = append(missing, "conflicts")
	}
	if deps.Size == nil {
		missing = append(missing, "size")
	}
	if deps.Retry == nil {
		missing = append(missing, "retry")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing sync stages: %v", missing)
	}

	o := &Orchestrator{
		deps:  deps,
		sink:  status.NopSink{},
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Pull brings remote changes into the workspace and resolves the conflicts
// the merge leaves. Conflicts left for manual resolution are reported in the
// Result and do not fail the pull.
func (o *Orchestrator) Pull(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, OperationPull, req, func(ctx context.Context, res *Result) error {
		return o.pull(ctx, req, res)
	})
}

// Push sends the request's files. It refuses to push while the workspace has
// conflicts that were not resolved.
func (o *Orchestrator) Push(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, OperationPush, req, func(ctx context.Context, res *Result) error {
		if err := o.resolveConflicts(ctx, req, res); err != nil {
			return err
		}
		return o.push(ctx, req, res)
	})
}

// Sync pulls and then pushes. Conflicts the pull leaves for manual
// resolution stop the sync before anything is pushed.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (*Result, error) {
	return o.run(ctx, OperationSync, req, func(ctx context.Context, res *Result) error {
		if err := o.pull(ctx, req, res); err != nil {
			return err
		}
		return o.push(ctx, req, res)
	})
}

// run executes the preamble shared by every operation, then body
func (o *Orchestrator) run(
	ctx context.Context,
	operation string,
	req Request,
	body func(context.Context, *Result) error,
) (*Result, error) {
	start := o.clock.Now()
	res := &Result{Repo: req.Repo, Credential: req.Token.Credential}

	ctx, span := telemetry.StartSpan(ctx, o.tracer, "sync."+operation,
		trace.WithAttributes(
			telemetry.AttrRepo.String(req.Repo),
			telemetry.AttrOperation.String(operation),
		))
	defer span.End()

	err := o.prepare(ctx, req, res)
	if err == nil {
		err = body(ctx, res)
	}

	elapsed := o.clock.Since(start)
	o.metrics.RecordSyncDuration(ctx, req.Repo, operation, elapsed, err == nil)

	if err != nil {
		se := o.fail(ctx, res, err)
		span.SetAttributes(telemetry.AttrErrorKind.String(string(se.Kind)))
		telemetry.RecordError(span, se)
		slog.WarnContext(ctx, "Sync operation failed",
			"repo", req.Repo,
			"operation", operation,
			"kind", se.Kind,
			"recommendation", se.Recommendation(),
			"duration", elapsed,
			"error", se)
		return res, se
	}

	slog.InfoContext(ctx, "Sync operation completed",
		"repo", req.Repo,
		"operation", operation,
		"duration", elapsed,
		"credential_refreshed", res.CredentialRefreshed)
	return res, nil
}

// prepare validates the request and runs the token and access stages
func (o *Orchestrator) prepare(ctx context.Context, req Request, res *Result) error {
	ref, err := repo.Parse(req.Repo)
	if err != nil {
		return syncerr.InvalidInput("malformed repository", err)
	}
	if req.Transfer == nil {
		return syncerr.InvalidInput("no transfer configured", nil)
	}

	if err := o.stage(ctx, "token", func(ctx context.Context, span trace.Span) error {
		refreshed, err := o.deps.Token.WithRefresh(ctx, req.Token.Credential, req.Token.ExpiresAt, req.Refresher)
		if err != nil {
			return err
		}
		res.Credential = refreshed.Credential
		res.CredentialRefreshed = refreshed.Refreshed
		span.SetAttributes(telemetry.AttrTokenRefreshed.Bool(refreshed.Refreshed))
		if refreshed.Refreshed {
			slog.InfoContext(ctx, "Credential refreshed, caller must persist the new value", "repo", req.Repo)
		}
		return nil
	}); err != nil {
		return err
	}

	return o.stage(ctx, "access", func(ctx context.Context, span trace.Span) error {
		result, err := o.deps.Access.Check(ctx, ref.String(), res.Credential, o.accessTimeout)
		if err != nil {
			return err
		}
		res.Access = result
		span.SetAttributes(telemetry.AttrAccessReason.String(string(result.Reason)))
		if result.Reason == access.ReasonUnknown {
			o.sink.RecordWarning(ctx, req.Repo, "repository access could not be confirmed, continuing")
		}
		return result.Err(ref)
	})
}

func (o *Orchestrator) pull(ctx context.Context, req Request, res *Result) error {
	if err := o.transfer(ctx, "pull", req.Repo, &res.PullAttempt, func(ctx context.Context) error {
		return req.Transfer.Pull(ctx, res.Credential)
	}); err != nil {
		return err
	}
	return o.resolveConflicts(ctx, req, res)
}

// resolveConflicts applies the conflict strategy to the workspace. Records
// left for manual resolution are reported but not treated as a failure here;
// push refuses to proceed while any remain.
func (o *Orchestrator) resolveConflicts(ctx context.Context, req Request, res *Result) error {
	if req.Workspace == nil {
		return nil
	}
	strategy := req.ConflictStrategy
	if strategy == "" {
		strategy = conflict.StrategyOurs
	}

	return o.stage(ctx, "conflicts", func(ctx context.Context, span trace.Span) error {
		all, err := o.deps.Conflicts.ResolveAll(ctx, req.Workspace, strategy)
		o.mergeConflicts(res, all)
		span.SetAttributes(
			telemetry.AttrConflictStrategy.String(string(strategy)),
			telemetry.AttrConflictCount.Int(len(all.Records)),
		)
		o.metrics.RecordConflicts(ctx, req.Repo, "resolved", len(all.Resolved))
		o.metrics.RecordConflicts(ctx, req.Repo, "manual", len(all.ManualRequired))
		if err != nil {
			return err
		}
		if n := len(all.ManualRequired); n > 0 {
			o.sink.RecordWarning(ctx, req.Repo, fmt.Sprintf("%d conflicted file(s) need manual resolution", n))
		}
		return nil
	})
}

// mergeConflicts folds a ResolveAll result into the session's conflict set.
// A path is unique in the set; a later record replaces an earlier one.
func (*Orchestrator) mergeConflicts(res *Result, all conflict.AllResult) {
	if res.Conflicts.Records == nil {
		res.Conflicts.Records = conflict.Set{}
	}
	for path, rec := range all.Records {
		res.Conflicts.Records[path] = rec
	}
	res.Conflicts.Resolved = append(res.Conflicts.Resolved, all.Resolved...)
	res.Conflicts.ManualRequired = res.Conflicts.Records.Manual()
}

func (o *Orchestrator) push(ctx context.Context, req Request, res *Result) error {
	// No transfer while a conflict is unresolved
	if pending := res.Conflicts.Records.Pending(); len(pending) > 0 {
		return &syncerr.Error{
			Kind:    syncerr.KindConflictResolution,
			Message: "conflicts are still pending resolution",
			Paths:   pending,
		}
	}
	if manual := res.Conflicts.Records.Manual(); len(manual) > 0 {
		return syncerr.ManualResolutionRequired(manual)
	}

	strategy := req.SizeStrategy
	if strategy == "" {
		strategy = size.StrategyExclude
	}
	if err := o.stage(ctx, "size", func(ctx context.Context, span trace.Span) error {
		out, err := o.deps.Size.ApplyStrategy(ctx, req.Files, strategy)
		res.Size = &out
		span.SetAttributes(
			telemetry.AttrSizeStrategy.String(string(strategy)),
			telemetry.AttrFileCount.Int(len(req.Files)),
			telemetry.AttrExcludedCount.Int(len(out.ExcludedFiles)),
		)
		o.metrics.RecordExcluded(ctx, req.Repo, len(out.ExcludedFiles))
		if err != nil {
			return err
		}
		o.reportSize(ctx, req.Repo, out)
		return nil
	}); err != nil {
		return err
	}

	files := res.Size.PushSet()
	return o.transfer(ctx, "push", req.Repo, &res.PushAttempt, func(ctx context.Context) error {
		return req.Transfer.Push(ctx, res.Credential, files)
	})
}

func (o *Orchestrator) reportSize(ctx context.Context, repoName string, out size.Outcome) {
	if n := len(out.ExcludedFiles); n > 0 {
		o.sink.RecordWarning(ctx, repoName, fmt.Sprintf("%d file(s) exceed size limits and were left out of the push", n))
	}
	if n := len(out.LFSFiles); n > 0 {
		o.sink.RecordWarning(ctx, repoName, fmt.Sprintf("%d file(s) exceed size limits and need large file storage tracking", n))
	}
	if n := len(out.SplitFiles); n > 0 {
		o.sink.RecordWarning(ctx, repoName, fmt.Sprintf("%d file(s) exceed size limits and need to be split", n))
	}
}

// transfer runs fn under the retry coordinator and stores the outcome in dst
func (o *Orchestrator) transfer(
	ctx context.Context,
	name, repoName string,
	dst **retry.Outcome,
	fn func(context.Context) error,
) error {
	return o.stage(ctx, name, func(ctx context.Context, span trace.Span) error {
		out, err := o.deps.Retry.Run(ctx, repoName, retry.WorkFunc(fn))
		*dst = &out
		span.SetAttributes(telemetry.AttrAttempts.Int(out.Attempt))
		return err
	})
}

// stage wraps fn in a child span
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context, trace.Span) error) error {
	ctx, span := telemetry.StartSpan(ctx, o.tracer, "sync.stage."+name,
		trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()

	err := fn(ctx, span)
	telemetry.RecordError(span, err)
	return err
}

// fail turns err into a *syncerr.Error and notifies the sink. Unclassified
// errors are transient by definition and reported as network failures.
func (o *Orchestrator) fail(ctx context.Context, res *Result, err error) *syncerr.Error {
	repoName := res.Repo
	se, ok := syncerr.As(err)
	if !ok {
		message := "sync failed"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			message = "sync cancelled"
		}
		se = &syncerr.Error{Kind: syncerr.KindNetworkSyncFailed, Message: message, Err: err}
	}
	if se.Repo == "" {
		se.Repo = repoName
	}

	o.sink.RecordError(ctx, repoName, string(se.Kind), se.Error())
	o.metrics.RecordError(ctx, repoName, string(se.Kind))

	// The access stage marks denied repositories itself
	switch se.Kind {
	case syncerr.KindRepositoryNotFound, syncerr.KindPermissionDenied:
		if !res.Access.Denied() {
			o.sink.MarkBroken(ctx, repoName)
		}
	}
	return se
}

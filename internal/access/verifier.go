// Package access verifies that a credential can still reach a remote repository.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/reposync/internal/hostapi"
	"github.com/stacklok/reposync/internal/repo"
	"github.com/stacklok/reposync/internal/status"
	"github.com/stacklok/reposync/internal/syncerr"
)

// DefaultTimeout bounds a single access check
const DefaultTimeout = 10 * time.Second

// Reason explains an access check result
type Reason string

const (
	ReasonGranted          Reason = "granted"
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonNotFound         Reason = "not_found"

	// ReasonUnknown means the host could not be reached or answered unexpectedly.
	// It does not block a sync.
	ReasonUnknown Reason = "unknown"
)

// Result is the outcome of an access check
type Result struct {
	HasAccess bool
	Reason    Reason

	// StatusCode is the HTTP status returned by the host, 0 when no response was received
	StatusCode int
}

// Denied reports whether the host definitively refused access
func (r Result) Denied() bool {
	return r.Reason == ReasonPermissionDenied || r.Reason == ReasonNotFound
}

// Err converts a definitive denial into a typed error, or returns nil
func (r Result) Err(ref repo.Ref) error {
	switch r.Reason {
	case ReasonPermissionDenied:
		return syncerr.PermissionDenied(ref.String(), fmt.Errorf("host returned %d", r.StatusCode))
	case ReasonNotFound:
		return syncerr.RepositoryNotFound(ref.String(), fmt.Errorf("host returned %d", r.StatusCode))
	default:
		return nil
	}
}

// Verifier checks repository access against the hosting service
type Verifier struct {
	client hostapi.Client
	sink   status.Sink
}

// NewVerifier creates a verifier. A nil sink discards notifications.
func NewVerifier(client hostapi.Client, sink status.Sink) *Verifier {
	return &Verifier{
		client: client,
		sink:   status.Safe(sink),
	}
}

// Check asks the host whether credential can read the repository identified by ref.
// The only error is an unparseable ref; host and network failures are reported
// through Result.Reason. A zero timeout uses DefaultTimeout.
func (v *Verifier) Check(ctx context.Context, ref string, credential string, timeout time.Duration) (Result, error) {
	parsed, err := repo.Parse(ref)
	if err != nil {
		return Result{}, syncerr.InvalidInput("malformed repository", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	code, err := v.client.RepositoryStatus(checkCtx, parsed, credential)
	if err != nil {
		slog.DebugContext(ctx, "Repository access check did not complete",
			"repo", parsed.String(),
			"error", err)
		return Result{Reason: ReasonUnknown}, nil
	}

	result := Result{StatusCode: code}
	switch code {
	case http.StatusOK:
		result.HasAccess = true
		result.Reason = ReasonGranted
	case http.StatusForbidden:
		result.Reason = ReasonPermissionDenied
		v.denied(ctx, parsed, "access to the repository was revoked or never granted")
	case http.StatusNotFound:
		result.Reason = ReasonNotFound
		v.denied(ctx, parsed, "the repository was deleted, renamed or is hidden from this credential")
	default:
		result.Reason = ReasonUnknown
		slog.DebugContext(ctx, "Unexpected status from repository access check",
			"repo", parsed.String(),
			"status", code)
	}
	return result, nil
}

func (v *Verifier) denied(ctx context.Context, ref repo.Ref, message string) {
	slog.WarnContext(ctx, "Repository access denied",
		"repo", ref.String(),
		"reason", message)
	v.sink.RecordWarning(ctx, ref.String(), message)
	v.sink.MarkBroken(ctx, ref.String())
}

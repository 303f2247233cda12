// Package syncerr defines the closed set of failures a repository sync can end with.
//
// Every failure is an *Error carrying a Kind. Kinds map one-to-one to sentinel
// errors so callers can branch with errors.Is:
//
//	if errors.Is(err, syncerr.ErrRepositoryNotFound) {
//	    // offer to re-link the project
//	}
//
// Only KindNetworkSyncFailed is retryable; the others cannot be fixed by trying again.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a sync failure
type Kind string

const (
	// KindConflictResolution means an automatic conflict strategy could not be applied
	KindConflictResolution Kind = "conflict_resolution"

	// KindTokenExpired means the credential is expired or revoked and could not be refreshed
	KindTokenExpired Kind = "token_expired"

	// KindPermissionDenied means the remote host refused access to the repository
	KindPermissionDenied Kind = "permission_denied"

	// KindRepositoryNotFound means the remote repository is missing or was renamed
	KindRepositoryNotFound Kind = "repository_not_found"

	// KindNetworkSyncFailed means every transfer attempt failed
	KindNetworkSyncFailed Kind = "network_sync_failed"

	// KindFileSizeExceeded means no pushable subset of files remains under the size limits
	KindFileSizeExceeded Kind = "file_size_exceeded"

	// KindInvalidInput means the request itself was malformed
	KindInvalidInput Kind = "invalid_input"
)

// Recommendation is the action a user should take after a fatal error
type Recommendation string

const (
	RecommendReauthenticate   Recommendation = "re-authenticate"
	RecommendRelink           Recommendation = "re-link repository"
	RecommendRetryLater       Recommendation = "try again later"
	RecommendResolveManually  Recommendation = "resolve conflicts manually"
	RecommendReduceFileSizes  Recommendation = "reduce file sizes or track them with large file storage"
	RecommendCorrectRequest   Recommendation = "correct the request"
	RecommendReauthorizeScope Recommendation = "request access to the repository and re-authorize"
)

// Sentinel errors, one per Kind
var (
	ErrConflictResolution = errors.New("conflict resolution failed")
	ErrTokenExpired       = errors.New("credential unusable, no recovery")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrRepositoryNotFound = errors.New("repository not found")
	ErrNetworkSyncFailed  = errors.New("network sync failed")
	ErrFileSizeExceeded   = errors.New("file size exceeded")
	ErrInvalidInput       = errors.New("invalid input")
)

var sentinels = map[Kind]error{
	KindConflictResolution: ErrConflictResolution,
	KindTokenExpired:       ErrTokenExpired,
	KindPermissionDenied:   ErrPermissionDenied,
	KindRepositoryNotFound: ErrRepositoryNotFound,
	KindNetworkSyncFailed:  ErrNetworkSyncFailed,
	KindFileSizeExceeded:   ErrFileSizeExceeded,
	KindInvalidInput:       ErrInvalidInput,
}

var recommendations = map[Kind]Recommendation{
	KindConflictResolution: RecommendResolveManually,
	KindTokenExpired:       RecommendReauthenticate,
	KindPermissionDenied:   RecommendReauthorizeScope,
	KindRepositoryNotFound: RecommendRelink,
	KindNetworkSyncFailed:  RecommendRetryLater,
	KindFileSizeExceeded:   RecommendReduceFileSizes,
	KindInvalidInput:       RecommendCorrectRequest,
}

// Error is a classified sync failure
type Error struct {
	Kind    Kind
	Message string

	// Repo is the owner/name of the repository involved, if known
	Repo string

	// Path is the workspace-relative file involved, if any
	Path string

	// Paths lists every file involved when more than one is affected
	Paths []string

	// Attempts is the number of transfer attempts made before giving up
	Attempts int

	// Err is the underlying cause
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Repo != "" {
		fmt.Fprintf(&b, " [%s]", e.Repo)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, " (path %s)", e.Path)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error for the Kind
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Retryable reports whether a later attempt could succeed without user action
func (e *Error) Retryable() bool {
	return e.Kind == KindNetworkSyncFailed
}

// Recommendation returns the action the user should take
func (e *Error) Recommendation() Recommendation {
	return recommendations[e.Kind]
}

// WithRepo returns the error annotated with a repository
func (e *Error) WithRepo(repo string) *Error {
	e.Repo = repo
	return e
}

// As extracts an *Error from an error chain
func As(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or "" when err is not a classified sync error
func KindOf(err error) Kind {
	if se, ok := As(err); ok {
		return se.Kind
	}
	return ""
}

// IsRetryable reports whether err may succeed on a later attempt.
// Unclassified errors are assumed to be transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := As(err); ok {
		return se.Retryable()
	}
	return true
}

// ConflictResolution reports that a strategy could not be applied to path
func ConflictResolution(path string, err error) *Error {
	return &Error{
		Kind:    KindConflictResolution,
		Message: "could not apply conflict resolution",
		Path:    path,
		Err:     err,
	}
}

// ManualResolutionRequired reports conflicts that were left for the user to resolve
func ManualResolutionRequired(paths []string) *Error {
	return &Error{
		Kind:    KindConflictResolution,
		Message: fmt.Sprintf("%d conflicted file(s) require manual resolution", len(paths)),
		Paths:   paths,
	}
}

// TokenExpired reports an unusable credential
func TokenExpired(message string, err error) *Error {
	return &Error{
		Kind:    KindTokenExpired,
		Message: message,
		Err:     err,
	}
}

// PermissionDenied reports that the host refused access to repo
func PermissionDenied(repo string, err error) *Error {
	return &Error{
		Kind:    KindPermissionDenied,
		Message: "access to the repository was denied",
		Repo:    repo,
		Err:     err,
	}
}

// RepositoryNotFound reports that repo no longer exists on the host
func RepositoryNotFound(repo string, err error) *Error {
	return &Error{
		Kind:    KindRepositoryNotFound,
		Message: "the repository was deleted or renamed",
		Repo:    repo,
		Err:     err,
	}
}

// NetworkSyncFailed reports that all attempts were exhausted. last is the final attempt's error.
func NetworkSyncFailed(repo string, attempts int, last error) *Error {
	return &Error{
		Kind:     KindNetworkSyncFailed,
		Message:  "all transfer attempts failed",
		Repo:     repo,
		Attempts: attempts,
		Err:      last,
	}
}

// FileSizeExceeded reports that every file in paths is over a size limit
func FileSizeExceeded(paths []string) *Error {
	return &Error{
		Kind:    KindFileSizeExceeded,
		Message: fmt.Sprintf("all %d file(s) exceed the size limits, nothing left to push", len(paths)),
		Paths:   paths,
	}
}

// InvalidInput reports a malformed request
func InvalidInput(message string, err error) *Error {
	return &Error{
		Kind:    KindInvalidInput,
		Message: message,
		Err:     err,
	}
}

package status

import "time"

// AttemptStatus is the state of a single transfer attempt
type AttemptStatus string

const (
	// AttemptInProgress means the attempt has started and not yet finished
	AttemptInProgress AttemptStatus = "in_progress"

	// AttemptSuccess means the attempt completed without error
	AttemptSuccess AttemptStatus = "success"

	// AttemptFailed means the attempt returned an error or timed out
	AttemptFailed AttemptStatus = "failed"
)

// Attempt records one iteration of a retry session.
// Numbers start at 1 within a session and are never reused.
type Attempt struct {
	// Session groups the attempts of one retry run
	Session string `json:"session"`

	// Repo is the owner/name of the repository
	Repo string `json:"repo"`

	// Number is the 1-based attempt number
	Number int `json:"number"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Status AttemptStatus `json:"status"`

	// Error is the captured failure message for failed attempts
	Error string `json:"error,omitempty"`
}

// SyncPhase represents the current phase of a repository's synchronization
type SyncPhase string

const (
	// SyncPhaseSyncing means an attempt is currently in progress
	SyncPhaseSyncing SyncPhase = "Syncing"

	// SyncPhaseComplete means the last attempt succeeded
	SyncPhaseComplete SyncPhase = "Complete"

	// SyncPhaseFailed means the last attempt or stage failed
	SyncPhaseFailed SyncPhase = "Failed"
)

// RepoStatus is the persisted summary of a repository's sync history
type RepoStatus struct {
	// Phase represents the current synchronization phase
	Phase SyncPhase `json:"phase,omitempty"`

	// Message provides additional information about the last failure
	Message string `json:"message,omitempty"`

	// LastErrorKind is the taxonomy kind of the last recorded error
	LastErrorKind string `json:"lastErrorKind,omitempty"`

	// LastSession is the session id of the most recent attempt
	LastSession string `json:"lastSession,omitempty"`

	// LastAttempt is the start time of the most recent attempt
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// AttemptCount is the number of the most recent attempt within its session
	AttemptCount int `json:"attemptCount,omitempty"`

	// LastSyncTime is the completion time of the last successful attempt
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`

	// Broken is set when the remote repository was deleted, renamed or access was revoked.
	// It stays set until cleared explicitly.
	Broken      bool       `json:"broken,omitempty"`
	BrokenSince *time.Time `json:"brokenSince,omitempty"`

	// Warnings holds the most recent warnings, oldest first
	Warnings []string `json:"warnings,omitempty"`
}

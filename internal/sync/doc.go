// Package sync composes the sync stages into the three operations a caller
// invokes once per request: Pull, Push and Sync.
//
// # Pipeline
//
// Every operation runs the same preamble and then its transfer stages:
//
//   - token: the credential is validated and refreshed when a Refresher is supplied
//   - access: the host is asked whether the credential can read the repository
//   - pull: the transfer's Pull runs under the retry coordinator, then
//     conflicts left by the merge are resolved with the requested strategy
//   - push: the conflict gate refuses to push while a conflict is pending,
//     the size guard partitions the files and the transfer's Push runs under
//     the retry coordinator with the files that may be sent
//
// The credential is checked before access so that an expired credential is
// never reported as a missing repository.
//
// # Errors
//
// Every error returned by an Orchestrator is a *syncerr.Error. Its Kind tells
// the caller what went wrong and Recommendation what the user should do. The
// Result is returned alongside the error and holds whatever the stages that
// ran produced, including a refreshed credential that must still be persisted.
package sync

// Package repo identifies repositories on the remote hosting service.
package repo

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidRef is returned when a repository reference cannot be parsed
var ErrInvalidRef = errors.New("invalid repository reference")

// segmentPattern matches the characters hosting services allow in owner and repository names
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Ref identifies a repository as owner/name
type Ref struct {
	Owner string
	Name  string
}

// String returns the canonical owner/name form
func (r Ref) String() string {
	return r.Owner + "/" + r.Name
}

// Parse accepts "owner/name", HTTPS clone URLs ("https://host/owner/name.git"),
// scp-like SSH URLs ("git@host:owner/name.git") and ssh:// URLs.
func Parse(s string) (Ref, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Ref{}, fmt.Errorf("%w: empty reference", ErrInvalidRef)
	}

	path := raw
	switch {
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %q: %v", ErrInvalidRef, s, err)
		}
		if u.Host == "" {
			return Ref{}, fmt.Errorf("%w: %q has no host", ErrInvalidRef, s)
		}
		path = u.Path
	case strings.Contains(raw, "@") && strings.Contains(raw, ":"):
		// scp-like syntax: user@host:owner/name.git
		path = raw[strings.Index(raw, ":")+1:]
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")

	parts := strings.Split(path, "/")
	if len(parts) != 2 {
		return Ref{}, fmt.Errorf("%w: %q must have the form owner/name", ErrInvalidRef, s)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || !segmentPattern.MatchString(p) {
			return Ref{}, fmt.Errorf("%w: %q contains an invalid segment %q", ErrInvalidRef, s, p)
		}
	}

	return Ref{Owner: parts[0], Name: parts[1]}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Ref {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

package token

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// Refresher obtains a replacement credential. The caller owns persisting it.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to Refresher
type RefresherFunc func(ctx context.Context) (string, error)

// Refresh calls f
func (f RefresherFunc) Refresh(ctx context.Context) (string, error) {
	return f(ctx)
}

// TokenSourceRefresher obtains replacement credentials from an oauth2.TokenSource,
// for example one built from a refresh token with oauth2.Config.TokenSource.
type TokenSourceRefresher struct {
	Source oauth2.TokenSource
}

// Refresh returns the access token of the next token from the source.
// oauth2.TokenSource takes no context; the Guard bounds the call with its refresh timeout.
func (r TokenSourceRefresher) Refresh(_ context.Context) (string, error) {
	if r.Source == nil {
		return "", errors.New("no token source configured")
	}
	tok, err := r.Source.Token()
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("token source returned an empty access token")
	}
	return tok.AccessToken, nil
}

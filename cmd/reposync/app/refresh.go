package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/stacklok/reposync/internal/token"
)

// commandRefresher runs a shell command and uses the first line of its
// standard output as the new credential, like a git credential helper.
type commandRefresher struct {
	command string
	dir     string
}

var _ token.Refresher = (*commandRefresher)(nil)

func (r *commandRefresher) Refresh(ctx context.Context) (string, error) {
	// #nosec G204 -- the command is supplied by the user invoking reposync
	cmd := exec.CommandContext(ctx, "sh", "-c", r.command)
	cmd.Dir = r.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("refresh command failed: %w: %s", err, msg)
		}
		return "", fmt.Errorf("refresh command failed: %w", err)
	}

	line, _, _ := strings.Cut(stdout.String(), "\n")
	credential := strings.TrimSpace(line)
	if credential == "" {
		return "", errors.New("refresh command printed no credential")
	}
	return credential, nil
}

package cli

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pendergraft/contraverify/internal/records"
)

// runGit runs git in dir and returns its stdout
var runGit = func(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// gitNotCommitted returns the ids of records with uncommitted changes
func gitNotCommitted(ctx context.Context, repo string) (map[string]bool, error) {
	out, err := runGit(ctx, repo, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return records.IDsFromPaths(porcelainPaths(out)), nil
}

// gitLastCommitted returns the ids of records changed by the last commit
func gitLastCommitted(ctx context.Context, repo string) (map[string]bool, error) {
	out, err := runGit(ctx, repo, "show", "--name-only", "--pretty=format:")
	if err != nil {
		return nil, err
	}
	return records.IDsFromPaths(strings.Split(out, "\n")), nil
}

// porcelainPaths extracts paths from `git status --porcelain` output.
// Renames list the new path after " -> ".
func porcelainPaths(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if _, to, ok := strings.Cut(path, " -> "); ok {
			path = to
		}
		paths = append(paths, strings.Trim(path, `"`))
	}
	return paths
}

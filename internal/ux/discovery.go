package ux

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DiscoverStateDir searches for the .devflow directory.
// Priority: current dir -> parent dirs -> git root. When nothing is found
// the path under the current directory is returned for creation.
func DiscoverStateDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, StateDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}

		// Don't climb out of the repository we started in
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if gitRoot, err := getGitRoot(); err == nil {
		candidate := filepath.Join(gitRoot, StateDirName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return filepath.Join(cwd, StateDirName), nil
}

// getGitRoot returns the git repository root directory
func getGitRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// EnsureStateDir creates the state directory layout under pd.
func EnsureStateDir(pd *PathDefaults) error {
	for _, dir := range []string{pd.StateDir, pd.PlansDir(), pd.StatusDir(), filepath.Join(pd.StateDir, "findings")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

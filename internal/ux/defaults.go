package ux

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirName is the per-project directory devflow keeps its state in.
const StateDirName = ".devflow"

// PathDefaults provides defaults for the files under the state directory
type PathDefaults struct {
	StateDir string
}

// NewPathDefaults creates a new PathDefaults rooted at ./.devflow
func NewPathDefaults() *PathDefaults {
	return &PathDefaults{
		StateDir: StateDirName,
	}
}

// ConfigFile returns the default path to devflow.yaml
func (pd *PathDefaults) ConfigFile() string {
	return filepath.Join(pd.StateDir, "devflow.yaml")
}

// PlansDir returns the directory plan descriptions are looked up in
func (pd *PathDefaults) PlansDir() string {
	return filepath.Join(pd.StateDir, "plans")
}

// StatusDir returns the directory of the file status backend
func (pd *PathDefaults) StatusDir() string {
	return filepath.Join(pd.StateDir, "status")
}

// DatabaseFile returns the path of the sqlite status backend
func (pd *PathDefaults) DatabaseFile() string {
	return filepath.Join(pd.StateDir, "status.db")
}

// FindingsRoot returns the root findings references are resolved against
func (pd *PathDefaults) FindingsRoot() string {
	return pd.StateDir
}

// SuggestNextSteps provides contextual next steps based on what exists
func SuggestNextSteps() string {
	return NewPathDefaults().suggestNextSteps()
}

func (pd *PathDefaults) suggestNextSteps() string {
	if _, err := os.Stat(pd.StateDir); os.IsNotExist(err) {
		return "Run 'devflow init' to set up your project"
	}

	entries, err := os.ReadDir(pd.PlansDir())
	if err != nil || len(entries) == 0 {
		return fmt.Sprintf("Add a plan description to %s", pd.PlansDir())
	}

	return "Check what can start with 'devflow ready <plan>' or execute with 'devflow run <plan>'"
}

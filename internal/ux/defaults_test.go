package ux

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPathDefaults(t *testing.T) {
	pd := &PathDefaults{StateDir: "/work/.devflow"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", pd.ConfigFile(), "/work/.devflow/devflow.yaml"},
		{"plans", pd.PlansDir(), "/work/.devflow/plans"},
		{"status", pd.StatusDir(), "/work/.devflow/status"},
		{"database", pd.DatabaseFile(), "/work/.devflow/status.db"},
		{"findings", pd.FindingsRoot(), "/work/.devflow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != filepath.FromSlash(tt.want) {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	if NewPathDefaults().StateDir != ".devflow" {
		t.Error("default state dir should be .devflow")
	}
}

func TestEnsureStateDirAndNextSteps(t *testing.T) {
	pd := &PathDefaults{StateDir: filepath.Join(t.TempDir(), ".devflow")}

	if got := pd.suggestNextSteps(); !strings.Contains(got, "devflow init") {
		t.Errorf("suggestNextSteps() = %q", got)
	}

	if err := EnsureStateDir(pd); err != nil {
		t.Fatalf("EnsureStateDir() error = %v", err)
	}
	for _, dir := range []string{pd.PlansDir(), pd.StatusDir(), filepath.Join(pd.StateDir, "findings")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
	if got := pd.suggestNextSteps(); !strings.Contains(got, "plan description") {
		t.Errorf("suggestNextSteps() with no plans = %q", got)
	}

	if err := os.WriteFile(filepath.Join(pd.PlansDir(), "roadmap.yaml"), []byte("id: roadmap\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := pd.suggestNextSteps(); !strings.Contains(got, "devflow ready") {
		t.Errorf("suggestNextSteps() with a plan = %q", got)
	}
}

func TestDiscoverStateDir(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, StateDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "internal", "pkg")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	t.Chdir(nested)

	got, err := DiscoverStateDir()
	if err != nil {
		t.Fatalf("DiscoverStateDir() error = %v", err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(root, StateDirName))
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Errorf("DiscoverStateDir() = %q, want %q", got, want)
	}

}

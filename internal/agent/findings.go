package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// FindingsWriter stores agent output as markdown under
// <root>/findings/<plan>/<task>.md.
type FindingsWriter struct {
	Root string
	now  func() time.Time
}

// NewFindingsWriter writes below root, normally the state directory.
func NewFindingsWriter(root string) *FindingsWriter {
	return &FindingsWriter{Root: root, now: time.Now}
}

// Ref returns the findings reference for a task, relative to Root.
func (w *FindingsWriter) Ref(planID, taskID string) string {
	return filepath.ToSlash(filepath.Join("findings", planID, safeName(taskID)+".md"))
}

// Path resolves a findings reference to a file path.
func (w *FindingsWriter) Path(ref string) string {
	return filepath.Join(w.Root, filepath.FromSlash(ref))
}

// Write stores the agent output for a task and returns its reference.
func (w *FindingsWriter) Write(planID, taskID string, resp Response) (string, error) {
	ref := w.Ref(planID, taskID)
	path := w.Path(ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to create findings directory", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s\n\n", taskID)
	fmt.Fprintf(&b, "- Plan: %s\n", planID)
	fmt.Fprintf(&b, "- Recorded: %s\n", w.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", resp.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- Success: %t\n\n", resp.Success)
	b.WriteString(strings.TrimSpace(resp.Output))
	b.WriteString("\n")
	if resp.Error != "" {
		fmt.Fprintf(&b, "\n## Error\n\n%s\n", resp.Error)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return "", errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write findings", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write findings", err)
	}
	return ref, nil
}

// safeName keeps task IDs from escaping the plan directory.
func safeName(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}

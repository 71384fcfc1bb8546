package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/analysis"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/graph"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/orchestrator"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/scheduler"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/ux"
)

func joinIDs(ids []domain.TaskID, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, sep)
}

// readyView is the output of `devflow ready`.
type readyView struct {
	PlanID          string `json:"planId" yaml:"planId"`
	scheduler.Batch `yaml:",inline"`

	explain bool
}

func (v readyView) RenderText(w io.Writer) error {
	fmt.Fprintln(w, ux.TitleStyle.Render("Ready tasks: "+v.PlanID))
	if len(v.Tasks) == 0 {
		fmt.Fprintln(w, ux.MutedStyle.Render("  nothing can start right now"))
	} else {
		fmt.Fprintln(w, ux.MutedStyle.Render(fmt.Sprintf("  tier %s, phases %v", v.Tier, v.ActivePhases)))
		for _, t := range v.Tasks {
			fmt.Fprintf(w, "  %s  %s\n", ux.RenderStatus(t.Status), t.ID)
			fmt.Fprintf(w, "      %s\n", t.Description)
			if len(t.BlockedBy) > 0 {
				fmt.Fprintln(w, ux.WarningStyle.Render("      blocked by "+joinIDs(t.BlockedBy, ", ")))
			}
			if len(t.ConflictsWith) > 0 {
				fmt.Fprintln(w, ux.WarningStyle.Render(fmt.Sprintf("      shares %s with %s",
					strings.Join(t.ConflictingFiles, ", "), joinIDs(t.ConflictsWith, ", "))))
			}
		}
	}
	if v.CrossPhaseExecution {
		fmt.Fprintln(w, ux.WarningStyle.Render("  batch spans more than one phase"))
	}

	if v.explain && len(v.Skipped) > 0 {
		ids := make([]string, 0, len(v.Skipped))
		for id := range v.Skipped {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)

		fmt.Fprintln(w)
		fmt.Fprintln(w, ux.HeaderStyle.Render("Held back"))
		for _, id := range ids {
			r := v.Skipped[domain.TaskID(id)]
			fmt.Fprintf(w, "  %-8s %-12s %s\n", id, r.Reason, ux.MutedStyle.Render(r.Detail))
		}
	}
	return nil
}

// statusView is the output of `devflow status <plan>`.
type statusView struct {
	Plan     *status.PlanStatus `json:"plan" yaml:"plan"`
	Progress status.Progress    `json:"progress" yaml:"progress"`

	now time.Time
}

func (v statusView) RenderText(w io.Writer) error {
	ps := v.Plan
	fmt.Fprintln(w, ux.TitleStyle.Render("Plan: "+ps.PlanID))
	fmt.Fprintf(w, "%s %d/%d done (%.0f%%), current phase %q, updated %s\n",
		ux.MutedStyle.Render("Progress:"),
		v.Progress.Done, v.Progress.Total, v.Progress.Percent, ps.CurrentPhase,
		humanize.RelTime(ps.LastUpdatedAt, v.now, "ago", "from now"))
	fmt.Fprintln(w)

	phase := ""
	for _, t := range ps.Tasks {
		if t.Phase != phase {
			phase = t.Phase
			fmt.Fprintln(w, ux.HeaderStyle.Render(phase))
		}
		line := fmt.Sprintf("  %-24s %-8s %s", ux.RenderStatus(t.Status), t.ID, t.Description)
		if t.RetryCount > 0 {
			line += ux.MutedStyle.Render(fmt.Sprintf(" (retries: %d)", t.RetryCount))
		}
		fmt.Fprintln(w, line)
		if t.Status == domain.StatusFailed && t.LastError != "" {
			fmt.Fprintln(w, ux.ErrorStyle.Render("      "+firstLine(t.LastError)))
		}
	}

	if n := len(ps.Runs); n > 0 {
		last := ps.Runs[n-1]
		fmt.Fprintln(w)
		state := "running"
		if last.CompletedAt != nil {
			state = fmt.Sprintf("finished %s, %d completed, %d failed",
				humanize.RelTime(*last.CompletedAt, v.now, "ago", "from now"), last.CompletedCount, last.FailedCount)
		}
		fmt.Fprintf(w, "%s %d runs; last %s\n", ux.MutedStyle.Render("Runs:"), n, state)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// planListView is the output of `devflow status` without a plan.
type planListView struct {
	Plans []planEntry `json:"plans" yaml:"plans"`
}

type planEntry struct {
	ID      string         `json:"id" yaml:"id"`
	Summary status.Summary `json:"summary" yaml:"summary"`
}

func (v planListView) RenderText(w io.Writer) error {
	if len(v.Plans) == 0 {
		fmt.Fprintln(w, ux.MutedStyle.Render("No plans initialized. "+ux.SuggestNextSteps()))
		return nil
	}
	fmt.Fprintln(w, ux.TitleStyle.Render("Plans"))
	for _, p := range v.Plans {
		s := p.Summary
		fmt.Fprintf(w, "  %-20s %d/%d completed, %d failed, %d in progress\n",
			p.ID, s.Completed, s.Total, s.Failed, s.InProgress)
	}
	return nil
}

// analysisView is the output of `devflow analyze`.
type analysisView struct {
	PlanID          string `json:"planId" yaml:"planId"`
	analysis.Report `yaml:",inline"`
}

func (v analysisView) RenderText(w io.Writer) error {
	fmt.Fprintln(w, ux.TitleStyle.Render("Analysis: "+v.PlanID))
	path := joinIDs(v.CriticalPath, " → ")
	if path == "" {
		path = "(empty)"
	}
	fmt.Fprintf(w, "%s %s\n", ux.MutedStyle.Render("Critical path:"), path)
	fmt.Fprintf(w, "%s %d tasks, %d remaining\n", ux.MutedStyle.Render("Path length:  "), v.PathLength, v.RemainingOnPath)
	fmt.Fprintf(w, "%s %d ready, %d blocked of %d pending\n", ux.MutedStyle.Render("Pending:      "), v.ReadyCount, v.BlockedCount, v.PendingCount)
	fmt.Fprintf(w, "%s %s\n", ux.MutedStyle.Render("Max speedup:  "), v.Speedup)
	if len(v.Ready) > 0 {
		fmt.Fprintf(w, "%s %s\n", ux.MutedStyle.Render("Ready now:    "), joinIDs(v.Ready, ", "))
	}
	return nil
}

// graphView is the output of `devflow graph check`.
type graphView struct {
	graph.Report `yaml:",inline"`
	Tasks        int `json:"tasks" yaml:"tasks"`
}

func (v graphView) RenderText(w io.Writer) error {
	if v.Valid {
		fmt.Fprintln(w, ux.SuccessStyle.Render(fmt.Sprintf("✓ dependency graph is valid (%d tasks)", v.Tasks)))
		return nil
	}
	fmt.Fprintln(w, ux.ErrorStyle.Render(fmt.Sprintf("✗ dependency graph has %d issues", len(v.Issues))))
	for _, issue := range v.Issues {
		fmt.Fprintf(w, "  [%s] %s\n", issue.Code(), issue)
	}
	return nil
}

// orderView is the output of `devflow graph order`.
type orderView struct {
	Order []domain.TaskID `json:"order" yaml:"order"`
}

func (v orderView) RenderText(w io.Writer) error {
	for i, id := range v.Order {
		fmt.Fprintf(w, "%3d  %s\n", i+1, id)
	}
	return nil
}

// validateView is the output of `devflow validate`.
type validateView struct {
	PlanID string                `json:"planId" yaml:"planId"`
	Issues []status.SummaryIssue `json:"issues" yaml:"issues"`
}

func (v validateView) RenderText(w io.Writer) error {
	if len(v.Issues) == 0 {
		fmt.Fprintln(w, ux.SuccessStyle.Render("✓ summary counters of "+v.PlanID+" are consistent"))
		return nil
	}
	fmt.Fprintln(w, ux.WarningStyle.Render(fmt.Sprintf("Repaired %d summary counters of %s", len(v.Issues), v.PlanID)))
	for _, issue := range v.Issues {
		fmt.Fprintf(w, "  %-12s recorded %d, actual %d\n", issue.Field, issue.Recorded, issue.Actual)
	}
	return nil
}

// stuckView is the output of `devflow stuck`.
type stuckView struct {
	PlanID    string          `json:"planId" yaml:"planId"`
	Threshold time.Duration   `json:"threshold" yaml:"threshold"`
	DryRun    bool            `json:"dryRun" yaml:"dryRun"`
	Stuck     []stuckTask     `json:"stuck" yaml:"stuck"`
	Retryable []domain.TaskID `json:"retryable" yaml:"retryable"`
	Exhausted []domain.TaskID `json:"exhausted" yaml:"exhausted"`
}

type stuckTask struct {
	ID      domain.TaskID `json:"id" yaml:"id"`
	Started string        `json:"started" yaml:"started"`
}

func (v stuckView) RenderText(w io.Writer) error {
	fmt.Fprintln(w, ux.TitleStyle.Render("Stuck tasks: "+v.PlanID))
	if len(v.Stuck) == 0 {
		fmt.Fprintf(w, "  none running longer than %s\n", v.Threshold)
	}
	verb := "failed"
	if v.DryRun {
		verb = "would fail"
	}
	for _, t := range v.Stuck {
		fmt.Fprintf(w, "  %s %s (started %s)\n", ux.WarningStyle.Render(verb), t.ID, t.Started)
	}
	if len(v.Retryable) > 0 {
		fmt.Fprintf(w, "%s %s\n", ux.MutedStyle.Render("Retryable:"), joinIDs(v.Retryable, ", "))
	}
	if len(v.Exhausted) > 0 {
		fmt.Fprintf(w, "%s %s\n", ux.ErrorStyle.Render("Exhausted:"), joinIDs(v.Exhausted, ", "))
	}
	return nil
}

// retryView is the output of `devflow retry`.
type retryView struct {
	PlanID   string                   `json:"planId" yaml:"planId"`
	Requeued map[domain.TaskID]int    `json:"requeued" yaml:"requeued"`
	Refused  map[domain.TaskID]string `json:"refused,omitempty" yaml:"refused,omitempty"`
}

func (v retryView) RenderText(w io.Writer) error {
	if len(v.Requeued) == 0 && len(v.Refused) == 0 {
		fmt.Fprintln(w, ux.MutedStyle.Render("No failed tasks to retry in "+v.PlanID))
		return nil
	}
	for _, id := range sortedKeys(v.Requeued) {
		fmt.Fprintf(w, "%s %s (retry %d)\n", ux.SuccessStyle.Render("requeued"), id, v.Requeued[id])
	}
	for _, id := range sortedKeys(v.Refused) {
		fmt.Fprintf(w, "%s %s: %s\n", ux.ErrorStyle.Render("refused"), id, v.Refused[id])
	}
	return nil
}

func sortedKeys[V any](m map[domain.TaskID]V) []domain.TaskID {
	out := make([]domain.TaskID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// runView is the output of `devflow run`.
type runView struct {
	orchestrator.Summary `yaml:",inline"`
}

func (v runView) RenderText(w io.Writer) error {
	lines := []string{
		ux.TitleStyle.Render("Run " + v.RunID),
		fmt.Sprintf("Plan:        %s", v.PlanID),
		fmt.Sprintf("Dispatched:  %d", v.Dispatched),
		fmt.Sprintf("Completed:   %d (%d from cache)", v.Completed, v.Cached),
		fmt.Sprintf("Failed:      %d", v.Failed),
		fmt.Sprintf("Duration:    %s", v.Duration.Round(time.Millisecond)),
		fmt.Sprintf("Plan status: %d/%d completed, %d failed, %d pending",
			v.Final.Completed, v.Final.Total, v.Final.Failed, v.Final.Pending),
	}
	if len(v.Requeued) > 0 {
		lines = append(lines, "Requeued:    "+joinIDs(v.Requeued, ", "))
	}
	if len(v.Resumed) > 0 {
		lines = append(lines, "Resumed:     "+joinIDs(v.Resumed, ", "))
	}
	if v.Interrupted {
		lines = append(lines, ux.WarningStyle.Render("Interrupted: unfinished tasks were put back to pending"))
	}
	_, err := fmt.Fprintln(w, ux.BoxStyle.Render(strings.Join(lines, "\n")))
	return err
}

// initView is the output of `devflow init`.
type initView struct {
	StateDir   string `json:"stateDir" yaml:"stateDir"`
	ConfigFile string `json:"configFile" yaml:"configFile"`
	PlanID     string `json:"planId,omitempty" yaml:"planId,omitempty"`
	PlanFile   string `json:"planFile,omitempty" yaml:"planFile,omitempty"`
	Tasks      int    `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

func (v initView) RenderText(w io.Writer) error {
	fmt.Fprintln(w, ux.SuccessStyle.Render("✓ state directory ready at "+v.StateDir))
	fmt.Fprintln(w, ux.MutedStyle.Render("  config: "+v.ConfigFile))
	if v.PlanID != "" {
		fmt.Fprintln(w, ux.SuccessStyle.Render(fmt.Sprintf("✓ plan %s initialized with %d tasks", v.PlanID, v.Tasks)))
		fmt.Fprintln(w, ux.MutedStyle.Render("  description: "+v.PlanFile))
		fmt.Fprintf(w, "\nNext: devflow ready %s\n", v.PlanID)
	}
	return nil
}

// markView is the output of `devflow mark`.
type markView struct {
	PlanID string            `json:"planId" yaml:"planId"`
	TaskID domain.TaskID     `json:"taskId" yaml:"taskId"`
	Status domain.TaskStatus `json:"status" yaml:"status"`
}

func (v markView) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s → %s\n", v.TaskID, ux.RenderStatus(v.Status))
	return err
}

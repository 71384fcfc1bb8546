// Package progress renders run progress for a plan on a terminal or in CI.
package progress

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

// Indicator provides progress tracking and display for a plan run
type Indicator struct {
	writer      io.Writer
	planID      string
	tasks       map[domain.TaskID]domain.TaskStatus
	failures    map[domain.TaskID]string
	resumed     int
	startTime   time.Time
	mu          sync.Mutex
	showSpinner bool
	spinnerIdx  int
	stopChan    chan struct{}
	stopOnce    sync.Once // Ensures Stop() is only called once
	isCI        bool
	now         func() time.Time
}

// Config holds configuration for progress indicator
type Config struct {
	Writer      io.Writer
	ShowSpinner bool
	IsCI        bool // Set to true in CI/CD environments to disable fancy output
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewIndicator creates a new progress indicator
func NewIndicator(cfg Config) *Indicator {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	// Auto-detect CI environment
	if !cfg.IsCI {
		cfg.IsCI = os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
	}

	return &Indicator{
		writer:      cfg.Writer,
		tasks:       make(map[domain.TaskID]domain.TaskStatus),
		failures:    make(map[domain.TaskID]string),
		startTime:   time.Now(),
		showSpinner: cfg.ShowSpinner && !cfg.IsCI,
		stopChan:    make(chan struct{}),
		isCI:        cfg.IsCI,
		now:         time.Now,
	}
}

// SetPlan seeds the indicator from a status snapshot. Tasks already done
// count as resumed work.
func (p *Indicator) SetPlan(ps *status.PlanStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.planID = ps.PlanID
	p.tasks = make(map[domain.TaskID]domain.TaskStatus, len(ps.Tasks))
	p.failures = make(map[domain.TaskID]string)
	p.resumed = 0
	for _, t := range ps.Tasks {
		p.tasks[t.ID] = t.Status
		if t.Status.Satisfied() {
			p.resumed++
		}
		if t.Status == domain.StatusFailed && t.LastError != "" {
			p.failures[t.ID] = t.LastError
		}
	}
}

// Start begins the progress indicator display
func (p *Indicator) Start() {
	if p.showSpinner {
		go p.spinnerLoop()
	}
}

// Stop stops the progress indicator
func (p *Indicator) Stop() {
	p.stopOnce.Do(func() {
		if p.showSpinner {
			close(p.stopChan)
			// Clear spinner line
			fmt.Fprintf(p.writer, "\r%s\r", strings.Repeat(" ", 80))
		}
	})
}

// spinnerLoop runs the spinner animation
func (p *Indicator) spinnerLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.renderProgress()
			p.spinnerIdx = (p.spinnerIdx + 1) % len(spinnerFrames)
			p.mu.Unlock()
		}
	}
}

type counts struct {
	total, done, completed, failed, running int
}

func (p *Indicator) countLocked() counts {
	c := counts{total: len(p.tasks)}
	for _, st := range p.tasks {
		switch st {
		case domain.StatusCompleted:
			c.completed++
			c.done++
		case domain.StatusSkipped:
			c.done++
		case domain.StatusFailed:
			c.failed++
		case domain.StatusInProgress:
			c.running++
		}
	}
	return c
}

// renderProgress renders the current progress state
func (p *Indicator) renderProgress() {
	c := p.countLocked()
	if c.total == 0 {
		return
	}

	progress := float64(c.done) / float64(c.total)
	elapsed := p.now().Sub(p.startTime)

	// ETA only counts work finished during this run
	var eta string
	if doneThisRun := c.done - p.resumed; doneThisRun > 0 && c.done < c.total {
		perTask := elapsed / time.Duration(doneThisRun)
		eta = fmt.Sprintf(" | ETA: %s", formatDuration(perTask*time.Duration(c.total-c.done)))
	}

	barWidth := 30
	filled := int(float64(barWidth) * progress)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(p.writer, "\r%s [%s] %.1f%% | %d/%d tasks | ▶ %d | ✓ %d | ✗ %d | %s%s",
		spinnerFrames[p.spinnerIdx],
		bar,
		progress*100,
		c.done,
		c.total,
		c.running,
		c.completed,
		c.failed,
		formatDuration(elapsed),
		eta,
	)
}

// UpdateTask records a task transition
func (p *Indicator) UpdateTask(taskID domain.TaskID, st domain.TaskStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tasks[taskID] = st
	if st == domain.StatusFailed && err != nil {
		p.failures[taskID] = err.Error()
	} else {
		delete(p.failures, taskID)
	}

	// In CI mode, print status updates immediately
	if p.isCI || !p.showSpinner {
		p.printTaskStatus(taskID, st, err)
	}
}

// printTaskStatus prints task status in CI-friendly format
func (p *Indicator) printTaskStatus(taskID domain.TaskID, st domain.TaskStatus, err error) {
	symbol := "⟲"
	switch st {
	case domain.StatusInProgress:
		symbol = "▶"
	case domain.StatusCompleted:
		symbol = "✓"
	case domain.StatusFailed:
		symbol = "✗"
	case domain.StatusSkipped:
		symbol = "⊘"
	}

	msg := fmt.Sprintf("%s %s [%s]", symbol, taskID, st)
	if err != nil {
		msg += fmt.Sprintf(" - %v", err)
	}

	fmt.Fprintln(p.writer, msg)
}

// PrintSummary prints final execution summary
func (p *Indicator) PrintSummary() {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.countLocked()
	elapsed := p.now().Sub(p.startTime)

	fmt.Fprintln(p.writer)
	fmt.Fprintln(p.writer, "═══════════════════════════════════════════════════════════")
	fmt.Fprintf(p.writer, "Run Summary: %s\n", p.planID)
	fmt.Fprintln(p.writer, "═══════════════════════════════════════════════════════════")

	fmt.Fprintf(p.writer, "Total Tasks:     %d\n", c.total)
	fmt.Fprintf(p.writer, "Done:            %d ✓\n", c.done)
	fmt.Fprintf(p.writer, "Failed:          %d ✗\n", c.failed)
	fmt.Fprintf(p.writer, "Remaining:       %d\n", c.total-c.done-c.failed)
	if c.total > 0 {
		fmt.Fprintf(p.writer, "Progress:        %.1f%%\n", float64(c.done)/float64(c.total)*100)
	}
	fmt.Fprintf(p.writer, "Total Time:      %s\n", formatDuration(elapsed))

	if doneThisRun := c.done - p.resumed; doneThisRun > 0 {
		fmt.Fprintf(p.writer, "Avg Time/Task:   %s\n", formatDuration(elapsed/time.Duration(doneThisRun)))
	}

	fmt.Fprintln(p.writer, "═══════════════════════════════════════════════════════════")

	if len(p.failures) > 0 {
		ids := make([]string, 0, len(p.failures))
		for id := range p.failures {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)

		fmt.Fprintln(p.writer)
		fmt.Fprintln(p.writer, "Failed Tasks:")
		for _, id := range ids {
			fmt.Fprintf(p.writer, "  ✗ %s - %s\n", id, p.failures[domain.TaskID(id)])
		}
	}
}

// PrintResumeInfo prints what was already done when a run picks up a
// partially completed plan. It prints nothing for a fresh plan.
func (p *Indicator) PrintResumeInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.resumed == 0 {
		return
	}

	c := p.countLocked()
	fmt.Fprintln(p.writer, "─────────────────────────────────────────────────────────")
	fmt.Fprintf(p.writer, "Resuming: %s\n", p.planID)
	fmt.Fprintln(p.writer, "─────────────────────────────────────────────────────────")
	fmt.Fprintf(p.writer, "  Done:       %d tasks ✓\n", c.done)
	fmt.Fprintf(p.writer, "  Remaining:  %d tasks ⟲\n", c.total-c.done-c.failed)
	fmt.Fprintf(p.writer, "  Failed:     %d tasks ✗\n", c.failed)
	fmt.Fprintf(p.writer, "  Progress:   %.1f%%\n", float64(c.done)/float64(c.total)*100)
	fmt.Fprintln(p.writer, "─────────────────────────────────────────────────────────")
	fmt.Fprintln(p.writer)
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

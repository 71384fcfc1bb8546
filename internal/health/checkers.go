package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

// StateDirChecker verifies the state directory exists and accepts writes.
type StateDirChecker struct {
	Dir string
}

// NewStateDirChecker creates a checker for dir.
func NewStateDirChecker(dir string) *StateDirChecker {
	return &StateDirChecker{Dir: dir}
}

func (c *StateDirChecker) Name() string { return "state-dir" }

func (c *StateDirChecker) Check(_ context.Context) *Result {
	info, err := os.Stat(c.Dir)
	if os.IsNotExist(err) {
		return Unhealthy("state directory does not exist").
			WithDetail("path", c.Dir).
			WithDetail("suggestion", "Run 'devflow init'")
	}
	if err != nil {
		return Unhealthy("state directory is not accessible").WithDetail("error", err.Error())
	}
	if !info.IsDir() {
		return Unhealthy("state path is not a directory").WithDetail("path", c.Dir)
	}

	f, err := os.CreateTemp(c.Dir, ".doctor-*")
	if err != nil {
		return Unhealthy("state directory is not writable").
			WithDetail("path", c.Dir).
			WithDetail("error", err.Error())
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return Healthy("state directory is writable").WithDetail("path", c.Dir)
}

// AgentChecker verifies the configured agent command resolves on PATH.
type AgentChecker struct {
	Command string
}

// NewAgentChecker creates a checker for command.
func NewAgentChecker(command string) *AgentChecker {
	return &AgentChecker{Command: command}
}

func (c *AgentChecker) Name() string { return "agent-command" }

func (c *AgentChecker) Check(_ context.Context) *Result {
	if c.Command == "" {
		return Unhealthy("no agent command configured").
			WithDetail("suggestion", "Set agent.command in devflow.yaml")
	}
	path, err := exec.LookPath(c.Command)
	if err != nil {
		return Unhealthy("agent command not found in PATH").
			WithDetail("command", c.Command).
			WithDetail("error", err.Error())
	}
	return Healthy("agent command found").WithDetail("path", path)
}

// PlanStore is the part of the status store the plan checks read.
type PlanStore interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, planID string) (*status.PlanStatus, error)
}

// StoreChecker verifies every stored plan can be read and that its
// dependency graph still builds.
type StoreChecker struct {
	Store PlanStore
}

// NewStoreChecker creates a checker over store.
func NewStoreChecker(store PlanStore) *StoreChecker {
	return &StoreChecker{Store: store}
}

func (c *StoreChecker) Name() string { return "status-store" }

func (c *StoreChecker) Check(ctx context.Context) *Result {
	ids, err := c.Store.List(ctx)
	if err != nil {
		return Unhealthy("status backend is not readable").WithDetail("error", err.Error())
	}
	if len(ids) == 0 {
		return Healthy("no plans initialized").WithDetail("plans", 0)
	}

	var broken []string
	running := 0
	for _, id := range ids {
		ps, err := c.Store.Load(ctx, id)
		if err != nil {
			broken = append(broken, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if _, err := ps.Graph(); err != nil {
			broken = append(broken, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		running += len(ps.TasksByStatus(domain.StatusInProgress))
	}

	if len(broken) == len(ids) {
		return Unhealthy("no stored plan is usable").WithDetail("problems", broken)
	}
	if len(broken) > 0 {
		return Degraded(fmt.Sprintf("%d of %d plans have problems", len(broken), len(ids))).
			WithDetail("problems", broken)
	}
	return Healthy(fmt.Sprintf("%d plans readable", len(ids))).
		WithDetail("plans", len(ids)).
		WithDetail("in_progress", running)
}

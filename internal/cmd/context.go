package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/config"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/constraints"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/log"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/metrics"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/plan"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/ux"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/version"
)

// CommandContext holds the persistent flags every command reads. Commands
// build one in RunE instead of sharing package state.
type CommandContext struct {
	ConfigFile string
	StateDir   string
	PlansDir   string
	Backend    string
	Format     string
	LogLevel   string
	Quiet      bool
}

// NewCommandContext extracts command context from cobra.Command flags.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	flags := cmd.Flags()
	c := &CommandContext{}
	var err error

	if c.ConfigFile, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	if c.StateDir, err = flags.GetString("state-dir"); err != nil {
		return nil, err
	}
	if c.PlansDir, err = flags.GetString("plans-dir"); err != nil {
		return nil, err
	}
	if c.Backend, err = flags.GetString("backend"); err != nil {
		return nil, err
	}
	if c.Format, err = flags.GetString("format"); err != nil {
		return nil, err
	}
	if c.LogLevel, err = flags.GetString("log-level"); err != nil {
		return nil, err
	}
	if c.Quiet, err = flags.GetBool("quiet"); err != nil {
		return nil, err
	}
	return c, nil
}

// env is everything a command needs once flags and config are resolved.
type env struct {
	flags  *CommandContext
	cfg    config.Config
	paths  *ux.PathDefaults
	logger *log.Logger
	out    ux.Formatter
}

// setup resolves flags, configuration, logging and the output formatter.
// Flags override the config file, which overrides the defaults.
func setup(cmd *cobra.Command) (*env, error) {
	flags, err := NewCommandContext(cmd)
	if err != nil {
		return nil, err
	}

	stateDir := flags.StateDir
	if stateDir == "" {
		if stateDir, err = ux.DiscoverStateDir(); err != nil {
			return nil, err
		}
	}

	configFile := flags.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(stateDir, config.FileName)
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	// An explicit flag wins; otherwise a state_dir left at its default
	// follows discovery.
	if flags.StateDir != "" || cfg.StateDir == config.DefaultConfig().StateDir {
		cfg.StateDir = stateDir
	}
	if flags.PlansDir != "" {
		cfg.PlansDir = flags.PlansDir
	}
	if flags.Backend != "" {
		cfg.Backend = flags.Backend
	}
	if flags.LogLevel != "" {
		level, err := log.ParseLevel(flags.LogLevel)
		if err != nil {
			return nil, err
		}
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lc := cfg.Log
	lc.Output = cmd.ErrOrStderr()
	lc.ServiceName = "devflow"
	lc.ServiceVersion = version.GetInfo().Short()
	logger := log.New(lc)
	log.SetDefaultLogger(logger)

	out, err := ux.NewFormatter(flags.Format, &ux.FormatterOptions{Writer: cmd.OutOrStdout()})
	if err != nil {
		return nil, err
	}

	return &env{
		flags:  flags,
		cfg:    cfg,
		paths:  &ux.PathDefaults{StateDir: cfg.StateDir},
		logger: logger,
		out:    out,
	}, nil
}

// openStore opens the configured status backend. Plans without a stored
// status are initialized from their description in the plans directory.
// The returned close function releases the backend.
func (e *env) openStore(mt *metrics.Metrics) (*status.Manager, func() error, error) {
	var backend status.Backend
	switch e.cfg.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(e.cfg.StateDir, 0o755); err != nil {
			return nil, nil, err
		}
		b, err := status.NewSQLiteBackend(e.paths.DatabaseFile())
		if err != nil {
			return nil, nil, err
		}
		backend = b
	default:
		backend = status.NewFileBackend(e.paths.StatusDir())
	}

	store := status.NewManager(backend,
		status.WithSource(plan.DirSource{Dir: e.cfg.ResolvedPlansDir()}),
		status.WithLogger(e.logger),
		status.WithMetrics(mt),
	)
	return store, backend.Close, nil
}

// constraintsFor returns the scheduling overrides of a plan: the
// <plan>.constraints.yaml file next to its description when present,
// otherwise whatever the description itself declares.
func (e *env) constraintsFor(planID string) (*constraints.Constraints, error) {
	path := filepath.Join(e.cfg.ResolvedPlansDir(), planID+".constraints.yaml")
	if _, err := os.Stat(path); err == nil {
		return constraints.Load(path)
	}

	src := plan.DirSource{Dir: e.cfg.ResolvedPlansDir()}
	if _, err := src.Path(planID); err != nil {
		return nil, nil
	}
	p, err := src.Load(planID)
	if err != nil {
		return nil, err
	}
	return p.Constraints, nil
}

// withStore opens the store, runs fn and closes the store again.
func (e *env) withStore(fn func(store *status.Manager) error) error {
	store, closeFn, err := e.openStore(nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			e.logger.WithError(cerr).Warn("failed to close status backend")
		}
	}()
	return fn(store)
}

package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"batchflow/internal/batchconfig"
	"batchflow/internal/batchpath"
	"batchflow/internal/config"
	"batchflow/internal/history"
	"batchflow/internal/logging"
	"batchflow/internal/notifications"
	"batchflow/internal/registry"
	"batchflow/internal/stepexec"
	"batchflow/internal/steps"
	"batchflow/internal/workflow"
)

type commandContext struct {
	configFlag  *string
	jsonFlag    *bool
	verboseFlag *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
}

func newCommandContext(configFlag *string, jsonFlag, verboseFlag *bool) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		jsonFlag:    jsonFlag,
		verboseFlag: verboseFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func logFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, logging.FileName)
}

// loggerValue returns the process logger. Logs always go to the log file;
// --verbose mirrors them to stderr.
func (c *commandContext) loggerValue() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		verbose := c.verboseFlag != nil && *c.verboseFlag
		logger, err := logging.NewFromConfig(cfg, verbose)
		if err != nil {
			c.logger = logging.NewNop()
			return
		}
		c.logger = logger
	})
	return c.logger
}

func (c *commandContext) openRegistry() (*registry.Registry, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return registry.Open(registry.Options{
		Path:        cfg.Paths.RegistryFile,
		LockTimeout: cfg.LockTimeout(),
		LockRetry:   cfg.LockRetry(),
		Logger:      c.loggerValue(),
	})
}

func (c *commandContext) withRegistry(fn func(*registry.Registry) error) error {
	reg, err := c.openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()
	return fn(reg)
}

// withHistory opens the run journal. A journal that cannot be opened is
// logged and replaced by nil so batch operations still work.
func (c *commandContext) withHistory(fn func(*history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.Paths.HistoryDB)
	if err != nil {
		logging.WarnWithContext(c.loggerValue(), "run history unavailable", "history_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.history_db"),
			logging.String(logging.FieldImpact, "runs are not journaled for this command"),
		)
		return fn(nil)
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) configManager() (*batchconfig.Manager, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return batchconfig.NewManager(cfg.Pipeline, batchpath.New()), nil
}

func (c *commandContext) withManager(fn func(*workflow.Manager) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	reg, err := c.openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()
	clients, err := steps.NewClients(cfg)
	if err != nil {
		return err
	}
	configs, err := c.configManager()
	if err != nil {
		return err
	}
	executor := stepexec.New(stepexec.Options{
		Steps:   steps.Default(clients),
		Configs: configs,
		Logger:  c.loggerValue(),
		Timeout: cfg.StepTimeout(),
	})
	return c.withHistory(func(store *history.Store) error {
		return fn(workflow.NewManager(workflow.Options{
			Registry: reg,
			Executor: executor,
			History:  store,
			Config:   cfg,
			Notifier: notifications.NewService(cfg),
			Logger:   c.loggerValue(),
		}))
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

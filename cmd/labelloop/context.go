package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"labelloop/internal/config"
	"labelloop/internal/history"
	"labelloop/internal/logging"
	"labelloop/internal/pipeline"
	"labelloop/internal/services/labelstudio"
	"labelloop/internal/services/yolo"
	"labelloop/internal/stage"
)

// yoloExecutor replaces the yolo process runner. Tests override it.
var yoloExecutor yolo.Executor

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	logger *slog.Logger
	store  *history.Store
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) loggerValue() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	logger, err := logging.NewFromConfig(c.configValue())
	if err != nil {
		logger = logging.NewNop()
	}
	c.logger = logger
	return logger
}

func (c *commandContext) labelStudio() *labelstudio.Client {
	return pipeline.NewLabelStudioClient(c.configValue())
}

func (c *commandContext) detector() (*yolo.Client, error) {
	var opts []yolo.Option
	if yoloExecutor != nil {
		opts = append(opts, yolo.WithExecutor(yoloExecutor))
	}
	return pipeline.NewYOLOClient(c.configValue(), opts...)
}

func (c *commandContext) historyStore() (*history.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	store, err := history.Open(c.configValue())
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	c.store = store
	return store, nil
}

func (c *commandContext) close() {
	if c.store != nil {
		_ = c.store.Close()
		c.store = nil
	}
}

// runStages executes stages through the pipeline runner with history
// recording. History problems never block the stages themselves.
func (c *commandContext) runStages(ctx context.Context, stages []string, opts pipeline.Options, state *stage.State) (*stage.State, error) {
	cfg := c.configValue()
	logger := c.loggerValue()
	store, err := c.historyStore()
	if err != nil {
		logging.WarnWithContext(logger, "run history unavailable", "history_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run is not recorded"),
		)
		store = nil
	}
	detector, err := c.detector()
	if err != nil {
		return state, err
	}
	runner := pipeline.NewDefaultRunner(cfg, logger, store, c.labelStudio(), detector, opts)
	return runner.Run(ctx, stages, state)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

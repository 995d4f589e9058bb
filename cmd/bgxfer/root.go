package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Witriol/bgxfer/internal/client"
	"github.com/Witriol/bgxfer/internal/config"
	"github.com/Witriol/bgxfer/internal/driver"
	"github.com/Witriol/bgxfer/internal/driver/aria2"
	"github.com/Witriol/bgxfer/internal/driver/memdriver"
	"github.com/Witriol/bgxfer/internal/logging"
)

type commandContext struct {
	configFlag  string
	driverFlag  string
	jobNameFlag string
	prefixFlag  string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger *logging.Logger
	// factory overrides driver selection; tests inject a memdriver here.
	factory driver.Factory
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&commandContext{})
}

func newRootCommandWith(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bgxfer",
		Short:         "Start and monitor background transfer jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.logger != nil {
				return ctx.logger.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&ctx.driverFlag, "driver", "", "Driver to use: aria2 or memory")
	flags.StringVar(&ctx.jobNameFlag, "job-name", "", "Job name scoping every request")
	flags.StringVar(&ctx.prefixFlag, "prefix", "", "Directory save paths are resolved under")

	rootCmd.AddCommand(
		newStartCommand(ctx),
		newMonitorCommand(ctx),
		newStatusCommand(ctx),
		newSuspendCommand(ctx),
		newResumeCommand(ctx),
		newPriorityCommand(ctx),
		newCompleteCommand(ctx),
		newCancelCommand(ctx),
		newVersionCommand(),
	)
	return rootCmd
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if c.driverFlag != "" {
			cfg.Driver.Kind = c.driverFlag
		}
		if c.jobNameFlag != "" {
			cfg.Client.JobName = c.jobNameFlag
		}
		if c.prefixFlag != "" {
			cfg.Client.SavePathPrefix = c.prefixFlag
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		c.config = cfg
		c.logger = logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Path:   cfg.Logging.Path,
		})
	})
	return c.config, c.configErr
}

// openClient connects a Client to the configured driver.
func (c *commandContext) openClient(ctx context.Context) (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	prefix, err := cfg.Client.AbsSavePathPrefix()
	if err != nil {
		return nil, fmt.Errorf("resolve save path prefix: %w", err)
	}
	factory := c.factory
	if factory == nil {
		factory = c.driverFactory(cfg)
	}
	return client.New(ctx, cfg.Client.JobName, prefix,
		client.WithDriver(factory),
		client.WithLogger(c.logger.Logger),
	)
}

func (c *commandContext) driverFactory(cfg *config.Config) driver.Factory {
	if cfg.Driver.Kind == config.DriverMemory {
		return memdriver.New(memdriver.Options{}).Factory()
	}
	return aria2.Factory(aria2.Options{
		RPC:            cfg.Driver.Aria2RPC,
		Secret:         cfg.Driver.Aria2Secret,
		StateDir:       cfg.Driver.StateDir,
		RequestTimeout: cfg.Driver.RequestTimeout,
		Logger:         c.logger.Logger,
	})
}

package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"tellbot/internal/config"
)

const defaultConfigPath = "./config.json"

type commandContext struct {
	configFlag *string
	envFlag    *string

	once sync.Once
	cfgm *config.ConfigManager
	cfg  *config.Config
	err  error
}

// ensureConfig loads the .env file and the config once per invocation.
func (c *commandContext) ensureConfig() (*config.ConfigManager, *config.Config, error) {
	c.once.Do(func() {
		if err := config.LoadDotEnv(strings.TrimSpace(*c.envFlag)); err != nil {
			c.err = err
			return
		}
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = defaultConfigPath
		}
		c.cfgm = config.NewConfigManager(path)
		c.cfg, c.err = c.cfgm.Load()
	})
	return c.cfgm, c.cfg, c.err
}

func newRootCommand() *cobra.Command {
	var configFlag, envFlag string
	ctx := &commandContext{configFlag: &configFlag, envFlag: &envFlag}

	root := &cobra.Command{
		Use:           "tellbot",
		Short:         "Store-and-forward message relay bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", defaultConfigPath, "Configuration file (.json, .yaml or .toml)")
	root.PersistentFlags().StringVar(&envFlag, "env-file", ".env", "Environment file loaded before the config; missing files are ignored")

	root.AddCommand(newRunCommand(ctx))
	root.AddCommand(newMigrateCommand(ctx))
	root.AddCommand(newPendingCommand(ctx))
	root.AddCommand(newVersionCommand())
	return root
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/lumenhq/lumen/internal/config"
	"github.com/lumenhq/lumen/internal/logging"
)

// cli holds the state shared by all commands of one invocation.
type cli struct {
	configPath string
	userID     string
	verbose    bool
	debug      bool

	cfg config.Config
	log logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "lumen",
		Short: "Encrypted vault for coaching conversations",
		Long: `Lumen stores coaching conversations encrypted under a key derived from
your passphrase and assembles what the coach should remember before each
session. It runs as an MCP server over stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.log = logging.Logger{
				Verbose: c.verbose,
				Debug:   c.debug,
				Out:     cmd.ErrOrStderr(),
			}
			path := c.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			cfg.Log.Verbose = cfg.Log.Verbose || c.verbose
			cfg.Log.Debug = cfg.Log.Debug || c.debug
			c.log.Verbose, c.log.Debug = cfg.Log.Verbose, cfg.Log.Debug
			c.cfg = cfg
			c.log.Debugf("loaded config from %s (data dir %s)", path, cfg.DataDir)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default $LUMEN_HOME/config.toml)")
	root.PersistentFlags().StringVarP(&c.userID, "user", "u", "", "user whose vault to open (default from config)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().BoolVarP(&c.debug, "debug", "d", false, "enable debug output")

	root.AddCommand(
		newServeCmd(c),
		newSetupCmd(c),
		newContextCmd(c),
		newHistoryCmd(c),
		newVersionCmd(),
	)
	return root
}

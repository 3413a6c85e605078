package cli

import (
	"github.com/spf13/cobra"

	"github.com/go-i2p/samv3/lib/config"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(a.configInitCmd(), a.configShowCmd())
	return cmd
}

// config init [path]: write the defaults as YAML.
func (a *app) configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigFile()
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteFile(path, config.Defaults(), force); err != nil {
				return err
			}
			printNote(cmd.OutOrStdout(), "wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// config show: print the effective bridge settings.
func (a *app) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(a.v)
			if err != nil {
				return err
			}
			file := a.v.ConfigFileUsed()
			if file == "" {
				file = "none"
			}
			printFields(cmd.OutOrStdout(),
				field{"file", file},
				field{"tcp", cfg.TCPAddr()},
				field{"udp", cfg.UDPAddr()},
				field{"listen", cfg.ListenAddr()},
				field{"session", cfg.Session.ID},
				field{"encoding", cfg.Datagram.Encoding},
				field{"timeout", cfg.TimeoutDuration().String()},
			)
			return nil
		},
	}
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
	"github.com/go-i2p/samv3/lib/session"
)

// generate: ask the bridge for a fresh destination.
func (a *app) generateCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new destination",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd.Context())
			if err != nil {
				return err
			}
			local, err := session.CreateLocalDestination(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if out != "" {
				if err := identity.SaveKeyFile(out, local.Destination); err != nil {
					return err
				}
			}
			printFields(cmd.OutOrStdout(),
				field{"address", local.Address},
				field{"public", local.Public},
				field{"private", local.Private},
			)
			if out != "" {
				printNote(cmd.OutOrStdout(), "saved to %s", out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the keypair to this file")
	return cmd
}

// lookup <name>: resolve an .i2p name.
func (a *app) lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <name>",
		Short: "Resolve an .i2p name to a destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(cmd.Context())
			if err != nil {
				return err
			}
			public, err := session.LookupName(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			addr, err := identity.ToB32(public)
			if err != nil {
				return err
			}
			printFields(cmd.OutOrStdout(),
				field{"name", args[0]},
				field{"address", addr + protocol.B32Suffix},
				field{"public", public},
			)
			return nil
		},
	}
}

// b32 <public>: derive the b32 address offline.
func (a *app) b32Cmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "b32 [public key]",
		Short: "Print the .b32.i2p address of a public key or of --key-file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var public string
			switch {
			case len(args) == 1:
				public = args[0]
			case a.keyFile != "":
				d, err := identity.LoadKeyFile(a.keyFile)
				if err != nil {
					return err
				}
				public = d.Public
			default:
				return protocol.NewConfigurationError("B32", nil, "need a public key argument or --key-file")
			}
			if check {
				if _, err := (identity.Destination{Public: public}).Inspect(); err != nil {
					return protocol.NewConfigurationError("B32", err, "public key does not parse as a destination")
				}
			}
			addr, err := identity.ToB32(public)
			if err != nil {
				return err
			}
			printFields(cmd.OutOrStdout(), field{"address", addr + protocol.B32Suffix})
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "reject keys that do not parse as a destination")
	return cmd
}

// Package cli implements the samv3 command line tool.
package cli

import (
	"context"

	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/session"
	"github.com/go-i2p/samv3/lib/util"
	"github.com/go-i2p/samv3/lib/util/signals"
)

var log = logger.GetGoI2PLogger()

// app carries the state shared by all subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	keyFile string
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context; every conduit registered with util.RegisterCloser is closed on
// return.
func Execute() error {
	go signals.Handle()
	ctx, stop := signals.WithInterrupt(context.Background())
	defer stop()
	defer util.CloseAll()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		log.WithError(err).Debug("command_failed")
	}
	return err
}

// NewRootCmd builds the command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	d := config.Defaults()

	root := &cobra.Command{
		Use:          "samv3",
		Short:        "Client for the I2P SAM v3 bridge",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Prepare(a.v, a.cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default $HOME/.samv3/config.yaml)")
	flags.StringVar(&a.keyFile, "key-file", "", "persistent destination, created on first use")
	flags.String("sam.host", d.SAM.Host, "SAM bridge host")
	flags.Int("sam.port_tcp", d.SAM.PortTCP, "SAM bridge control port")
	flags.Int("sam.port_udp", d.SAM.PortUDP, "SAM bridge datagram port")
	flags.Int("sam.timeout", d.SAM.Timeout, "construction timeout in seconds")
	flags.String("session.id", "", "session id (default: generated)")
	for _, key := range []string{"sam.host", "sam.port_tcp", "sam.port_udp", "sam.timeout", "session.id"} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		a.generateCmd(),
		a.lookupCmd(),
		a.b32Cmd(),
		a.streamCmd(),
		a.datagramCmd("datagram"),
		a.datagramCmd("raw"),
		a.configCmd(),
	)
	return root
}

// config returns the effective configuration. With --key-file the keypair
// is loaded from, or generated into, that file.
func (a *app) config(ctx context.Context) (config.SAMConfig, error) {
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return config.SAMConfig{}, err
	}
	if a.keyFile == "" {
		return cfg, nil
	}
	d, err := identity.LoadOrCreateKeyFile(a.keyFile, func() (identity.Destination, error) {
		local, err := session.CreateLocalDestination(ctx, cfg)
		return local.Destination, err
	})
	if err != nil {
		return config.SAMConfig{}, err
	}
	cfg.SAM.PublicKey, cfg.SAM.PrivateKey = d.Public, d.Private
	return cfg, nil
}

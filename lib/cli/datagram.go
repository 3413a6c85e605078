package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/datagram"
	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
	"github.com/go-i2p/samv3/lib/util"
)

// datagramCmd builds the "datagram" or "raw" command group.
func (a *app) datagramCmd(name string) *cobra.Command {
	style := protocol.StyleDatagram
	short := "Repliable datagrams over a DATAGRAM session"
	if name == "raw" {
		style = protocol.StyleRaw
		short = "Anonymous datagrams over a RAW session"
	}
	var encoding string
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
	}
	cmd.PersistentFlags().StringVar(&encoding, "encoding", config.EncodingBinary, "payload encoding on the wire: binary or base64")
	cmd.AddCommand(a.datagramSendCmd(style, &encoding), a.datagramListenCmd(style, &encoding))
	return cmd
}

func (a *app) datagramSendCmd(style protocol.Style, encoding *string) *cobra.Command {
	var linger time.Duration
	cmd := &cobra.Command{
		Use:   "send <destination> <message>",
		Short: "Send one message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := a.config(ctx)
			if err != nil {
				return err
			}
			cfg.Datagram.Encoding = *encoding
			cfg.Listen.Port = 0
			c, err := datagram.New(ctx, cfg, style)
			if err != nil {
				return err
			}
			util.RegisterCloser(c)
			defer c.Close()

			if err := c.Send(ctx, args[0], []byte(args[1])); err != nil {
				return err
			}
			printNote(cmd.OutOrStdout(), "sent %d bytes to %s", len(args[1]), args[0])

			// The bridge drops packets of a session that is already gone.
			t := time.NewTimer(linger)
			defer t.Stop()
			select {
			case <-t.C:
			case <-c.Done():
			case <-ctx.Done():
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&linger, "linger", time.Second, "keep the session open this long after sending")
	return cmd
}

func (a *app) datagramListenCmd(style protocol.Style, encoding *string) *cobra.Command {
	var (
		address string
		port    int
		count   int
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print incoming messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := a.config(ctx)
			if err != nil {
				return err
			}
			cfg.Datagram.Encoding = *encoding
			cfg.Listen = config.ListenConfig{Address: address, Port: port}
			c, err := datagram.New(ctx, cfg, style)
			if err != nil {
				return err
			}
			util.RegisterCloser(c)
			defer c.Close()

			addr, err := c.Destination().B32Address()
			if err != nil {
				return err
			}
			printFields(cmd.OutOrStdout(),
				field{"address", addr},
				field{"listen", c.ListenAddr().String()},
			)
			return listen(ctx, cmd, c, count)
		},
	}
	cmd.Flags().StringVar(&address, "address", config.DefaultListenAddress, "local address the bridge forwards messages to")
	cmd.Flags().IntVar(&port, "port", 0, "local UDP port the bridge forwards messages to")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many messages (0: no limit)")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func listen(ctx context.Context, cmd *cobra.Command, c *datagram.Conduit, count int) error {
	errs := c.Errors()
	for received := 0; count == 0 || received < count; {
		select {
		case d, ok := <-c.Incoming():
			if !ok {
				return nil
			}
			received++
			from := "anonymous"
			if d.From != "" {
				from = identity.Addr(d.From).Base32()
			}
			printFields(cmd.OutOrStdout(),
				field{"from", from},
				field{"payload", strings.TrimRight(string(d.Payload), "\n")},
			)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.WithError(err).Warn("datagram_receive_error")
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

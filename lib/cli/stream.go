package cli

import (
	"io"
	"net"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"

	"github.com/go-i2p/samv3/lib/protocol"
	"github.com/go-i2p/samv3/lib/stream"
	"github.com/go-i2p/samv3/lib/util"
)

func (a *app) streamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Reliable streams over a STREAM session",
	}
	cmd.AddCommand(a.streamConnectCmd(), a.streamForwardCmd())
	return cmd
}

// stream connect <dest>: pipe stdin and stdout through one stream.
func (a *app) streamConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <destination>",
		Short: "Open a stream and pipe it to stdin/stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := a.config(ctx)
			if err != nil {
				return err
			}
			c, err := stream.NewConnect(ctx, cfg, args[0])
			if err != nil {
				return err
			}
			util.RegisterCloser(c)

			go func() {
				select {
				case <-ctx.Done():
					c.Close()
				case <-c.Done():
				}
			}()
			go io.Copy(c, cmd.InOrStdin())
			_, err = io.Copy(cmd.OutOrStdout(), c)
			c.Close()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

// stream forward <target>: accept streams and proxy each to a local service.
func (a *app) streamForwardCmd() *cobra.Command {
	var (
		host   string
		port   int
		silent bool
	)
	cmd := &cobra.Command{
		Use:   "forward <target host:port>",
		Short: "Publish a local TCP service on a new destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := args[0]
			if _, _, err := net.SplitHostPort(target); err != nil {
				return protocol.NewConfigurationError("FORWARD", err, "invalid target %q", target)
			}
			cfg, err := a.config(ctx)
			if err != nil {
				return err
			}
			c, err := stream.NewForward(ctx, cfg, host, port, silent)
			if err != nil {
				return err
			}
			util.RegisterCloser(c)

			addr, err := c.Destination().B32Address()
			if err != nil {
				return err
			}
			printFields(cmd.OutOrStdout(),
				field{"address", addr},
				field{"listen", c.ForwardAddr().String()},
				field{"target", target},
			)

			go func() {
				select {
				case <-ctx.Done():
					c.Close()
				case <-c.Done():
				}
			}()

			var wg sync.WaitGroup
			defer wg.Wait()
			for {
				in, err := c.AcceptForwarded()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					proxy(in, target)
				}()
			}
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "address the bridge forwards incoming streams to")
	cmd.Flags().IntVar(&port, "port", 0, "port the bridge forwards incoming streams to")
	cmd.Flags().BoolVar(&silent, "silent", false, "do not prefix forwarded streams with the peer destination")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func proxy(in *stream.ForwardedConn, target string) {
	defer in.Close()
	out, err := net.Dial("tcp", target)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"at":     "cli.proxy",
			"target": target,
		}).Warn("forward_target_unreachable")
		return
	}
	defer out.Close()

	log.WithFields(logger.Fields{
		"at":     "cli.proxy",
		"origin": in.Origin.Base32(),
		"target": target,
	}).Debug("proxying_stream")

	done := make(chan struct{})
	go func() {
		io.Copy(out, in)
		if tcp, ok := out.(*net.TCPConn); ok {
			tcp.CloseWrite()
		}
		close(done)
	}()
	io.Copy(in, out)
	in.Close()
	<-done
}

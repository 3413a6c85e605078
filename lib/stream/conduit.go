// Package stream provides reliable byte streams over a SAM STREAM session.
//
// A Conduit owns a session engine and a second control connection, the data
// socket. In connect mode the data socket carries one outgoing stream and
// the Conduit is a net.Conn. In forward mode the bridge delivers every
// incoming stream as a TCP connection to a local listener owned by the
// Conduit, and the Conduit is a net.Listener.
package stream

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/control"
	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
	"github.com/go-i2p/samv3/lib/session"
)

var log = logger.GetGoI2PLogger()

// Mode selects what the data socket is used for.
type Mode int

const (
	// ModeConnect opens one stream to stream.destination.
	ModeConnect Mode = iota
	// ModeForward forwards incoming streams to forward.host:forward.port.
	ModeForward
)

func (m Mode) String() string {
	if m == ModeForward {
		return "forward"
	}
	return "connect"
}

// Conduit is a STREAM session plus its data socket.
type Conduit struct {
	cfg    config.SAMConfig
	mode   Mode
	engine *session.Engine
	data   *control.Channel

	// connect mode
	conn   net.Conn
	reader *bufio.Reader
	remote identity.Addr

	// forward mode
	listener net.Listener

	closed    chan struct{}
	closeOnce sync.Once
}

// ModeOf reports which mode cfg selects. Exactly one of stream.destination
// and forward.host with forward.port must be set.
func ModeOf(cfg config.SAMConfig) (Mode, error) {
	connect := cfg.Stream.Destination != ""
	forward := cfg.Forward.Host != "" && cfg.Forward.Port > 0
	switch {
	case connect && forward:
		return 0, protocol.NewConfigurationError("STREAM", nil, "stream.destination and forward target are mutually exclusive")
	case connect:
		return ModeConnect, nil
	case forward:
		return ModeForward, nil
	}
	return 0, protocol.NewConfigurationError("STREAM", nil, "stream configuration invalid: need stream.destination or forward.host and forward.port")
}

// New builds a Conduit. The whole construction runs under sam.timeout; on
// any failure every socket opened so far is closed.
func New(ctx context.Context, cfg config.SAMConfig) (*Conduit, error) {
	cfg = cfg.Normalize()
	mode, err := ModeOf(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := session.New(cfg)
	if err != nil {
		return nil, err
	}

	c := &Conduit{
		cfg:    cfg,
		mode:   mode,
		engine: engine,
		closed: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()
	if err := c.build(ctx); err != nil {
		c.Close()
		if ctx.Err() != nil {
			err = protocol.FromContext("STREAM", ctx.Err())
		}
		log.WithError(err).WithFields(logger.Fields{
			"at":      "stream.New",
			"session": cfg.Session.ID,
			"mode":    mode.String(),
		}).Warn("stream_construction_failed")
		return nil, err
	}

	go c.watch()
	log.WithFields(logger.Fields{
		"at":      "stream.New",
		"session": cfg.Session.ID,
		"mode":    mode.String(),
	}).Info("stream_ready")
	return c, nil
}

// NewConnect opens a stream to destination, an .i2p name, b32 address or
// base64 destination.
func NewConnect(ctx context.Context, cfg config.SAMConfig, destination string) (*Conduit, error) {
	cfg.Stream.Destination = destination
	cfg.Forward = config.ForwardConfig{}
	return New(ctx, cfg)
}

// NewForward forwards incoming streams to host:port, which the Conduit
// listens on.
func NewForward(ctx context.Context, cfg config.SAMConfig, host string, port int, silent bool) (*Conduit, error) {
	cfg.Stream.Destination = ""
	cfg.Forward = config.ForwardConfig{Host: host, Port: port, Silent: silent}
	return New(ctx, cfg)
}

func (c *Conduit) build(ctx context.Context) error {
	if err := c.engine.Open(ctx); err != nil {
		return err
	}
	if err := c.engine.InitSession(ctx, protocol.StyleStream); err != nil {
		return err
	}

	if c.mode == ModeForward {
		ln, err := net.Listen("tcp", c.cfg.ForwardAddr())
		if err != nil {
			return protocol.NewConnectionError("FORWARD", oops.Wrapf(err, "listen %s", c.cfg.ForwardAddr()))
		}
		c.listener = ln
	}

	data, err := control.Dial(ctx, c.cfg.TCPAddr())
	if err != nil {
		return err
	}
	c.data = data
	if err := data.Hello(ctx, c.cfg.SAM.VersionMin, c.cfg.SAM.VersionMax); err != nil {
		return err
	}

	id := c.engine.SessionID()
	if c.mode == ModeForward {
		return data.StreamForward(ctx, id, c.cfg.Forward.Host, c.cfg.Forward.Port, c.cfg.Forward.Silent)
	}

	dest := c.cfg.Stream.Destination
	if protocol.IsResolvableName(dest) {
		resolved, err := c.engine.Lookup(ctx, dest)
		if err != nil {
			return err
		}
		dest = resolved
	}
	if err := data.StreamConnect(ctx, id, dest, false); err != nil {
		return err
	}
	conn, reader, err := data.Detach()
	if err != nil {
		return err
	}
	c.conn, c.reader, c.remote = conn, reader, identity.Addr(dest)
	return nil
}

// watch closes the Conduit when the session or the forwarding socket ends.
func (c *Conduit) watch() {
	var forwardDone <-chan struct{}
	if c.mode == ModeForward {
		forwardDone = c.data.Done()
	}
	select {
	case <-c.closed:
		return
	case <-c.engine.Done():
	case <-forwardDone:
	}
	log.WithFields(logger.Fields{
		"at":      "stream.Conduit.watch",
		"session": c.cfg.Session.ID,
	}).Warn("stream_session_lost")
	c.Close()
}

// Mode returns the mode selected at construction.
func (c *Conduit) Mode() Mode {
	return c.mode
}

// Engine returns the underlying session engine.
func (c *Conduit) Engine() *session.Engine {
	return c.engine
}

// Destination returns the local keypair.
func (c *Conduit) Destination() identity.Destination {
	return c.engine.Destination()
}

// Done is closed when the Conduit is closed.
func (c *Conduit) Done() <-chan struct{} {
	return c.closed
}

// Read reads stream payload. Connect mode only.
func (c *Conduit) Read(b []byte) (int, error) {
	if c.reader == nil {
		return 0, errNotConnect("READ")
	}
	return c.reader.Read(b)
}

// Write writes stream payload. Connect mode only.
func (c *Conduit) Write(b []byte) (int, error) {
	if c.conn == nil {
		return 0, errNotConnect("WRITE")
	}
	return c.conn.Write(b)
}

// LocalAddr returns the local destination.
func (c *Conduit) LocalAddr() net.Addr {
	return c.engine.Destination().Addr()
}

// RemoteAddr returns the peer destination in connect mode.
func (c *Conduit) RemoteAddr() net.Addr {
	return c.remote
}

// SetDeadline implements net.Conn.
func (c *Conduit) SetDeadline(t time.Time) error {
	if c.conn == nil {
		return errNotConnect("DEADLINE")
	}
	return c.conn.SetDeadline(t)
}

// SetReadDeadline implements net.Conn.
func (c *Conduit) SetReadDeadline(t time.Time) error {
	if c.conn == nil {
		return errNotConnect("DEADLINE")
	}
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline implements net.Conn.
func (c *Conduit) SetWriteDeadline(t time.Time) error {
	if c.conn == nil {
		return errNotConnect("DEADLINE")
	}
	return c.conn.SetWriteDeadline(t)
}

// Addr implements net.Listener and returns the local destination.
func (c *Conduit) Addr() net.Addr {
	return c.LocalAddr()
}

// ForwardAddr returns the TCP address of the forward listener, nil in
// connect mode.
func (c *Conduit) ForwardAddr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Close destroys the data socket and listener, then the session.
func (c *Conduit) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.conn != nil {
			err = c.conn.Close()
		}
		if c.listener != nil {
			c.listener.Close()
		}
		if c.data != nil {
			c.data.Close()
		}
		if cerr := c.engine.Close(); err == nil {
			err = cerr
		}
		log.WithFields(logger.Fields{
			"at":      "stream.Conduit.Close",
			"session": c.cfg.Session.ID,
		}).Debug("stream_closed")
	})
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func errNotConnect(op string) error {
	return protocol.NewConfigurationError(op, nil, "conduit is not in connect mode")
}

// Package datagram provides RAW and DATAGRAM sessions over the SAM UDP port.
//
// Outgoing messages leave through an unconnected UDP socket towards
// sam.host:sam.port_udp, framed as "3.0 <session id> <destination>\n<body>".
// Incoming messages are forwarded by the bridge to listen.host_forward:
// listen.port_forward and read from a socket bound on listen.address:
// listen.port. A listen port of 0 disables receiving.
//
// A Conduit also implements net.PacketConn with destinations as addresses.
package datagram

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
	"github.com/go-i2p/samv3/lib/session"
)

var log = logger.GetGoI2PLogger()

const (
	// maxPacket is the largest packet the receive socket reads.
	maxPacket = 64 * 1024

	incomingBuffer = 64
	errorBuffer    = 16
)

// Conduit is a RAW or DATAGRAM session.
type Conduit struct {
	cfg    config.SAMConfig
	style  protocol.Style
	engine *session.Engine

	send    *net.UDPConn
	router  *net.UDPAddr
	listen  *net.UDPConn
	limiter *rate.Limiter

	incoming chan Datagram
	errs     chan error

	deadlineMu    sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRaw builds a RAW conduit: anonymous, non-repliable messages.
func NewRaw(ctx context.Context, cfg config.SAMConfig) (*Conduit, error) {
	return New(ctx, cfg, protocol.StyleRaw)
}

// NewDatagram builds a DATAGRAM conduit: repliable messages carrying the
// sender destination.
func NewDatagram(ctx context.Context, cfg config.SAMConfig) (*Conduit, error) {
	return New(ctx, cfg, protocol.StyleDatagram)
}

// New builds a conduit of the given datagram style under sam.timeout.
func New(ctx context.Context, cfg config.SAMConfig, style protocol.Style) (*Conduit, error) {
	if !style.IsDatagram() {
		return nil, protocol.NewConfigurationError("SESSION", nil, "style %q is not a datagram style", style)
	}
	engine, err := session.New(cfg)
	if err != nil {
		return nil, err
	}
	cfg = engine.Config()

	c := &Conduit{
		cfg:      cfg,
		style:    style,
		engine:   engine,
		incoming: make(chan Datagram, incomingBuffer),
		errs:     make(chan error, errorBuffer),
		closed:   make(chan struct{}),
	}
	if cfg.Datagram.SendRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.Datagram.SendRate), cfg.Datagram.SendBurst)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()
	if err := c.build(ctx); err != nil {
		c.Close()
		if ctx.Err() != nil {
			err = protocol.FromContext("SESSION", ctx.Err())
		}
		log.WithError(err).WithFields(logger.Fields{
			"at":      "datagram.New",
			"session": cfg.Session.ID,
			"style":   style,
		}).Warn("datagram_construction_failed")
		return nil, err
	}

	c.wg.Add(1)
	go c.watch()
	if c.listen != nil {
		c.wg.Add(1)
		go c.receiveLoop()
	} else {
		close(c.incoming)
		close(c.errs)
	}

	log.WithFields(logger.Fields{
		"at":        "datagram.New",
		"session":   cfg.Session.ID,
		"style":     style,
		"receiving": c.listen != nil,
	}).Info("datagram_ready")
	return c, nil
}

func (c *Conduit) build(ctx context.Context) error {
	if err := c.engine.Open(ctx); err != nil {
		return err
	}

	router, err := net.ResolveUDPAddr("udp", c.cfg.UDPAddr())
	if err != nil {
		return protocol.NewConnectionError("SEND", oops.Wrapf(err, "resolve %s", c.cfg.UDPAddr()))
	}
	c.router = router
	send, err := net.ListenUDP("udp", nil)
	if err != nil {
		return protocol.NewConnectionError("SEND", oops.Wrapf(err, "open send socket"))
	}
	c.send = send

	if c.cfg.Listen.Port > 0 {
		laddr, err := net.ResolveUDPAddr("udp", c.cfg.ListenAddr())
		if err != nil {
			return protocol.NewConnectionError("LISTEN", oops.Wrapf(err, "resolve %s", c.cfg.ListenAddr()))
		}
		listen, err := net.ListenUDP("udp", laddr)
		if err != nil {
			return protocol.NewConnectionError("LISTEN", oops.Wrapf(err, "bind %s", c.cfg.ListenAddr()))
		}
		c.listen = listen
	}

	return c.engine.InitSession(ctx, c.style)
}

// Send frames payload to destination, an .i2p name, b32 address or base64
// destination. The wire body length must lie within datagram.min_length and
// datagram.max_length; violations fail with ErrPayloadLength before any
// network traffic.
//
// Send returns once the packet is written to the bridge; nothing confirms
// delivery. The bridge discards packets whose session has ended, so a
// Close right after Send can lose the message.
func (c *Conduit) Send(ctx context.Context, destination string, payload []byte) error {
	select {
	case <-c.closed:
		return protocol.NewConnectionError("SEND", protocol.ErrClosed)
	default:
	}

	body := EncodeBody(payload, c.cfg.Datagram.Encoding)
	if min, max := c.cfg.Datagram.MinLength, c.cfg.Datagram.MaxLength; len(body) < min || len(body) > max {
		return protocol.NewConfigurationError("SEND", protocol.ErrPayloadLength,
			"body length %d outside [%d, %d]", len(body), min, max)
	}

	if protocol.IsResolvableName(destination) {
		resolved, err := c.engine.Lookup(ctx, destination)
		if err != nil {
			return err
		}
		destination = resolved
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return protocol.FromContext("SEND", ctxErr)
			}
			return protocol.NewTimeoutError("SEND", err)
		}
	}

	frame := Frame(c.engine.SessionID(), destination, body)
	if _, err := c.send.WriteToUDP(frame, c.router); err != nil {
		return protocol.NewConnectionError("SEND", oops.Wrapf(err, "write to %s", c.router))
	}
	log.WithFields(logger.Fields{
		"at":     "datagram.Conduit.Send",
		"style":  c.style,
		"length": len(body),
	}).Debug("datagram_sent")
	return nil
}

// Receive returns the next incoming datagram.
func (c *Conduit) Receive(ctx context.Context) (Datagram, error) {
	if c.listen == nil {
		return Datagram{}, protocol.NewConfigurationError("RECEIVE", nil, "receiving disabled: listen.port is 0")
	}
	select {
	case d, ok := <-c.incoming:
		if !ok {
			return Datagram{}, protocol.NewConnectionError("RECEIVE", protocol.ErrClosed)
		}
		return d, nil
	case <-ctx.Done():
		return Datagram{}, protocol.FromContext("RECEIVE", ctx.Err())
	}
}

// Incoming delivers received datagrams. It is closed when the conduit
// closes.
func (c *Conduit) Incoming() <-chan Datagram {
	return c.incoming
}

// Errors delivers asynchronous receive failures. It is closed when the
// conduit closes.
func (c *Conduit) Errors() <-chan error {
	return c.errs
}

func (c *Conduit) receiveLoop() {
	defer c.wg.Done()
	defer close(c.errs)
	defer close(c.incoming)

	buf := make([]byte, maxPacket)
	for {
		n, _, err := c.listen.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.report(protocol.NewConnectionError("RECEIVE", err))
			}
			return
		}

		from, body, err := Parse(buf[:n], c.style)
		if err != nil {
			c.report(err)
			continue
		}
		payload, err := DecodeBody(body, c.cfg.Datagram.Encoding)
		if err != nil {
			c.report(protocol.NewProtocolError("RECEIVE", err.Error()))
			continue
		}

		d := Datagram{From: from, Payload: append([]byte(nil), payload...)}
		select {
		case c.incoming <- d:
		case <-c.closed:
			return
		}
	}
}

// report queues an asynchronous error, dropping it when nobody drains
// Errors.
func (c *Conduit) report(err error) {
	select {
	case c.errs <- err:
	default:
		log.WithError(err).WithFields(logger.Fields{
			"at":      "datagram.Conduit.report",
			"session": c.cfg.Session.ID,
		}).Warn("datagram_error_dropped")
	}
}

func (c *Conduit) watch() {
	defer c.wg.Done()
	select {
	case <-c.closed:
	case <-c.engine.Done():
		log.WithFields(logger.Fields{
			"at":      "datagram.Conduit.watch",
			"session": c.cfg.Session.ID,
		}).Warn("datagram_session_lost")
		go c.Close()
	}
}

// Style returns RAW or DATAGRAM.
func (c *Conduit) Style() protocol.Style {
	return c.style
}

// Engine returns the underlying session engine.
func (c *Conduit) Engine() *session.Engine {
	return c.engine
}

// Destination returns the local keypair.
func (c *Conduit) Destination() identity.Destination {
	return c.engine.Destination()
}

// Done is closed when the conduit is closed.
func (c *Conduit) Done() <-chan struct{} {
	return c.closed
}

// Close closes both UDP sockets and the session.
func (c *Conduit) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.listen != nil {
			c.listen.Close()
		}
		if c.send != nil {
			c.send.Close()
		}
		err = c.engine.Close()
		c.wg.Wait()
		log.WithFields(logger.Fields{
			"at":      "datagram.Conduit.Close",
			"session": c.cfg.Session.ID,
		}).Debug("datagram_closed")
	})
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Package control owns the TCP control connection to a SAM bridge.
//
// SAM replies carry no request identifier. A Channel therefore allows a
// single exchange in flight: a command is written, a one-shot reply slot is
// registered under the reply kind it expects, and the reader goroutine
// resolves that slot with the next line of that kind. Issuing a second
// command before the first resolves fails with protocol.ErrExchangeInFlight.
package control

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/samv3/lib/protocol"
)

var log = logger.GetGoI2PLogger()

// maxLineLength bounds a single reply line. Destinations with large
// certificates stay well below this.
const maxLineLength = 64 * 1024

var errLineTooLong = errors.New("reply line exceeds maxLineLength")

// exchange is the one-shot slot of a pending command.
type exchange struct {
	op     string
	expect string
	// handoff stops the reader after a successful reply so the connection can
	// be detached for raw payload.
	handoff bool
	result  chan result
}

type result struct {
	reply *protocol.Reply
	err   error
}

// Channel is one SAM control connection.
type Channel struct {
	conn   net.Conn
	reader *bufio.Reader
	addr   string

	mu        sync.Mutex
	pending   *exchange
	err       error
	handedOff bool

	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
	failOnce   sync.Once
}

// Dial connects to the bridge at addr. A dial failure (refused,
// unreachable, unresolvable) is returned as a protocol.ErrConnection.
func Dial(ctx context.Context, addr string) (*Channel, error) {
	log.WithFields(logger.Fields{
		"at":   "control.Dial",
		"addr": addr,
	}).Debug("dialing_sam_bridge")

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, protocol.NewTimeoutError("CONNECT", oops.Wrapf(err, "dial %s", addr))
		}
		return nil, protocol.NewConnectionError("CONNECT", oops.Wrapf(err, "dial %s", addr))
	}
	return NewChannel(conn), nil
}

// NewChannel takes ownership of an established connection and starts its
// reader goroutine.
func NewChannel(conn net.Conn) *Channel {
	c := &Channel{
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, 4096),
		addr:       conn.RemoteAddr().String(),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Done is closed when the channel terminates: socket closed by either side,
// read error, or Close.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error after Done is closed, nil before.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Addr returns the remote address of the bridge.
func (c *Channel) Addr() string {
	return c.addr
}

// Close closes the socket and unblocks any waiter with protocol.ErrClosed.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.fail(protocol.NewConnectionError("CLOSE", protocol.ErrClosed))
		err = c.conn.Close()
		log.WithFields(logger.Fields{
			"at":   "control.Channel.Close",
			"addr": c.addr,
		}).Debug("control_channel_closed")
	})
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Detach hands the connection and its buffered reader to the caller after a
// successful STREAM CONNECT. Bytes already buffered past the status line are
// preserved in the returned reader. The channel no longer reads afterwards.
func (c *Channel) Detach() (net.Conn, *bufio.Reader, error) {
	<-c.readerDone
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.handedOff {
		if c.err != nil {
			return nil, nil, c.err
		}
		return nil, nil, protocol.NewConfigurationError("DETACH", nil, "channel has not completed a stream handshake")
	}
	return c.conn, c.reader, nil
}

// roundTrip writes cmd and waits for the reply of kind ex.expect.
func (c *Channel) roundTrip(ctx context.Context, ex *exchange, cmd string) (*protocol.Reply, error) {
	ex.result = make(chan result, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if c.handedOff {
		c.mu.Unlock()
		return nil, protocol.NewConfigurationError(ex.op, nil, "channel carries stream payload")
	}
	if c.pending != nil {
		busy := c.pending.op
		c.mu.Unlock()
		return nil, protocol.NewConfigurationError(ex.op, protocol.ErrExchangeInFlight, "%s is awaiting its reply", busy)
	}
	c.pending = ex
	c.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":      "control.Channel.roundTrip",
		"op":      ex.op,
		"command": redact(cmd),
	}).Debug("sam_command")

	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	}
	if _, err := io.WriteString(c.conn, cmd); err != nil {
		c.mu.Lock()
		if c.pending == ex {
			c.pending = nil
		}
		c.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, protocol.FromContext(ex.op, ctxErr)
		}
		return nil, protocol.NewConnectionError(ex.op, oops.Wrapf(err, "write %s", ex.op))
	}
	_ = c.conn.SetWriteDeadline(time.Time{})

	select {
	case r := <-ex.result:
		return r.reply, r.err
	case <-ctx.Done():
		// The slot stays registered: a late reply is consumed and discarded
		// instead of resolving the next exchange.
		log.WithFields(logger.Fields{
			"at": "control.Channel.roundTrip",
			"op": ex.op,
		}).Warn("exchange_abandoned")
		return nil, protocol.FromContext(ex.op, ctx.Err())
	}
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)
	for {
		line, err := c.readLine()
		if errors.Is(err, errLineTooLong) {
			c.fail(protocol.NewConnectionError("READ", err))
			_ = c.conn.Close()
			return
		}
		if strings.TrimSpace(line) != "" {
			if c.dispatch(line) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = protocol.ErrClosed
			}
			c.fail(protocol.NewConnectionError("READ", err))
			return
		}
	}
}

// readLine reads up to and including the next newline. It gives up with
// errLineTooLong once maxLineLength bytes arrived without one.
func (c *Channel) readLine() (string, error) {
	var line []byte
	for {
		frag, err := c.reader.ReadSlice('\n')
		if len(line)+len(frag) > maxLineLength {
			return "", errLineTooLong
		}
		line = append(line, frag...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return string(line), err
		}
	}
}

// dispatch resolves the pending exchange with line. It reports whether the
// reader must stop because the connection is being handed off.
func (c *Channel) dispatch(line string) bool {
	reply := protocol.ParseReply(line)
	if reply == nil {
		log.WithFields(logger.Fields{
			"at":   "control.Channel.dispatch",
			"line": strings.TrimSpace(line),
		}).Debug("ignoring_unrecognized_line")
		return false
	}

	c.mu.Lock()
	ex := c.pending
	if ex == nil || ex.expect != reply.Kind {
		c.mu.Unlock()
		log.WithFields(logger.Fields{
			"at":   "control.Channel.dispatch",
			"kind": reply.Kind,
		}).Warn("unsolicited_reply_dropped")
		return false
	}
	c.pending = nil
	stop := ex.handoff && reply.OK()
	if stop {
		c.handedOff = true
	}
	c.mu.Unlock()

	log.WithFields(logger.Fields{
		"at":     "control.Channel.dispatch",
		"op":     ex.op,
		"kind":   reply.Kind,
		"result": reply.Result(),
	}).Debug("sam_reply")

	ex.result <- result{reply: reply}
	return stop
}

// fail records the terminal error once, resolves any pending exchange with
// it and signals Done.
func (c *Channel) fail(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		ex := c.pending
		c.pending = nil
		c.mu.Unlock()

		if ex != nil {
			ex.result <- result{err: err}
		}
		close(c.done)

		log.WithFields(logger.Fields{
			"at":    "control.Channel.fail",
			"addr":  c.addr,
			"error": err.Error(),
		}).Debug("control_channel_terminated")
	})
}

// redact hides private keys in logged commands.
func redact(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if !strings.HasPrefix(cmd, "SESSION CREATE") {
		return cmd
	}
	fields := strings.Fields(cmd)
	for i, f := range fields {
		if strings.HasPrefix(f, protocol.KeyDestination+"=") && f != protocol.KeyDestination+"="+protocol.TransientDestination {
			fields[i] = protocol.KeyDestination + "=<private>"
		}
	}
	return strings.Join(fields, " ")
}

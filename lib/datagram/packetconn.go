package datagram

import (
	"context"
	"net"
	"time"

	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
)

// ReadFrom implements net.PacketConn. The returned address is the sender
// destination, empty for RAW. Payloads larger than p are truncated.
func (c *Conduit) ReadFrom(p []byte) (n int, addr net.Addr, err error) {
	ctx, cancel := c.deadlineContext(true)
	defer cancel()
	d, err := c.Receive(ctx)
	if err != nil {
		return 0, nil, err
	}
	return copy(p, d.Payload), identity.Addr(d.From), nil
}

// WriteTo implements net.PacketConn. addr.String() is used as the
// destination, so identity.Addr values and plain names both work.
func (c *Conduit) WriteTo(p []byte, addr net.Addr) (n int, err error) {
	if addr == nil || addr.String() == "" {
		return 0, protocol.NewConfigurationError("SEND", nil, "empty destination")
	}
	ctx, cancel := c.deadlineContext(false)
	defer cancel()
	if err := c.Send(ctx, addr.String(), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// LocalAddr returns the local destination.
func (c *Conduit) LocalAddr() net.Addr {
	return c.engine.Destination().Addr()
}

// ListenAddr returns the UDP address of the receive socket, nil when
// receiving is disabled.
func (c *Conduit) ListenAddr() net.Addr {
	if c.listen == nil {
		return nil
	}
	return c.listen.LocalAddr()
}

// SetDeadline implements net.PacketConn.
func (c *Conduit) SetDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	c.readDeadline, c.writeDeadline = t, t
	return nil
}

// SetReadDeadline implements net.PacketConn.
func (c *Conduit) SetReadDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	c.readDeadline = t
	return nil
}

// SetWriteDeadline implements net.PacketConn.
func (c *Conduit) SetWriteDeadline(t time.Time) error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	c.writeDeadline = t
	return nil
}

func (c *Conduit) deadlineContext(read bool) (context.Context, context.CancelFunc) {
	c.deadlineMu.Lock()
	deadline := c.writeDeadline
	if read {
		deadline = c.readDeadline
	}
	c.deadlineMu.Unlock()
	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}

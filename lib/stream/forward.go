package stream

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
)

// ForwardedConn is an incoming stream delivered by the bridge.
type ForwardedConn struct {
	net.Conn
	reader *bufio.Reader

	// Origin is the peer destination. Empty when forwarding is silent.
	Origin identity.Addr
	// FromPort and ToPort are the I2P ports, when the bridge sends them.
	FromPort int
	ToPort   int
}

// Read reads stream payload following the origin line.
func (f *ForwardedConn) Read(b []byte) (int, error) {
	return f.reader.Read(b)
}

// RemoteAddr returns the origin destination, or the TCP peer when silent.
func (f *ForwardedConn) RemoteAddr() net.Addr {
	if f.Origin != "" {
		return f.Origin
	}
	return f.Conn.RemoteAddr()
}

// Accept implements net.Listener. It returns *ForwardedConn values.
func (c *Conduit) Accept() (net.Conn, error) {
	f, err := c.AcceptForwarded()
	if err != nil {
		return nil, err
	}
	return f, nil
}

// AcceptForwarded waits for the next forwarded stream. Unless forwarding is
// silent the origin line is consumed before returning; it must arrive within
// sam.timeout.
func (c *Conduit) AcceptForwarded() (*ForwardedConn, error) {
	if c.listener == nil {
		return nil, protocol.NewConfigurationError("ACCEPT", nil, "conduit is not in forward mode")
	}
	conn, err := c.listener.Accept()
	if err != nil {
		select {
		case <-c.closed:
			return nil, protocol.NewConnectionError("ACCEPT", protocol.ErrClosed)
		default:
		}
		return nil, protocol.NewConnectionError("ACCEPT", err)
	}

	f := &ForwardedConn{Conn: conn, reader: bufio.NewReader(conn)}
	if c.cfg.Forward.Silent {
		return f, nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.TimeoutDuration()))
	line, err := f.reader.ReadString('\n')
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return nil, protocol.NewConnectionError("ACCEPT", oops.Wrapf(err, "read origin line"))
	}
	if err := f.parseOrigin(line); err != nil {
		conn.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"at":     "stream.Conduit.AcceptForwarded",
		"origin": f.Origin.Base32(),
	}).Debug("stream_accepted")
	return f, nil
}

// parseOrigin reads "<destination>[ FROM_PORT=n TO_PORT=m]\n".
func (f *ForwardedConn) parseOrigin(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return protocol.NewProtocolError("ACCEPT", "empty origin line")
	}
	f.Origin = identity.Addr(fields[0])
	for _, kv := range fields[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		switch k {
		case "FROM_PORT":
			f.FromPort = n
		case "TO_PORT":
			f.ToPort = n
		}
	}
	return nil
}

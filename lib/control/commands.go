package control

import (
	"context"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
)

// Hello performs the version handshake. Empty bounds are omitted.
func (c *Channel) Hello(ctx context.Context, min, max string) error {
	reply, err := c.roundTrip(ctx, &exchange{op: "HELLO", expect: protocol.ReplyHello}, protocol.HelloCommand(min, max))
	if err != nil {
		return err
	}
	if !reply.OK() {
		return reply.Err("HELLO")
	}
	log.WithFields(logger.Fields{
		"at":      "control.Channel.Hello",
		"version": reply.Get(protocol.KeyVersion),
	}).Debug("hello_complete")
	return nil
}

// GenerateDestination asks the bridge for a fresh keypair. signatureType may
// be empty to use the bridge default.
func (c *Channel) GenerateDestination(ctx context.Context, signatureType string) (identity.Destination, error) {
	reply, err := c.roundTrip(ctx, &exchange{op: "DEST", expect: protocol.ReplyDest}, protocol.DestGenerateCommand(signatureType))
	if err != nil {
		return identity.Destination{}, err
	}
	d := identity.Destination{
		Public:  reply.Get(protocol.KeyPub),
		Private: reply.Get(protocol.KeyPriv),
	}
	if reply.Failed() || d.Public == "" || d.Private == "" {
		return identity.Destination{}, reply.Err("DEST")
	}
	return d, nil
}

// CreateSession issues SESSION CREATE and returns the public destination
// the bridge confirmed or assigned.
func (c *Channel) CreateSession(ctx context.Context, req protocol.SessionRequest) (string, error) {
	if !req.Style.IsValid() {
		return "", protocol.NewConfigurationError("SESSION", nil, "unsupported session style %q", req.Style)
	}
	if req.ID == "" {
		return "", protocol.NewConfigurationError("SESSION", nil, "session id must not be empty")
	}
	reply, err := c.roundTrip(ctx, &exchange{op: "SESSION", expect: protocol.ReplySession}, protocol.SessionCreateCommand(req))
	if err != nil {
		return "", err
	}
	public := reply.Get(protocol.KeyDestination)
	if !reply.OK() || public == "" {
		return "", reply.Err("SESSION")
	}
	log.WithFields(logger.Fields{
		"at":    "control.Channel.CreateSession",
		"id":    req.ID,
		"style": req.Style,
	}).Info("session_created")
	return public, nil
}

// Lookup resolves an .i2p name to a base64 destination. Names without the
// .i2p suffix are rejected without any network traffic.
func (c *Channel) Lookup(ctx context.Context, name string) (string, error) {
	if !protocol.IsResolvableName(name) {
		return "", protocol.NewConfigurationError("NAMING", protocol.ErrInvalidName, "%s", name)
	}
	reply, err := c.roundTrip(ctx, &exchange{op: "NAMING", expect: protocol.ReplyNaming}, protocol.NamingLookupCommand(name))
	if err != nil {
		return "", err
	}
	value := reply.Get(protocol.KeyValue)
	if !reply.OK() || value == "" {
		return "", reply.Err("NAMING")
	}
	return value, nil
}

// StreamConnect opens a virtual stream to destination on this connection.
// On success the reader stops and the connection must be taken with Detach.
func (c *Channel) StreamConnect(ctx context.Context, id, destination string, silent bool) error {
	ex := &exchange{op: "STREAM", expect: protocol.ReplyStream, handoff: true}
	reply, err := c.roundTrip(ctx, ex, protocol.StreamConnectCommand(id, destination, silent))
	if err != nil {
		return err
	}
	if !reply.OK() {
		return reply.Err("STREAM")
	}
	return nil
}

// StreamForward asks the bridge to forward incoming streams of session id to
// host:port. The forwarding lasts as long as this connection stays open.
func (c *Channel) StreamForward(ctx context.Context, id, host string, port int, silent bool) error {
	reply, err := c.roundTrip(ctx, &exchange{op: "STREAM", expect: protocol.ReplyStream}, protocol.StreamForwardCommand(id, host, port, silent))
	if err != nil {
		return err
	}
	if !reply.OK() {
		return reply.Err("STREAM")
	}
	return nil
}

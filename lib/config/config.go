package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-i2p/logger"
	"github.com/oklog/ulid/v2"

	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
)

var log = logger.GetGoI2PLogger()

// SAMConfig is the configuration of one session and the conduit built on it.
type SAMConfig struct {
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Forward  ForwardConfig  `mapstructure:"forward" yaml:"forward"`
	Listen   ListenConfig   `mapstructure:"listen" yaml:"listen"`
	SAM      BridgeConfig   `mapstructure:"sam" yaml:"sam"`
	Datagram DatagramConfig `mapstructure:"datagram" yaml:"datagram"`
}

// SessionConfig identifies the session on the bridge.
type SessionConfig struct {
	// ID must be unique per bridge. Empty generates a ULID.
	ID string `mapstructure:"id" yaml:"id"`
	// Options is appended verbatim to SESSION CREATE, e.g.
	// "inbound.length=1 outbound.length=1".
	Options string `mapstructure:"options" yaml:"options"`
}

// StreamConfig selects connect mode.
type StreamConfig struct {
	// Destination is an .i2p name, b32 address or base64 destination.
	Destination string `mapstructure:"destination" yaml:"destination"`
}

// ForwardConfig selects forward mode: inbound streams are delivered as TCP
// connections to Host:Port.
type ForwardConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// Silent suppresses the origin destination line on forwarded connections.
	Silent bool `mapstructure:"silent" yaml:"silent"`
}

// ListenConfig is the local UDP socket of datagram conduits.
type ListenConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
	// Port 0 disables receiving.
	Port int `mapstructure:"port" yaml:"port"`
	// HostForward and PortForward are announced to the bridge in SESSION
	// CREATE. They default to Address and Port.
	HostForward string `mapstructure:"host_forward" yaml:"host_forward"`
	PortForward int    `mapstructure:"port_forward" yaml:"port_forward"`
}

// BridgeConfig locates the SAM bridge and holds the local identity.
type BridgeConfig struct {
	Host    string `mapstructure:"host" yaml:"host"`
	PortTCP int    `mapstructure:"port_tcp" yaml:"port_tcp"`
	PortUDP int    `mapstructure:"port_udp" yaml:"port_udp"`

	VersionMin string `mapstructure:"version_min" yaml:"version_min"`
	VersionMax string `mapstructure:"version_max" yaml:"version_max"`

	// PublicKey and PrivateKey are supplied together or not at all. When
	// absent a destination is generated with SignatureType.
	PublicKey     string `mapstructure:"public_key" yaml:"public_key"`
	PrivateKey    string `mapstructure:"private_key" yaml:"private_key"`
	SignatureType string `mapstructure:"signature_type" yaml:"signature_type"`

	// Timeout is the construction deadline in seconds.
	Timeout int `mapstructure:"timeout" yaml:"timeout"`
}

// DatagramConfig controls the datagram dataplane.
type DatagramConfig struct {
	MinLength int    `mapstructure:"min_length" yaml:"min_length"`
	MaxLength int    `mapstructure:"max_length" yaml:"max_length"`
	Encoding  string `mapstructure:"encoding" yaml:"encoding"`
	// SendRate limits outgoing datagrams per second, 0 disables pacing.
	SendRate  float64 `mapstructure:"send_rate" yaml:"send_rate"`
	SendBurst int     `mapstructure:"send_burst" yaml:"send_burst"`
}

// Normalize returns a copy of c with defaults applied and ports clamped.
func (c SAMConfig) Normalize() SAMConfig {
	d := Defaults()

	c.Session.ID = strings.TrimSpace(c.Session.ID)
	if c.Session.ID == "" {
		c.Session.ID = NewSessionID()
	}

	c.Forward.Port = ClampPort(c.Forward.Port)

	if c.Listen.Address == "" {
		c.Listen.Address = d.Listen.Address
	}
	c.Listen.Port = ClampPort(c.Listen.Port)
	if c.Listen.HostForward == "" {
		c.Listen.HostForward = c.Listen.Address
	}
	if c.Listen.PortForward > 0 {
		c.Listen.PortForward = ClampPort(c.Listen.PortForward)
	} else {
		c.Listen.PortForward = c.Listen.Port
	}

	if c.SAM.Host == "" {
		c.SAM.Host = d.SAM.Host
	}
	if c.SAM.PortTCP <= 0 {
		c.SAM.PortTCP = d.SAM.PortTCP
	}
	c.SAM.PortTCP = ClampPort(c.SAM.PortTCP)
	if c.SAM.PortUDP <= 0 {
		c.SAM.PortUDP = d.SAM.PortUDP
	}
	c.SAM.PortUDP = ClampPort(c.SAM.PortUDP)
	if c.SAM.Timeout <= 0 {
		c.SAM.Timeout = d.SAM.Timeout
	}

	if c.Datagram.MinLength <= 0 {
		c.Datagram.MinLength = d.Datagram.MinLength
	}
	if c.Datagram.MaxLength <= 0 {
		c.Datagram.MaxLength = d.Datagram.MaxLength
	}
	c.Datagram.Encoding = strings.ToLower(strings.TrimSpace(c.Datagram.Encoding))
	if c.Datagram.Encoding == "" {
		c.Datagram.Encoding = d.Datagram.Encoding
	}
	if c.Datagram.SendRate > 0 && c.Datagram.SendBurst <= 0 {
		c.Datagram.SendBurst = 1
	}
	return c
}

// Validate reports settings that cannot be repaired by Normalize.
func (c SAMConfig) Validate() error {
	if err := c.Destination().Validate(); err != nil {
		return err
	}
	if c.Datagram.MinLength > c.Datagram.MaxLength {
		return protocol.NewConfigurationError("CONFIG", nil, "datagram.min_length %d exceeds datagram.max_length %d",
			c.Datagram.MinLength, c.Datagram.MaxLength)
	}
	switch c.Datagram.Encoding {
	case EncodingBinary, EncodingBase64:
	default:
		return protocol.NewConfigurationError("CONFIG", nil, "unknown datagram.encoding %q", c.Datagram.Encoding)
	}
	if strings.ContainsAny(c.Session.ID, " \t\r\n=") {
		return protocol.NewConfigurationError("CONFIG", nil, "session.id %q contains whitespace or '='", c.Session.ID)
	}
	return nil
}

// Destination returns the configured keypair, empty for TRANSIENT.
func (c SAMConfig) Destination() identity.Destination {
	return identity.Destination{Public: c.SAM.PublicKey, Private: c.SAM.PrivateKey}
}

// TCPAddr is the host:port of the SAM control socket.
func (c SAMConfig) TCPAddr() string {
	return net.JoinHostPort(c.SAM.Host, strconv.Itoa(c.SAM.PortTCP))
}

// UDPAddr is the host:port of the SAM datagram socket.
func (c SAMConfig) UDPAddr() string {
	return net.JoinHostPort(c.SAM.Host, strconv.Itoa(c.SAM.PortUDP))
}

// ListenAddr is the host:port the datagram receive socket binds.
func (c SAMConfig) ListenAddr() string {
	return net.JoinHostPort(c.Listen.Address, strconv.Itoa(c.Listen.Port))
}

// ForwardAddr is the host:port inbound streams are forwarded to.
func (c SAMConfig) ForwardAddr() string {
	return net.JoinHostPort(c.Forward.Host, strconv.Itoa(c.Forward.Port))
}

// TimeoutDuration converts SAM.Timeout to a time.Duration.
func (c SAMConfig) TimeoutDuration() time.Duration {
	if c.SAM.Timeout <= 0 {
		return DefaultTimeout * time.Second
	}
	return time.Duration(c.SAM.Timeout) * time.Second
}

// NewSessionID returns a fresh ULID.
func NewSessionID() string {
	id := ulid.Make().String()
	log.WithFields(logger.Fields{
		"at": "config.NewSessionID",
		"id": id,
	}).Debug("generated_session_id")
	return id
}

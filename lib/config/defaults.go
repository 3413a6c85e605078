package config

import (
	"github.com/go-i2p/samv3/lib/protocol"
)

const (
	// DefaultSAMHost is the address of a local router's SAM bridge.
	DefaultSAMHost = "127.0.0.1"

	// DefaultListenAddress is where datagram conduits bind their receive socket.
	DefaultListenAddress = "127.0.0.1"

	// DefaultTimeout is the construction deadline of a conduit, in seconds.
	// Tunnel building on a cold router regularly takes minutes.
	DefaultTimeout = 300

	// DefaultMinDatagramLength and DefaultMaxDatagramLength bound the wire
	// body of an outgoing datagram.
	DefaultMinDatagramLength = 1
	DefaultMaxDatagramLength = 31744

	// EncodingBinary sends the payload bytes unchanged, EncodingBase64 sends
	// them as standard base64 (RFC 4648 alphabet, padded), not the I2P
	// alphabet used for destinations. Both ends of a conversation must agree.
	EncodingBinary = "binary"
	EncodingBase64 = "base64"

	minPort = 1025
	maxPort = 65535
)

// Defaults returns the configuration used for every field left zero. The
// session id stays empty; Normalize generates one per value.
func Defaults() SAMConfig {
	return SAMConfig{
		Listen: ListenConfig{
			Address: DefaultListenAddress,
		},
		SAM: BridgeConfig{
			Host:    DefaultSAMHost,
			PortTCP: protocol.DefaultTCPPort,
			PortUDP: protocol.DefaultUDPPort,
			Timeout: DefaultTimeout,
		},
		Datagram: DatagramConfig{
			MinLength: DefaultMinDatagramLength,
			MaxLength: DefaultMaxDatagramLength,
			Encoding:  EncodingBinary,
		},
	}
}

// ClampPort bounds a port to 1025..65535. Zero and negative values mean
// "unset" and return 0.
func ClampPort(port int) int {
	switch {
	case port <= 0:
		return 0
	case port < minPort:
		return minPort
	case port > maxPort:
		return maxPort
	}
	return port
}

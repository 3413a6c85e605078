package protocol

// Reply kinds, formed by concatenating the first two tokens of a reply line.
const (
	ReplyHello   = "HELLOREPLY"
	ReplyDest    = "DESTREPLY"
	ReplySession = "SESSIONSTATUS"
	ReplyNaming  = "NAMINGREPLY"
	ReplyStream  = "STREAMSTATUS"
)

// Reply field keys.
const (
	KeyResult      = "RESULT"
	KeyPub         = "PUB"
	KeyPriv        = "PRIV"
	KeyDestination = "DESTINATION"
	KeyValue       = "VALUE"
	KeyName        = "NAME"
	KeyVersion     = "VERSION"
	KeyMessage     = "MESSAGE"
)

// Result codes returned in the RESULT= field.
const (
	ResultOK            = "OK"
	ResultCantReachPeer = "CANT_REACH_PEER"
	ResultDuplicatedID  = "DUPLICATED_ID"
	ResultDuplicatedDst = "DUPLICATED_DEST"
	ResultI2PError      = "I2P_ERROR"
	ResultInvalidKey    = "INVALID_KEY"
	ResultInvalidID     = "INVALID_ID"
	ResultKeyNotFound   = "KEY_NOT_FOUND"
	ResultNoVersion     = "NOVERSION"
	ResultTimeout       = "TIMEOUT"
)

// TransientDestination asks the bridge to create a throwaway identity for
// the session instead of using a supplied private key.
const TransientDestination = "TRANSIENT"

// DatagramVersion prefixes every datagram sent to the bridge's UDP port.
const DatagramVersion = "3.0"

// Default bridge ports.
const (
	DefaultTCPPort = 7656
	DefaultUDPPort = 7655
)

// B32Suffix terminates every base32 destination address.
const B32Suffix = ".b32.i2p"

// NameSuffix is the suffix a name must carry to be resolvable by NAMING LOOKUP.
const NameSuffix = ".i2p"

// Style is the SAM session style.
type Style string

const (
	// StyleStream is a reliable, ordered virtual stream session.
	StyleStream Style = "STREAM"
	// StyleDatagram is a repliable datagram session; received datagrams carry
	// the sender's destination.
	StyleDatagram Style = "DATAGRAM"
	// StyleRaw is an anonymous datagram session without sender information.
	StyleRaw Style = "RAW"
)

// IsValid reports whether s is one of the supported session styles.
func (s Style) IsValid() bool {
	switch s {
	case StyleStream, StyleDatagram, StyleRaw:
		return true
	default:
		return false
	}
}

// IsDatagram reports whether sessions of this style exchange UDP datagrams.
func (s Style) IsDatagram() bool {
	return s == StyleDatagram || s == StyleRaw
}

func (s Style) String() string {
	return string(s)
}

// Package identity holds the local destination keypair of a SAM session and
// derives its human-shareable base32 address.
//
// The keys are opaque base64 blobs produced by the bridge (DEST GENERATE) or
// supplied by the caller. Nothing here signs or encrypts.
package identity

import (
	"crypto/sha256"
	b64 "encoding/base64"
	"strings"

	"github.com/go-i2p/common/base32"
	"github.com/go-i2p/common/base64"
	"github.com/go-i2p/common/destination"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"

	"github.com/go-i2p/samv3/lib/protocol"
)

var log = logger.GetGoI2PLogger()

// Destination is a base64 destination keypair. Public is the routable
// address; Private is the local secret handed to SESSION CREATE.
type Destination struct {
	Public  string `yaml:"public"`
	Private string `yaml:"private"`
}

// standard base64 characters are accepted alongside the I2P alphabet
var toI2PAlphabet = strings.NewReplacer("+", "-", "/", "~")

var i2pRawEncoding = b64.NewEncoding(base64.I2PEncodeAlphabet).WithPadding(b64.NoPadding)

// IsTransient reports whether no keypair is held, in which case the bridge
// is asked for a TRANSIENT destination.
func (d Destination) IsTransient() bool {
	return d.Public == "" && d.Private == ""
}

// Validate checks that both halves are present or both absent.
func (d Destination) Validate() error {
	if (d.Public == "") != (d.Private == "") {
		return protocol.NewConfigurationError("DESTINATION", nil, "public and private key must be supplied together")
	}
	return nil
}

// B32Address returns the "<base32>.b32.i2p" address of the public key.
func (d Destination) B32Address() (string, error) {
	b32, err := ToB32(d.Public)
	if err != nil {
		return "", err
	}
	return b32 + protocol.B32Suffix, nil
}

// Addr returns the destination as a net.Addr.
func (d Destination) Addr() Addr {
	return Addr(d.Public)
}

// Inspect parses the public key as an I2P destination structure. It is used
// only to sanity check a blob; sessions never require it.
func (d Destination) Inspect() (*destination.Destination, error) {
	raw, err := DecodeBase64(d.Public)
	if err != nil {
		return nil, err
	}
	dest, _, err := destination.ReadDestination(raw)
	if err != nil {
		return nil, oops.Wrapf(err, "public key is not a destination")
	}
	return &dest, nil
}

// FromPrivate rebuilds a keypair from a private destination blob, which
// starts with the serialized public destination.
func FromPrivate(private string) (Destination, error) {
	raw, err := DecodeBase64(private)
	if err != nil {
		return Destination{}, err
	}
	_, rest, err := destination.ReadDestination(raw)
	if err != nil {
		return Destination{}, oops.Wrapf(err, "private key does not start with a destination")
	}
	public := raw[:len(raw)-len(rest)]
	return Destination{
		Public:  b64.NewEncoding(base64.I2PEncodeAlphabet).EncodeToString(public),
		Private: private,
	}, nil
}

// DecodeBase64 decodes an I2P base64 string. Standard '+' and '/' are
// treated as '-' and '~'; padding is optional.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(toI2PAlphabet.Replace(strings.TrimSpace(s)), "=")
	if s == "" {
		return nil, oops.Errorf("empty base64 destination")
	}
	raw, err := i2pRawEncoding.DecodeString(s)
	if err != nil {
		return nil, oops.Wrapf(err, "invalid base64 destination")
	}
	return raw, nil
}

// ToB32 returns the lowercase, unpadded base32 encoding of the SHA-256 of
// the decoded public key, without the .b32.i2p suffix.
func ToB32(public string) (string, error) {
	raw, err := DecodeBase64(public)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	b32 := strings.TrimRight(base32.EncodeToString(sum[:]), "=")

	log.WithFields(logger.Fields{
		"at":         "identity.ToB32",
		"key_length": len(raw),
	}).Debug("derived_b32_address")

	return b32, nil
}

// Addr is an I2P destination usable as a net.Addr.
type Addr string

// Network returns "i2p".
func (a Addr) Network() string {
	return "i2p"
}

func (a Addr) String() string {
	return string(a)
}

// Base32 returns the .b32.i2p form of the address, or the raw string if it
// does not decode.
func (a Addr) Base32() string {
	b32, err := Destination{Public: string(a)}.B32Address()
	if err != nil {
		return string(a)
	}
	return b32
}

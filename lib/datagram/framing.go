package datagram

import (
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/samber/oops"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/protocol"
)

// Datagram is one received message.
type Datagram struct {
	// From is the sender destination. Always empty for RAW.
	From string
	// Payload is the decoded message body.
	Payload []byte
}

// EncodeBody converts payload to its wire form.
func EncodeBody(payload []byte, encoding string) []byte {
	if encoding == config.EncodingBase64 {
		out := make([]byte, base64.StdEncoding.EncodedLen(len(payload)))
		base64.StdEncoding.Encode(out, payload)
		return out
	}
	return payload
}

// DecodeBody reverses EncodeBody.
func DecodeBody(body []byte, encoding string) ([]byte, error) {
	if encoding != config.EncodingBase64 {
		return body, nil
	}
	s := strings.TrimSpace(string(body))
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, oops.Wrapf(err, "datagram body is not base64")
	}
	return raw, nil
}

// Frame builds "3.0 <id> <destination>\n<body>" for the bridge UDP port.
func Frame(id, destination string, body []byte) []byte {
	header := protocol.DatagramHeader(id, destination)
	frame := make([]byte, 0, len(header)+len(body))
	frame = append(frame, header...)
	return append(frame, body...)
}

// Parse splits a packet forwarded by the bridge. DATAGRAM packets start
// with a header line whose first field is the sender; RAW packets are all
// body.
func Parse(packet []byte, style protocol.Style) (from string, body []byte, err error) {
	if style != protocol.StyleDatagram {
		return "", packet, nil
	}
	header, body, ok := bytes.Cut(packet, []byte{'\n'})
	if !ok {
		return "", nil, protocol.NewProtocolError("RECEIVE", "datagram without header line")
	}
	fields := strings.Fields(string(header))
	if len(fields) == 0 {
		return "", nil, protocol.NewProtocolError("RECEIVE", "datagram with empty header line")
	}
	return fields[0], body, nil
}

package datagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/protocol"
)

func TestFrame(t *testing.T) {
	got := Frame("tunnel", "peer.i2p", []byte("hello"))
	assert.Equal(t, "3.0 tunnel peer.i2p\nhello", string(got))

	assert.Equal(t, "3.0 tunnel peer.i2p\n", string(Frame("tunnel", "peer.i2p", nil)))
}

func TestEncodeBody(t *testing.T) {
	payload := []byte{0xfb, 0xff, 0x00, 'a'}
	assert.Equal(t, payload, EncodeBody(payload, config.EncodingBinary))
	assert.Equal(t, "+/8AYQ==", string(EncodeBody(payload, config.EncodingBase64)))

	decoded, err := DecodeBody([]byte("+/8AYQ==\n"), config.EncodingBase64)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	_, err = DecodeBody([]byte("not*base64"), config.EncodingBase64)
	assert.Error(t, err)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		packet   string
		style    protocol.Style
		wantFrom string
		wantBody string
		wantErr  bool
	}{
		{"raw", "payload\nwith newline", protocol.StyleRaw, "", "payload\nwith newline", false},
		{"datagram", "SENDER\nhi", protocol.StyleDatagram, "SENDER", "hi", false},
		{"datagram with ports", "SENDER FROM_PORT=1 TO_PORT=2\nhi\nthere", protocol.StyleDatagram, "SENDER", "hi\nthere", false},
		{"datagram empty body", "SENDER\n", protocol.StyleDatagram, "SENDER", "", false},
		{"datagram without newline", "SENDER", protocol.StyleDatagram, "", "", true},
		{"datagram blank header", " \nhi", protocol.StyleDatagram, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, body, err := Parse([]byte(tt.packet), tt.style)
			if tt.wantErr {
				assert.ErrorIs(t, err, protocol.ErrProtocol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, from)
			assert.Equal(t, tt.wantBody, string(body))
		})
	}
}

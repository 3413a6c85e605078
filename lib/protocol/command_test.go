package protocol

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelloCommand(t *testing.T) {
	assert.Equal(t, "HELLO VERSION\n", HelloCommand("", ""))
	assert.Equal(t, "HELLO VERSION MIN=3.0\n", HelloCommand("3.0", ""))
	assert.Equal(t, "HELLO VERSION MAX=3.3\n", HelloCommand("", "3.3"))
	assert.Equal(t, "HELLO VERSION MIN=9.0 MAX=0.0\n", HelloCommand("9.0", "0.0"))
}

func TestDestGenerateCommand(t *testing.T) {
	assert.Equal(t, "DEST GENERATE\n", DestGenerateCommand(""))
	assert.Equal(t, "DEST GENERATE SIGNATURE_TYPE=7\n", DestGenerateCommand("7"))
}

func TestSessionCreateCommand(t *testing.T) {
	tests := []struct {
		name string
		req  SessionRequest
		want string
	}{
		{
			name: "stream_transient",
			req:  SessionRequest{ID: "abc", Style: StyleStream},
			want: "SESSION CREATE ID=abc DESTINATION=TRANSIENT STYLE=STREAM\n",
		},
		{
			name: "stream_ignores_forward",
			req:  SessionRequest{ID: "abc", Style: StyleStream, Host: "127.0.0.1", Port: 20211},
			want: "SESSION CREATE ID=abc DESTINATION=TRANSIENT STYLE=STREAM\n",
		},
		{
			name: "raw_with_forward",
			req:  SessionRequest{ID: "abc", Style: StyleRaw, PrivateKey: "priv", Host: "127.0.0.1", Port: 20211},
			want: "SESSION CREATE ID=abc DESTINATION=priv STYLE=RAW PORT=20211 HOST=127.0.0.1\n",
		},
		{
			name: "datagram_without_port",
			req:  SessionRequest{ID: "abc", Style: StyleDatagram, Host: "127.0.0.1"},
			want: "SESSION CREATE ID=abc DESTINATION=TRANSIENT STYLE=DATAGRAM\n",
		},
		{
			name: "options_appended",
			req:  SessionRequest{ID: "abc", Style: StyleStream, Options: " inbound.length=1 outbound.length=1 "},
			want: "SESSION CREATE ID=abc DESTINATION=TRANSIENT STYLE=STREAM inbound.length=1 outbound.length=1\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionCreateCommand(tt.req))
		})
	}
}

func TestStreamCommands(t *testing.T) {
	assert.Equal(t, "STREAM CONNECT SILENT=false ID=s1 DESTINATION=dest\n", StreamConnectCommand("s1", "dest", false))
	assert.Equal(t, "STREAM FORWARD SILENT=true ID=s1 PORT=8080 HOST=127.0.0.1\n", StreamForwardCommand("s1", "127.0.0.1", 8080, true))
	assert.Equal(t, "NAMING LOOKUP NAME=diva.i2p\n", NamingLookupCommand("diva.i2p"))
	assert.Equal(t, "3.0 s1 dest\n", DatagramHeader("s1", "dest"))
}

func TestIsResolvableName(t *testing.T) {
	assert.True(t, IsResolvableName("diva.i2p"))
	assert.True(t, IsResolvableName("abcdef.b32.i2p"))
	assert.False(t, IsResolvableName("diva.bogus"))
	assert.False(t, IsResolvableName(""))
}

func TestErrorKinds(t *testing.T) {
	conn := NewConnectionError("CONNECT", &net.OpError{Op: "dial", Err: errors.New("refused")})
	assert.ErrorIs(t, conn, ErrConnection)
	assert.NotErrorIs(t, conn, ErrProtocol)
	var opErr *net.OpError
	assert.ErrorAs(t, conn, &opErr)

	dns := NewConnectionError("CONNECT", &net.DNSError{Name: "127.0.0.256", Err: "no such host", IsNotFound: true})
	assert.ErrorIs(t, dns, ErrConnection)
	assert.Contains(t, dns.Error(), "unresolved host 127.0.0.256")

	closed := NewConnectionError("HELLO", nil)
	assert.ErrorIs(t, closed, ErrClosed)

	cfg := NewConfigurationError("NAMING", ErrInvalidName, "name %q", "x.bogus")
	assert.ErrorIs(t, cfg, ErrConfiguration)
	assert.ErrorIs(t, cfg, ErrInvalidName)

	timeout := FromContext("STREAM", context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	cancelled := FromContext("STREAM", context.Canceled)
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.NotErrorIs(t, cancelled, ErrTimeout)

	assert.NoError(t, FromContext("STREAM", nil))
}

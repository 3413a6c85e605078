package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantKind string
		wantKV   map[string]string
	}{
		{
			name:     "hello_ok",
			line:     "HELLO REPLY RESULT=OK VERSION=3.1\n",
			wantKind: ReplyHello,
			wantKV:   map[string]string{"RESULT": "OK", "VERSION": "3.1"},
		},
		{
			name:     "dest_reply",
			line:     "DEST REPLY PUB=abc~- PRIV=def~-",
			wantKind: ReplyDest,
			wantKV:   map[string]string{"PUB": "abc~-", "PRIV": "def~-"},
		},
		{
			name:     "base64_padding_survives",
			line:     "NAMING REPLY RESULT=OK NAME=diva.i2p VALUE=AAcAAA==",
			wantKind: ReplyNaming,
			wantKV:   map[string]string{"RESULT": "OK", "NAME": "diva.i2p", "VALUE": "AAcAAA=="},
		},
		{
			name:     "quoted_message",
			line:     `SESSION STATUS RESULT=I2P_ERROR MESSAGE="duplicate session id"`,
			wantKind: ReplySession,
			wantKV:   map[string]string{"RESULT": "I2P_ERROR", "MESSAGE": "duplicate session id"},
		},
		{
			name:     "tokens_without_equals_ignored",
			line:     "STREAM STATUS RESULT=OK junk",
			wantKind: ReplyStream,
			wantKV:   map[string]string{"RESULT": "OK"},
		},
		{
			name:     "extra_spaces",
			line:     "  HELLO  REPLY   RESULT=NOVERSION  ",
			wantKind: ReplyHello,
			wantKV:   map[string]string{"RESULT": "NOVERSION"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := ParseReply(tt.line)
			require.NotNil(t, reply)
			assert.Equal(t, tt.wantKind, reply.Kind)
			assert.Equal(t, tt.wantKV, reply.Fields)
		})
	}
}

func TestParseReplyUnknownKind(t *testing.T) {
	for _, line := range []string{"", "PING", "PONG 123", "DATAGRAM RECEIVED DESTINATION=x SIZE=3", "HELLO WORLD RESULT=OK"} {
		assert.Nil(t, ParseReply(line), "line %q", line)
	}
}

func TestReplyResult(t *testing.T) {
	ok := ParseReply("HELLO REPLY RESULT=OK")
	require.NotNil(t, ok)
	assert.True(t, ok.OK())
	assert.False(t, ok.Failed())

	bad := ParseReply("HELLO REPLY RESULT=NOVERSION")
	require.NotNil(t, bad)
	assert.False(t, bad.OK())
	assert.True(t, bad.Failed())

	// DEST REPLY has no RESULT on success.
	dest := ParseReply("DEST REPLY PUB=a PRIV=b")
	require.NotNil(t, dest)
	assert.False(t, dest.Failed())
}

func TestReplyErrCarriesLine(t *testing.T) {
	reply := ParseReply("SESSION STATUS RESULT=INVALID_KEY")
	require.NotNil(t, reply)

	err := reply.Err("SESSION")
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "SESSION failed")
	assert.Contains(t, err.Error(), "RESULT=INVALID_KEY")
	assert.True(t, IsProtocolResult(err, ResultInvalidKey))
	assert.False(t, IsProtocolResult(err, ResultNoVersion))
}

package control

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/samv3/lib/protocol"
	"github.com/go-i2p/samv3/lib/samtest"
)

func dialBridge(t *testing.T, b *samtest.Bridge) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := Dial(ctx, b.TCPAddr())
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// scriptedPeer accepts one connection and hands it to fn.
func scriptedPeer(t *testing.T, fn func(conn net.Conn, r *bufio.Reader)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn, bufio.NewReader(conn))
	}()
	return ln.Addr().String()
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(testContext(t), addr)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrConnection)
	var opErr *net.OpError
	assert.ErrorAs(t, err, &opErr)
}

func TestDialUnresolvable(t *testing.T) {
	_, err := Dial(testContext(t), "127.0.0.256:7656")
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrConnection)
	assert.Contains(t, err.Error(), "127.0.0.256")
}

func TestHello(t *testing.T) {
	b := samtest.NewBridge(t)
	ch := dialBridge(t, b)
	require.NoError(t, ch.Hello(testContext(t), "3.0", "3.1"))
	assert.Equal(t, []string{"HELLO VERSION MIN=3.0 MAX=3.1"}, b.Commands())
}

func TestHelloNoVersion(t *testing.T) {
	b := samtest.NewBridge(t)
	ch := dialBridge(t, b)
	err := ch.Hello(testContext(t), "9.0", "0.0")
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	assert.Contains(t, err.Error(), "HELLO failed")
	assert.Contains(t, err.Error(), "RESULT=NOVERSION")
	assert.True(t, protocol.IsProtocolResult(err, protocol.ResultNoVersion))
}

func TestGenerateDestination(t *testing.T) {
	b := samtest.NewBridge(t)
	ch := dialBridge(t, b)
	ctx := testContext(t)
	require.NoError(t, ch.Hello(ctx, "", ""))

	d, err := ch.GenerateDestination(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, d.Public)
	assert.NotEmpty(t, d.Private)
	assert.True(t, strings.HasPrefix(d.Private, d.Public[:100]))
}

func TestCreateSessionAndLookup(t *testing.T) {
	b := samtest.NewBridge(t)
	echo := b.AddEcho("echo.i2p")
	ch := dialBridge(t, b)
	ctx := testContext(t)
	require.NoError(t, ch.Hello(ctx, "", ""))

	d, err := ch.GenerateDestination(ctx, "7")
	require.NoError(t, err)

	confirmed, err := ch.CreateSession(ctx, protocol.SessionRequest{ID: "s1", Style: protocol.StyleStream, PrivateKey: d.Private})
	require.NoError(t, err)
	assert.Equal(t, d.Private, confirmed)

	first, err := ch.Lookup(ctx, "echo.i2p")
	require.NoError(t, err)
	second, err := ch.Lookup(ctx, "echo.i2p")
	require.NoError(t, err)
	assert.Equal(t, echo.Public, first)
	assert.Equal(t, first, second)

	_, err = ch.Lookup(ctx, "missing.i2p")
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	assert.True(t, protocol.IsProtocolResult(err, protocol.ResultKeyNotFound))
}

func TestCreateSessionInvalidKey(t *testing.T) {
	b := samtest.NewBridge(t)
	ch := dialBridge(t, b)
	ctx := testContext(t)
	require.NoError(t, ch.Hello(ctx, "", ""))

	_, err := ch.CreateSession(ctx, protocol.SessionRequest{ID: "s1", Style: protocol.StyleRaw, PrivateKey: "--"})
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	assert.Contains(t, err.Error(), "SESSION failed")
	assert.Contains(t, err.Error(), "RESULT=INVALID_KEY")
}

func TestCreateSessionDuplicatedID(t *testing.T) {
	b := samtest.NewBridge(t)
	ctx := testContext(t)

	first := dialBridge(t, b)
	require.NoError(t, first.Hello(ctx, "", ""))
	_, err := first.CreateSession(ctx, protocol.SessionRequest{ID: "dup", Style: protocol.StyleStream})
	require.NoError(t, err)

	second := dialBridge(t, b)
	require.NoError(t, second.Hello(ctx, "", ""))
	_, err = second.CreateSession(ctx, protocol.SessionRequest{ID: "dup", Style: protocol.StyleStream})
	assert.True(t, protocol.IsProtocolResult(err, protocol.ResultDuplicatedID))
}

func TestCreateSessionRejectsBadArguments(t *testing.T) {
	b := samtest.NewBridge(t)
	ch := dialBridge(t, b)
	ctx := testContext(t)

	_, err := ch.CreateSession(ctx, protocol.SessionRequest{ID: "s", Style: "PRIMARY"})
	assert.ErrorIs(t, err, protocol.ErrConfiguration)
	_, err = ch.CreateSession(ctx, protocol.SessionRequest{Style: protocol.StyleStream})
	assert.ErrorIs(t, err, protocol.ErrConfiguration)
	assert.Empty(t, b.Commands())
}

func TestLookupInvalidNameMakesNoCall(t *testing.T) {
	b := samtest.NewBridge(t)
	ch := dialBridge(t, b)
	ctx := testContext(t)
	require.NoError(t, ch.Hello(ctx, "", ""))

	_, err := ch.Lookup(ctx, "diva.bogus")
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrConfiguration)
	assert.ErrorIs(t, err, protocol.ErrInvalidName)
	assert.Equal(t, 0, b.CommandCount("NAMING"))
}

func TestUnknownLinesIgnored(t *testing.T) {
	b := samtest.NewBridge(t)
	b.SetNoise(true)
	ch := dialBridge(t, b)
	ctx := testContext(t)

	require.NoError(t, ch.Hello(ctx, "", ""))
	d, err := ch.GenerateDestination(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, d.Public)
}

func TestSecondExchangeRejectedWhileInFlight(t *testing.T) {
	b := samtest.NewBridge(t)
	ch := dialBridge(t, b)
	ctx := testContext(t)
	require.NoError(t, ch.Hello(ctx, "", ""))
	b.SetReplyDelay(300 * time.Millisecond)

	firstErr := make(chan error, 1)
	firstDest := make(chan string, 1)
	go func() {
		d, err := ch.GenerateDestination(ctx, "")
		firstDest <- d.Public
		firstErr <- err
	}()

	// Wait for the first command to reach the bridge.
	require.Eventually(t, func() bool { return b.CommandCount("DEST") == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := ch.Lookup(ctx, "x.i2p")
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrExchangeInFlight)
	assert.ErrorIs(t, err, protocol.ErrConfiguration)

	require.NoError(t, <-firstErr)
	assert.NotEmpty(t, <-firstDest)
	assert.Equal(t, 0, b.CommandCount("NAMING"))
}

func TestAbandonedReplyNotMisattributed(t *testing.T) {
	release := make(chan struct{})
	addr := scriptedPeer(t, func(conn net.Conn, r *bufio.Reader) {
		r.ReadString('\n') // HELLO
		io.WriteString(conn, "HELLO REPLY RESULT=OK VERSION=3.1\n")
		r.ReadString('\n') // NAMING, answered late
		<-release
		io.WriteString(conn, "NAMING REPLY RESULT=OK NAME=late.i2p VALUE=LATE\n")
		r.ReadString('\n') // second NAMING
		io.WriteString(conn, "NAMING REPLY RESULT=OK NAME=next.i2p VALUE=NEXT\n")
		io.Copy(io.Discard, r)
	})

	ch, err := Dial(testContext(t), addr)
	require.NoError(t, err)
	defer ch.Close()
	require.NoError(t, ch.Hello(testContext(t), "", ""))

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ch.Lookup(short, "late.i2p")
	assert.ErrorIs(t, err, protocol.ErrTimeout)

	// The abandoned exchange still owns the channel.
	_, err = ch.Lookup(testContext(t), "next.i2p")
	assert.ErrorIs(t, err, protocol.ErrExchangeInFlight)

	close(release)
	var value string
	err = protocol.ErrExchangeInFlight
	deadline := time.Now().Add(2 * time.Second)
	for errors.Is(err, protocol.ErrExchangeInFlight) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		value, err = ch.Lookup(testContext(t), "next.i2p")
	}
	require.NoError(t, err)
	assert.Equal(t, "NEXT", value)
}

func TestCloseUnblocksWaiter(t *testing.T) {
	b := samtest.NewBridge(t)
	b.Stall("NAMING")
	ch := dialBridge(t, b)
	ctx := testContext(t)
	require.NoError(t, ch.Hello(ctx, "", ""))

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Lookup(ctx, "stalled.i2p")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return b.CommandCount("NAMING") == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ch.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, protocol.ErrConnection)
		assert.ErrorIs(t, err, protocol.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by Close")
	}
	<-ch.Done()
	assert.Error(t, ch.Err())

	_, err := ch.Lookup(ctx, "again.i2p")
	assert.ErrorIs(t, err, protocol.ErrClosed)
}

func TestPeerCloseSignalsDone(t *testing.T) {
	addr := scriptedPeer(t, func(conn net.Conn, r *bufio.Reader) {
		r.ReadString('\n')
	})
	ch, err := Dial(testContext(t), addr)
	require.NoError(t, err)
	defer ch.Close()

	err = ch.Hello(testContext(t), "", "")
	assert.ErrorIs(t, err, protocol.ErrConnection)

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after peer hang-up")
	}
}

func TestOverlongLineClosesChannel(t *testing.T) {
	addr := scriptedPeer(t, func(conn net.Conn, r *bufio.Reader) {
		r.ReadString('\n')
		// no newline ever follows
		conn.Write(bytes.Repeat([]byte("A"), maxLineLength+4096))
		io.Copy(io.Discard, r)
	})
	ch, err := Dial(testContext(t), addr)
	require.NoError(t, err)
	defer ch.Close()

	err = ch.Hello(testContext(t), "", "")
	assert.ErrorIs(t, err, protocol.ErrConnection)

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after overlong line")
	}
}

func TestStreamConnectDetachKeepsBufferedPayload(t *testing.T) {
	addr := scriptedPeer(t, func(conn net.Conn, r *bufio.Reader) {
		r.ReadString('\n')
		io.WriteString(conn, "HELLO REPLY RESULT=OK VERSION=3.1\n")
		r.ReadString('\n')
		// Status and first payload bytes in one segment.
		io.WriteString(conn, "STREAM STATUS RESULT=OK\nHTTP/1.1 200 OK\r\n")
		io.Copy(io.Discard, r)
	})
	ch, err := Dial(testContext(t), addr)
	require.NoError(t, err)
	defer ch.Close()
	ctx := testContext(t)

	require.NoError(t, ch.Hello(ctx, "", ""))
	require.NoError(t, ch.StreamConnect(ctx, "s1", "dest", false))

	conn, r, err := ch.Detach()
	require.NoError(t, err)
	require.NotNil(t, conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", line)

	_, err = ch.Lookup(ctx, "x.i2p")
	assert.ErrorIs(t, err, protocol.ErrConfiguration)
}

func TestDetachWithoutHandshake(t *testing.T) {
	b := samtest.NewBridge(t)
	ch := dialBridge(t, b)
	require.NoError(t, ch.Hello(testContext(t), "", ""))
	ch.Close()
	_, _, err := ch.Detach()
	assert.Error(t, err)
}

func TestStreamConnectFailure(t *testing.T) {
	b := samtest.NewBridge(t)
	ctx := testContext(t)

	ctl := dialBridge(t, b)
	require.NoError(t, ctl.Hello(ctx, "", ""))
	_, err := ctl.CreateSession(ctx, protocol.SessionRequest{ID: "s1", Style: protocol.StyleStream})
	require.NoError(t, err)

	data := dialBridge(t, b)
	require.NoError(t, data.Hello(ctx, "", ""))
	err = data.StreamConnect(ctx, "s1", samtest.GenerateDestination().Public, false)
	assert.True(t, protocol.IsProtocolResult(err, protocol.ResultCantReachPeer))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "SESSION CREATE ID=a DESTINATION=<private> STYLE=RAW", redact("SESSION CREATE ID=a DESTINATION=secret STYLE=RAW\n"))
	assert.Equal(t, "SESSION CREATE ID=a DESTINATION=TRANSIENT STYLE=RAW", redact("SESSION CREATE ID=a DESTINATION=TRANSIENT STYLE=RAW"))
	assert.Equal(t, "HELLO VERSION", redact("HELLO VERSION\n"))
}

// Package samtest provides a scripted, in-process SAM v3 bridge for tests.
//
// The Bridge speaks enough of the protocol to exercise a client end to end:
// HELLO, DEST GENERATE, SESSION CREATE, NAMING LOOKUP, STREAM CONNECT,
// STREAM FORWARD and the UDP datagram port. Destinations are random blobs;
// no cryptography takes place. Streams between two sessions of the same
// Bridge are spliced locally, datagrams are delivered to the HOST/PORT given
// in SESSION CREATE.
package samtest

import (
	"bufio"
	b64 "encoding/base64"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/common/base64"
	"github.com/go-i2p/crypto/rand"

	"github.com/go-i2p/samv3/lib/config"
	"github.com/go-i2p/samv3/lib/identity"
	"github.com/go-i2p/samv3/lib/protocol"
)

// publicKeyLength is the size of an Ed25519/ElGamal destination: 384 bytes of
// keys and padding followed by a 7 byte key certificate.
const publicKeyLength = 391

// keyCertificate is KEY(5), length 4, signing type 7 (Ed25519), crypto type 0.
var keyCertificate = []byte{5, 0, 4, 0, 7, 0, 0}

const (
	minVersion = 3.0
	maxVersion = 3.3
)

var encoding = b64.NewEncoding(base64.I2PEncodeAlphabet)

type session struct {
	id    string
	style protocol.Style
	dest  identity.Destination
	host  string
	port  int
	conn  net.Conn

	forwardHost   string
	forwardPort   int
	forwardSilent bool
}

// Bridge is a fake SAM bridge listening on 127.0.0.1.
type Bridge struct {
	tcp net.Listener
	udp *net.UDPConn

	mu         sync.Mutex
	sessions   map[string]*session
	names      map[string]string
	echoes     map[string]bool
	stalled    map[string]bool
	noise      bool
	replyDelay time.Duration
	commands   []string
	datagrams  int
	conns      map[net.Conn]struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBridge starts a Bridge and stops it when the test ends.
func NewBridge(t testing.TB) *Bridge {
	t.Helper()
	tcp, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("samtest: listen tcp: %v", err)
	}
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		tcp.Close()
		t.Fatalf("samtest: listen udp: %v", err)
	}
	b := &Bridge{
		tcp:      tcp,
		udp:      udp,
		sessions: make(map[string]*session),
		names:    make(map[string]string),
		echoes:   make(map[string]bool),
		stalled:  make(map[string]bool),
		conns:    make(map[net.Conn]struct{}),
	}
	b.wg.Add(2)
	go b.acceptLoop()
	go b.datagramLoop()
	t.Cleanup(b.Close)
	return b
}

// Host returns the bridge host.
func (b *Bridge) Host() string {
	return "127.0.0.1"
}

// TCPPort returns the control port.
func (b *Bridge) TCPPort() int {
	return b.tcp.Addr().(*net.TCPAddr).Port
}

// UDPPort returns the datagram port.
func (b *Bridge) UDPPort() int {
	return b.udp.LocalAddr().(*net.UDPAddr).Port
}

// TCPAddr returns host:port of the control port.
func (b *Bridge) TCPAddr() string {
	return b.tcp.Addr().String()
}

// Config returns a configuration pointing at the bridge with a short
// construction timeout.
func (b *Bridge) Config() config.SAMConfig {
	c := config.Defaults()
	c.SAM.Host = b.Host()
	c.SAM.PortTCP = b.TCPPort()
	c.SAM.PortUDP = b.UDPPort()
	c.SAM.Timeout = 5
	return c
}

// AddName makes name resolvable to public.
func (b *Bridge) AddName(name, public string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[name] = public
}

// AddEcho registers a destination, resolvable as name, that echoes every
// stream connected to it.
func (b *Bridge) AddEcho(name string) identity.Destination {
	d := GenerateDestination()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.echoes[d.Public] = true
	if name != "" {
		b.names[name] = d.Public
	}
	return d
}

// Stall makes the bridge swallow commands whose verb is verb (e.g. "SESSION")
// without replying.
func (b *Bridge) Stall(verb string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stalled[verb] = true
}

// SetNoise makes the bridge emit unrelated lines before every reply.
func (b *Bridge) SetNoise(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noise = on
}

// SetReplyDelay delays every reply by d.
func (b *Bridge) SetReplyDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replyDelay = d
}

// Commands returns every command line received so far, in order.
func (b *Bridge) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.commands))
	copy(out, b.commands)
	return out
}

// CommandCount returns how many commands starting with prefix were received.
func (b *Bridge) CommandCount(prefix string) int {
	n := 0
	for _, c := range b.Commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// DatagramCount returns how many datagrams arrived on the UDP port.
func (b *Bridge) DatagramCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.datagrams
}

// SessionCount returns the number of live sessions.
func (b *Bridge) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// ConnCount returns the number of open TCP connections.
func (b *Bridge) ConnCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Close stops the bridge and drops every connection.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.tcp.Close()
		b.udp.Close()
		b.mu.Lock()
		for c := range b.conns {
			c.Close()
		}
		b.mu.Unlock()
		b.wg.Wait()
	})
}

// GenerateDestination returns a random keypair in the shape the bridge
// hands out: the private blob starts with the public destination.
func GenerateDestination() identity.Destination {
	raw := make([]byte, publicKeyLength+64)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("samtest: random: %v", err))
	}
	copy(raw[384:publicKeyLength], keyCertificate)
	return identity.Destination{
		Public:  encoding.EncodeToString(raw[:publicKeyLength]),
		Private: encoding.EncodeToString(raw),
	}
}

func (b *Bridge) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.tcp.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns[conn] = struct{}{}
		b.mu.Unlock()
		b.wg.Add(1)
		go b.serve(conn)
	}
}

func (b *Bridge) serve(conn net.Conn) {
	defer b.wg.Done()
	defer b.drop(conn)

	r := bufio.NewReader(conn)
	greeted := false
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			b.mu.Lock()
			b.commands = append(b.commands, line)
			b.mu.Unlock()

			verb := strings.SplitN(line, " ", 2)[0]
			if !greeted && verb != "HELLO" {
				return
			}
			if b.isStalled(verb) {
				continue
			}
			switch verb {
			case "HELLO":
				ok := b.hello(conn, line)
				greeted = greeted || ok
			case "DEST":
				d := GenerateDestination()
				b.reply(conn, fmt.Sprintf("DEST REPLY PUB=%s PRIV=%s", d.Public, d.Private))
			case "SESSION":
				b.createSession(conn, line)
			case "NAMING":
				b.lookup(conn, line)
			case "STREAM":
				if b.stream(conn, r, line) {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (b *Bridge) drop(conn net.Conn) {
	conn.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, conn)
	for id, s := range b.sessions {
		if s.conn == conn {
			delete(b.sessions, id)
		}
	}
}

func (b *Bridge) isStalled(verb string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stalled[verb]
}

func (b *Bridge) reply(conn net.Conn, line string) {
	b.mu.Lock()
	noise, delay := b.noise, b.replyDelay
	b.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if noise {
		io.WriteString(conn, "PING 1234\nDATAGRAM RECEIVED DESTINATION=AAAA SIZE=0\n")
	}
	io.WriteString(conn, line+"\n")
}

func (b *Bridge) hello(conn net.Conn, line string) bool {
	kv := fields(line)
	lo, hi := minVersion, maxVersion
	if s, ok := kv["MIN"]; ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > lo {
			lo = v
		}
	}
	if s, ok := kv["MAX"]; ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v < hi {
			hi = v
		}
	}
	if lo > hi {
		b.reply(conn, "HELLO REPLY RESULT=NOVERSION")
		return false
	}
	b.reply(conn, fmt.Sprintf("HELLO REPLY RESULT=OK VERSION=%.1f", hi))
	return true
}

func (b *Bridge) createSession(conn net.Conn, line string) {
	kv := fields(line)
	id := kv["ID"]
	style := protocol.Style(kv["STYLE"])
	if id == "" || !style.IsValid() {
		b.reply(conn, `SESSION STATUS RESULT=I2P_ERROR MESSAGE="bad request"`)
		return
	}

	var d identity.Destination
	switch priv := kv["DESTINATION"]; priv {
	case protocol.TransientDestination:
		d = GenerateDestination()
	default:
		raw, err := identity.DecodeBase64(priv)
		if err != nil || len(raw) < publicKeyLength {
			b.reply(conn, "SESSION STATUS RESULT=INVALID_KEY")
			return
		}
		d = identity.Destination{Public: encoding.EncodeToString(raw[:publicKeyLength]), Private: priv}
	}

	port, _ := strconv.Atoi(kv["PORT"])

	b.mu.Lock()
	if _, dup := b.sessions[id]; dup {
		b.mu.Unlock()
		b.reply(conn, "SESSION STATUS RESULT=DUPLICATED_ID")
		return
	}
	for _, s := range b.sessions {
		if s.dest.Public == d.Public {
			b.mu.Unlock()
			b.reply(conn, "SESSION STATUS RESULT=DUPLICATED_DEST")
			return
		}
	}
	b.sessions[id] = &session{id: id, style: style, dest: d, host: kv["HOST"], port: port, conn: conn}
	b.mu.Unlock()

	// Like the Java bridge, the reply echoes the private destination.
	b.reply(conn, "SESSION STATUS RESULT=OK DESTINATION="+d.Private)
}

func (b *Bridge) lookup(conn net.Conn, line string) {
	name := fields(line)["NAME"]
	if public := b.resolve(conn, name); public != "" {
		b.reply(conn, fmt.Sprintf("NAMING REPLY RESULT=OK NAME=%s VALUE=%s", name, public))
		return
	}
	b.reply(conn, fmt.Sprintf("NAMING REPLY RESULT=KEY_NOT_FOUND NAME=%s", name))
}

// resolve maps a name, b32 address or base64 destination to a public key.
func (b *Bridge) resolve(conn net.Conn, name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "ME" {
		for _, s := range b.sessions {
			if s.conn == conn {
				return s.dest.Public
			}
		}
		return ""
	}
	if public, ok := b.names[name]; ok {
		return public
	}
	candidates := make([]string, 0, len(b.sessions)+len(b.echoes))
	for _, s := range b.sessions {
		candidates = append(candidates, s.dest.Public)
	}
	for public := range b.echoes {
		candidates = append(candidates, public)
	}
	for _, public := range candidates {
		if public == name {
			return public
		}
		if strings.HasSuffix(name, protocol.B32Suffix) {
			if addr, err := (identity.Destination{Public: public}).B32Address(); err == nil && addr == name {
				return public
			}
		}
	}
	return ""
}

// stream handles STREAM CONNECT and STREAM FORWARD. It reports whether the
// connection was consumed by a spliced stream.
func (b *Bridge) stream(conn net.Conn, r *bufio.Reader, line string) bool {
	kv := fields(line)
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return false
	}

	b.mu.Lock()
	s, ok := b.sessions[kv["ID"]]
	b.mu.Unlock()
	if !ok || s.style != protocol.StyleStream {
		b.reply(conn, "STREAM STATUS RESULT=INVALID_ID")
		return false
	}

	switch parts[1] {
	case "FORWARD":
		port, _ := strconv.Atoi(kv["PORT"])
		b.mu.Lock()
		s.forwardHost, s.forwardPort = kv["HOST"], port
		s.forwardSilent = kv["SILENT"] == "true"
		b.mu.Unlock()
		b.reply(conn, "STREAM STATUS RESULT=OK")
		return false
	case "CONNECT":
		return b.connect(conn, r, s, kv)
	}
	b.reply(conn, "STREAM STATUS RESULT=I2P_ERROR")
	return false
}

func (b *Bridge) connect(conn net.Conn, r *bufio.Reader, src *session, kv map[string]string) bool {
	dest := b.resolve(conn, kv["DESTINATION"])

	b.mu.Lock()
	echo := b.echoes[dest]
	var target *session
	for _, s := range b.sessions {
		if s.dest.Public == dest && s.forwardPort > 0 {
			target = s
		}
	}
	b.mu.Unlock()

	switch {
	case echo:
		b.reply(conn, "STREAM STATUS RESULT=OK")
		io.Copy(conn, r)
		return true
	case target != nil:
		out, err := net.Dial("tcp", net.JoinHostPort(target.forwardHost, strconv.Itoa(target.forwardPort)))
		if err != nil {
			b.reply(conn, "STREAM STATUS RESULT=CANT_REACH_PEER")
			return false
		}
		if !target.forwardSilent {
			io.WriteString(out, src.dest.Public+" FROM_PORT=0 TO_PORT=0\n")
		}
		b.reply(conn, "STREAM STATUS RESULT=OK")
		go func() {
			io.Copy(conn, out)
			conn.Close()
		}()
		io.Copy(out, r)
		out.Close()
		return true
	}
	b.reply(conn, "STREAM STATUS RESULT=CANT_REACH_PEER")
	return false
}

func (b *Bridge) datagramLoop() {
	defer b.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, _, err := b.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.datagrams++
		b.mu.Unlock()

		packet := append([]byte(nil), buf[:n]...)
		header, body, ok := strings.Cut(string(packet), "\n")
		if !ok {
			continue
		}
		parts := strings.Fields(header)
		if len(parts) < 3 || parts[0] != protocol.DatagramVersion {
			continue
		}
		b.deliver(parts[1], parts[2], []byte(body))
	}
}

func (b *Bridge) deliver(id, dest string, body []byte) {
	public := b.resolve(nil, dest)

	b.mu.Lock()
	src, ok := b.sessions[id]
	var target *session
	for _, s := range b.sessions {
		if s.dest.Public == public && s.style.IsDatagram() && s.port > 0 {
			target = s
		}
	}
	b.mu.Unlock()
	if !ok || !src.style.IsDatagram() || target == nil {
		return
	}

	payload := body
	if target.style == protocol.StyleDatagram {
		payload = append([]byte(src.dest.Public+"\n"), body...)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(target.host, strconv.Itoa(target.port)))
	if err != nil {
		return
	}
	b.udp.WriteToUDP(payload, addr)
}

func fields(line string) map[string]string {
	kv := make(map[string]string)
	for _, tok := range strings.Fields(line) {
		if k, v, ok := strings.Cut(tok, "="); ok {
			kv[k] = v
		}
	}
	return kv
}

package protocol

import (
	"strconv"
	"strings"
)

// HelloCommand builds "HELLO VERSION[ MIN=x][ MAX=y]\n".
func HelloCommand(min, max string) string {
	var b strings.Builder
	b.WriteString("HELLO VERSION")
	if min != "" {
		b.WriteString(" MIN=")
		b.WriteString(min)
	}
	if max != "" {
		b.WriteString(" MAX=")
		b.WriteString(max)
	}
	b.WriteByte('\n')
	return b.String()
}

// DestGenerateCommand builds "DEST GENERATE[ SIGNATURE_TYPE=t]\n".
func DestGenerateCommand(signatureType string) string {
	if signatureType == "" {
		return "DEST GENERATE\n"
	}
	return "DEST GENERATE SIGNATURE_TYPE=" + signatureType + "\n"
}

// SessionRequest holds the arguments of SESSION CREATE.
type SessionRequest struct {
	ID    string
	Style Style
	// PrivateKey is the base64 private destination; empty requests TRANSIENT.
	PrivateKey string
	// Host and Port tell the bridge where to forward received datagrams.
	// They are only sent for datagram styles with a non-zero port.
	Host string
	Port int
	// Options is appended verbatim.
	Options string
}

// SessionCreateCommand builds
// "SESSION CREATE ID=<id> DESTINATION=<priv|TRANSIENT> STYLE=<style>[ PORT=<p> HOST=<h>][ <options>]\n".
func SessionCreateCommand(req SessionRequest) string {
	dest := req.PrivateKey
	if dest == "" {
		dest = TransientDestination
	}
	var b strings.Builder
	b.WriteString("SESSION CREATE ID=")
	b.WriteString(req.ID)
	b.WriteString(" DESTINATION=")
	b.WriteString(dest)
	b.WriteString(" STYLE=")
	b.WriteString(string(req.Style))
	if req.Style.IsDatagram() && req.Port > 0 {
		b.WriteString(" PORT=")
		b.WriteString(strconv.Itoa(req.Port))
		b.WriteString(" HOST=")
		b.WriteString(req.Host)
	}
	if opts := strings.TrimSpace(req.Options); opts != "" {
		b.WriteByte(' ')
		b.WriteString(opts)
	}
	b.WriteByte('\n')
	return b.String()
}

// NamingLookupCommand builds "NAMING LOOKUP NAME=<name>\n".
func NamingLookupCommand(name string) string {
	return "NAMING LOOKUP NAME=" + name + "\n"
}

// StreamConnectCommand builds "STREAM CONNECT SILENT=<bool> ID=<id> DESTINATION=<dest>\n".
func StreamConnectCommand(id, destination string, silent bool) string {
	return "STREAM CONNECT SILENT=" + strconv.FormatBool(silent) +
		" ID=" + id + " DESTINATION=" + destination + "\n"
}

// StreamForwardCommand builds "STREAM FORWARD SILENT=<bool> ID=<id> PORT=<p> HOST=<h>\n".
func StreamForwardCommand(id, host string, port int, silent bool) string {
	return "STREAM FORWARD SILENT=" + strconv.FormatBool(silent) +
		" ID=" + id + " PORT=" + strconv.Itoa(port) + " HOST=" + host + "\n"
}

// DatagramHeader builds the "3.0 <id> <destination>\n" prefix of a datagram
// sent to the bridge's UDP port.
func DatagramHeader(id, destination string) string {
	return DatagramVersion + " " + id + " " + destination + "\n"
}

// IsResolvableName reports whether name can be passed to NAMING LOOKUP.
func IsResolvableName(name string) bool {
	return strings.HasSuffix(name, NameSuffix)
}

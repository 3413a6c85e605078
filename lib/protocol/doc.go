// Package protocol implements the text layer of the SAM v3 control protocol.
//
// SAM is line oriented: the client writes one newline-terminated command and
// the bridge answers with one newline-terminated reply. Replies carry no
// request identifier, so a reply is recognised only by its kind, the first
// two tokens of the line concatenated:
//
//	HELLO REPLY RESULT=OK VERSION=3.1        -> HELLOREPLY
//	SESSION STATUS RESULT=OK DESTINATION=... -> SESSIONSTATUS
//
// This package parses reply lines, builds command lines, and defines the
// error taxonomy shared by every other package of the module:
//   - ErrConnection: dial failures, socket close
//   - ErrProtocol: any RESULT other than OK, carrying the raw line
//   - ErrConfiguration: invalid local arguments
//   - ErrTimeout: construction deadline exceeded
package protocol

package protocol

import (
	"strings"
)

// Reply is one parsed reply line.
type Reply struct {
	// Kind is one of the Reply* constants.
	Kind string
	// Fields holds the KEY=VALUE pairs of the line.
	Fields map[string]string
	// Line is the trimmed raw line, kept for diagnostics.
	Line string
}

var knownKinds = map[string]bool{
	ReplyHello:   true,
	ReplyDest:    true,
	ReplySession: true,
	ReplyNaming:  true,
	ReplyStream:  true,
}

// ParseReply parses one line of control channel text. It returns nil for
// lines whose kind is not a known reply kind; such lines are dropped by
// callers without error.
func ParseReply(line string) *Reply {
	line = strings.TrimSpace(line)
	tokens := tokenize(line)
	if len(tokens) < 2 {
		return nil
	}
	kind := tokens[0] + tokens[1]
	if !knownKinds[kind] {
		return nil
	}
	return &Reply{
		Kind:   kind,
		Fields: parseFields(tokens[2:]),
		Line:   line,
	}
}

// Get returns the value stored under key, or "" when absent.
func (r *Reply) Get(key string) string {
	return r.Fields[key]
}

// Result returns the RESULT field.
func (r *Reply) Result() string {
	return r.Fields[KeyResult]
}

// OK reports whether the reply carries RESULT=OK.
func (r *Reply) OK() bool {
	return r.Fields[KeyResult] == ResultOK
}

// Failed reports whether RESULT is present with a value other than OK.
// DESTREPLY carries no RESULT on success, so absence is not failure.
func (r *Reply) Failed() bool {
	result, ok := r.Fields[KeyResult]
	return ok && result != ResultOK
}

// Err builds the protocol error for op from this reply.
func (r *Reply) Err(op string) error {
	return NewProtocolError(op, r.Line)
}

// parseFields splits KEY=VALUE tokens on the first '=' so base64 padding in
// values survives. Tokens without '=' are ignored.
func parseFields(tokens []string) map[string]string {
	fields := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		fields[k] = strings.Trim(strings.TrimSpace(v), `"`)
	}
	return fields
}

// tokenize splits on spaces, keeping double-quoted runs together so that
// MESSAGE="some text" stays one token.
func tokenize(line string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ' ' && !quoted:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

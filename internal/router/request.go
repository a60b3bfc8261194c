package router

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"relaybot/internal/subscriber"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Request is one authorized command invocation.
type Request struct {
	Envelope transport.Envelope
	Sender   subscriber.Subscriber
	Kind     CommandKind
	Args     []string // whitespace-split arguments after the command token
	Rest     string   // body after the command token, verbatim
	ReqID    string
	Logger   logx.Logger
}

var ridSeq uint64

// newReqID is base36 time, a sequence number and two random characters.
func newReqID() string {
	n := atomic.AddUint64(&ridSeq, 1)
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := []byte{alpha[rand.IntN(len(alpha))], alpha[rand.IntN(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}

// splitFirst returns the first whitespace-delimited token and the remainder
// with its leading whitespace removed.
func splitFirst(s string) (first, rest string) {
	s = strings.TrimLeft(s, " \t\r\n")
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t\r\n")
}

// tokenize splits s on whitespace while keeping double-quoted runs together.
// Straight and curly double quotes are accepted; apostrophes are literal so
// questions like "What's next?" survive.
//
//	"Pizza tonight?" +01:00 yes no  ->  [Pizza tonight?] [+01:00] [yes] [no]
func tokenize(s string) []string {
	var (
		out  []string
		buf  strings.Builder
		inQ  bool
		have bool
	)
	flush := func() {
		if have {
			out = append(out, buf.String())
			buf.Reset()
			have = false
		}
	}
	for _, r := range s {
		switch {
		case r == '"' || r == '“' || r == '”':
			if inQ {
				inQ = false
				flush()
			} else {
				flush()
				inQ = true
				have = true
			}
		case !inQ && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			buf.WriteRune(r)
			have = true
		}
	}
	flush()
	return out
}

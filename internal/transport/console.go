package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
	logx "relaybot/pkg/logx"
)

const maxLine = 1 << 20

// Console is a line-oriented gateway: one JSON Envelope per input line, one
// JSON Outbound per output line. Replies and deliveries share the writer.
type Console struct {
	in  io.Reader
	log logx.Logger

	mu  sync.Mutex
	out io.Writer
	enc *json.Encoder
}

func NewConsole(in io.Reader, out io.Writer, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Console{in: in, out: out, enc: json.NewEncoder(out), log: log}
}

// Run feeds envelopes to h one at a time until the input ends or ctx is done.
func (c *Console) Run(ctx context.Context, h Handler) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		sc.Buffer(make([]byte, 64*1024), maxLine)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return goerr.Wrap(err, "console input failed")
					}
				default:
				}
				return nil
			}
			c.handleLine(ctx, h, line)
		}
	}
}

func (c *Console) handleLine(ctx context.Context, h Handler, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	var env Envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		c.log.Warn("skipping malformed input line", logx.Err(err))
		return
	}
	reply, ok := h.Handle(ctx, env)
	if !ok {
		return
	}
	if err := c.write(Outbound{ID: uuid.NewString(), To: env.From, Body: reply}); err != nil {
		c.log.Warn("reply not written", logx.String("to", env.From), logx.Err(err))
	}
}

// Deliver writes msg as an Outbound line and returns its id.
func (c *Console) Deliver(ctx context.Context, to, body string, media []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", goerr.Wrap(errs.ErrExternalService, "delivery cancelled", goerr.V("to", to), goerr.V("cause", err.Error()))
	}
	msg := Outbound{ID: uuid.NewString(), To: to, Body: body, Media: media}
	if err := c.write(msg); err != nil {
		return "", goerr.Wrap(errs.ErrExternalService, "delivery failed", goerr.V("to", to), goerr.V("cause", err.Error()))
	}
	return msg.ID, nil
}

func (c *Console) write(msg Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(msg)
}

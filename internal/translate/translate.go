// Package translate defines the machine-translation port and the small wrappers
// the bot puts around it: a deadline-enforcing client and a per-call memo.
package translate

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
	logx "relaybot/pkg/logx"
)

// Translator turns text into the target language.
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// Language is one entry of the service's advertised language list.
type Language struct {
	Code    string   `json:"code"`
	Name    string   `json:"name"`
	Targets []string `json:"targets,omitempty"`
}

// Lister is implemented by translators that can advertise their languages.
type Lister interface {
	Languages(ctx context.Context) ([]Language, error)
}

// Func adapts a function to Translator.
type Func func(ctx context.Context, text, target string) (string, error)

func (f Func) Translate(ctx context.Context, text, target string) (string, error) {
	return f(ctx, text, target)
}

// Bounded wraps a Translator with a per-call deadline. Every failure comes
// back wrapped in errs.ErrExternalService so callers can report it verbatim.
type Bounded struct {
	next    Translator
	timeout time.Duration
	log     logx.Logger
}

func NewBounded(next Translator, timeout time.Duration, log logx.Logger) *Bounded {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bounded{next: next, timeout: timeout, log: log}
}

func (b *Bounded) Translate(ctx context.Context, text, target string) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := b.next.Translate(ctx, text, target)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "translation timed out"
		}
		b.log.Warn("translation failed", logx.String("target", target), logx.Duration("took", time.Since(start)), logx.Err(err))
		if errors.Is(err, errs.ErrExternalService) {
			return "", err
		}
		return "", goerr.Wrap(errs.ErrExternalService, reason, goerr.V("target", target), goerr.V("cause", reason))
	}
	b.log.Trace("translated", logx.String("target", target), logx.Duration("took", time.Since(start)))
	return out, nil
}

// Languages forwards to the wrapped translator when it can list languages.
func (b *Bounded) Languages(ctx context.Context) ([]Language, error) {
	l, ok := b.next.(Lister)
	if !ok {
		return nil, goerr.New("translator cannot list languages")
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return l.Languages(ctx)
}

// Memo translates one fixed text into many languages, calling the underlying
// translator at most once per language. It lives for a single fan-out and is
// not safe for concurrent use.
type Memo struct {
	next  Translator
	text  string
	cache map[string]string
}

func NewMemo(next Translator, text string) *Memo {
	return &Memo{next: next, text: text, cache: map[string]string{}}
}

// To returns the text in lang.
func (m *Memo) To(ctx context.Context, lang string) (string, error) {
	if out, ok := m.cache[lang]; ok {
		return out, nil
	}
	out, err := m.next.Translate(ctx, m.text, lang)
	if err != nil {
		return "", err
	}
	m.cache[lang] = out
	return out, nil
}

// Languages reports how many distinct languages were translated.
func (m *Memo) Languages() int { return len(m.cache) }

// Package lang holds the language metadata shared by all bot components: the
// set of supported codes, human-readable names, and the localized reply catalog.
//
// One Service is built at startup and passed by reference to the router and
// subscriber store.
package lang

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"relaybot/internal/translate"
	logx "relaybot/pkg/logx"
)

// Source is the language the catalog is written in.
const Source = "en"

type Service struct {
	langs  []translate.Language
	byCode map[string]translate.Language
	tr     translate.Translator
	log    logx.Logger

	mu      sync.Mutex
	catalog map[string]map[Msg]string // lang -> msg -> translated text
}

// New builds a Service from an explicit language list. tr may be nil, in which
// case every message is served in English.
func New(langs []translate.Language, tr translate.Translator, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		byCode:  map[string]translate.Language{},
		tr:      tr,
		log:     log,
		catalog: map[string]map[Msg]string{},
	}
	for _, l := range langs {
		code := strings.ToLower(strings.TrimSpace(l.Code))
		if code == "" {
			continue
		}
		l.Code = code
		if _, dup := s.byCode[code]; dup {
			continue
		}
		s.byCode[code] = l
		s.langs = append(s.langs, l)
	}
	sort.Slice(s.langs, func(i, j int) bool { return s.langs[i].Code < s.langs[j].Code })
	return s
}

// Load asks lister for the advertised languages and falls back to file (the
// LibreTranslate /languages JSON shape) when the service does not answer.
func Load(ctx context.Context, lister translate.Lister, file string, tr translate.Translator, log logx.Logger) (*Service, error) {
	if lister != nil {
		langs, err := lister.Languages(ctx)
		if err == nil && len(langs) > 0 {
			return New(langs, tr, log), nil
		}
		log.Warn("language list unavailable from service; using file", logx.String("file", file), logx.Err(err))
	}
	langs, err := ReadFile(file)
	if err != nil {
		return nil, err
	}
	return New(langs, tr, log), nil
}

// ReadFile reads a JSON language list.
func ReadFile(path string) ([]translate.Language, error) {
	if strings.TrimSpace(path) == "" {
		return nil, goerr.New("no language list: translation.languages_file is empty and no mirror answered")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read languages file", goerr.V("path", path))
	}
	var langs []translate.Language
	if err := json.Unmarshal(b, &langs); err != nil {
		return nil, goerr.Wrap(err, "failed to parse languages file", goerr.V("path", path))
	}
	return langs, nil
}

// Supported reports whether code is advertised by the translation service.
func (s *Service) Supported(code string) bool {
	_, ok := s.byCode[strings.ToLower(strings.TrimSpace(code))]
	return ok
}

// Codes lists supported codes in sorted order.
func (s *Service) Codes() []string {
	out := make([]string, 0, len(s.langs))
	for _, l := range s.langs {
		out = append(out, l.Code)
	}
	return out
}

// Name renders code's language name in the viewer's language, falling back to
// the English name from the service list.
func (s *Service) Name(code, viewer string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	fallback := code
	if l, ok := s.byCode[code]; ok && l.Name != "" {
		fallback = l.Name
	}
	tag, err := language.Parse(code)
	if err != nil {
		return fallback
	}
	vt, err := language.Parse(viewer)
	if err != nil {
		vt = language.English
	}
	if n := display.Tags(vt).Name(tag); n != "" {
		return n
	}
	return fallback
}

// Text returns msg in code. Translations are cached per language; on a
// translation failure the English text is returned and nothing is cached.
func (s *Service) Text(ctx context.Context, code string, msg Msg) string {
	src := msg.English()
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || code == Source || s.tr == nil || src == "" {
		return src
	}

	s.mu.Lock()
	if m, ok := s.catalog[code]; ok {
		if out, ok := m[msg]; ok {
			s.mu.Unlock()
			return out
		}
	}
	s.mu.Unlock()

	out, err := s.tr.Translate(ctx, src, code)
	if err != nil {
		s.log.Debug("catalog translation failed; serving english", logx.String("lang", code), logx.String("msg", msg.String()), logx.Err(err))
		return src
	}

	s.mu.Lock()
	m, ok := s.catalog[code]
	if !ok {
		m = map[Msg]string{}
		s.catalog[code] = m
	}
	m[msg] = out
	s.mu.Unlock()
	return out
}

// Usage is msg followed by a localized "Example:" line and the literal example.
func (s *Service) Usage(ctx context.Context, code string, msg Msg, example string) string {
	var b strings.Builder
	if msg != MsgNone {
		b.WriteString(s.Text(ctx, code, msg))
		b.WriteString(" ")
	}
	b.WriteString(s.Text(ctx, code, MsgExample))
	b.WriteString("\n")
	b.WriteString(example)
	return b.String()
}

// LanguageList renders "code name" lines for every supported language.
func (s *Service) LanguageList(viewer string) string {
	var b strings.Builder
	for i, l := range s.langs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(l.Code)
		b.WriteString(" ")
		b.WriteString(s.Name(l.Code, viewer))
	}
	return b.String()
}

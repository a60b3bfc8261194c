package app

import (
	"context"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/lang"
	"relaybot/internal/secret"
	"relaybot/internal/subscriber"
	"relaybot/internal/translate"
	"relaybot/pkg/libretranslate"
	logx "relaybot/pkg/logx"
)

const defaultTranslationTimeout = 5 * time.Second

// libreTranslator adapts the HTTP client to the translate ports.
type libreTranslator struct {
	c *libretranslate.Client
}

func (l libreTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	return l.c.Translate(ctx, text, target)
}

func (l libreTranslator) Languages(ctx context.Context) ([]translate.Language, error) {
	in, err := l.c.Languages(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]translate.Language, 0, len(in))
	for _, x := range in {
		out = append(out, translate.Language{Code: x.Code, Name: x.Name, Targets: x.Targets})
	}
	return out, nil
}

// newTranslator builds the deadline-bounded translator. It returns nil when
// no mirror is configured; messages then pass through untranslated.
func newTranslator(cfg *config.Config, log logx.Logger) (*translate.Bounded, error) {
	timeout, err := config.ParseDurationOrDefault("translation.timeout", cfg.Translation.Timeout, defaultTranslationTimeout)
	if err != nil {
		return nil, err
	}
	if len(cfg.Translation.Mirrors) == 0 {
		return nil, nil
	}
	opts := []libretranslate.Option{libretranslate.WithTimeout(timeout)}
	if cfg.Translation.APIKey != "" {
		opts = append(opts, libretranslate.WithAPIKey(cfg.Translation.APIKey))
	}
	client := libretranslate.NewClient(cfg.Translation.Mirrors, opts...)
	// Each mirror gets the full timeout; the outer deadline covers all of them.
	outer := timeout * time.Duration(len(client.Mirrors()))
	return translate.NewBounded(libreTranslator{c: client}, outer, log.With(logx.String("comp", "translate"))), nil
}

// Core is the part of the bot the CLI maintenance commands need too.
type Core struct {
	Keys        secret.Store
	Translator  translate.Translator // nil without mirrors
	Lang        *lang.Service
	Subscribers *subscriber.Store
}

// OpenCore resolves secrets, loads language metadata and the subscriber set.
// A subscriber load failure is logged and leaves the store degraded; only
// configuration and secret errors are returned.
func OpenCore(ctx context.Context, cfg *config.Config, log logx.Logger) (*Core, error) {
	keys, err := secret.Open(secret.Config{
		Driver: cfg.Secrets.Driver,
		DotEnv: cfg.Secrets.DotEnv,
		Dir:    cfg.Secrets.Dir,
	})
	if err != nil {
		return nil, err
	}

	bounded, err := newTranslator(cfg, log)
	if err != nil {
		return nil, err
	}
	var (
		tr     translate.Translator
		lister translate.Lister
	)
	if bounded != nil {
		tr, lister = bounded, bounded
	}
	langs, err := lang.Load(ctx, lister, strings.TrimSpace(cfg.Translation.LanguagesFile), tr, log.With(logx.String("comp", "lang")))
	if err != nil {
		return nil, err
	}

	vault := subscriber.NewVault(cfg.Subscribers.Path, cfg.Subscribers.BackupFile(), keys, cfg.Subscribers.Key(), log.With(logx.String("comp", "vault")))
	subs := subscriber.New(vault, langs, log.With(logx.String("comp", "subscribers")))
	if err := subs.Load(ctx); err != nil {
		log.Error("subscriber list unavailable; management commands disabled", logx.Err(err))
	}
	return &Core{Keys: keys, Translator: tr, Lang: langs, Subscribers: subs}, nil
}

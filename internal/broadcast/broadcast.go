package broadcast

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
	"relaybot/internal/subscriber"
	"relaybot/internal/translate"
	logx "relaybot/pkg/logx"
)

// Broadcast delivers text and media to every subscriber except sender. When
// sender is a subscriber the body is prefixed with its display name.
//
// The returned error is non-nil only when translation failed; it wraps
// errs.ErrExternalService and the Result reflects what was delivered before
// the failure.
func (s *Service) Broadcast(ctx context.Context, text, sender string, media []string) (Result, error) {
	start := time.Now()
	memo := translate.NewMemo(s.tr, text)

	subs := s.dir.List()
	prefix := ""
	for _, sub := range subs {
		if sub.Contact == sender {
			prefix = sub.Name + ": "
			break
		}
	}

	var res Result
	for _, sub := range subs {
		if sub.Contact == sender {
			continue
		}
		res.Total++
		body, err := s.render(ctx, memo, text, sub.Lang)
		if err != nil {
			res.Languages = memo.Languages()
			res.Took = time.Since(start)
			s.log.Warn("broadcast stopped on translation failure",
				logx.String("lang", sub.Lang),
				logx.Int("delivered", res.Delivered),
				logx.Err(err))
			return res, err
		}
		if err := s.sendOne(ctx, sub.Contact, prefix+body, media); err != nil {
			res.Failed++
			if len(res.Failures) < 200 {
				res.Failures = append(res.Failures, sub.Contact)
			}
			continue
		}
		res.Delivered++
	}
	res.Languages = memo.Languages()
	res.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("total", res.Total),
		logx.Int("failed", res.Failed),
		logx.Int("langs", res.Languages),
		logx.Duration("dur", res.Took),
	}
	if res.Failed > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}
	return res, nil
}

// Send translates text into to's language and delivers it to that one
// subscriber, marked as private from from. Unlike Broadcast, a delivery
// failure is returned.
func (s *Service) Send(ctx context.Context, from, to subscriber.Subscriber, text string, media []string) error {
	body, err := s.render(ctx, translate.NewMemo(s.tr, text), text, to.Lang)
	if err != nil {
		return err
	}
	if from.Name != "" {
		body = from.Name + " (private): " + body
	}
	if err := s.sendOne(ctx, to.Contact, body, media); err != nil {
		return goerr.Wrap(errs.ErrExternalService, "delivery failed", goerr.V("to", to.Contact), goerr.V("cause", err.Error()))
	}
	return nil
}

func (s *Service) render(ctx context.Context, memo *translate.Memo, text, lang string) (string, error) {
	if text == "" || s.tr == nil {
		return text, nil
	}
	out, err := memo.To(ctx, lang)
	if err != nil {
		return "", goerr.Wrap(errs.ErrExternalService, "translation failed", goerr.V("lang", lang), goerr.V("cause", causeText(err)))
	}
	return out, nil
}

// causeText keeps a service message already attached by the translator.
func causeText(err error) string {
	if s, ok := errs.Values(err)["cause"].(string); ok && s != "" {
		return s
	}
	return err.Error()
}

func (s *Service) sendOne(ctx context.Context, to, body string, media []string) error {
	// Snapshot mutable dependencies to avoid races with Apply().
	s.mu.Lock()
	lim := s.limiter
	retry := s.cfg.RetryMax
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	var last error
	for i := 0; i <= retry; i++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		id, err := s.deliver(ctx, timeout, to, body, media)
		if err == nil {
			s.log.Debug("delivered", logx.String("to", to), logx.String("id", id))
			return nil
		}
		last = err
		if i == retry {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		s.log.Debug("delivery retry scheduled", logx.String("to", to), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	s.log.Warn("delivery failed", logx.String("to", to), logx.Err(last))
	return last
}

func (s *Service) deliver(ctx context.Context, timeout time.Duration, to, body string, media []string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.out.Deliver(ctx, to, body, media)
}

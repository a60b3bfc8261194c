package translate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"relaybot/internal/errs"
	"relaybot/internal/translate"
	logx "relaybot/pkg/logx"
)

func TestMemoTranslatesOncePerLanguage(t *testing.T) {
	calls := map[string]int{}
	tr := translate.Func(func(_ context.Context, text, target string) (string, error) {
		calls[target]++
		return target + ":" + text, nil
	})
	m := translate.NewMemo(tr, "hello")
	for _, lang := range []string{"es", "fr", "es", "es", "fr", "de"} {
		out, err := m.To(context.Background(), lang)
		gt.NoError(t, err).Required()
		gt.Value(t, out).Equal(lang + ":hello")
	}
	gt.Value(t, calls).Equal(map[string]int{"es": 1, "fr": 1, "de": 1})
	gt.Value(t, m.Languages()).Equal(3)
}

func TestMemoDoesNotCacheFailures(t *testing.T) {
	fail := true
	tr := translate.Func(func(_ context.Context, text, target string) (string, error) {
		if fail {
			return "", errors.New("mirror down")
		}
		return text, nil
	})
	m := translate.NewMemo(tr, "hi")
	_, err := m.To(context.Background(), "es")
	gt.Error(t, err)
	fail = false
	out, err := m.To(context.Background(), "es")
	gt.NoError(t, err)
	gt.Value(t, out).Equal("hi")
}

func TestBoundedTimesOut(t *testing.T) {
	slow := translate.Func(func(ctx context.Context, text, target string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	b := translate.NewBounded(slow, 20*time.Millisecond, logx.Nop())
	start := time.Now()
	_, err := b.Translate(context.Background(), "hi", "es")
	gt.Bool(t, errors.Is(err, errs.ErrExternalService)).True()
	gt.Bool(t, time.Since(start) < time.Second).True()
	gt.Value(t, errs.Values(err)["cause"]).Equal(any("translation timed out"))
}

package subscriber_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"relaybot/internal/errs"
	"relaybot/internal/secret"
	"relaybot/internal/subscriber"
	logx "relaybot/pkg/logx"
)

type langSet map[string]bool

func (l langSet) Supported(code string) bool { return l[code] }

var langs = langSet{"en": true, "es": true, "fr": true}

func testKeys(fill byte) secret.Store {
	env := map[string]string{"RELAYBOT_KEY_SUBSCRIBERS": secret.Encode(bytes.Repeat([]byte{fill}, secret.KeySize))}
	return secret.NewEnvStore(func(k string) (string, bool) { v, ok := env[k]; return v, ok })
}

type fixture struct {
	dir    string
	path   string
	backup string
	store  *subscriber.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{dir: dir, path: filepath.Join(dir, "subs.enc"), backup: filepath.Join(dir, "subs.enc.bak")}
	f.store = f.open(t)
	gt.NoError(t, f.store.Seed(context.Background(), subscriber.Subscriber{Contact: "+1000", Name: "root", Lang: "en", Role: subscriber.RoleSuper})).Required()
	gt.NoError(t, f.store.Seed(context.Background(), subscriber.Subscriber{Contact: "+2000", Name: "ada", Lang: "en", Role: subscriber.RoleAdmin})).Required()
	return f
}

func (f *fixture) open(t *testing.T) *subscriber.Store {
	t.Helper()
	v := subscriber.NewVault(f.path, f.backup, testKeys(9), "subscribers", logx.Nop())
	st := subscriber.New(v, langs, logx.Nop())
	gt.NoError(t, st.Load(context.Background())).Required()
	return st
}

func TestLoadMissingFilesIsEmpty(t *testing.T) {
	dir := t.TempDir()
	v := subscriber.NewVault(filepath.Join(dir, "a"), filepath.Join(dir, "b"), testKeys(1), "subscribers", logx.Nop())
	st := subscriber.New(v, langs, logx.Nop())
	gt.NoError(t, st.Load(context.Background())).Required()
	gt.Number(t, st.Len()).Equal(0)
	gt.Bool(t, st.Degraded()).False()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Add(ctx, "+1000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "es", Role: "user"})
	gt.NoError(t, err).Required()

	first, err := os.ReadFile(f.path)
	gt.NoError(t, err).Required()
	mirror, err := os.ReadFile(f.backup)
	gt.NoError(t, err).Required()
	gt.Value(t, mirror).Equal(first)

	again := f.open(t)
	gt.Value(t, again.List()).Equal(f.store.List())

	gt.NoError(t, again.Save(ctx)).Required()
	third := f.open(t)
	gt.Value(t, third.List()).Equal(f.store.List())

	bob, ok := third.Get("+3000")
	gt.Bool(t, ok).True()
	gt.Value(t, bob).Equal(subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "es", Role: subscriber.RoleUser})
}

func TestCorruptPrimaryFallsBackToBackup(t *testing.T) {
	f := newFixture(t)
	want := f.store.List()

	gt.NoError(t, os.WriteFile(f.path, []byte("garbage that is long enough to hold a nonce and a tag......"), 0o600)).Required()
	st := f.open(t)
	gt.Value(t, st.List()).Equal(want)
}

func TestBothCorruptDegrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gt.NoError(t, os.WriteFile(f.path, []byte("x"), 0o600)).Required()
	gt.NoError(t, os.WriteFile(f.backup, []byte("y"), 0o600)).Required()

	v := subscriber.NewVault(f.path, f.backup, testKeys(9), "subscribers", logx.Nop())
	st := subscriber.New(v, langs, logx.Nop())
	err := st.Load(ctx)
	gt.Bool(t, errors.Is(err, errs.ErrPersistence)).True()
	gt.Bool(t, st.Degraded()).True()

	_, err = st.Add(ctx, "+1000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "es", Role: "user"})
	gt.Bool(t, errors.Is(err, errs.ErrPersistence)).True()
}

func TestWrongKeyCannotRead(t *testing.T) {
	f := newFixture(t)
	v := subscriber.NewVault(f.path, f.backup, testKeys(3), "subscribers", logx.Nop())
	st := subscriber.New(v, langs, logx.Nop())
	gt.Bool(t, errors.Is(st.Load(context.Background()), errs.ErrPersistence)).True()
}

func TestAddRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		name      string
		requester string
		sub       subscriber.Subscriber
		want      error
	}{
		{"unsupported lang", "+2000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "xx", Role: "user"}, errs.ErrValidation},
		{"bad role", "+2000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "en", Role: "owner"}, errs.ErrValidation},
		{"reserved name", "+2000", subscriber.Subscriber{Contact: "+3000", Name: "_bot", Lang: "en", Role: "user"}, errs.ErrValidation},
		{"empty name", "+2000", subscriber.Subscriber{Contact: "+3000", Name: " ", Lang: "en", Role: "user"}, errs.ErrValidation},
		{"duplicate contact", "+2000", subscriber.Subscriber{Contact: "+1000", Name: "bob", Lang: "en", Role: "user"}, errs.ErrConflict},
		{"duplicate name", "+2000", subscriber.Subscriber{Contact: "+3000", Name: "ada", Lang: "en", Role: "user"}, errs.ErrConflict},
		{"admin grants super", "+2000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "en", Role: "super"}, errs.ErrAuthorization},
		{"unknown requester", "+9999", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "en", Role: "user"}, errs.ErrAuthorization},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.store.Add(ctx, tc.requester, tc.sub)
			gt.Bool(t, errors.Is(err, tc.want)).True()
			gt.Number(t, f.store.Len()).Equal(2)
		})
	}

	got, err := f.store.Add(ctx, "+1000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "ES", Role: "Super"})
	gt.NoError(t, err).Required()
	gt.Value(t, got.Lang).Equal("es")
	gt.Value(t, got.Role).Equal(subscriber.RoleSuper)
}

func TestRemoveRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Add(ctx, "+2000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "es", Role: "user"})
	gt.NoError(t, err).Required()

	_, err = f.store.Remove(ctx, "+2000", "nobody")
	gt.Bool(t, errors.Is(err, errs.ErrNotFound)).True()

	_, err = f.store.Remove(ctx, "+2000", "ada")
	gt.Bool(t, errors.Is(err, errs.ErrConflict)).True()

	_, err = f.store.Remove(ctx, "+2000", "root")
	gt.Bool(t, errors.Is(err, errs.ErrAuthorization)).True()

	_, err = f.store.Remove(ctx, "+3000", "ada")
	gt.Bool(t, errors.Is(err, errs.ErrAuthorization)).True()

	removed, err := f.store.Remove(ctx, "+2000", "+3000")
	gt.NoError(t, err).Required()
	gt.Value(t, removed.Name).Equal("bob")
	_, ok := f.open(t).Get("+3000")
	gt.Bool(t, ok).False()
}

func TestSuperRemovesAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	removed, err := f.store.Remove(ctx, "+1000", "ada")
	gt.NoError(t, err).Required()
	gt.Value(t, removed.Contact).Equal("+2000")
	gt.Value(t, removed.Role).Equal(subscriber.RoleAdmin)

	reloaded := f.open(t)
	_, ok := reloaded.Get("+2000")
	gt.Bool(t, ok).False()
	_, ok = reloaded.Get("+1000")
	gt.Bool(t, ok).True()
}

func TestRemoveResolvesNameBeforeContact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// A subscriber whose display name equals another subscriber's contact.
	_, err := f.store.Add(ctx, "+1000", subscriber.Subscriber{Contact: "+4000", Name: "+3000", Lang: "en", Role: "user"})
	gt.NoError(t, err).Required()
	_, err = f.store.Add(ctx, "+1000", subscriber.Subscriber{Contact: "+3000", Name: "carol", Lang: "en", Role: "user"})
	gt.NoError(t, err).Required()

	removed, err := f.store.Remove(ctx, "+1000", "+3000")
	gt.NoError(t, err).Required()
	gt.Value(t, removed.Contact).Equal("+4000")
}

func TestEditRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.Add(ctx, "+2000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "es", Role: "user"})
	gt.NoError(t, err).Required()

	_, err = f.store.Edit(ctx, "+2000", "root", subscriber.Subscriber{Name: "root", Lang: "fr", Role: "super"})
	gt.Bool(t, errors.Is(err, errs.ErrAuthorization)).True()

	_, err = f.store.Edit(ctx, "+2000", "bob", subscriber.Subscriber{Name: "ada", Lang: "fr", Role: "user"})
	gt.Bool(t, errors.Is(err, errs.ErrConflict)).True()

	_, err = f.store.Edit(ctx, "+2000", "zed", subscriber.Subscriber{Name: "zed", Lang: "fr", Role: "user"})
	gt.Bool(t, errors.Is(err, errs.ErrNotFound)).True()

	got, err := f.store.Edit(ctx, "+2000", "bob", subscriber.Subscriber{Name: "bobby", Lang: "fr", Role: "admin"})
	gt.NoError(t, err).Required()
	gt.Value(t, got).Equal(subscriber.Subscriber{Contact: "+3000", Name: "bobby", Lang: "fr", Role: subscriber.RoleAdmin})
}

func TestFailedSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// Make the primary path unwritable by turning it into a directory.
	gt.NoError(t, os.Remove(f.path)).Required()
	gt.NoError(t, os.MkdirAll(filepath.Join(f.path, "block"), 0o700)).Required()

	_, err := f.store.Add(ctx, "+1000", subscriber.Subscriber{Contact: "+3000", Name: "bob", Lang: "es", Role: "user"})
	gt.Bool(t, errors.Is(err, errs.ErrPersistence)).True()
	_, ok := f.store.Get("+3000")
	gt.Bool(t, ok).False()
	gt.Number(t, f.store.Len()).Equal(2)
}

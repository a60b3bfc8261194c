// Package secret resolves named symmetric keys from outside the encrypted payloads
// they protect.
package secret

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
)

// KeySize is the length of every key this package hands out.
const KeySize = 32

// EnvPrefix prefixes the environment variables read by the env driver.
const EnvPrefix = "RELAYBOT_KEY_"

// Store returns key material by name.
type Store interface {
	Key(ctx context.Context, name string) ([]byte, error)
}

// Config selects the driver. See config.SecretsConfig.
type Config struct {
	Driver string
	DotEnv string
	Dir    string
}

// Open builds the configured store.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "env":
		if p := strings.TrimSpace(cfg.DotEnv); p != "" {
			// Existing environment wins over the file.
			if err := godotenv.Load(p); err != nil {
				return nil, goerr.Wrap(err, "failed to load dotenv file", goerr.V("path", p))
			}
		}
		return EnvStore{lookup: os.LookupEnv}, nil
	case "file":
		dir := strings.TrimSpace(cfg.Dir)
		if dir == "" {
			return nil, goerr.New("secrets.dir is required for file driver")
		}
		return FileStore{Dir: dir}, nil
	default:
		return nil, goerr.New("unknown secrets driver", goerr.V("driver", cfg.Driver))
	}
}

// EnvStore reads base64 keys from RELAYBOT_KEY_<NAME>.
type EnvStore struct {
	lookup func(string) (string, bool)
}

// NewEnvStore is EnvStore over a custom lookup (tests use a map).
func NewEnvStore(lookup func(string) (string, bool)) EnvStore {
	return EnvStore{lookup: lookup}
}

func (s EnvStore) Key(_ context.Context, name string) ([]byte, error) {
	v := EnvName(name)
	raw, ok := s.lookup(v)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, goerr.Wrap(errs.ErrPersistence, "key not set", goerr.V("env", v))
	}
	return decodeKey(raw, v)
}

// FileStore reads base64 keys from <Dir>/<name>.key.
type FileStore struct {
	Dir string
}

func (s FileStore) Key(_ context.Context, name string) ([]byte, error) {
	path := filepath.Join(s.Dir, name+".key")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(errs.ErrPersistence, "failed to read key file", goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	return decodeKey(string(b), path)
}

// EnvName maps a key name to its environment variable.
func EnvName(name string) string {
	up := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
	return EnvPrefix + up
}

// Generate returns a fresh random key, already encoded.
func Generate() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", goerr.Wrap(err, "failed to generate key")
	}
	return Encode(key), nil
}

// Encode renders key material the way both drivers read it.
func Encode(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

func decodeKey(raw, where string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	key, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, goerr.Wrap(errs.ErrPersistence, "key is not base64", goerr.V("source", where))
	}
	if len(key) != KeySize {
		return nil, goerr.Wrap(errs.ErrPersistence, "key has wrong length", goerr.V("source", where), goerr.V("len", len(key)))
	}
	return key, nil
}

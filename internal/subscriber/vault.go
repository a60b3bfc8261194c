package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
	"relaybot/internal/secret"
	logx "relaybot/pkg/logx"
)

// Vault persists the subscriber document as an encrypted primary file plus a
// backup mirror.
//
// Files:
//   - <path>      primary (nonce || sealed JSON)
//   - <backup>    byte copy of the last successfully written primary
//
// Writes go to a temp file and are renamed into place.
type Vault struct {
	path    string
	backup  string
	keys    secret.Store
	keyName string
	log     logx.Logger
}

func NewVault(path, backup string, keys secret.Store, keyName string, log logx.Logger) *Vault {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Vault{path: path, backup: backup, keys: keys, keyName: keyName, log: log}
}

// Read returns the primary document, or the backup when the primary is missing
// or unreadable. Both files missing is a first run and yields an empty document.
func (v *Vault) Read(ctx context.Context) (document, error) {
	key, err := v.keys.Key(ctx, v.keyName)
	if err != nil {
		return nil, err
	}

	doc, perr := v.readFile(key, v.path)
	if perr == nil {
		return doc, nil
	}
	doc, berr := v.readFile(key, v.backup)
	if berr == nil {
		if !errors.Is(perr, fs.ErrNotExist) {
			v.log.Warn("primary subscriber file unreadable; loaded backup", logx.String("path", v.path), logx.String("backup", v.backup), logx.Err(perr))
		} else {
			v.log.Warn("primary subscriber file missing; loaded backup", logx.String("path", v.path), logx.String("backup", v.backup))
		}
		return doc, nil
	}
	if errors.Is(perr, fs.ErrNotExist) && errors.Is(berr, fs.ErrNotExist) {
		v.log.Info("no subscriber file yet; starting empty", logx.String("path", v.path))
		return document{}, nil
	}
	return nil, goerr.Wrap(errs.ErrPersistence, "primary and backup subscriber files unreadable",
		goerr.V("path", v.path),
		goerr.V("backup", v.backup),
		goerr.V("primary_err", perr.Error()),
		goerr.V("backup_err", berr.Error()))
}

func (v *Vault) readFile(key []byte, path string) (document, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plain, err := open(key, sealed)
	if err != nil {
		return nil, err
	}
	doc := document{}
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, goerr.Wrap(errs.ErrPersistence, "subscriber document is not valid JSON", goerr.V("path", path))
	}
	return doc, nil
}

// Write encrypts doc into the primary file and then mirrors the primary into
// the backup. A failed primary write leaves the previous backup untouched.
func (v *Vault) Write(ctx context.Context, doc document) error {
	key, err := v.keys.Key(ctx, v.keyName)
	if err != nil {
		return err
	}
	plain, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode subscribers")
	}
	sealed, err := seal(key, plain)
	if err != nil {
		return err
	}
	if err := writeAtomic(v.path, sealed); err != nil {
		return goerr.Wrap(errs.ErrPersistence, "failed to write subscriber file", goerr.V("path", v.path), goerr.V("cause", err.Error()))
	}
	if err := copyAtomic(v.path, v.backup); err != nil {
		return goerr.Wrap(errs.ErrPersistence, "failed to mirror subscriber file", goerr.V("backup", v.backup), goerr.V("cause", err.Error()))
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

package subscriber

import (
	"crypto/rand"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"relaybot/internal/errs"
)

// File format: 24-byte XChaCha20 nonce followed by the sealed JSON document.

func seal(key, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, goerr.Wrap(errs.ErrPersistence, "invalid subscriber key", goerr.V("cause", err.Error()))
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, goerr.Wrap(err, "failed to read nonce")
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, goerr.Wrap(errs.ErrPersistence, "invalid subscriber key", goerr.V("cause", err.Error()))
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, goerr.Wrap(errs.ErrPersistence, "payload too short", goerr.V("len", len(sealed)))
	}
	nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, goerr.Wrap(errs.ErrPersistence, "payload failed authentication")
	}
	return plain, nil
}

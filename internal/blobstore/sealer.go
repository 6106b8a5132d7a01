package blobstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errInvalidToken = errors.New("invalid blob token")

// sealer turns blob ids into opaque URL tokens and back.
type sealer struct {
	aead cipher.AEAD
}

// newSealer accepts a 32 byte key, raw or base64. An empty key yields a
// random one, so URLs stop resolving after a restart.
func newSealer(raw string) (*sealer, bool, error) {
	raw = strings.TrimSpace(raw)
	generated := false
	var key []byte
	if raw == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, false, fmt.Errorf("generate blob key: %w", err)
		}
		generated = true
	} else {
		var err error
		if key, err = decodeKey(raw); err != nil {
			return nil, false, fmt.Errorf("decode blob key: %w", err)
		}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, false, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, false, fmt.Errorf("gcm: %w", err)
	}
	return &sealer{aead: aead}, generated, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (s *sealer) Seal(id string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	buf := s.aead.Seal(nonce, nonce, []byte(id), nil)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *sealer) Open(token string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", errInvalidToken
	}
	ns := s.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidToken
	}
	plain, err := s.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidToken
	}
	return string(plain), nil
}

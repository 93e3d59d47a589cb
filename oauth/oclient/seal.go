package oclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/Seann-Moser/availsync/store"
)

// Sealer encrypts token values before they reach storage.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(sealed string) (string, error)
}

const sealedPrefix = "sb1:"

var errUnsealable = errors.New("oclient: sealed value could not be opened")

// SecretBoxSealer seals with NaCl secretbox under a 32-byte key. Values
// without the sealed prefix pass through Open unchanged so existing
// plaintext records keep working.
type SecretBoxSealer struct {
	key [32]byte
}

func NewSecretBoxSealer(key []byte) (*SecretBoxSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("oclient: sealing key must be 32 bytes, got %d", len(key))
	}
	s := &SecretBoxSealer{}
	copy(s.key[:], key)
	return s, nil
}

func (s *SecretBoxSealer) Seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("oclient: generating nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(box), nil
}

func (s *SecretBoxSealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return sealed, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil || len(raw) < 24 {
		return "", errUnsealable
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", errUnsealable
	}
	return string(plain), nil
}

// NewSealedStore wraps s so account tokens are sealed at rest.
func NewSealedStore(s store.Store, sealer Sealer) store.Store {
	return &sealedStore{Store: s, sealer: sealer}
}

type sealedStore struct {
	store.Store
	sealer Sealer
}

func (s *sealedStore) open(acc *store.ProviderAccount) (*store.ProviderAccount, error) {
	var err error
	if acc.AccessToken, err = s.sealer.Open(acc.AccessToken); err != nil {
		return nil, fmt.Errorf("%w (account %s)", err, acc.ID)
	}
	if acc.RefreshToken, err = s.sealer.Open(acc.RefreshToken); err != nil {
		return nil, fmt.Errorf("%w (account %s)", err, acc.ID)
	}
	return acc, nil
}

func (s *sealedStore) GetAccount(ctx context.Context, id string) (*store.ProviderAccount, error) {
	acc, err := s.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(acc)
}

func (s *sealedStore) GetAccountByRemoteURI(ctx context.Context, remoteURI string) (*store.ProviderAccount, error) {
	acc, err := s.Store.GetAccountByRemoteURI(ctx, remoteURI)
	if err != nil {
		return nil, err
	}
	return s.open(acc)
}

func (s *sealedStore) ListAccounts(ctx context.Context) ([]*store.ProviderAccount, error) {
	list, err := s.Store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i, acc := range list {
		if list[i], err = s.open(acc); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *sealedStore) SaveAccount(ctx context.Context, acc *store.ProviderAccount) error {
	cp := acc.Clone()
	var err error
	if cp.AccessToken, err = s.sealer.Seal(acc.AccessToken); err != nil {
		return err
	}
	if cp.RefreshToken, err = s.sealer.Seal(acc.RefreshToken); err != nil {
		return err
	}
	return s.Store.SaveAccount(ctx, cp)
}

func (s *sealedStore) UpdateTokens(ctx context.Context, id string, prevExpiry time.Time, t store.Tokens) error {
	var err error
	if t.AccessToken, err = s.sealer.Seal(t.AccessToken); err != nil {
		return err
	}
	if t.RefreshToken, err = s.sealer.Seal(t.RefreshToken); err != nil {
		return err
	}
	return s.Store.UpdateTokens(ctx, id, prevExpiry, t)
}

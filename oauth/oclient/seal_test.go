package oclient

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Seann-Moser/availsync/store"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestSecretBoxSealer(t *testing.T) {
	s, err := NewSecretBoxSealer(testKey(1))
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := s.Seal("at-secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "at-secret") {
		t.Errorf("sealed value looks wrong: %q", sealed)
	}
	again, _ := s.Seal("at-secret")
	if again == sealed {
		t.Error("two seals produced the same ciphertext")
	}

	plain, err := s.Open(sealed)
	if err != nil || plain != "at-secret" {
		t.Errorf("Open = %q, %v", plain, err)
	}

	if plain, err := s.Open("legacy-plaintext"); err != nil || plain != "legacy-plaintext" {
		t.Errorf("Open(plaintext) = %q, %v", plain, err)
	}
	if empty, _ := s.Seal(""); empty != "" {
		t.Errorf("Seal(\"\") = %q", empty)
	}

	other, _ := NewSecretBoxSealer(testKey(2))
	if _, err := other.Open(sealed); err == nil {
		t.Error("opened with the wrong key")
	}
}

func TestNewSecretBoxSealerKeyLength(t *testing.T) {
	if _, err := NewSecretBoxSealer([]byte("short")); err == nil {
		t.Error("accepted a short key")
	}
}

func TestSealedStore(t *testing.T) {
	sealer, _ := NewSecretBoxSealer(testKey(7))
	mem := store.NewMemory()
	s := NewSealedStore(mem, sealer)
	ctx := context.Background()
	expiry := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	if err := s.SaveAccount(ctx, &store.ProviderAccount{ID: "acc-1", RemoteURI: "U1", AccessToken: "at-1", RefreshToken: "rt-1", TokenExpiry: expiry}); err != nil {
		t.Fatal(err)
	}

	raw, _ := mem.GetAccount(ctx, "acc-1")
	if !strings.HasPrefix(raw.AccessToken, sealedPrefix) || !strings.HasPrefix(raw.RefreshToken, sealedPrefix) {
		t.Errorf("tokens stored in the clear: %+v", raw)
	}

	got, err := s.GetAccount(ctx, "acc-1")
	if err != nil || got.AccessToken != "at-1" || got.RefreshToken != "rt-1" {
		t.Fatalf("GetAccount = %+v, %v", got, err)
	}

	if err := s.UpdateTokens(ctx, "acc-1", expiry, store.Tokens{AccessToken: "at-2", RefreshToken: "rt-1", Expiry: expiry.Add(time.Hour)}); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}
	list, err := s.ListAccounts(ctx)
	if err != nil || len(list) != 1 || list[0].AccessToken != "at-2" {
		t.Errorf("ListAccounts = %+v, %v", list, err)
	}
	byURI, err := s.GetAccountByRemoteURI(ctx, "U1")
	if err != nil || byURI.RefreshToken != "rt-1" {
		t.Errorf("GetAccountByRemoteURI = %+v, %v", byURI, err)
	}
}

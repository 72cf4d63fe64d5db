package signing

import (
	"crypto/ed25519"
	"testing"
)

func TestFromMnemonicRejectsBadChecksum(t *testing.T) {
	_, err := FromMnemonic("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", "")
	if err != nil {
		t.Fatalf("expected the canonical test mnemonic to validate, got %v", err)
	}
	_, err = FromMnemonic("not a real mnemonic phrase at all here we go", "")
	if err == nil {
		t.Fatal("expected invalid mnemonic to be rejected")
	}
}

func TestKeyPairDeterministic(t *testing.T) {
	s, err := FromSeed([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	_, pub1, err := s.KeyPair(0, 0)
	if err != nil {
		t.Fatalf("KeyPair: %v", err)
	}
	_, pub2, err := s.KeyPair(0, 0)
	if err != nil {
		t.Fatalf("KeyPair: %v", err)
	}
	if string(pub1) != string(pub2) {
		t.Fatal("expected deterministic derivation for the same path")
	}
	_, pub3, err := s.KeyPair(0, 1)
	if err != nil {
		t.Fatalf("KeyPair: %v", err)
	}
	if string(pub1) == string(pub3) {
		t.Fatal("expected distinct indices to derive distinct keys")
	}
}

func TestBuildPredicateBindsSalt(t *testing.T) {
	s, err := FromSeed([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	p, err := s.BuildPredicate(1, 2, []byte("salt-value"))
	if err != nil {
		t.Fatalf("BuildPredicate: %v", err)
	}
	if len(p.PublicKey) == 0 {
		t.Fatal("expected a derived public key")
	}
	if string(p.Salt) != "salt-value" {
		t.Fatalf("expected salt carried through, got %q", p.Salt)
	}
}

func TestBuildLegacyPredicateProducesCompressedKey(t *testing.T) {
	s, err := FromSeed([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	legacy, err := s.BuildLegacyPredicate(0, 0, []byte("legacy-salt"))
	if err != nil {
		t.Fatalf("BuildLegacyPredicate: %v", err)
	}
	if len(legacy.PublicKey) != 33 {
		t.Fatalf("expected a 33-byte compressed secp256k1 public key, got %d bytes", len(legacy.PublicKey))
	}
	legacy2, err := s.BuildLegacyPredicate(0, 0, []byte("legacy-salt"))
	if err != nil {
		t.Fatalf("BuildLegacyPredicate: %v", err)
	}
	if string(legacy.PublicKey) != string(legacy2.PublicKey) {
		t.Fatal("expected deterministic legacy key derivation")
	}
}

func TestSignVerifiable(t *testing.T) {
	s, err := FromSeed([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	sig, err := s.Sign(0, 0, []byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) == 0 {
		t.Fatal("expected non-empty signature")
	}
	_, pub, err := s.KeyPair(0, 0)
	if err != nil {
		t.Fatalf("KeyPair: %v", err)
	}
	if !ed25519.Verify(pub, []byte("payload"), sig) {
		t.Fatal("expected signature to verify under the derived public key")
	}
}

func TestRandomEntropyRejectsNonMultipleOf32(t *testing.T) {
	if _, err := RandomEntropy(100); err == nil {
		t.Fatal("expected rejection of non-multiple-of-32 bit length")
	}
	b, err := RandomEntropy(128)
	if err != nil || len(b) != 16 {
		t.Fatalf("expected 16 bytes of entropy, got %d err=%v", len(b), err)
	}
}

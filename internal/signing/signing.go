// Package signing provides the wallet-local key material used to build
// recipient predicates for DIRECT finalization.
//
// Adapted from an HD-wallet key-derivation scheme: Ed25519 keys with
// SLIP-0010-style hardened derivation, BIP-39 mnemonic recovery, plus a
// secp256k1 key for the legacy address scheme (BuildLegacyPredicate). The
// wallet package only uses predicates (public key + salt) from this package
// and never passes a private key to an external collaborator; KeyPair itself
// does return the derived private key to its caller.
package signing

import (
	"crypto/ed25519"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160"
)

const (
	hardenedOffset uint32 = 0x80000000
	masterHMACKey         = "ed25519 seed" // SLIP-0010 master-key string
)

// Service keeps master key material in-memory only. It derives a single
// hardened keypair per (account, index) path, used to build recipient
// predicates and to sign payloads.
type Service struct {
	seed        []byte
	masterKey   []byte
	masterChain []byte
}

// NewRandom generates entropyBits (128/256) of RNG entropy and returns the
// service plus its recovery mnemonic. The caller must store the mnemonic
// securely; it is never retained here.
func NewRandom(entropyBits int) (*Service, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", fmt.Errorf("unsupported entropy size %d", entropyBits)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("mnemonic: %w", err)
	}
	s, err := FromSeed(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, "", err
	}
	return s, mnemonic, nil
}

// FromMnemonic imports an existing BIP-39 phrase.
func FromMnemonic(mnemonic, passphrase string) (*Service, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic checksum")
	}
	return FromSeed(bip39.NewSeed(mnemonic, passphrase))
}

// FromSeed builds a signing service directly from a master seed.
func FromSeed(seed []byte) (*Service, error) {
	if len(seed) < 16 {
		return nil, errors.New("seed too short")
	}
	i := hmacSHA512([]byte(masterHMACKey), seed)
	return &Service{seed: seed, masterKey: i[:32], masterChain: i[32:]}, nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// derivePrivate returns the key material & chain code for a hardened index.
// Ed25519 only supports hardened derivation, so index must already carry the
// hardened offset.
func derivePrivate(parentKey, parentChain []byte, index uint32) (key, chain []byte, err error) {
	if index < hardenedOffset {
		return nil, nil, errors.New("non-hardened derivation not supported for ed25519")
	}
	data := make([]byte, 1+32+4)
	copy(data[1:], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)
	i := hmacSHA512(parentChain, data)
	return i[:32], i[32:], nil
}

// KeyPair derives the Ed25519 keypair for path m / account' / index'.
func (s *Service) KeyPair(account, index uint32) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	account |= hardenedOffset
	index |= hardenedOffset

	k1, c1, err := derivePrivate(s.masterKey, s.masterChain, account)
	if err != nil {
		return nil, nil, err
	}
	k2, _, err := derivePrivate(k1, c1, index)
	if err != nil {
		return nil, nil, err
	}
	priv := ed25519.NewKeyFromSeed(k2)
	return priv, priv.Public().(ed25519.PublicKey), nil
}

// Predicate is the wallet-local half of a recipient predicate: the derived
// public key bound to the transfer's salt. The state-transition client
// combines this with the transfer transaction to finalize the token.
type Predicate struct {
	PublicKey ed25519.PublicKey
	Salt      []byte
}

// BuildPredicate derives (account, index) and binds the given transfer salt,
// used by the DIRECT finalize path.
func (s *Service) BuildPredicate(account, index uint32, salt []byte) (Predicate, error) {
	_, pub, err := s.KeyPair(account, index)
	if err != nil {
		return Predicate{}, err
	}
	saltCopy := make([]byte, len(salt))
	copy(saltCopy, salt)
	return Predicate{PublicKey: pub, Salt: saltCopy}, nil
}

// Sign signs an arbitrary payload (e.g. a commitment digest) with the
// derived key for (account, index).
func (s *Service) Sign(account, index uint32, payload []byte) ([]byte, error) {
	priv, _, err := s.KeyPair(account, index)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, payload), nil
}

// fingerprint derives a stable 20-byte identifier from a public key, mirroring
// the SHA-256/RIPEMD-160 scheme used for on-chain addresses elsewhere in this
// lineage. Used only for log correlation, never for token identity.
func fingerprint(pub ed25519.PublicKey) [20]byte {
	sha := sha256.Sum256(pub)
	r := ripemd160.New()
	r.Write(sha[:])
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}

// Fingerprint exposes fingerprint for log correlation.
func (s *Service) Fingerprint(account, index uint32) ([20]byte, error) {
	_, pub, err := s.KeyPair(account, index)
	if err != nil {
		return [20]byte{}, err
	}
	return fingerprint(pub), nil
}

// LegacyPredicate is the secp256k1 counterpart of Predicate, derived for
// recipients still resolving addresses under the pre-Ed25519 address
// scheme (a supplemented feature: the original wallet generation this one
// supersedes only ever minted secp256k1 keys, and tokens finalized against
// one of those addresses still need a matching predicate to re-derive).
type LegacyPredicate struct {
	PublicKey []byte // 33-byte compressed secp256k1 public key
	Salt      []byte
}

// BuildLegacyPredicate derives a secp256k1 keypair from the same master key
// via HMAC-SHA512 keyed by the master key over a "secp256k1-legacy"-prefixed
// (account, index) encoding (there being no SLIP-0010 secp256k1
// hardened-only constraint to honor here) and binds it to salt.
func (s *Service) BuildLegacyPredicate(account, index uint32, salt []byte) (LegacyPredicate, error) {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[:4], account)
	binary.BigEndian.PutUint32(data[4:], index)
	digest := hmacSHA512(s.masterKey, append([]byte("secp256k1-legacy"), data...))

	_, pub := btcec.PrivKeyFromBytes(digest[:32])
	saltCopy := make([]byte, len(salt))
	copy(saltCopy, salt)
	return LegacyPredicate{PublicKey: pub.SerializeCompressed(), Salt: saltCopy}, nil
}

// RandomEntropy produces cryptographically-secure random entropy of the
// given bit length (must be a multiple of 32).
func RandomEntropy(bits int) ([]byte, error) {
	if bits%32 != 0 {
		return nil, errors.New("entropy bits must be multiple of 32")
	}
	b := make([]byte, bits/8)
	if _, err := crand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes a byte slice in place (best-effort).
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

package exchange_protocol

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"github.com/go-jose/go-jose/v3"
)

const EncryptionKeyID = "1"

// GenerateEncryptionKey creates the per-session P-256 key the wallet
// encrypts its response to.
func GenerateEncryptionKey() (*jose.JSONWebKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &jose.JSONWebKey{
		Key:       key,
		KeyID:     EncryptionKeyID,
		Use:       "enc",
		Algorithm: string(jose.ECDH_ES),
	}, nil
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of the public key.
func Thumbprint(key *jose.JSONWebKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("nil key")
	}
	pub := key.Public()
	if !pub.Valid() {
		return nil, fmt.Errorf("key has no public part")
	}
	return pub.Thumbprint(crypto.SHA256)
}

package exchange_protocol

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const NonceLength = 32

type Nonce []byte

func CreateNonce() (Nonce, error) {
	nonce := make([]byte, NonceLength)
	_, err := rand.Read(nonce)
	if err != nil {
		return nil, err
	}
	return nonce, nil
}

// ParseNonce reverses String.
func ParseNonce(s string) (Nonce, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("nonce cannot be empty")
	}
	return b, nil
}

func (n Nonce) String() string {
	return base64.RawURLEncoding.EncodeToString(n)
}

func (n Nonce) Equal(other Nonce) bool {
	return subtle.ConstantTimeCompare(n, other) == 1
}

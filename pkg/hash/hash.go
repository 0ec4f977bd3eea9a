package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

// Algorithm names as they appear in the MSO digestAlgorithm field.
const (
	SHA256 = "SHA-256"
	SHA384 = "SHA-384"
	SHA512 = "SHA-512"
)

func New(alg string) (hash.Hash, error) {
	switch alg {
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("unsupported digest algorithm: %s", alg)
}

func Digest(message []byte, alg string) ([]byte, error) {
	hasher, err := New(alg)
	if err != nil {
		return nil, err
	}
	hasher.Write(message)
	return hasher.Sum(nil), nil
}

// Package cryptoroot holds the key and certificate chain used to sign
// OpenID4VP request objects.
package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"hash"

	"github.com/kokukuma/mdoc-age-verifier/pkg/pki"
)

// RequestSigner is an ES256 key with its certificate chain, leaf first.
type RequestSigner struct {
	Key   *ecdsa.PrivateKey
	Chain []*x509.Certificate
}

// LoadRequestSigner reads a PEM EC private key and a PEM certificate chain.
func LoadRequestSigner(keyPath, certPath string) (*RequestSigner, error) {
	key, err := pki.LoadECDSAPrivateKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load request signing key: %w", err)
	}
	chain, err := pki.LoadCertificates(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load request signing certificate: %w", err)
	}
	if !key.PublicKey.Equal(chain[0].PublicKey) {
		return nil, fmt.Errorf("request signing certificate does not match the key")
	}
	return &RequestSigner{Key: key, Chain: chain}, nil
}

// GenerateRequestSigner creates an in-memory root and a leaf for dnsName.
func GenerateRequestSigner(dnsName string) (*RequestSigner, error) {
	if dnsName == "" {
		return nil, fmt.Errorf("dns name cannot be empty")
	}

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootCert, err := createRootCertificate(rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create root certificate: %w", err)
	}

	eeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	eeCert, err := createEndEntityCertificate(eeKey, dnsName, rootCert, rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create end entity certificate: %w", err)
	}

	return &RequestSigner{
		Key:   eeKey,
		Chain: []*x509.Certificate{eeCert, rootCert},
	}, nil
}

// X5C returns the chain as a JWS x5c header value.
func (s *RequestSigner) X5C() []string {
	x5c := make([]string, 0, len(s.Chain))
	for _, cert := range s.Chain {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(cert.Raw))
	}
	return x5c
}

// DNSName returns the first DNS SAN of the leaf.
func (s *RequestSigner) DNSName() string {
	if len(s.Chain) == 0 || len(s.Chain[0].DNSNames) == 0 {
		return ""
	}
	return s.Chain[0].DNSNames[0]
}

func CalcKID(pub *ecdsa.PublicKey, hashAlgo string) []byte {
	b := elliptic.Marshal(pub.Curve, pub.X, pub.Y)

	var h hash.Hash
	switch hashAlgo {
	case "sha1":
		h = sha1.New()
	default:
		h = sha256.New()
	}

	h.Write(b)
	return h.Sum(nil)
}

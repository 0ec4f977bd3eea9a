package openid4vp

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kokukuma/mdoc-age-verifier/internal/cryptoroot"
)

const requestObjectType = "oauth-authz-req+jwt"

// SignedRequest is what the browser passes to the wallet for
// openid4vp-v1-signed.
type SignedRequest struct {
	Request string `json:"request"`
}

type RequestObject struct {
	AuthorizationRequest
	jwt.RegisteredClaims
}

func NewRequestObject(req *AuthorizationRequest, lifetime time.Duration) *RequestObject {
	now := time.Now()
	return &RequestObject{
		AuthorizationRequest: *req,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
}

// Sign returns the ES256 JWS of the request object. certChain is the
// base64 DER x5c chain, leaf first, whose leaf certifies sigKey.
func (c *RequestObject) Sign(sigKey *ecdsa.PrivateKey, certChain []string) (string, error) {
	if len(certChain) == 0 {
		return "", fmt.Errorf("certificate chain cannot be empty")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, c)
	token.Header["x5c"] = certChain
	token.Header["typ"] = requestObjectType
	token.Header["kid"] = base64.RawURLEncoding.EncodeToString(cryptoroot.CalcKID(&sigKey.PublicKey, "sha256"))

	signed, err := token.SignedString(sigKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign request object: %w", err)
	}
	return signed, nil
}

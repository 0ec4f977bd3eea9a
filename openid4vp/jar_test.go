package openid4vp

import (
	"crypto/x509"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kokukuma/mdoc-age-verifier/internal/cryptoroot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestObjectSign(t *testing.T) {
	signer, err := cryptoroot.GenerateRequestSigner("verifier.example")
	require.NoError(t, err)

	req, err := NewRequest(RequestParams{
		Nonce:           "abc",
		EncryptionKey:   publicJWK(t),
		MinAge:          21,
		ClientID:        ClientIDPrefixX509SanDNS + signer.DNSName(),
		ExpectedOrigins: []string{"https://verifier.example"},
	})
	require.NoError(t, err)

	signed, err := NewRequestObject(req, 5*time.Minute).Sign(signer.Key, signer.X5C())
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		x5c := token.Header["x5c"].([]interface{})
		der, err := base64.StdEncoding.DecodeString(x5c[0].(string))
		if err != nil {
			return nil, err
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, err
		}
		return cert.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, token.Valid)

	assert.Equal(t, "oauth-authz-req+jwt", token.Header["typ"])
	assert.Equal(t, "x509_san_dns:verifier.example", claims["client_id"])
	assert.Equal(t, "abc", claims["nonce"])
	assert.Equal(t, []interface{}{"https://verifier.example"}, claims["expected_origins"])
	assert.Contains(t, claims, "dcql_query")
	assert.Contains(t, claims, "exp")
}

func TestRequestObjectSignRequiresChain(t *testing.T) {
	signer, err := cryptoroot.GenerateRequestSigner("verifier.example")
	require.NoError(t, err)

	_, err = (&RequestObject{}).Sign(signer.Key, nil)
	assert.Error(t, err)
}

package exchange_protocol

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v3"
	"github.com/kokukuma/mdoc-age-verifier/internal/cryptoroot"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonce(t *testing.T) {
	n1, err := CreateNonce()
	require.NoError(t, err)
	n2, err := CreateNonce()
	require.NoError(t, err)

	assert.Len(t, n1, NonceLength)
	assert.False(t, n1.Equal(n2))
	assert.NotContains(t, n1.String(), "=")

	parsed, err := ParseNonce(n1.String())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(n1))

	_, err = ParseNonce("")
	assert.Error(t, err)
	_, err = ParseNonce("a+b/")
	assert.Error(t, err)
}

func TestGenerateEncryptionKey(t *testing.T) {
	key, err := GenerateEncryptionKey()
	require.NoError(t, err)

	assert.Equal(t, "1", key.KeyID)
	assert.Equal(t, "enc", key.Use)
	assert.Equal(t, "ECDH-ES", key.Algorithm)
	_, ok := key.Key.(*ecdsa.PrivateKey)
	assert.True(t, ok)

	pub := key.Public()
	b, err := json.Marshal(pub)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &fields))
	assert.Equal(t, "P-256", fields["crv"])
	assert.NotContains(t, fields, "d")

	tp, err := Thumbprint(key)
	require.NoError(t, err)
	assert.Len(t, tp, sha256.Size)

	tpPub, err := Thumbprint(&pub)
	require.NoError(t, err)
	assert.Equal(t, tp, tpPub)

	_, err = Thumbprint(nil)
	assert.Error(t, err)
	_, err = Thumbprint(&jose.JSONWebKey{})
	assert.Error(t, err)
}

func TestBeginIdentityRequest(t *testing.T) {
	signer, err := cryptoroot.GenerateRequestSigner("verifier.example")
	require.NoError(t, err)

	t.Run("unsigned", func(t *testing.T) {
		idReq, sd, err := BeginIdentityRequest(openid4vp.ProtocolUnsigned, 21)
		require.NoError(t, err)

		req, ok := idReq.(*openid4vp.AuthorizationRequest)
		require.True(t, ok)
		assert.Equal(t, sd.Nonce.String(), req.Nonce)
		assert.Equal(t, openid4vp.ResponseModeDCAPIJWT, req.ResponseMode)
		assert.Empty(t, req.ClientID)

		require.Len(t, req.ClientMetadata.JWKS.Keys, 1)
		assert.True(t, req.ClientMetadata.JWKS.Keys[0].IsPublic())

		tpReq, err := req.ClientMetadata.JWKS.Keys[0].Thumbprint(crypto.SHA256)
		require.NoError(t, err)
		tpSession, err := Thumbprint(sd.EncryptionKey)
		require.NoError(t, err)
		assert.Equal(t, tpSession, tpReq)
	})

	t.Run("signed", func(t *testing.T) {
		idReq, _, err := BeginIdentityRequest(openid4vp.ProtocolSigned, 18, WithSigner(signer, "https://verifier.example"))
		require.NoError(t, err)

		req, ok := idReq.(*openid4vp.SignedRequest)
		require.True(t, ok)
		assert.NotEmpty(t, req.Request)
	})

	t.Run("signed without signer", func(t *testing.T) {
		_, _, err := BeginIdentityRequest(openid4vp.ProtocolSigned, 18)
		assert.Error(t, err)
	})

	t.Run("unknown protocol", func(t *testing.T) {
		_, _, err := BeginIdentityRequest("preview", 18)
		assert.Error(t, err)
	})

	t.Run("zk", func(t *testing.T) {
		idReq, _, err := BeginIdentityRequest(openid4vp.ProtocolUnsigned, 18, WithZK(openid4vp.ZKSpec{SystemType: "longfellow"}))
		require.NoError(t, err)
		req := idReq.(*openid4vp.AuthorizationRequest)
		assert.Equal(t, openid4vp.FormatMsoMdocZK, req.DCQLQuery.Credentials[0].Format)
	})
}

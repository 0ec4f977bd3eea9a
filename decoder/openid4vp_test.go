package decoder

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/mdoc/mdoctest"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEncKey(t *testing.T) *jose.JSONWebKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &jose.JSONWebKey{Key: key, KeyID: "1", Use: "enc", Algorithm: string(jose.ECDH_ES)}
}

func encrypt(t *testing.T, key *jose.JSONWebKey, enc jose.ContentEncryption, payload []byte) string {
	t.Helper()
	encrypter, err := jose.NewEncrypter(enc, jose.Recipient{Algorithm: jose.ECDH_ES, Key: key.Public().Key}, nil)
	require.NoError(t, err)
	obj, err := encrypter.Encrypt(payload)
	require.NoError(t, err)
	compact, err := obj.CompactSerialize()
	require.NoError(t, err)
	return compact
}

func jsonString(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestParseResponse(t *testing.T) {
	key := newEncKey(t)
	payload := []byte(`{"vp_token":{"mdl-request":["AAAA"]},"state":"s1"}`)
	jwe := encrypt(t, key, jose.A128GCM, payload)

	tests := []struct {
		name       string
		credential []byte
		key        *jose.JSONWebKey
		want       map[string][]string
		wantErr    mdoc.Reason
	}{
		{
			name:       "compact jwe",
			credential: []byte(jwe),
			key:        key,
			want:       map[string][]string{"mdl-request": {"AAAA"}},
		},
		{
			name:       "json string holding a jwe",
			credential: jsonString(t, jwe),
			key:        key,
			want:       map[string][]string{"mdl-request": {"AAAA"}},
		},
		{
			name:       "response object",
			credential: jsonString(t, map[string]string{"response": jwe}),
			key:        key,
			want:       map[string][]string{"mdl-request": {"AAAA"}},
		},
		{
			name:       "digital credentials data wrapper",
			credential: jsonString(t, map[string]interface{}{"protocol": "openid4vp-v1-unsigned", "data": map[string]string{"response": jwe}}),
			key:        key,
			want:       map[string][]string{"mdl-request": {"AAAA"}},
		},
		{
			name:       "plain vp_token",
			credential: []byte(`{"vp_token":{"a":["x","y"],"b":"z"}}`),
			want:       map[string][]string{"a": {"x", "y"}, "b": {"z"}},
		},
		{
			name:       "single string vp_token",
			credential: []byte(`{"vp_token":"x"}`),
			want:       map[string][]string{"": {"x"}},
		},
		{
			name:       "wrong key",
			credential: []byte(jwe),
			key:        newEncKey(t),
			wantErr:    mdoc.ReasonTransportDecryptionFailed,
		},
		{
			name:       "encrypted without session key",
			credential: []byte(jwe),
			wantErr:    mdoc.ReasonTransportDecryptionFailed,
		},
		{
			name:       "unsupported content encryption",
			credential: []byte(encrypt(t, key, jose.A256GCM, payload)),
			key:        key,
			wantErr:    mdoc.ReasonUnsupportedAlgorithm,
		},
		{
			name:       "truncated jwe",
			credential: []byte("a.b.c.d.e"),
			key:        key,
			wantErr:    mdoc.ReasonTransportDecryptionFailed,
		},
		{
			name:       "empty",
			credential: []byte("  "),
			wantErr:    mdoc.ReasonMalformedStructure,
		},
		{
			name:       "garbage",
			credential: []byte("not a credential"),
			wantErr:    mdoc.ReasonDecode,
		},
		{
			name:       "object without vp_token",
			credential: []byte(`{"foo":"bar"}`),
			wantErr:    mdoc.ReasonMalformedStructure,
		},
		{
			name:       "vp_token is a number",
			credential: []byte(`{"vp_token":1}`),
			wantErr:    mdoc.ReasonMalformedStructure,
		},
		{
			name:       "vp_token entry holds an object",
			credential: []byte(`{"vp_token":{"a":[{"x":1}]}}`),
			wantErr:    mdoc.ReasonMalformedStructure,
		},
		{
			name:       "empty vp_token",
			credential: []byte(`{"vp_token":{}}`),
			wantErr:    mdoc.ReasonMalformedStructure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.credential, tt.key)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, mdoc.ReasonOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.VPToken)
			assert.Contains(t, got.Payload, "vp_token")
		})
	}
}

func TestParseResponseState(t *testing.T) {
	got, err := ParseResponse([]byte(`{"vp_token":{"a":["x"]},"state":"s1"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.State)
}

func TestDecryptJWERejectsPublicKey(t *testing.T) {
	key := newEncKey(t)
	jwe := encrypt(t, key, jose.A128GCM, []byte(`{}`))

	pub := key.Public()
	_, err := DecryptJWE(jwe, &pub)
	require.Error(t, err)
	assert.Equal(t, mdoc.ReasonTransportDecryptionFailed, mdoc.ReasonOf(err))
}

func TestPresentations(t *testing.T) {
	now := time.Now()
	issuer, err := mdoctest.NewIssuer(now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)

	doc, err := issuer.Issue(mdoctest.Document{
		Claims: []mdoctest.Claim{{Name: "age_over_18", Value: true}},
	})
	require.NoError(t, err)
	dr, err := mdoctest.DeviceResponse(doc)
	require.NoError(t, err)
	token := mdoctest.VPToken(dr)

	t.Run("sorted by credential id", func(t *testing.T) {
		got, err := Presentations(&openid4vp.AuthorizationResponse{
			VPToken: map[string][]string{
				"pid-request": {token},
				"mdl-request": {token, token},
			},
		})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "mdl-request", got[0].CredentialID)
		assert.Equal(t, "mdl-request", got[1].CredentialID)
		assert.Equal(t, "pid-request", got[2].CredentialID)
		assert.Equal(t, mdoc.DocType(mdoctest.DocTypeMDL), got[0].DeviceResponse.Documents[0].DocType)
	})

	t.Run("undecodable entry", func(t *testing.T) {
		_, err := Presentations(&openid4vp.AuthorizationResponse{
			VPToken: map[string][]string{"mdl-request": {token, "!!!"}},
		})
		require.Error(t, err)
		assert.Equal(t, mdoc.ReasonDecode, mdoc.ReasonOf(err))
	})

	t.Run("no presentation", func(t *testing.T) {
		_, err := Presentations(&openid4vp.AuthorizationResponse{
			VPToken: map[string][]string{"mdl-request": {}},
		})
		require.Error(t, err)
		assert.Equal(t, mdoc.ReasonMalformedStructure, mdoc.ReasonOf(err))
	})
}

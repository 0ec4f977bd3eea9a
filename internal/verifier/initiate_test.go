package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kokukuma/mdoc-age-verifier/internal/cryptoroot"
	"github.com/kokukuma/mdoc-age-verifier/internal/exchange_protocol"
	"github.com/kokukuma/mdoc-age-verifier/internal/session"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/mdoc/mdoctest"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiate(t *testing.T) {
	signer, err := cryptoroot.GenerateRequestSigner("verifier.example")
	require.NoError(t, err)

	tests := []struct {
		name         string
		opts         []Option
		params       InitiateParams
		wantMinAge   int
		wantProtocol openid4vp.Protocol
		wantErr      bool
	}{
		{
			name:         "defaults",
			params:       InitiateParams{Origin: testOrigin},
			wantMinAge:   18,
			wantProtocol: openid4vp.ProtocolUnsigned,
		},
		{
			name:         "min age and doctypes",
			params:       InitiateParams{MinAge: 21, DocTypes: []mdoc.DocType{mdoc.DocTypeMDL, mdoc.DocTypePID, mdoc.DocTypeMDL}},
			wantMinAge:   21,
			wantProtocol: openid4vp.ProtocolUnsigned,
		},
		{
			name:         "signed",
			opts:         []Option{WithRequestSigner(signer)},
			params:       InitiateParams{Origin: testOrigin, Protocol: openid4vp.ProtocolSigned},
			wantMinAge:   18,
			wantProtocol: openid4vp.ProtocolSigned,
		},
		{
			name:         "zk",
			opts:         []Option{WithZKVerifier(&fakeZK{}, zkSpec)},
			params:       InitiateParams{Mode: session.ModeZK},
			wantMinAge:   18,
			wantProtocol: openid4vp.ProtocolUnsigned,
		},
		{name: "min age too high", params: InitiateParams{MinAge: 151}, wantErr: true},
		{name: "negative min age", params: InitiateParams{MinAge: -3}, wantErr: true},
		{name: "unknown mode", params: InitiateParams{Mode: "fast"}, wantErr: true},
		{name: "unknown protocol", params: InitiateParams{Protocol: "openid4vp"}, wantErr: true},
		{name: "unknown doctype", params: InitiateParams{DocTypes: []mdoc.DocType{"com.example.1"}}, wantErr: true},
		{name: "zk not configured", params: InitiateParams{Mode: session.ModeZK}, wantErr: true},
		{name: "signer not configured", params: InitiateParams{Protocol: openid4vp.ProtocolSigned}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)
			got, err := f.svc.Initiate(context.Background(), tt.params)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRequest))
				assert.Equal(t, 0, f.store.Len())
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, got.SessionID)
			assert.Equal(t, tt.wantMinAge, got.MinAge)
			assert.Equal(t, tt.wantProtocol, got.Protocol)

			switch req := got.Request.(type) {
			case *openid4vp.AuthorizationRequest:
				assert.Equal(t, openid4vp.ProtocolUnsigned, tt.wantProtocol)
				assert.Equal(t, openid4vp.ResponseModeDCAPIJWT, req.ResponseMode)
				if tt.params.Mode == session.ModeZK {
					assert.Equal(t, openid4vp.FormatMsoMdocZK, req.DCQLQuery.Credentials[0].Format)
					assert.Equal(t, zkSpec.SystemType, req.DCQLQuery.Credentials[0].Meta.ZKSystemType)
				}
				if len(tt.params.DocTypes) > 0 {
					assert.Len(t, req.DCQLQuery.Credentials, 2)
				}
			case *openid4vp.SignedRequest:
				assert.Equal(t, openid4vp.ProtocolSigned, tt.wantProtocol)
				claims := jwt.MapClaims{}
				_, _, err := jwt.NewParser().ParseUnverified(req.Request, claims)
				require.NoError(t, err)
				assert.Equal(t, "x509_san_dns:verifier.example", claims["client_id"])
				assert.Equal(t, []interface{}{testOrigin}, claims["expected_origins"])
			default:
				t.Fatalf("unexpected request type %T", got.Request)
			}

			state, err := f.store.Consume(context.Background(), got.SessionID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMinAge, state.MinAge)
			assert.Equal(t, tt.params.Origin, state.Origin)
			assert.Len(t, []byte(state.Nonce), exchange_protocol.NonceLength)
			require.NotNil(t, state.EncryptionKey)
			assert.False(t, state.EncryptionKey.IsPublic())
		})
	}
}

// TestInitiateThenVerify plays the wallet with nothing but the request.
func TestInitiateThenVerify(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Initiate(context.Background(), InitiateParams{MinAge: 21, Origin: testOrigin})
	require.NoError(t, err)
	req := got.Request.(*openid4vp.AuthorizationRequest)

	nonce, err := exchange_protocol.ParseNonce(req.Nonce)
	require.NoError(t, err)
	require.Len(t, req.ClientMetadata.JWKS.Keys, 1)
	pub := req.ClientMetadata.JWKS.Keys[0]
	assert.True(t, pub.IsPublic())

	transcript := f.transcript(t, nonce, pub, testOrigin)
	credential := encryptResponse(t, pub, map[string]interface{}{
		"vp_token": map[string][]string{
			req.DCQLQuery.Credentials[0].ID: f.vpToken(t, transcript, mdoctest.Document{
				Claims: append([]mdoctest.Claim{{Name: "age_over_21", Value: true}}, names()...),
			}),
		},
	})

	res := f.svc.Verify(context.Background(), got.SessionID, credential, testOrigin)
	assert.True(t, res.Verified, res.Message)
	assert.Equal(t, 21, *res.Age)
	assert.Equal(t, "Age verification successful - User is 21+ years old", res.Message)
}

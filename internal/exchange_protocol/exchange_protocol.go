// Package exchange_protocol prepares the per-session secrets of an
// OpenID4VP exchange and the request the browser hands to the wallet.
package exchange_protocol

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/kokukuma/mdoc-age-verifier/internal/cryptoroot"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
)

const requestObjectLifetime = 5 * time.Minute

// SessionData is what the verifier keeps to check the response.
type SessionData struct {
	Nonce         Nonce
	EncryptionKey *jose.JSONWebKey
}

type IdentityRequestOption func(*identityRequest)

type identityRequest struct {
	params openid4vp.RequestParams
	signer *cryptoroot.RequestSigner
	origin string
}

func WithDocTypes(docTypes ...mdoc.DocType) IdentityRequestOption {
	return func(ir *identityRequest) {
		ir.params.DocTypes = docTypes
	}
}

func WithElements(elems ...mdoc.Element) IdentityRequestOption {
	return func(ir *identityRequest) {
		ir.params.Elements = elems
	}
}

func WithZK(spec openid4vp.ZKSpec) IdentityRequestOption {
	return func(ir *identityRequest) {
		ir.params.ZK = &spec
	}
}

// WithSigner is required for openid4vp-v1-signed. origin becomes the only
// expected origin of the request.
func WithSigner(signer *cryptoroot.RequestSigner, origin string) IdentityRequestOption {
	return func(ir *identityRequest) {
		ir.signer = signer
		ir.origin = origin
	}
}

// BeginIdentityRequest creates the nonce and encryption key of a session and
// the request for protocol. The returned request is an
// *openid4vp.AuthorizationRequest for the unsigned protocol and an
// *openid4vp.SignedRequest for the signed one.
func BeginIdentityRequest(protocol openid4vp.Protocol, minAge int, options ...IdentityRequestOption) (interface{}, *SessionData, error) {
	nonce, err := CreateNonce()
	if err != nil {
		return nil, nil, err
	}

	encKey, err := GenerateEncryptionKey()
	if err != nil {
		return nil, nil, err
	}
	pub := encKey.Public()

	ir := &identityRequest{
		params: openid4vp.RequestParams{
			Nonce:         nonce.String(),
			EncryptionKey: &pub,
			MinAge:        minAge,
		},
	}
	for _, option := range options {
		option(ir)
	}

	var idReq interface{}
	switch protocol {
	case openid4vp.ProtocolUnsigned:
		req, err := openid4vp.NewRequest(ir.params)
		if err != nil {
			return nil, nil, err
		}
		idReq = req
	case openid4vp.ProtocolSigned:
		if ir.signer == nil {
			return nil, nil, fmt.Errorf("signed request requires a request signer")
		}
		ir.params.ClientID = openid4vp.ClientIDPrefixX509SanDNS + ir.signer.DNSName()
		if ir.origin != "" {
			ir.params.ExpectedOrigins = []string{ir.origin}
		}
		req, err := openid4vp.NewRequest(ir.params)
		if err != nil {
			return nil, nil, err
		}
		signed, err := openid4vp.NewRequestObject(req, requestObjectLifetime).Sign(ir.signer.Key, ir.signer.X5C())
		if err != nil {
			return nil, nil, err
		}
		idReq = &openid4vp.SignedRequest{Request: signed}
	default:
		return nil, nil, fmt.Errorf("unsupported protocol: %s", protocol)
	}

	return idReq, &SessionData{
		Nonce:         nonce,
		EncryptionKey: encKey,
	}, nil
}

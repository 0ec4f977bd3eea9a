package openid4vp

import (
	"fmt"

	"github.com/go-jose/go-jose/v3"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
)

// RequestParams describes one age verification request.
type RequestParams struct {
	Nonce string

	// EncryptionKey is the public half of the session key. Without it the
	// wallet is asked for an unencrypted dc_api response.
	EncryptionKey *jose.JSONWebKey

	MinAge   int
	DocTypes []mdoc.DocType
	Elements []mdoc.Element
	ZK       *ZKSpec

	// Signed requests only.
	ClientID        string
	ExpectedOrigins []string
}

// NewRequest builds the Digital Credentials API request. Missing doctypes
// default to the mDL, missing elements to the age claims of each doctype
// for MinAge.
func NewRequest(p RequestParams) (*AuthorizationRequest, error) {
	if p.Nonce == "" {
		return nil, fmt.Errorf("nonce cannot be empty")
	}

	docTypes := p.DocTypes
	if len(docTypes) == 0 {
		docTypes = []mdoc.DocType{mdoc.DocTypeMDL}
	}
	elemsFor := func(docType mdoc.DocType) []mdoc.Element {
		if len(p.Elements) > 0 {
			return p.Elements
		}
		return mdoc.AgeElements(docType, p.MinAge)
	}

	req := &AuthorizationRequest{
		ClientID:        p.ClientID,
		ResponseType:    ResponseTypeVPToken,
		ResponseMode:    ResponseModeDCAPI,
		Nonce:           p.Nonce,
		DCQLQuery:       NewDCQLQuery(docTypes, elemsFor, p.ZK),
		ExpectedOrigins: p.ExpectedOrigins,
		ClientMetadata: ClientMetadata{
			VPFormatsSupported: VPFormatsSupported{
				MsoMdoc: &MsoMdocFormat{
					IssuerAuthAlgValues: []int{algES256},
					DeviceAuthAlgValues: []int{algES256},
				},
			},
		},
	}

	if p.EncryptionKey != nil {
		if !p.EncryptionKey.IsPublic() {
			return nil, fmt.Errorf("encryption key in a request must be public")
		}
		req.ResponseMode = ResponseModeDCAPIJWT
		req.ClientMetadata.JWKS = &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*p.EncryptionKey}}
		req.ClientMetadata.EncryptedResponseEncValues = []string{string(jose.A128GCM)}
	}
	return req, nil
}

package openid4vp

import (
	"sort"

	"github.com/go-jose/go-jose/v3"
	"github.com/samber/lo"
)

// https://openid.net/specs/openid-4-verifiable-presentations-1_0.html

type Protocol string

const (
	ProtocolUnsigned Protocol = "openid4vp-v1-unsigned"
	ProtocolSigned   Protocol = "openid4vp-v1-signed"
)

func (p Protocol) Valid() bool {
	return p == ProtocolUnsigned || p == ProtocolSigned
}

const (
	ResponseTypeVPToken = "vp_token"

	// Digital Credentials API response modes (Appendix A.2)
	ResponseModeDCAPI    = "dc_api"
	ResponseModeDCAPIJWT = "dc_api.jwt"

	FormatMsoMdoc   = "mso_mdoc"
	FormatMsoMdocZK = "mso_mdoc_zk"

	ClientIDPrefixX509SanDNS = "x509_san_dns:"
)

// COSE algorithm identifier for ES256.
const algES256 = -7

type AuthorizationRequest struct {
	ClientID        string         `json:"client_id,omitempty"`
	ResponseType    string         `json:"response_type"`
	ResponseMode    string         `json:"response_mode"`
	Nonce           string         `json:"nonce"`
	DCQLQuery       DCQLQuery      `json:"dcql_query"`
	ClientMetadata  ClientMetadata `json:"client_metadata"`
	ExpectedOrigins []string       `json:"expected_origins,omitempty"`
}

type ClientMetadata struct {
	JWKS                       *jose.JSONWebKeySet `json:"jwks,omitempty"`
	EncryptedResponseEncValues []string            `json:"encrypted_response_enc_values_supported,omitempty"`
	VPFormatsSupported         VPFormatsSupported  `json:"vp_formats_supported"`
}

type VPFormatsSupported struct {
	MsoMdoc *MsoMdocFormat `json:"mso_mdoc,omitempty"`
}

type MsoMdocFormat struct {
	// sic
	IssuerAuthAlgValues []int `json:"isserauth_alg_values"`
	DeviceAuthAlgValues []int `json:"deviceauth_alg_values"`
}

// AuthorizationResponse is the decrypted response of the wallet. VPToken
// maps a credential query id to its presentations.
type AuthorizationResponse struct {
	VPToken map[string][]string
	State   string

	// Payload is the response as received, kept for forwarding to the ZK
	// verifier.
	Payload map[string]interface{}
}

// CredentialIDs returns the vp_token ids in lexical order.
func (r *AuthorizationResponse) CredentialIDs() []string {
	ids := lo.Keys(r.VPToken)
	sort.Strings(ids)
	return ids
}

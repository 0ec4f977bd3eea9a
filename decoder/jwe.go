package decoder

import (
	"encoding/json"
	"strings"

	"github.com/go-jose/go-jose/v3"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
)

type jweHeader struct {
	Algorithm  string `json:"alg"`
	Encryption string `json:"enc"`
	KeyID      string `json:"kid"`
}

func parseJWEHeader(compact string) (*jweHeader, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 5 {
		return nil, mdoc.NewError(mdoc.ReasonTransportDecryptionFailed, "compact JWE has %d parts", len(parts))
	}
	b, err := mdoc.DecodeBase64(parts[0])
	if err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonTransportDecryptionFailed, err, "failed to decode JWE header")
	}
	var h jweHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonTransportDecryptionFailed, err, "failed to parse JWE header")
	}
	return &h, nil
}

// DecryptJWE decrypts an ECDH-ES / A128GCM compact JWE with the session key.
func DecryptJWE(compact string, encKey *jose.JSONWebKey) ([]byte, error) {
	h, err := parseJWEHeader(compact)
	if err != nil {
		return nil, err
	}
	if h.Algorithm != string(JWEAlgorithm) || h.Encryption != string(JWEEncryption) {
		return nil, mdoc.NewError(mdoc.ReasonUnsupportedAlgorithm, "unsupported JWE alg=%s enc=%s", h.Algorithm, h.Encryption)
	}
	if encKey == nil || encKey.IsPublic() {
		return nil, mdoc.NewError(mdoc.ReasonTransportDecryptionFailed, "no private key to decrypt the response")
	}

	jwe, err := jose.ParseEncrypted(compact)
	if err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonTransportDecryptionFailed, err, "failed to parse encrypted response")
	}

	decrypted, err := jwe.Decrypt(encKey.Key)
	if err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonTransportDecryptionFailed, err, "failed to decrypt response")
	}
	return decrypted, nil
}

// Package decoder turns the credential the browser received from the wallet
// into DeviceResponses.
package decoder

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/go-jose/go-jose/v3"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/mitchellh/mapstructure"
)

const (
	JWEAlgorithm  = jose.ECDH_ES
	JWEEncryption = jose.A128GCM
)

// ParseResponse accepts a compact JWE, a JSON string holding one,
// {"response": "<jwe>"}, a Digital Credentials API {"data": ...} wrapper,
// or a plain {"vp_token": ...} object. Encrypted responses need encKey.
func ParseResponse(credential []byte, encKey *jose.JSONWebKey) (*openid4vp.AuthorizationResponse, error) {
	payload, jwe, err := extractPayload(credential, 0)
	if err != nil {
		return nil, err
	}

	if jwe != "" {
		if encKey == nil {
			return nil, mdoc.NewError(mdoc.ReasonTransportDecryptionFailed, "response is encrypted but the session has no key")
		}
		payload, err = DecryptJWE(jwe, encKey)
		if err != nil {
			return nil, err
		}
	}
	return parseAuthorizationResponse(payload)
}

const maxWrapDepth = 4

// extractPayload returns either the plain JSON payload or the compact JWE.
func extractPayload(credential []byte, depth int) ([]byte, string, error) {
	if depth > maxWrapDepth {
		return nil, "", mdoc.NewError(mdoc.ReasonMalformedStructure, "credential wrapped too deeply")
	}

	body := bytes.TrimSpace(credential)
	if len(body) == 0 {
		return nil, "", mdoc.NewError(mdoc.ReasonMalformedStructure, "credential is empty")
	}

	switch body[0] {
	case '"':
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, "", mdoc.WrapError(mdoc.ReasonDecode, err, "failed to parse credential string")
		}
		return extractPayload([]byte(s), depth+1)
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, "", mdoc.WrapError(mdoc.ReasonDecode, err, "failed to parse credential object")
		}
		if _, ok := obj["vp_token"]; ok {
			return body, "", nil
		}
		if response, ok := obj["response"]; ok {
			return extractPayload(response, depth+1)
		}
		if data, ok := obj["data"]; ok {
			return extractPayload(data, depth+1)
		}
		return nil, "", mdoc.NewError(mdoc.ReasonMalformedStructure, "credential has neither vp_token nor response")
	}

	s := string(body)
	if strings.Count(s, ".") == 4 {
		return nil, s, nil
	}
	return nil, "", mdoc.NewError(mdoc.ReasonDecode, "credential is neither JSON nor a compact JWE")
}

func parseAuthorizationResponse(payload []byte) (*openid4vp.AuthorizationResponse, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonDecode, err, "failed to parse authorization response")
	}

	vpToken, ok := raw["vp_token"]
	if !ok || vpToken == nil {
		return nil, mdoc.NewError(mdoc.ReasonMalformedStructure, "authorization response has no vp_token")
	}

	tokens, err := decodeVPToken(vpToken)
	if err != nil {
		return nil, err
	}

	resp := &openid4vp.AuthorizationResponse{
		VPToken: tokens,
		Payload: raw,
	}
	if state, ok := raw["state"].(string); ok {
		resp.State = state
	}
	return resp, nil
}

// decodeVPToken normalizes vp_token to credential id → presentations. A
// bare string is filed under the empty id.
func decodeVPToken(v interface{}) (map[string][]string, error) {
	if s, ok := v.(string); ok {
		v = map[string]interface{}{"": s}
	}

	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, mdoc.NewError(mdoc.ReasonMalformedStructure, "vp_token is %T", v)
	}
	for id, e := range obj {
		switch t := e.(type) {
		case string:
		case []interface{}:
			for _, p := range t {
				if _, ok := p.(string); !ok {
					return nil, mdoc.NewError(mdoc.ReasonMalformedStructure, "vp_token %q holds %T", id, p)
				}
			}
		default:
			return nil, mdoc.NewError(mdoc.ReasonMalformedStructure, "vp_token %q is %T", id, e)
		}
	}

	var tokens map[string][]string
	if err := mapstructure.WeakDecode(obj, &tokens); err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonMalformedStructure, err, "failed to decode vp_token")
	}
	if len(tokens) == 0 {
		return nil, mdoc.NewError(mdoc.ReasonMalformedStructure, "vp_token is empty")
	}
	return tokens, nil
}

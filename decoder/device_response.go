package decoder

import (
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
)

// Presentation is one DeviceResponse of a vp_token entry.
type Presentation struct {
	CredentialID   string
	DeviceResponse *mdoc.DeviceResponse
}

// DeviceResponse decodes one vp_token presentation.
func DeviceResponse(vpToken string) (*mdoc.DeviceResponse, error) {
	decoded, err := mdoc.DecodeBase64(vpToken)
	if err != nil {
		return nil, err
	}
	return mdoc.ParseDeviceResponse(decoded)
}

// Presentations decodes every presentation of ar in credential id order.
func Presentations(ar *openid4vp.AuthorizationResponse) ([]Presentation, error) {
	var out []Presentation
	for _, id := range ar.CredentialIDs() {
		for i, token := range ar.VPToken[id] {
			dr, err := DeviceResponse(token)
			if err != nil {
				return nil, mdoc.WrapError(mdoc.ReasonOf(err), err, "vp_token %q[%d]", id, i)
			}
			out = append(out, Presentation{CredentialID: id, DeviceResponse: dr})
		}
	}
	if len(out) == 0 {
		return nil, mdoc.NewError(mdoc.ReasonMalformedStructure, "vp_token has no presentation")
	}
	return out, nil
}

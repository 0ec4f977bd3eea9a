package openid4vp

import (
	"strings"

	"github.com/kokukuma/mdoc-age-verifier/mdoc"
)

//  https://openid.net/specs/openid-4-verifiable-presentations-1_0.html#name-digital-credentials-query-l

type DCQLQuery struct {
	Credentials    []CredentialQuery    `json:"credentials"`
	CredentialSets []CredentialSetQuery `json:"credential_sets,omitempty"`
}

type CredentialQuery struct {
	ID     string           `json:"id"`
	Format string           `json:"format"`
	Meta   *MetaConstraints `json:"meta,omitempty"`
	Claims []ClaimQuery     `json:"claims,omitempty"`
}

type MetaConstraints struct {
	// For mdoc
	DocType string `json:"doctype_value,omitempty"`

	// For mso_mdoc_zk
	ZKSystemType    string `json:"zk_system_type,omitempty"`
	VerifierMessage string `json:"verifier_message,omitempty"`
}

type ClaimQuery struct {
	Path           []string `json:"path"`
	IntentToRetain bool     `json:"intent_to_retain"`
}

type CredentialSetQuery struct {
	Options [][]string `json:"options"`
}

// ZKSpec describes the proof system requested in ZK mode.
type ZKSpec struct {
	SystemType      string
	VerifierMessage string
}

// CredentialQueryID derives the query id of a doctype from its last dotted
// segment: "org.iso.18013.5.1.mDL" becomes "mdl-request".
func CredentialQueryID(docType mdoc.DocType) string {
	s := string(docType)
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	return strings.ToLower(s) + "-request"
}

func ConvClaimQuery(elems ...mdoc.Element) []ClaimQuery {
	result := make([]ClaimQuery, 0, len(elems))
	for _, e := range elems {
		result = append(result, ClaimQuery{
			Path:           []string{string(e.Namespace), string(e.Name)},
			IntentToRetain: false,
		})
	}
	return result
}

// NewDCQLQuery requests the claims elemsFor returns from each doctype. Any
// one of the doctypes satisfies the query. A nil zk requests plain mso_mdoc.
func NewDCQLQuery(docTypes []mdoc.DocType, elemsFor func(mdoc.DocType) []mdoc.Element, zk *ZKSpec) DCQLQuery {
	var q DCQLQuery
	var options [][]string
	for _, docType := range docTypes {
		id := CredentialQueryID(docType)
		cq := CredentialQuery{
			ID:     id,
			Format: FormatMsoMdoc,
			Meta:   &MetaConstraints{DocType: string(docType)},
		}
		if zk != nil {
			cq.Format = FormatMsoMdocZK
			cq.Meta.ZKSystemType = zk.SystemType
			cq.Meta.VerifierMessage = zk.VerifierMessage
		}
		if elems := elemsFor(docType); len(elems) > 0 {
			cq.Claims = ConvClaimQuery(elems...)
		}
		q.Credentials = append(q.Credentials, cq)
		options = append(options, []string{id})
	}
	q.CredentialSets = []CredentialSetQuery{{Options: options}}
	return q
}

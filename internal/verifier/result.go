package verifier

import (
	"fmt"

	"github.com/kokukuma/mdoc-age-verifier/claims"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
)

// Result is the outcome of one verification attempt. Reason is empty when
// the credential verified, whether or not the holder met minAge.
type Result struct {
	Verified   bool
	Age        *int
	MinAge     int
	GivenName  *string
	FamilyName *string
	Reason     mdoc.Reason
	Message    string
}

const (
	messageBelowMinAge = "Age verification failed - User does not meet minimum age requirement"
	messageInternal    = "Age verification failed"
)

var failureMessages = map[mdoc.Reason]string{
	mdoc.ReasonDecode:                    "Age verification failed - Credential could not be decoded",
	mdoc.ReasonMalformedStructure:        "Age verification failed - Credential is malformed",
	mdoc.ReasonMissingCertificateChain:   "Age verification failed - Issuer certificate is missing",
	mdoc.ReasonCertificateInvalid:        "Age verification failed - Issuer certificate is invalid",
	mdoc.ReasonSignatureInvalid:          "Age verification failed - Credential signature is invalid",
	mdoc.ReasonUnsupportedAlgorithm:      "Age verification failed - Credential uses an unsupported algorithm",
	mdoc.ReasonDigestMismatch:            "Age verification failed - Credential data does not match the issuer signature",
	mdoc.ReasonCredentialExpired:         "Age verification failed - Credential is expired",
	mdoc.ReasonInsufficientClaims:        "Age verification failed - Credential does not contain age information",
	mdoc.ReasonInvalidSession:            "Age verification failed - Session is invalid or expired",
	mdoc.ReasonTransportDecryptionFailed: "Age verification failed - Response could not be decrypted",
	mdoc.ReasonUpstreamService:           "Age verification failed - Verification service is unavailable",
}

// Message returns the fixed user facing message of reason.
func Message(reason mdoc.Reason) string {
	if msg, ok := failureMessages[reason]; ok {
		return msg
	}
	return messageInternal
}

func failed(minAge int, err error) *Result {
	reason := mdoc.ReasonOf(err)
	return &Result{
		MinAge:  minAge,
		Reason:  reason,
		Message: Message(reason),
	}
}

func decided(d claims.Decision, s claims.Set) *Result {
	res := &Result{
		Verified:   d.Verified,
		Age:        d.Age,
		MinAge:     d.MinAge,
		GivenName:  s.GivenName,
		FamilyName: s.FamilyName,
		Message:    messageBelowMinAge,
	}
	if d.Verified {
		res.Message = fmt.Sprintf("Age verification successful - User is %d+ years old", d.MinAge)
	}
	return res
}

func (r *Result) outcome() string {
	switch {
	case r.Verified:
		return "verified"
	case r.Reason == "":
		return "below_min_age"
	default:
		return "failed"
	}
}

func (r *Result) reasonLabel() string {
	if r.Reason == "" {
		return "none"
	}
	return string(r.Reason)
}

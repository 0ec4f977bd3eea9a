// Package mdoc decodes and verifies ISO/IEC 18013-5 mobile documents
// presented over OpenID4VP. This file contains the failure taxonomy shared
// by every stage of the verification pipeline.
package mdoc

import (
	"errors"
	"fmt"
)

// Reason categorizes why a verification attempt failed.
type Reason string

const (
	// ReasonDecode represents invalid CBOR or un-decodable base64.
	ReasonDecode Reason = "DecodeError"

	// ReasonMalformedStructure represents well-formed CBOR that does not have
	// the shape of an mdoc (wrong arity, missing members, wrong types).
	ReasonMalformedStructure Reason = "MalformedStructure"

	// ReasonMissingCertificateChain represents an issuerAuth without x5chain.
	ReasonMissingCertificateChain Reason = "MissingCertificateChain"

	// ReasonCertificateInvalid represents an unparsable or temporally invalid
	// document signer certificate, or one rejected by the trust anchor.
	ReasonCertificateInvalid Reason = "CertificateInvalid"

	// ReasonSignatureInvalid represents an issuer or device signature that
	// does not verify.
	ReasonSignatureInvalid Reason = "SignatureInvalid"

	// ReasonUnsupportedAlgorithm represents a signature, key or transport
	// algorithm outside ES256 / P-256 / ECDH-ES+A128GCM.
	ReasonUnsupportedAlgorithm Reason = "UnsupportedAlgorithm"

	// ReasonDigestMismatch represents an issuer-signed item whose digest is
	// absent from, or differs from, the Mobile Security Object.
	ReasonDigestMismatch Reason = "DigestMismatch"

	// ReasonCredentialExpired represents an MSO outside its validity window.
	ReasonCredentialExpired Reason = "CredentialExpired"

	// ReasonInsufficientClaims represents a credential without any claim
	// usable for an age decision.
	ReasonInsufficientClaims Reason = "InsufficientClaims"

	// ReasonInvalidSession represents an unknown or already consumed session.
	ReasonInvalidSession Reason = "InvalidSession"

	// ReasonTransportDecryptionFailed represents a JWE that cannot be
	// decrypted with the session key.
	ReasonTransportDecryptionFailed Reason = "TransportDecryptionFailed"

	// ReasonUpstreamService represents a failed call to the ZK verifier.
	ReasonUpstreamService Reason = "UpstreamServiceError"
)

// Error is an error carrying a failure Reason.
type Error struct {
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Reason, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an error of the given reason.
func NewError(reason Reason, format string, args ...interface{}) error {
	return &Error{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates an error of the given reason wrapping err.
//
// When err already carries a reason, the outer reason wins; ReasonOf always
// reports the outermost one.
func WrapError(reason Reason, err error, format string, args ...interface{}) error {
	return &Error{Reason: reason, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ReasonOf returns the outermost reason carried by err. Errors without a
// reason are reported as ReasonMalformedStructure.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonMalformedStructure
}

// HasReason reports whether any error in err's chain carries reason.
func HasReason(err error, reason Reason) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Reason == reason {
			return true
		}
		err = e.Err
	}
	return false
}

package mdoc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// TrustAnchor decides whether a document signer chain is trusted. It is
// called after the leaf passed its validity check.
type TrustAnchor interface {
	VerifyChain(chain []*x509.Certificate, now time.Time) error
}

// TrustAnchorFunc adapts a function to TrustAnchor.
type TrustAnchorFunc func(chain []*x509.Certificate, now time.Time) error

func (f TrustAnchorFunc) VerifyChain(chain []*x509.Certificate, now time.Time) error {
	return f(chain, now)
}

type VerifierOption func(*Verifier)

// WithClock sets the time source used for certificate and MSO validity.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithTrustAnchor installs a chain check. Without one any temporally valid
// leaf certificate is accepted.
func WithTrustAnchor(anchor TrustAnchor) VerifierOption {
	return func(v *Verifier) {
		v.trustAnchor = anchor
	}
}

func SkipVerifyDeviceSigned() VerifierOption {
	return func(v *Verifier) {
		v.skipVerifyDeviceSigned = true
	}
}

func SkipVerifyDigests() VerifierOption {
	return func(v *Verifier) {
		v.skipVerifyDigests = true
	}
}

func SkipValidityInfo() VerifierOption {
	return func(v *Verifier) {
		v.skipValidityInfo = true
	}
}

// Verifier checks issuer and device authentication of mdoc documents. It
// holds no mutable state and is safe for concurrent use.
type Verifier struct {
	now                    func() time.Time
	trustAnchor            TrustAnchor
	skipVerifyDeviceSigned bool
	skipVerifyDigests      bool
	skipValidityInfo       bool
}

func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyIssuerSignature verifies issuerAuth against the leaf certificate of
// its x5chain. A false result with a nil error means the signature does not
// match.
func (v *Verifier) VerifyIssuerSignature(issuerAuth []byte) (bool, error) {
	return v.verifyIssuerSignature(issuerAuth, v.now())
}

func (v *Verifier) verifyIssuerSignature(issuerAuth []byte, now time.Time) (bool, error) {
	// 1. COSE_Sign1 arity
	msg, err := ParseSign1(issuerAuth)
	if err != nil {
		return false, err
	}

	// 2. x5chain
	chain, err := msg.CertificateChain()
	if err != nil {
		return false, err
	}
	leaf := chain[0]

	// 3. leaf validity, before any signature work
	if now.Before(leaf.NotBefore) || now.After(leaf.NotAfter) {
		return false, NewError(ReasonCertificateInvalid,
			"document signer certificate not valid at %s: notBefore=%s notAfter=%s",
			now.UTC().Format(time.RFC3339), leaf.NotBefore.UTC().Format(time.RFC3339), leaf.NotAfter.UTC().Format(time.RFC3339))
	}
	if v.trustAnchor != nil {
		if err := v.trustAnchor.VerifyChain(chain, now); err != nil {
			return false, WrapError(ReasonCertificateInvalid, err, "document signer chain not trusted")
		}
	}

	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false, NewError(ReasonUnsupportedAlgorithm, "unexpected public key type: %T, expected *ecdsa.PublicKey", leaf.PublicKey)
	}

	// 4-6. Sig_structure, r||s to DER, ECDSA
	return verifySign1(msg, msg.Payload, pub)
}

// VerifyDeviceSignature verifies mdoc authentication by device signature.
// deviceNameSpacesBytes is the #6.24 wrapped DeviceNameSpaces encoding.
func (v *Verifier) VerifyDeviceSignature(deviceAuth DeviceAuth, deviceNameSpacesBytes, sessionTranscript []byte, docType DocType, deviceKey *COSEKey) (bool, error) {
	if len(deviceAuth.DeviceSignature) == 0 {
		if len(deviceAuth.DeviceMac) > 0 {
			return false, NewError(ReasonUnsupportedAlgorithm, "deviceMac authentication is not supported")
		}
		return false, NewError(ReasonMalformedStructure, "deviceAuth has no deviceSignature")
	}
	if len(sessionTranscript) == 0 {
		return false, NewError(ReasonMalformedStructure, "session transcript is empty")
	}

	// 1. deviceSignature COSE_Sign1
	msg, err := ParseSign1(deviceAuth.DeviceSignature)
	if err != nil {
		return false, err
	}

	// 2. DeviceAuthenticationBytes
	payload, err := DeviceAuthenticationBytes(sessionTranscript, docType, deviceNameSpacesBytes)
	if err != nil {
		return false, err
	}

	// 3. device key from the MSO
	pub, err := deviceKey.PublicKey()
	if err != nil {
		return false, err
	}

	// 4. detached payload signature
	return verifySign1(msg, payload, pub)
}

// DeviceAuthenticationBytes encodes
// #6.24(bstr .cbor ["DeviceAuthentication", SessionTranscript, DocType, DeviceNameSpacesBytes]).
func DeviceAuthenticationBytes(sessionTranscript []byte, docType DocType, deviceNameSpacesBytes []byte) ([]byte, error) {
	if len(deviceNameSpacesBytes) == 0 {
		return nil, NewError(ReasonMalformedStructure, "device namespaces are empty")
	}

	da, err := encMode.Marshal([]interface{}{
		"DeviceAuthentication",
		cbor.RawMessage(sessionTranscript),
		string(docType),
		cbor.RawMessage(deviceNameSpacesBytes),
	})
	if err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "failed to marshal device authentication")
	}

	b, err := encMode.Marshal(cbor.Tag{Number: TagEncodedCBOR, Content: da})
	if err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "failed to marshal tagged device authentication")
	}
	return b, nil
}

// Verify runs issuer data authentication and mdoc authentication for doc.
// Any failing step fails the document.
func (v *Verifier) Verify(doc Document, sessionTranscript []byte) error {
	now := v.now()

	// 9.3.1 Inspection procedure for issuer data authentication
	// 1-2. Validate the document signer certificate and the IssuerAuth signature.
	ok, err := v.verifyIssuerSignature(doc.IssuerSigned.IssuerAuth, now)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(ReasonSignatureInvalid, "issuer signature does not verify")
	}

	mso, err := doc.IssuerSigned.MobileSecurityObject()
	if err != nil {
		return err
	}

	// 4. Verify that the DocType in the MSO matches the relevant DocType in the Documents structure.
	if mso.DocType != doc.DocType {
		return NewError(ReasonMalformedStructure, "docType mismatch: mso=%s document=%s", mso.DocType, doc.DocType)
	}

	// 5. Validate the elements in the ValidityInfo structure.
	if !v.skipValidityInfo {
		if now.Before(mso.ValidityInfo.ValidFrom) || now.After(mso.ValidityInfo.ValidUntil) {
			return NewError(ReasonCredentialExpired, "mso not valid at %s: validFrom=%s validUntil=%s",
				now.UTC().Format(time.RFC3339),
				mso.ValidityInfo.ValidFrom.UTC().Format(time.RFC3339),
				mso.ValidityInfo.ValidUntil.UTC().Format(time.RFC3339))
		}
	}

	// 3. Calculate the digest value for every IssuerSignedItem and compare
	//    with the MSO.
	if !v.skipVerifyDigests {
		if err := verifyDigests(doc.IssuerSigned, mso); err != nil {
			return err
		}
	}

	// 9.1.3 mdoc authentication
	if v.skipVerifyDeviceSigned {
		return nil
	}
	if doc.DeviceSigned == nil {
		return NewError(ReasonMalformedStructure, "document has no deviceSigned")
	}
	ok, err = v.VerifyDeviceSignature(doc.DeviceSigned.DeviceAuth, doc.DeviceSigned.NameSpacesBytes, sessionTranscript, doc.DocType, mso.DeviceKeyInfo.DeviceKey)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(ReasonSignatureInvalid, "device signature does not verify")
	}
	return nil
}

func verifyDigests(issuerSigned IssuerSigned, mso *MobileSecurityObject) error {
	for _, ns := range issuerSigned.SortedNameSpaces() {
		for _, item := range issuerSigned.NameSpaces[ns] {
			if !item.Bound() {
				return NewError(ReasonDigestMismatch, "item %s/%s is not bound to a digest", ns, item.ElementIdentifier)
			}

			want, err := mso.GetDigest(ns, item.DigestID)
			if err != nil {
				return WrapError(ReasonDigestMismatch, err, "item %s/%s", ns, item.ElementIdentifier)
			}

			got, err := item.Digest(mso.DigestAlgorithm)
			if err != nil {
				return WrapError(ReasonUnsupportedAlgorithm, err, "item %s/%s", ns, item.ElementIdentifier)
			}

			if !bytes.Equal(want, got) {
				return NewError(ReasonDigestMismatch, "digest unmatched: %s/%s digestID=%d", ns, item.ElementIdentifier, item.DigestID)
			}
		}
	}
	return nil
}

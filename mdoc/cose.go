package mdoc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const sigContextSignature1 = "Signature1"

// Sign1 is a COSE_Sign1 message kept in its wire form: the protected
// header and payload are the exact byte strings that were signed.
type Sign1 struct {
	Protected   []byte
	Unprotected map[interface{}]interface{}
	Payload     []byte
	Signature   []byte
}

// ParseSign1 parses a COSE_Sign1, with or without tag 18, requiring the
// four element array form.
func ParseSign1(data []byte) (*Sign1, error) {
	if len(data) == 0 {
		return nil, NewError(ReasonMalformedStructure, "COSE_Sign1 is empty")
	}
	data, err := peelEncodedCBOR(data)
	if err != nil {
		return nil, err
	}

	var tag cbor.RawTag
	if err := decMode.Unmarshal(data, &tag); err == nil {
		if tag.Number != tagCOSESign1 {
			return nil, NewError(ReasonMalformedStructure, "unexpected tag %d on COSE_Sign1", tag.Number)
		}
		data = tag.Content
	}

	var elems []cbor.RawMessage
	if err := decMode.Unmarshal(data, &elems); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "COSE_Sign1 is not an array")
	}
	if len(elems) != 4 {
		return nil, NewError(ReasonMalformedStructure, "COSE_Sign1 has %d elements, want 4", len(elems))
	}

	var msg Sign1
	if err := decMode.Unmarshal(elems[0], &msg.Protected); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "protected header is not a byte string")
	}
	if err := decMode.Unmarshal(elems[1], &msg.Unprotected); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "unprotected header is not a map")
	}
	if err := decMode.Unmarshal(elems[2], &msg.Payload); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "payload is not a byte string or nil")
	}
	if err := decMode.Unmarshal(elems[3], &msg.Signature); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "signature is not a byte string")
	}
	return &msg, nil
}

// ProtectedHeader decodes the protected header map.
func (m *Sign1) ProtectedHeader() (cose.ProtectedHeader, error) {
	h := cose.ProtectedHeader{}
	if len(m.Protected) == 0 {
		return h, nil
	}
	encoded, err := encMode.Marshal(m.Protected)
	if err != nil {
		return nil, fmt.Errorf("failed to encode protected header: %w", err)
	}
	if err := h.UnmarshalCBOR(encoded); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "failed to decode protected header")
	}
	return h, nil
}

// Algorithm returns the protected-header algorithm.
func (m *Sign1) Algorithm() (cose.Algorithm, error) {
	h, err := m.ProtectedHeader()
	if err != nil {
		return 0, err
	}
	alg, err := h.Algorithm()
	if err != nil {
		return 0, WrapError(ReasonUnsupportedAlgorithm, err, "protected header has no usable alg")
	}
	return alg, nil
}

// CertificateChain returns the x5chain certificates, leaf first. The chain
// is looked up in the unprotected header, then in the protected header.
func (m *Sign1) CertificateChain() ([]*x509.Certificate, error) {
	rawChain, ok := m.Unprotected[int64(cose.HeaderLabelX5Chain)]
	if !ok {
		h, err := m.ProtectedHeader()
		if err != nil {
			return nil, err
		}
		rawChain, ok = h[int64(cose.HeaderLabelX5Chain)]
	}
	if !ok {
		return nil, NewError(ReasonMissingCertificateChain, "x5chain not found in headers")
	}

	var ders [][]byte
	switch v := rawChain.(type) {
	case []byte:
		ders = [][]byte{v}
	case [][]byte:
		ders = v
	case []interface{}:
		for i, e := range v {
			der, ok := e.([]byte)
			if !ok {
				return nil, NewError(ReasonMissingCertificateChain, "x5chain element %d is %T", i, e)
			}
			ders = append(ders, der)
		}
	default:
		return nil, NewError(ReasonMissingCertificateChain, "unexpected x5chain type: %T", rawChain)
	}
	if len(ders) == 0 {
		return nil, NewError(ReasonMissingCertificateChain, "empty x5chain")
	}

	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, WrapError(ReasonCertificateInvalid, err, "error parsing certificate")
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// sigStructure encodes Sig_structure for a COSE_Sign1 with empty external
// data.
func sigStructure(protected, payload []byte) ([]byte, error) {
	if protected == nil {
		protected = []byte{}
	}
	if payload == nil {
		payload = []byte{}
	}
	b, err := encMode.Marshal([]interface{}{
		sigContextSignature1,
		protected,
		[]byte{},
		payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode Sig_structure: %w", err)
	}
	return b, nil
}

// rawToDER converts a fixed width r||s signature to an ASN.1 DER
// Ecdsa-Sig-Value.
func rawToDER(sig []byte) ([]byte, error) {
	if len(sig) == 0 || len(sig)%2 != 0 {
		return nil, fmt.Errorf("invalid raw signature length: %d", len(sig))
	}
	n := len(sig) / 2
	r := new(big.Int).SetBytes(sig[:n])
	s := new(big.Int).SetBytes(sig[n:])

	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})
	return b.Bytes()
}

// verifyES256 verifies a raw r||s signature over message. A signature of
// the wrong size is a negative result, not an error.
func verifyES256(pub *ecdsa.PublicKey, message, sig []byte) (bool, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return false, NewError(ReasonUnsupportedAlgorithm, "ES256 requires a P-256 key")
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	if len(sig) != 2*size {
		return false, nil
	}

	der, err := rawToDER(sig)
	if err != nil {
		return false, nil
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], der), nil
}

// verifySign1 checks the algorithm and the signature of msg over payload.
func verifySign1(msg *Sign1, payload []byte, pub *ecdsa.PublicKey) (bool, error) {
	alg, err := msg.Algorithm()
	if err != nil {
		return false, err
	}
	if alg != cose.AlgorithmES256 {
		return false, NewError(ReasonUnsupportedAlgorithm, "unsupported algorithm: %v", alg)
	}

	toBeSigned, err := sigStructure(msg.Protected, payload)
	if err != nil {
		return false, err
	}
	return verifyES256(pub, toBeSigned, msg.Signature)
}

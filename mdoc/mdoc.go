package mdoc

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kokukuma/mdoc-age-verifier/pkg/hash"
)

type DocType string

type NameSpace string

type ElementIdentifier string

type ElementValue interface{}

type DeviceResponse struct {
	Version   string
	Documents []Document
	Status    uint64
}

type Document struct {
	DocType      DocType
	IssuerSigned IssuerSigned
	DeviceSigned *DeviceSigned

	// Skipped holds per-item failures that were recovered from while
	// building the document.
	Skipped []error
}

type IssuerSigned struct {
	NameSpaces IssuerNameSpaces
	IssuerAuth cbor.RawMessage
}

type IssuerNameSpaces map[NameSpace][]IssuerSignedItem

// SortedNameSpaces returns the namespace names in lexical order.
func (i IssuerSigned) SortedNameSpaces() []NameSpace {
	nss := make([]NameSpace, 0, len(i.NameSpaces))
	for ns := range i.NameSpaces {
		nss = append(nss, ns)
	}
	sort.Slice(nss, func(a, b int) bool { return nss[a] < nss[b] })
	return nss
}

type IssuerSignedItem struct {
	DigestID          DigestID
	HasDigestID       bool
	Random            []byte
	ElementIdentifier ElementIdentifier
	ElementValue      ElementValue

	// raw is the IssuerSignedItem encoding the digest is computed over.
	// It is nil when the item was not found in its own encoding.
	raw []byte
}

// Bound reports whether the item can be checked against an MSO digest.
func (i IssuerSignedItem) Bound() bool {
	return i.HasDigestID && len(i.raw) > 0
}

// Digest computes digestAlg(#6.24(bstr .cbor IssuerSignedItem)).
func (i IssuerSignedItem) Digest(alg string) ([]byte, error) {
	if len(i.raw) == 0 {
		return nil, fmt.Errorf("issuer signed item bytes not available")
	}

	v, err := encMode.Marshal(cbor.Tag{Number: TagEncodedCBOR, Content: i.raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tagged CBOR: %w", err)
	}

	return hash.Digest(v, alg)
}

type DeviceSigned struct {
	// NameSpacesBytes is the DeviceNameSpacesBytes encoding, #6.24(bstr).
	NameSpacesBytes []byte
	DeviceAuth      DeviceAuth
}

type DeviceAuth struct {
	DeviceSignature cbor.RawMessage
	DeviceMac       cbor.RawMessage
}

type MobileSecurityObject struct {
	Version         string        `cbor:"version"`
	DigestAlgorithm string        `cbor:"digestAlgorithm"`
	ValueDigests    ValueDigests  `cbor:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo `cbor:"deviceKeyInfo"`
	DocType         DocType       `cbor:"docType"`
	ValidityInfo    ValidityInfo  `cbor:"validityInfo"`
}

func (m *MobileSecurityObject) GetDigest(ns NameSpace, digestID DigestID) (Digest, error) {
	digests, ok := m.ValueDigests[ns]
	if !ok {
		return nil, fmt.Errorf("value digests not found: %s", ns)
	}
	digest, ok := digests[digestID]
	if !ok {
		return nil, fmt.Errorf("digest not found: %s, %d", ns, digestID)
	}
	return digest, nil
}

type DeviceKeyInfo struct {
	DeviceKey *COSEKey `cbor:"deviceKey"`
}

type ValueDigests map[NameSpace]DigestIDs

type DigestIDs map[DigestID]Digest

type DigestID uint32

type Digest []byte

type ValidityInfo struct {
	Signed     time.Time `cbor:"signed"`
	ValidFrom  time.Time `cbor:"validFrom"`
	ValidUntil time.Time `cbor:"validUntil"`
}

// COSEKey is an RFC 8152 key. Only EC2 keys are interpreted.
type COSEKey struct {
	Kty int    `cbor:"1,keyasint"`
	Kid []byte `cbor:"2,keyasint,omitempty"`
	Alg int    `cbor:"3,keyasint,omitempty"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

const (
	KeyTypeEC2 = 2

	P256 = 1
	P384 = 2
	P521 = 3
)

// PublicKey reconstructs a P-256 public key, rejecting keys that are not on
// the curve.
func (k *COSEKey) PublicKey() (*ecdsa.PublicKey, error) {
	if k == nil {
		return nil, NewError(ReasonMalformedStructure, "device key not available")
	}
	if k.Kty != KeyTypeEC2 {
		return nil, NewError(ReasonUnsupportedAlgorithm, "unsupported key type: %d", k.Kty)
	}
	if k.Crv != P256 {
		return nil, NewError(ReasonUnsupportedAlgorithm, "unsupported curve: %d", k.Crv)
	}
	if len(k.X) != 32 || len(k.Y) != 32 {
		return nil, NewError(ReasonMalformedStructure, "invalid coordinate length: x=%d y=%d", len(k.X), len(k.Y))
	}

	point := make([]byte, 0, 65)
	point = append(point, 0x04)
	point = append(point, k.X...)
	point = append(point, k.Y...)
	if _, err := ecdh.P256().NewPublicKey(point); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "device key is not on P-256")
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}, nil
}

// MobileSecurityObject decodes the MSO carried as issuerAuth payload.
func (i IssuerSigned) MobileSecurityObject() (*MobileSecurityObject, error) {
	sign1, err := ParseSign1(i.IssuerAuth)
	if err != nil {
		return nil, err
	}
	if len(sign1.Payload) == 0 {
		return nil, NewError(ReasonMalformedStructure, "issuerAuth has no payload")
	}

	content, err := peelEncodedCBOR(sign1.Payload)
	if err != nil {
		return nil, err
	}

	var mso MobileSecurityObject
	if err := decMode.Unmarshal(content, &mso); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "failed to unmarshal MSO")
	}
	return &mso, nil
}

type rawDeviceResponse struct {
	Version   string            `cbor:"version"`
	Documents []cbor.RawMessage `cbor:"documents"`
	Status    uint64            `cbor:"status"`
}

type rawDocument struct {
	DocType      string          `cbor:"docType"`
	IssuerSigned cbor.RawMessage `cbor:"issuerSigned"`
	DeviceSigned cbor.RawMessage `cbor:"deviceSigned"`
}

type rawIssuerSigned struct {
	NameSpaces map[string]cbor.RawMessage `cbor:"nameSpaces"`
	IssuerAuth cbor.RawMessage            `cbor:"issuerAuth"`
}

type rawDeviceSigned struct {
	NameSpaces cbor.RawMessage            `cbor:"nameSpaces"`
	DeviceAuth map[string]cbor.RawMessage `cbor:"deviceAuth"`
}

// ParseDeviceResponse builds the document model from an encoded
// DeviceResponse. Structure errors fail the whole response; failures of
// single claim items are recorded in Document.Skipped.
func ParseDeviceResponse(data []byte) (*DeviceResponse, error) {
	if err := decMode.Wellformed(data); err != nil {
		return nil, WrapError(ReasonDecode, err, "failed to decode cbor")
	}

	data, err := peelEncodedCBOR(data)
	if err != nil {
		return nil, err
	}

	var raw rawDeviceResponse
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "failed to unmarshal device response")
	}
	if len(raw.Documents) == 0 {
		return nil, NewError(ReasonMalformedStructure, "device response has no documents")
	}

	resp := &DeviceResponse{
		Version: raw.Version,
		Status:  raw.Status,
	}
	for i, rd := range raw.Documents {
		doc, err := parseDocument(rd)
		if err != nil {
			return nil, WrapError(ReasonOf(err), err, "document %d", i)
		}
		resp.Documents = append(resp.Documents, *doc)
	}
	return resp, nil
}

func parseDocument(data []byte) (*Document, error) {
	data, err := peelEncodedCBOR(data)
	if err != nil {
		return nil, err
	}

	var rd rawDocument
	if err := decMode.Unmarshal(data, &rd); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "failed to unmarshal document")
	}
	if rd.DocType == "" {
		return nil, NewError(ReasonMalformedStructure, "document has no docType")
	}
	if len(rd.IssuerSigned) == 0 {
		return nil, NewError(ReasonMalformedStructure, "document has no issuerSigned")
	}

	issuerSignedBytes, err := peelEncodedCBOR(rd.IssuerSigned)
	if err != nil {
		return nil, err
	}
	var ris rawIssuerSigned
	if err := decMode.Unmarshal(issuerSignedBytes, &ris); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "failed to unmarshal issuerSigned")
	}
	if len(ris.IssuerAuth) == 0 {
		return nil, NewError(ReasonMalformedStructure, "issuerSigned has no issuerAuth")
	}

	doc := &Document{
		DocType: DocType(rd.DocType),
		IssuerSigned: IssuerSigned{
			NameSpaces: IssuerNameSpaces{},
			IssuerAuth: ris.IssuerAuth,
		},
	}

	names := make([]string, 0, len(ris.NameSpaces))
	for ns := range ris.NameSpaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		items, skipped := parseNameSpace(ris.NameSpaces[ns])
		for _, err := range skipped {
			doc.Skipped = append(doc.Skipped, fmt.Errorf("namespace %s: %w", ns, err))
		}
		if len(items) > 0 {
			doc.IssuerSigned.NameSpaces[NameSpace(ns)] = items
		}
	}

	if len(rd.DeviceSigned) > 0 {
		ds, err := parseDeviceSigned(rd.DeviceSigned)
		if err != nil {
			return nil, err
		}
		doc.DeviceSigned = ds
	}
	return doc, nil
}

func parseDeviceSigned(data []byte) (*DeviceSigned, error) {
	data, err := peelEncodedCBOR(data)
	if err != nil {
		return nil, err
	}

	var rds rawDeviceSigned
	if err := decMode.Unmarshal(data, &rds); err != nil {
		return nil, WrapError(ReasonMalformedStructure, err, "failed to unmarshal deviceSigned")
	}
	if len(rds.NameSpaces) == 0 {
		return nil, NewError(ReasonMalformedStructure, "deviceSigned has no nameSpaces")
	}

	nameSpacesBytes := []byte(rds.NameSpaces)
	var tag cbor.RawTag
	if err := decMode.Unmarshal(rds.NameSpaces, &tag); err != nil || tag.Number != TagEncodedCBOR {
		// some holders send the bare map; DeviceNameSpacesBytes is its tag 24 form
		nameSpacesBytes, err = encMode.Marshal(cbor.Tag{Number: TagEncodedCBOR, Content: []byte(rds.NameSpaces)})
		if err != nil {
			return nil, fmt.Errorf("failed to wrap device namespaces: %w", err)
		}
	}

	return &DeviceSigned{
		NameSpacesBytes: nameSpacesBytes,
		DeviceAuth: DeviceAuth{
			DeviceSignature: rds.DeviceAuth["deviceSignature"],
			DeviceMac:       rds.DeviceAuth["deviceMac"],
		},
	}, nil
}

// Package mdoctest builds signed ISO 18013-5 DeviceResponses for tests.
// It does not depend on package mdoc so that mdoc's own tests can use it.
package mdoctest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

const (
	DocTypeMDL     = "org.iso.18013.5.1.mDL"
	NameSpaceMDL   = "org.iso.18013.5.1"
	tagEncodedCBOR = 24
)

// Encoding selects how issuer-signed items are laid out in a namespace.
type Encoding int

const (
	// EncodingTag24 is the ISO form: an array of #6.24(bstr) items.
	EncodingTag24 Encoding = iota
	// EncodingPlainMaps is an array of bare item maps.
	EncodingPlainMaps
	// EncodingBase64Fragments is an array of base64url text items.
	EncodingBase64Fragments
	// EncodingStdBase64Fragments is an array of standard base64 text items.
	EncodingStdBase64Fragments
	// EncodingByteFragments is an array of untagged byte string items.
	EncodingByteFragments
	// EncodingClaimNameMap is a single map from claim name to value, with
	// no IssuerSignedItem structure. The MSO still carries the digests of
	// the ISO items.
	EncodingClaimNameMap
)

type Claim struct {
	Name  string
	Value interface{}
}

// Issuer is a document signer with its certificate chain.
type Issuer struct {
	Key   *ecdsa.PrivateKey
	Cert  *x509.Certificate
	Chain [][]byte
}

// NewIssuer creates a root CA and a document signer certificate valid in
// [notBefore, notAfter].
func NewIssuer(notBefore, notAfter time.Time) (*Issuer, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootTemplate := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mdoctest IACA"},
		NotBefore:             notBefore.Add(-time.Hour),
		NotAfter:              notAfter.Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, &rootTemplate, &rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "mdoctest document signer"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, root, &key.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	return &Issuer{
		Key:   key,
		Cert:  cert,
		Chain: [][]byte{der, rootDER},
	}, nil
}

// Document describes one document to issue and present.
type Document struct {
	DocType   string
	NameSpace string
	Claims    []Claim
	Encoding  Encoding

	ValidFrom  time.Time
	ValidUntil time.Time

	// DeviceKey signs DeviceAuthentication over SessionTranscript. A nil
	// SessionTranscript omits deviceSigned.
	DeviceKey         *ecdsa.PrivateKey
	SessionTranscript []byte

	// MSODocType overrides the docType signed into the MSO.
	MSODocType string
	// TamperIssuerSignature flips one byte of the issuer signature.
	TamperIssuerSignature bool
	// TamperValue replaces the first claim value after signing.
	TamperValue interface{}
	// OmitX5Chain leaves x5chain out of the issuer headers.
	OmitX5Chain bool
	// DeviceMacOnly replaces deviceSignature by a deviceMac.
	DeviceMacOnly bool
}

func (d *Document) defaults() {
	if d.DocType == "" {
		d.DocType = DocTypeMDL
	}
	if d.NameSpace == "" {
		d.NameSpace = NameSpaceMDL
	}
	if d.ValidFrom.IsZero() {
		d.ValidFrom = time.Now().Add(-24 * time.Hour)
	}
	if d.ValidUntil.IsZero() {
		d.ValidUntil = time.Now().Add(365 * 24 * time.Hour)
	}
}

// Issue builds the encoded Document structure.
func (i *Issuer) Issue(d Document) (cbor.RawMessage, error) {
	d.defaults()

	var itemsBytes [][]byte
	digests := map[uint64][]byte{}
	for n, c := range d.Claims {
		random := make([]byte, 16)
		if _, err := rand.Read(random); err != nil {
			return nil, err
		}
		item := map[string]interface{}{
			"digestID":          uint64(n),
			"random":            random,
			"elementIdentifier": c.Name,
			"elementValue":      c.Value,
		}
		b, err := cbor.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encoding IssuerSignedItem: %w", err)
		}
		tagged, err := cbor.Marshal(cbor.Tag{Number: tagEncodedCBOR, Content: b})
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(tagged)
		digests[uint64(n)] = sum[:]

		if n == 0 && d.TamperValue != nil {
			item["elementValue"] = d.TamperValue
			if b, err = cbor.Marshal(item); err != nil {
				return nil, err
			}
		}
		itemsBytes = append(itemsBytes, b)
	}

	var nameSpace interface{}
	if d.Encoding == EncodingClaimNameMap {
		m := map[string]interface{}{}
		for _, c := range d.Claims {
			m[c.Name] = c.Value
		}
		nameSpace = m
	} else {
		var err error
		if nameSpace, err = encodeNameSpace(itemsBytes, d.Encoding); err != nil {
			return nil, err
		}
	}

	msoDocType := d.DocType
	if d.MSODocType != "" {
		msoDocType = d.MSODocType
	}
	var deviceKey map[int]interface{}
	if d.DeviceKey != nil {
		deviceKey = COSEKey(&d.DeviceKey.PublicKey)
	}
	mso := map[string]interface{}{
		"version":         "1.0",
		"digestAlgorithm": "SHA-256",
		"docType":         msoDocType,
		"valueDigests": map[string]interface{}{
			d.NameSpace: digests,
		},
		"deviceKeyInfo": map[string]interface{}{
			"deviceKey": deviceKey,
		},
		"validityInfo": map[string]interface{}{
			"signed":     tdate(d.ValidFrom),
			"validFrom":  tdate(d.ValidFrom),
			"validUntil": tdate(d.ValidUntil),
		},
	}
	msoBytes, err := cbor.Marshal(mso)
	if err != nil {
		return nil, fmt.Errorf("encoding MSO: %w", err)
	}
	payload, err := cbor.Marshal(cbor.Tag{Number: tagEncodedCBOR, Content: msoBytes})
	if err != nil {
		return nil, err
	}

	unprotected := map[int]interface{}{}
	if !d.OmitX5Chain {
		unprotected[int(cose.HeaderLabelX5Chain)] = i.Chain
	}
	issuerAuth, err := Sign1(i.Key, unprotected, payload, payload, d.TamperIssuerSignature)
	if err != nil {
		return nil, err
	}

	doc := map[string]interface{}{
		"docType": d.DocType,
		"issuerSigned": map[string]interface{}{
			"nameSpaces": map[string]interface{}{
				d.NameSpace: nameSpace,
			},
			"issuerAuth": issuerAuth,
		},
	}

	if d.SessionTranscript != nil {
		deviceSigned, err := deviceSigned(d)
		if err != nil {
			return nil, err
		}
		doc["deviceSigned"] = deviceSigned
	}

	return cbor.Marshal(doc)
}

func deviceSigned(d Document) (map[string]interface{}, error) {
	nsBytes, err := cbor.Marshal(map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	deviceNameSpacesBytes, err := cbor.Marshal(cbor.Tag{Number: tagEncodedCBOR, Content: nsBytes})
	if err != nil {
		return nil, err
	}

	if d.DeviceMacOnly {
		return map[string]interface{}{
			"nameSpaces": cbor.RawMessage(deviceNameSpacesBytes),
			"deviceAuth": map[string]interface{}{
				"deviceMac": []interface{}{[]byte{0xa1, 0x01, 0x05}, map[int]interface{}{}, nil, make([]byte, 32)},
			},
		}, nil
	}

	da, err := cbor.Marshal([]interface{}{
		"DeviceAuthentication",
		cbor.RawMessage(d.SessionTranscript),
		d.DocType,
		cbor.RawMessage(deviceNameSpacesBytes),
	})
	if err != nil {
		return nil, err
	}
	daBytes, err := cbor.Marshal(cbor.Tag{Number: tagEncodedCBOR, Content: da})
	if err != nil {
		return nil, err
	}

	sig, err := Sign1(d.DeviceKey, map[int]interface{}{}, nil, daBytes, false)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"nameSpaces": cbor.RawMessage(deviceNameSpacesBytes),
		"deviceAuth": map[string]interface{}{
			"deviceSignature": sig,
		},
	}, nil
}

// Sign1 builds an untagged ES256 COSE_Sign1. payload is what is carried;
// signed is what the signature covers (they differ for detached payloads).
func Sign1(key *ecdsa.PrivateKey, unprotected map[int]interface{}, payload, signed []byte, tamper bool) (cbor.RawMessage, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("creating COSE signer: %w", err)
	}

	protected, err := cbor.Marshal(map[int]interface{}{1: int(cose.AlgorithmES256)})
	if err != nil {
		return nil, err
	}
	toBeSigned, err := cbor.Marshal([]interface{}{"Signature1", protected, []byte{}, signed})
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(rand.Reader, toBeSigned)
	if err != nil {
		return nil, fmt.Errorf("COSE signing: %w", err)
	}
	if tamper {
		sig[len(sig)/3] ^= 0x01
	}

	var p interface{}
	if payload != nil {
		p = payload
	}
	return cbor.Marshal([]interface{}{protected, unprotected, p, sig})
}

// COSEKey encodes pub as an EC2 COSE_Key.
func COSEKey(pub *ecdsa.PublicKey) map[int]interface{} {
	return map[int]interface{}{
		1:  2,
		-1: 1,
		-2: pub.X.FillBytes(make([]byte, 32)),
		-3: pub.Y.FillBytes(make([]byte, 32)),
	}
}

// DeviceResponse wraps encoded documents into a DeviceResponse.
func DeviceResponse(docs ...cbor.RawMessage) ([]byte, error) {
	return cbor.Marshal(map[string]interface{}{
		"version":   "1.0",
		"documents": docs,
		"status":    0,
	})
}

// VPToken encodes a DeviceResponse as a vp_token value.
func VPToken(deviceResponse []byte) string {
	return base64.RawURLEncoding.EncodeToString(deviceResponse)
}

func encodeNameSpace(items [][]byte, enc Encoding) (interface{}, error) {
	out := make([]interface{}, 0, len(items))
	for _, b := range items {
		switch enc {
		case EncodingTag24:
			out = append(out, cbor.Tag{Number: tagEncodedCBOR, Content: b})
		case EncodingPlainMaps:
			out = append(out, cbor.RawMessage(b))
		case EncodingBase64Fragments:
			out = append(out, base64.RawURLEncoding.EncodeToString(b))
		case EncodingStdBase64Fragments:
			out = append(out, base64.StdEncoding.EncodeToString(b))
		case EncodingByteFragments:
			out = append(out, b)
		default:
			return nil, fmt.Errorf("unknown encoding %d", enc)
		}
	}
	return out, nil
}

func tdate(t time.Time) cbor.Tag {
	return cbor.Tag{Number: 0, Content: t.UTC().Truncate(time.Second).Format(time.RFC3339)}
}

package mdoc

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/kokukuma/mdoc-age-verifier/mdoc/mdoctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceResponse(t *testing.T) {
	issuer := newTestIssuer(t)
	doc1, err := issuer.Issue(mdoctest.Document{Claims: ageClaims()})
	require.NoError(t, err)
	doc2, err := issuer.Issue(mdoctest.Document{
		DocType:   string(DocTypePID),
		NameSpace: string(NameSpaceEUDIPID),
		Claims:    []mdoctest.Claim{{Name: "age_over_21", Value: true}},
	})
	require.NoError(t, err)

	resp, err := mdoctest.DeviceResponse(doc1, doc2)
	require.NoError(t, err)

	for name, data := range map[string][]byte{
		"plain":  resp,
		"tag 24": wrapTag24(t, resp, 1),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ParseDeviceResponse(data)
			require.NoError(t, err)
			assert.Equal(t, "1.0", got.Version)
			require.Len(t, got.Documents, 2)
			assert.Equal(t, DocTypeMDL, got.Documents[0].DocType)
			assert.Equal(t, DocTypePID, got.Documents[1].DocType)
			assert.Len(t, got.Documents[1].IssuerSigned.NameSpaces[NameSpaceEUDIPID], 1)
			assert.Nil(t, got.Documents[0].DeviceSigned)
		})
	}
}

func TestParseDeviceResponseErrors(t *testing.T) {
	issuerAuth := mustMarshal(t, []interface{}{[]byte{0xa0}, map[int]interface{}{}, nil, []byte{}})

	tests := []struct {
		name    string
		data    []byte
		wantErr Reason
	}{
		{name: "not cbor", data: []byte{0xff, 0xff}, wantErr: ReasonDecode},
		{name: "not a map", data: mustMarshal(t, []int{1, 2}), wantErr: ReasonMalformedStructure},
		{name: "no documents", data: mustMarshal(t, map[string]interface{}{"version": "1.0", "status": 0}), wantErr: ReasonMalformedStructure},
		{name: "empty documents", data: mustMarshal(t, map[string]interface{}{"documents": []interface{}{}}), wantErr: ReasonMalformedStructure},
		{
			name: "document without docType",
			data: mustMarshal(t, map[string]interface{}{"documents": []interface{}{
				map[string]interface{}{"issuerSigned": map[string]interface{}{"issuerAuth": cbor.RawMessage(issuerAuth)}},
			}}),
			wantErr: ReasonMalformedStructure,
		},
		{
			name: "document without issuerAuth",
			data: mustMarshal(t, map[string]interface{}{"documents": []interface{}{
				map[string]interface{}{"docType": "x", "issuerSigned": map[string]interface{}{"nameSpaces": map[string]interface{}{}}},
			}}),
			wantErr: ReasonMalformedStructure,
		},
		{
			name: "deviceSigned without nameSpaces",
			data: mustMarshal(t, map[string]interface{}{"documents": []interface{}{
				map[string]interface{}{
					"docType":      "x",
					"issuerSigned": map[string]interface{}{"issuerAuth": cbor.RawMessage(issuerAuth)},
					"deviceSigned": map[string]interface{}{"deviceAuth": map[string]interface{}{}},
				},
			}}),
			wantErr: ReasonMalformedStructure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDeviceResponse(tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, ReasonOf(err))
		})
	}
}

func TestParseDeviceSignedWrapsBareNameSpaces(t *testing.T) {
	bare := mustMarshal(t, map[string]interface{}{})
	data := mustMarshal(t, map[string]interface{}{
		"nameSpaces": cbor.RawMessage(bare),
		"deviceAuth": map[string]interface{}{"deviceSignature": []interface{}{[]byte{}, map[int]interface{}{}, nil, []byte{}}},
	})

	ds, err := parseDeviceSigned(data)
	require.NoError(t, err)
	assert.Equal(t, wrapTag24(t, bare, 1), ds.NameSpacesBytes)
	assert.NotEmpty(t, ds.DeviceAuth.DeviceSignature)
	assert.Empty(t, ds.DeviceAuth.DeviceMac)
}

func TestMobileSecurityObject(t *testing.T) {
	issuer := newTestIssuer(t)
	deviceKey := newP256Key(t)
	doc := parseIssued(t, issuer, mdoctest.Document{Claims: ageClaims(), DeviceKey: deviceKey})

	mso, err := doc.IssuerSigned.MobileSecurityObject()
	require.NoError(t, err)
	assert.Equal(t, "SHA-256", mso.DigestAlgorithm)
	assert.Equal(t, DocTypeMDL, mso.DocType)
	assert.Len(t, mso.ValueDigests[NameSpaceISO1801351], 2)
	assert.True(t, mso.ValidityInfo.ValidFrom.Before(mso.ValidityInfo.ValidUntil))

	pub, err := mso.DeviceKeyInfo.DeviceKey.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(&deviceKey.PublicKey))

	_, err = mso.GetDigest(NameSpaceISO1801351, 99)
	assert.Error(t, err)
	_, err = mso.GetDigest(NameSpaceEUDIPID, 0)
	assert.Error(t, err)
}

package mdoc

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kokukuma/mdoc-age-verifier/mdoc/mdoctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePEM(t *testing.T, path string, der []byte) {
	t.Helper()
	b := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(path, b, 0o600))
}

func TestCertPoolTrustAnchor(t *testing.T) {
	issuer := newTestIssuer(t)
	other := newTestIssuer(t)

	dir := t.TempDir()
	writePEM(t, filepath.Join(dir, "iaca.pem"), issuer.Chain[1])
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("not a cert"), 0o600))

	roots, err := LoadRootCertificates(dir)
	require.NoError(t, err)
	anchor := CertPoolTrustAnchor{Roots: roots}

	verify := func(i *mdoctest.Issuer) error {
		doc := parseIssued(t, i, mdoctest.Document{Claims: ageClaims()})
		return NewVerifier(WithTrustAnchor(anchor), SkipVerifyDeviceSigned()).Verify(doc, nil)
	}

	assert.NoError(t, verify(issuer))

	err = verify(other)
	require.Error(t, err)
	assert.Equal(t, ReasonCertificateInvalid, ReasonOf(err))
}

func TestCertPoolTrustAnchorUsesClock(t *testing.T) {
	issuer := newTestIssuer(t)
	root, err := x509.ParseCertificate(issuer.Chain[1])
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(root)

	chain := []*x509.Certificate{issuer.Cert, root}
	anchor := CertPoolTrustAnchor{Roots: pool}
	assert.NoError(t, anchor.VerifyChain(chain, time.Now()))
	assert.Error(t, anchor.VerifyChain(chain, time.Now().Add(-48*time.Hour)))
	assert.Error(t, anchor.VerifyChain(nil, time.Now()))
}

func TestLoadRootCertificates(t *testing.T) {
	issuer := newTestIssuer(t)
	dir := t.TempDir()

	file := filepath.Join(dir, "root.pem")
	writePEM(t, file, issuer.Chain[1])
	_, err := LoadRootCertificates(file)
	assert.NoError(t, err)

	bad := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o600))
	_, err = LoadRootCertificates(bad)
	assert.Error(t, err)

	_, err = LoadRootCertificates(t.TempDir())
	assert.Error(t, err)

	_, err = LoadRootCertificates(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

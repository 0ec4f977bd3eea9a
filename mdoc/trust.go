package mdoc

import (
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CertPoolTrustAnchor accepts document signer chains that build to one of
// its roots. Certificates after the leaf are used as intermediates.
type CertPoolTrustAnchor struct {
	Roots *x509.CertPool
}

func (a CertPoolTrustAnchor) VerifyChain(chain []*x509.Certificate, now time.Time) error {
	if len(chain) == 0 {
		return fmt.Errorf("empty chain")
	}
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	_, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         a.Roots,
		Intermediates: intermediates,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}

// LoadRootCertificates reads IACA certificates from a PEM file or from every
// .pem file of a directory.
func LoadRootCertificates(path string) (*x509.CertPool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	files := []string{path}
	if info.IsDir() {
		files, err = pemFiles(path)
		if err != nil {
			return nil, err
		}
	}

	roots := x509.NewCertPool()
	var loaded int
	for _, file := range files {
		pem, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %s, err: %w", file, err)
		}
		if ok := roots.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("failed to load pem: %s", file)
		}
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("no pem file found in %s", path)
	}
	return roots, nil
}

func pemFiles(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".pem") {
			continue
		}
		files = append(files, filepath.Join(dirPath, e.Name()))
	}
	return files, nil
}

package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	msg := []byte("issuer signed item")
	s256 := sha256.Sum256(msg)
	s384 := sha512.Sum384(msg)
	s512 := sha512.Sum512(msg)

	tests := []struct {
		alg     string
		want    []byte
		wantErr bool
	}{
		{alg: SHA256, want: s256[:]},
		{alg: SHA384, want: s384[:]},
		{alg: SHA512, want: s512[:]},
		{alg: "SHA-1", wantErr: true},
		{alg: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			got, err := Digest(msg, tt.alg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

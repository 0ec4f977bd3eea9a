package session_transcript

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"go.uber.org/zap"
)

// OpenID 4 Verifiable Presentations 1.0, B.2.6.2 (DC API handover)
const OPENID4VP_DC_API_HANDOVER = "OpenID4VPDCAPIHandover"

const androidOriginPrefix = "android:apk-key-hash:"

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create cbor encode mode: %v", err))
	}
}

type Option func(*Builder)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// Builder builds the SessionTranscript bound into device signatures for
// responses delivered through the Digital Credentials API.
type Builder struct {
	androidKeyHash []byte
	logger         *zap.Logger
}

// New returns a Builder. androidSigningKeyHash is the base64 encoded
// signing key hash of the native app allowed to call the verifier; it may
// be empty when no native caller is expected.
func New(androidSigningKeyHash string, opts ...Option) (*Builder, error) {
	b := &Builder{
		logger: zap.NewNop(),
	}
	if androidSigningKeyHash != "" {
		hash, err := mdoc.DecodeBase64(androidSigningKeyHash)
		if err != nil {
			return nil, fmt.Errorf("failed to decode android signing key hash: %w", err)
		}
		b.androidKeyHash = hash
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// originValue returns what an origin contributes to the handover info: the
// origin text for web and unknown origins, the configured signing key hash
// bytes for android apps.
func (b *Builder) originValue(origin string) (interface{}, error) {
	switch {
	case strings.HasPrefix(origin, "https://"), strings.HasPrefix(origin, "http://"):
		return origin, nil
	case strings.HasPrefix(origin, androidOriginPrefix):
		if len(b.androidKeyHash) == 0 {
			return nil, fmt.Errorf("android signing key hash is not configured for origin %s", origin)
		}
		return b.androidKeyHash, nil
	default:
		b.logger.Warn("unknown origin type", zap.String("origin", origin))
		return origin, nil
	}
}

// Build returns
//
//	[null, null, ["OpenID4VPDCAPIHandover", SHA-256(HandoverInfo)]]
//	HandoverInfo = [origin, nonce, jwkThumbprint / null]
//
// nonce is the raw session nonce. It enters HandoverInfo as tstr in the
// unpadded base64url form sent in the request, which is what the wallet
// echoes. jwkThumbprint is nil for unencrypted responses.
func (b *Builder) Build(nonce []byte, origin string, jwkThumbprint []byte) ([]byte, error) {
	if len(nonce) == 0 {
		return nil, fmt.Errorf("nonce cannot be empty")
	}
	if origin == "" {
		return nil, fmt.Errorf("origin cannot be empty")
	}

	originItem, err := b.originValue(origin)
	if err != nil {
		return nil, err
	}

	var thumbprint interface{}
	if len(jwkThumbprint) > 0 {
		thumbprint = jwkThumbprint
	}
	handoverInfo, err := encMode.Marshal([]interface{}{
		originItem,
		base64.RawURLEncoding.EncodeToString(nonce),
		thumbprint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode handover info: %w", err)
	}
	hash := sha256.Sum256(handoverInfo)

	transcript, err := encMode.Marshal([]interface{}{
		nil, // DeviceEngagementBytes
		nil, // EReaderKeyBytes
		[]interface{}{ // OpenID4VPDCAPIHandover
			OPENID4VP_DC_API_HANDOVER,
			hash[:],
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session transcript: %w", err)
	}
	return transcript, nil
}

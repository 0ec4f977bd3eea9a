package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/kokukuma/mdoc-age-verifier/internal/exchange_protocol"
	"github.com/kokukuma/mdoc-age-verifier/internal/session"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ErrInvalidRequest marks initiation parameters the caller must fix.
var ErrInvalidRequest = errors.New("invalid request")

var supportedDocTypes = []mdoc.DocType{mdoc.DocTypeMDL, mdoc.DocTypePID}

type InitiateParams struct {
	MinAge   int
	Mode     session.Mode
	Origin   string
	Protocol openid4vp.Protocol
	DocTypes []mdoc.DocType
}

type Initiation struct {
	SessionID string
	MinAge    int
	Protocol  openid4vp.Protocol
	// Request is an *openid4vp.AuthorizationRequest or an
	// *openid4vp.SignedRequest.
	Request interface{}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Initiate creates a session and the request the browser passes to the
// Digital Credentials API.
func (s *Service) Initiate(ctx context.Context, p InitiateParams) (*Initiation, error) {
	minAge, err := session.NormalizeMinAge(p.MinAge)
	if err != nil {
		return nil, invalid("%v", err)
	}

	mode := p.Mode
	if mode == "" {
		mode = session.ModeStandard
	}
	if !mode.Valid() {
		return nil, invalid("unsupported mode: %s", mode)
	}

	protocol := p.Protocol
	if protocol == "" {
		protocol = openid4vp.ProtocolUnsigned
	}
	if !protocol.Valid() {
		return nil, invalid("unsupported protocol: %s", protocol)
	}

	docTypes := lo.Uniq(p.DocTypes)
	for _, dt := range docTypes {
		if !lo.Contains(supportedDocTypes, dt) {
			return nil, invalid("unsupported doctype: %s", dt)
		}
	}

	opts := []exchange_protocol.IdentityRequestOption{
		exchange_protocol.WithDocTypes(docTypes...),
	}
	if mode == session.ModeZK {
		if s.zk == nil {
			return nil, invalid("zk verification is not configured")
		}
		opts = append(opts, exchange_protocol.WithZK(s.zkSpec))
	}
	if protocol == openid4vp.ProtocolSigned {
		if s.signer == nil {
			return nil, invalid("signed requests are not configured")
		}
		opts = append(opts, exchange_protocol.WithSigner(s.signer, p.Origin))
	}

	idReq, sessionData, err := exchange_protocol.BeginIdentityRequest(protocol, minAge, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	id, err := s.store.Save(ctx, &session.State{
		Nonce:         sessionData.Nonce,
		EncryptionKey: sessionData.EncryptionKey,
		MinAge:        minAge,
		Origin:        p.Origin,
		Mode:          mode,
		Protocol:      protocol,
		CreatedAt:     s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.metrics.observeInitiation(string(protocol), string(mode))
	s.logger.Info("session initiated",
		zap.String("sessionID", id),
		zap.String("protocol", string(protocol)),
		zap.String("mode", string(mode)),
		zap.Int("minAge", minAge))

	return &Initiation{
		SessionID: id,
		MinAge:    minAge,
		Protocol:  protocol,
		Request:   idReq,
	}, nil
}

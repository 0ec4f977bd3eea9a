// Package verifier runs the age verification pipeline: it consumes the
// session, unwraps the wallet response, verifies every presented document
// and derives the age decision.
package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/kokukuma/mdoc-age-verifier/claims"
	"github.com/kokukuma/mdoc-age-verifier/decoder"
	"github.com/kokukuma/mdoc-age-verifier/internal/cryptoroot"
	"github.com/kokukuma/mdoc-age-verifier/internal/exchange_protocol"
	"github.com/kokukuma/mdoc-age-verifier/internal/session"
	"github.com/kokukuma/mdoc-age-verifier/internal/zkverifier"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/kokukuma/mdoc-age-verifier/session_transcript"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZKVerifier checks zero-knowledge presentations.
type ZKVerifier interface {
	Verify(ctx context.Context, payload map[string]interface{}) (*zkverifier.Result, error)
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithZKVerifier(zk ZKVerifier, spec openid4vp.ZKSpec) Option {
	return func(s *Service) {
		s.zk = zk
		s.zkSpec = spec
	}
}

// WithRequestSigner enables openid4vp-v1-signed requests.
func WithRequestSigner(signer *cryptoroot.RequestSigner) Option {
	return func(s *Service) {
		s.signer = signer
	}
}

// WithClock sets the clock used for certificate and MSO validity and for
// age computation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithVerifierOptions passes options, such as a trust anchor, to the mdoc
// verifier.
func WithVerifierOptions(opts ...mdoc.VerifierOption) Option {
	return func(s *Service) {
		s.verifierOpts = append(s.verifierOpts, opts...)
	}
}

type Service struct {
	store       session.Store
	transcripts *session_transcript.Builder

	verifier     *mdoc.Verifier
	verifierOpts []mdoc.VerifierOption

	zk     ZKVerifier
	zkSpec openid4vp.ZKSpec
	signer *cryptoroot.RequestSigner

	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func New(store session.Store, transcripts *session_transcript.Builder, opts ...Option) *Service {
	s := &Service{
		store:       store,
		transcripts: transcripts,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = mdoc.NewVerifier(append([]mdoc.VerifierOption{mdoc.WithClock(s.now)}, s.verifierOpts...)...)
	return s
}

// Verify consumes sessionID and verifies credential against it. origin is
// the origin reported by the browser; the session origin is used when it is
// empty. Failures are reported in the Result, never as verified.
func (s *Service) Verify(ctx context.Context, sessionID string, credential []byte, origin string) *Result {
	start := s.now()
	logger := s.logger.With(zap.String("sessionID", sessionID))

	state, err := s.store.Consume(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			logger.Error("failed to load session", zap.Error(err))
		}
		res := failed(0, mdoc.WrapError(mdoc.ReasonInvalidSession, err, "session %s", sessionID))
		s.metrics.observeVerification(res, start)
		return res
	}

	if origin == "" {
		origin = state.Origin
	}

	res := s.VerifyWithState(ctx, state, credential, origin)
	s.metrics.observeVerification(res, start)

	if res.Reason != "" {
		logger.Info("verification failed", zap.String("reason", string(res.Reason)))
	} else {
		logger.Info("verification completed", zap.Bool("verified", res.Verified), zap.Int("minAge", res.MinAge))
	}
	return res
}

// VerifyWithState runs the pipeline against an already consumed session.
// It does not touch the store, so identical inputs give identical results.
func (s *Service) VerifyWithState(ctx context.Context, state *session.State, credential []byte, origin string) *Result {
	logger := s.logger.With(zap.String("sessionID", state.ID))

	ar, err := decoder.ParseResponse(credential, state.EncryptionKey)
	if err != nil {
		logger.Debug("failed to parse response", zap.Error(err))
		return failed(state.MinAge, err)
	}

	var set claims.Set
	if state.Mode == session.ModeZK {
		set, err = s.verifyZK(ctx, ar)
	} else {
		set, err = s.verifyDocuments(logger, state, ar, origin)
	}
	if err != nil {
		logger.Debug("verification failed", zap.Error(err))
		return failed(state.MinAge, err)
	}

	d, err := claims.Decide(set, state.MinAge, s.now())
	if err != nil {
		return failed(state.MinAge, mdoc.WrapError(mdoc.ReasonInsufficientClaims, err, "failed to decide"))
	}
	return decided(d, set)
}

// verifyDocuments verifies every document of every presentation and returns
// the claims of the first one sufficient for a decision.
func (s *Service) verifyDocuments(logger *zap.Logger, state *session.State, ar *openid4vp.AuthorizationResponse, origin string) (claims.Set, error) {
	transcript, err := s.sessionTranscript(state, origin)
	if err != nil {
		return claims.Set{}, err
	}

	presentations, err := decoder.Presentations(ar)
	if err != nil {
		return claims.Set{}, err
	}

	var (
		chosen claims.Set
		found  bool
	)
	for _, p := range presentations {
		if len(p.DeviceResponse.Documents) == 0 {
			return claims.Set{}, mdoc.NewError(mdoc.ReasonMalformedStructure, "vp_token %q has no document", p.CredentialID)
		}
		for _, doc := range p.DeviceResponse.Documents {
			if logger.Core().Enabled(zapcore.DebugLevel) {
				logger.Debug("decoded document", zap.String("docType", string(doc.DocType)), zap.String("dump", spew.Sdump(doc)))
			}
			for _, skipped := range doc.Skipped {
				logger.Warn("skipped issuer signed item", zap.String("docType", string(doc.DocType)), zap.Error(skipped))
			}

			if err := s.verifier.Verify(doc, transcript); err != nil {
				return claims.Set{}, mdoc.WrapError(mdoc.ReasonOf(err), err, "document %s of %q", doc.DocType, p.CredentialID)
			}

			if found {
				continue
			}
			set := claims.Normalize(claimItems(doc))
			for _, ignored := range set.Ignored {
				logger.Warn("ignored claim", zap.String("docType", string(doc.DocType)), zap.String("claim", ignored))
			}
			if _, err := claims.Decide(set, state.MinAge, s.now()); err == nil {
				chosen, found = set, true
			}
		}
	}

	if !found {
		return claims.Set{}, mdoc.WrapError(mdoc.ReasonInsufficientClaims, claims.ErrInsufficientClaims, "no document carries an age claim")
	}
	return chosen, nil
}

func (s *Service) sessionTranscript(state *session.State, origin string) ([]byte, error) {
	var thumbprint []byte
	if state.EncryptionKey != nil {
		tp, err := exchange_protocol.Thumbprint(state.EncryptionKey)
		if err != nil {
			return nil, mdoc.WrapError(mdoc.ReasonInvalidSession, err, "failed to compute key thumbprint")
		}
		thumbprint = tp
	}

	transcript, err := s.transcripts.Build(state.Nonce, origin, thumbprint)
	if err != nil {
		return nil, mdoc.WrapError(mdoc.ReasonMalformedStructure, err, "failed to build session transcript")
	}
	return transcript, nil
}

func (s *Service) verifyZK(ctx context.Context, ar *openid4vp.AuthorizationResponse) (claims.Set, error) {
	if s.zk == nil {
		return claims.Set{}, mdoc.NewError(mdoc.ReasonUpstreamService, "zk verifier is not configured")
	}

	result, err := s.zk.Verify(ctx, ar.Payload)
	if err != nil {
		return claims.Set{}, err
	}
	if !result.Status {
		return claims.Set{}, mdoc.NewError(mdoc.ReasonSignatureInvalid, "zk verifier rejected the proof")
	}

	set := claims.NormalizeMap(result.FlatClaims())
	if set.Empty() {
		return claims.Set{}, mdoc.WrapError(mdoc.ReasonInsufficientClaims, claims.ErrInsufficientClaims, "zk verifier returned no claims")
	}
	return set, nil
}

func claimItems(doc mdoc.Document) []claims.Item {
	var items []claims.Item
	for _, c := range doc.Claims() {
		items = append(items, claims.Item{Identifier: string(c.Identifier), Value: c.Value})
	}
	return items
}

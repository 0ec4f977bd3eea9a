package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kokukuma/mdoc-age-verifier/internal/exchange_protocol"
	"github.com/kokukuma/mdoc-age-verifier/internal/server"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/mdoc/mdoctest"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/kokukuma/mdoc-age-verifier/session_transcript"
	"go.uber.org/zap"
)

const (
	initiatePath = "/api/verification/v2/initiate"
	verifyPath   = "/api/verification/v2/verify"
)

// Wallet plays the holder side of a verification: it issues itself a test
// document, answers the verifier's request with it and reports the result.
type Wallet struct {
	ServerURL             string
	Origin                string
	MinAge                int
	Age                   int
	Protocol              string
	DocType               string
	GivenName             string
	FamilyName            string
	AndroidSigningKeyHash string

	Client *http.Client
	Logger *zap.Logger
}

type initiateResponse struct {
	Success   bool            `json:"success"`
	SessionID string          `json:"sessionId"`
	Request   json.RawMessage `json:"request"`
	Message   string          `json:"message"`
}

func (w *Wallet) Run(ctx context.Context) (*server.VerifyResponse, error) {
	initiation, err := w.initiate(ctx)
	if err != nil {
		return nil, err
	}
	req, err := parseRequest(initiation.Request)
	if err != nil {
		return nil, err
	}
	w.Logger.Info("received request",
		zap.String("sessionId", initiation.SessionID),
		zap.String("responseMode", req.ResponseMode),
		zap.Int("credentials", len(req.DCQLQuery.Credentials)))

	credential, err := w.respond(req)
	if err != nil {
		return nil, err
	}

	res := &server.VerifyResponse{}
	status, err := w.post(ctx, verifyPath, server.VerifyRequest{
		SessionID:  initiation.SessionID,
		Credential: credential,
		Origin:     w.Origin,
	}, res)
	if err != nil {
		return nil, err
	}
	w.Logger.Info("verification finished", zap.Int("status", status), zap.Bool("verified", res.Verified))
	return res, nil
}

func (w *Wallet) initiate(ctx context.Context) (*initiateResponse, error) {
	res := &initiateResponse{}
	status, err := w.post(ctx, initiatePath, server.InitiateRequest{
		MinAge:   w.MinAge,
		Origin:   w.Origin,
		Protocol: w.Protocol,
		DocTypes: []string{w.DocType},
	}, res)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !res.Success {
		return nil, fmt.Errorf("initiate failed with status %d: %s", status, res.Message)
	}
	return res, nil
}

// parseRequest accepts both the plain request and the signed request
// object. The signature is not checked.
func parseRequest(raw json.RawMessage) (*openid4vp.AuthorizationRequest, error) {
	signed := openid4vp.SignedRequest{}
	if err := json.Unmarshal(raw, &signed); err == nil && signed.Request != "" {
		obj := &openid4vp.RequestObject{}
		if _, _, err := jwt.NewParser().ParseUnverified(signed.Request, obj); err != nil {
			return nil, fmt.Errorf("failed to parse request object: %w", err)
		}
		return &obj.AuthorizationRequest, nil
	}

	req := &openid4vp.AuthorizationRequest{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// respond answers the first credential query of req.
func (w *Wallet) respond(req *openid4vp.AuthorizationRequest) ([]byte, error) {
	if len(req.DCQLQuery.Credentials) == 0 {
		return nil, fmt.Errorf("request has no credential query")
	}
	query := req.DCQLQuery.Credentials[0]
	docType := mdoc.DocType(w.DocType)
	if query.Meta != nil && query.Meta.DocType != "" {
		docType = mdoc.DocType(query.Meta.DocType)
	}

	nonce, err := exchange_protocol.ParseNonce(req.Nonce)
	if err != nil {
		return nil, err
	}
	var encKey *jose.JSONWebKey
	var thumbprint []byte
	if req.ClientMetadata.JWKS != nil && len(req.ClientMetadata.JWKS.Keys) > 0 {
		encKey = &req.ClientMetadata.JWKS.Keys[0]
		if thumbprint, err = exchange_protocol.Thumbprint(encKey); err != nil {
			return nil, err
		}
	}

	transcripts, err := session_transcript.New(w.AndroidSigningKeyHash)
	if err != nil {
		return nil, err
	}
	transcript, err := transcripts.Build(nonce, w.Origin, thumbprint)
	if err != nil {
		return nil, err
	}

	vpToken, err := w.present(docType, transcript)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(map[string]interface{}{
		"vp_token": map[string][]string{query.ID: {vpToken}},
	})
	if err != nil {
		return nil, err
	}
	if encKey == nil {
		return payload, nil
	}

	encrypter, err := jose.NewEncrypter(jose.A128GCM, jose.Recipient{Algorithm: jose.ECDH_ES, Key: encKey.Key}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypter: %w", err)
	}
	obj, err := encrypter.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt response: %w", err)
	}
	compact, err := obj.CompactSerialize()
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"response": compact})
}

// present issues a document for docType bound to transcript and returns
// its base64url DeviceResponse.
func (w *Wallet) present(docType mdoc.DocType, transcript []byte) (string, error) {
	now := time.Now()
	issuer, err := mdoctest.NewIssuer(now.Add(-24*time.Hour), now.AddDate(1, 0, 0))
	if err != nil {
		return "", fmt.Errorf("failed to create issuer: %w", err)
	}
	deviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", err
	}

	ns := mdoc.NameSpaceISO1801351
	if docType == mdoc.DocTypePID {
		ns = mdoc.NameSpaceEUDIPID
	}
	doc, err := issuer.Issue(mdoctest.Document{
		DocType:   string(docType),
		NameSpace: string(ns),
		Claims: []mdoctest.Claim{
			{Name: "birth_date", Value: cbor.Tag{Number: 1004, Content: now.AddDate(-w.Age, 0, -1).Format("2006-01-02")}},
			{Name: "given_name", Value: w.GivenName},
			{Name: "family_name", Value: w.FamilyName},
		},
		DeviceKey:         deviceKey,
		SessionTranscript: transcript,
	})
	if err != nil {
		return "", fmt.Errorf("failed to issue document: %w", err)
	}
	dr, err := mdoctest.DeviceResponse(doc)
	if err != nil {
		return "", err
	}
	return mdoctest.VPToken(dr), nil
}

func (w *Wallet) post(ctx context.Context, path string, body, out interface{}) (int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	url := strings.TrimSuffix(w.ServerURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("unexpected response from %s (%d): %w", path, resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

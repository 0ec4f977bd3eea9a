package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kokukuma/mdoc-age-verifier/internal/session"
	"github.com/kokukuma/mdoc-age-verifier/internal/verifier"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/session_transcript"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	initiation *verifier.Initiation
	initErr    error
	result     *verifier.Result

	gotParams     verifier.InitiateParams
	gotSessionID  string
	gotCredential []byte
	gotOrigin     string
}

func (f *fakeVerifier) Initiate(_ context.Context, p verifier.InitiateParams) (*verifier.Initiation, error) {
	f.gotParams = p
	return f.initiation, f.initErr
}

func (f *fakeVerifier) Verify(_ context.Context, sessionID string, credential []byte, origin string) *verifier.Result {
	f.gotSessionID, f.gotCredential, f.gotOrigin = sessionID, credential, origin
	return f.result
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got), rec.Body.String())
	return rec, got
}

func TestInitiate(t *testing.T) {
	tests := []struct {
		name       string
		fake       *fakeVerifier
		body       string
		wantStatus int
		wantBody   map[string]interface{}
	}{
		{
			name: "ok",
			fake: &fakeVerifier{initiation: &verifier.Initiation{
				SessionID: "sid",
				MinAge:    21,
				Protocol:  "openid4vp-v1-unsigned",
				Request:   map[string]string{"nonce": "n"},
			}},
			body:       `{"minAge":21,"mode":"standard","origin":"https://a.example","protocol":"openid4vp-v1-unsigned","doctypes":["org.iso.18013.5.1.mDL"]}`,
			wantStatus: http.StatusOK,
			wantBody: map[string]interface{}{
				"success":   true,
				"sessionId": "sid",
				"minAge":    21.0,
				"protocol":  "openid4vp-v1-unsigned",
				"request":   map[string]interface{}{"nonce": "n"},
			},
		},
		{
			name:       "invalid parameters",
			fake:       &fakeVerifier{initErr: fmt.Errorf("%w: minAge must be between 1 and 150", verifier.ErrInvalidRequest)},
			body:       `{"minAge":200}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]interface{}{"success": false, "message": "Invalid verification request"},
		},
		{
			name:       "unsupported doctype",
			fake:       &fakeVerifier{initErr: fmt.Errorf("%w: unsupported doctype: org.example.card", verifier.ErrInvalidRequest)},
			body:       `{"doctypes":["org.example.card"]}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]interface{}{"success": false, "message": "Invalid verification request"},
		},
		{
			name:       "internal failure",
			fake:       &fakeVerifier{initErr: errors.New("redis down")},
			body:       `{}`,
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]interface{}{"success": false, "message": "Failed to initiate verification"},
		},
		{
			name:       "bad json",
			fake:       &fakeVerifier{},
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]interface{}{"success": false, "message": "Invalid request body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(tt.fake, WithGatherer(prometheus.NewRegistry())).Handler()
			rec, got := post(t, h, "/api/verification/v2/initiate", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, got)
		})
	}
}

func TestInitiatePassesParams(t *testing.T) {
	fake := &fakeVerifier{initiation: &verifier.Initiation{SessionID: "sid"}}
	h := NewServer(fake).Handler()

	post(t, h, "/api/verification/v2/initiate", `{"minAge":25,"mode":"zk","origin":"https://a.example","protocol":"openid4vp-v1-signed","doctypes":["eu.europa.ec.eudi.pid.1"]}`)
	assert.Equal(t, verifier.InitiateParams{
		MinAge:   25,
		Mode:     session.ModeZK,
		Origin:   "https://a.example",
		Protocol: "openid4vp-v1-signed",
		DocTypes: []mdoc.DocType{mdoc.DocTypePID},
	}, fake.gotParams)
}

func TestVerify(t *testing.T) {
	age := 30
	given := "Erika"

	tests := []struct {
		name       string
		result     *verifier.Result
		body       string
		wantStatus int
		wantBody   map[string]interface{}
	}{
		{
			name: "verified",
			result: &verifier.Result{
				Verified:  true,
				Age:       &age,
				MinAge:    21,
				GivenName: &given,
				Message:   "Age verification successful - User is 21+ years old",
			},
			body:       `{"sessionId":"sid","credential":"eyJ.a.b.c.d","origin":"https://a.example"}`,
			wantStatus: http.StatusOK,
			wantBody: map[string]interface{}{
				"success":    true,
				"verified":   true,
				"age":        30.0,
				"minAge":     21.0,
				"givenName":  "Erika",
				"familyName": nil,
				"message":    "Age verification successful - User is 21+ years old",
			},
		},
		{
			name:       "below min age",
			result:     &verifier.Result{MinAge: 21, Message: "Age verification failed - User does not meet minimum age requirement"},
			body:       `{"sessionId":"sid","credential":{"vp_token":{}}}`,
			wantStatus: http.StatusOK,
			wantBody: map[string]interface{}{
				"success":    true,
				"verified":   false,
				"age":        nil,
				"minAge":     21.0,
				"givenName":  nil,
				"familyName": nil,
				"message":    "Age verification failed - User does not meet minimum age requirement",
			},
		},
		{
			name:       "failed",
			result:     &verifier.Result{MinAge: 18, Reason: mdoc.ReasonSignatureInvalid, Message: verifier.Message(mdoc.ReasonSignatureInvalid)},
			body:       `{"sessionId":"sid","credential":"x"}`,
			wantStatus: http.StatusBadRequest,
			wantBody: map[string]interface{}{
				"success":    false,
				"verified":   false,
				"age":        nil,
				"minAge":     18.0,
				"givenName":  nil,
				"familyName": nil,
				"message":    verifier.Message(mdoc.ReasonSignatureInvalid),
			},
		},
		{
			name:       "upstream failure",
			result:     &verifier.Result{MinAge: 18, Reason: mdoc.ReasonUpstreamService, Message: verifier.Message(mdoc.ReasonUpstreamService)},
			body:       `{"sessionId":"sid","credential":"x"}`,
			wantStatus: http.StatusBadGateway,
			wantBody: map[string]interface{}{
				"success":    false,
				"verified":   false,
				"age":        nil,
				"minAge":     18.0,
				"givenName":  nil,
				"familyName": nil,
				"message":    verifier.Message(mdoc.ReasonUpstreamService),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(&fakeVerifier{result: tt.result}).Handler()
			rec, got := post(t, h, "/api/verification/v2/verify", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, got)
		})
	}
}

func TestVerifyPassesCredentialAsReceived(t *testing.T) {
	for name, credential := range map[string]string{
		"string": `"a.b.c.d.e"`,
		"object": `{"response":"a.b.c.d.e"}`,
	} {
		t.Run(name, func(t *testing.T) {
			fake := &fakeVerifier{result: &verifier.Result{}}
			h := NewServer(fake).Handler()
			post(t, h, "/api/verification/v2/verify", `{"sessionId":"sid","credential":`+credential+`,"origin":"https://a.example"}`)
			assert.Equal(t, "sid", fake.gotSessionID)
			assert.JSONEq(t, credential, string(fake.gotCredential))
			assert.Equal(t, "https://a.example", fake.gotOrigin)
		})
	}
}

func TestVerifyRejectsIncompleteRequest(t *testing.T) {
	for _, body := range []string{`{`, `{"credential":"x"}`, `{"sessionId":"sid"}`, `{"sessionId":"sid","credential":null}`} {
		fake := &fakeVerifier{}
		rec, got := post(t, NewServer(fake).Handler(), "/api/verification/v2/verify", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, false, got["success"])
		assert.Empty(t, fake.gotSessionID, "pipeline not called")
	}
}

func TestWithService(t *testing.T) {
	transcripts, err := session_transcript.New("")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	svc := verifier.New(session.NewMemoryStore(time.Minute), transcripts, verifier.WithMetrics(verifier.NewMetrics(reg)))
	h := NewServer(svc, WithGatherer(reg)).Handler()

	rec, got := post(t, h, "/api/verification/v2/initiate", `{"minAge":21,"origin":"https://a.example"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, got["success"])
	request := got["request"].(map[string]interface{})
	assert.Equal(t, "dc_api.jwt", request["response_mode"])
	sessionID := got["sessionId"].(string)

	rec, got = post(t, h, "/api/verification/v2/verify", `{"sessionId":"`+sessionID+`","credential":"not-a-credential","origin":"https://a.example"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, verifier.Message(mdoc.ReasonDecode), got["message"])

	rec, got = post(t, h, "/api/verification/v2/verify", `{"sessionId":"`+sessionID+`","credential":"not-a-credential","origin":"https://a.example"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, verifier.Message(mdoc.ReasonInvalidSession), got["message"])

	metrics := httptest.NewRecorder()
	h.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metrics.Code)
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `mdoc_age_verifications_total{reason="DecodeError",result="failed"} 1`)
	assert.Contains(t, string(body), `mdoc_age_verifications_total{reason="InvalidSession",result="failed"} 1`)
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		check      func(context.Context) error
		wantStatus int
	}{
		{name: "ok", check: func(context.Context) error { return nil }, wantStatus: http.StatusOK},
		{name: "dependency down", check: func(context.Context) error { return errors.New("down") }, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(&fakeVerifier{}, WithHealthCheck(tt.check)).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestCORS(t *testing.T) {
	h := NewServer(&fakeVerifier{}, WithAllowedOrigins("https://a.example")).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/verification/v2/verify", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://a.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://a.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

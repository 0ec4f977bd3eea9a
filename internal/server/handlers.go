package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kokukuma/mdoc-age-verifier/internal/session"
	"github.com/kokukuma/mdoc-age-verifier/internal/verifier"
	"github.com/kokukuma/mdoc-age-verifier/mdoc"
	"github.com/kokukuma/mdoc-age-verifier/openid4vp"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const messageInvalidInitiate = "Invalid verification request"

type InitiateRequest struct {
	MinAge   int      `json:"minAge"`
	Mode     string   `json:"mode"`
	Origin   string   `json:"origin"`
	Protocol string   `json:"protocol"`
	DocTypes []string `json:"doctypes"`
}

type InitiateResponse struct {
	Success   bool        `json:"success"`
	SessionID string      `json:"sessionId,omitempty"`
	MinAge    int         `json:"minAge,omitempty"`
	Protocol  string      `json:"protocol,omitempty"`
	Request   interface{} `json:"request,omitempty"`
	Message   string      `json:"message,omitempty"`
}

type VerifyRequest struct {
	SessionID  string          `json:"sessionId"`
	Credential json.RawMessage `json:"credential"`
	Origin     string          `json:"origin"`
}

type VerifyResponse struct {
	Success    bool    `json:"success"`
	Verified   bool    `json:"verified"`
	Age        *int    `json:"age"`
	MinAge     int     `json:"minAge"`
	GivenName  *string `json:"givenName"`
	FamilyName *string `json:"familyName"`
	Message    string  `json:"message"`
}

func (s *Server) Initiate(w http.ResponseWriter, r *http.Request) {
	req := InitiateRequest{}
	if err := parseJSON(r, &req); err != nil {
		jsonResponse(w, InitiateResponse{Message: "Invalid request body"}, http.StatusBadRequest)
		return
	}

	initiation, err := s.svc.Initiate(r.Context(), verifier.InitiateParams{
		MinAge:   req.MinAge,
		Mode:     session.Mode(req.Mode),
		Origin:   req.Origin,
		Protocol: openid4vp.Protocol(req.Protocol),
		DocTypes: lo.Map(req.DocTypes, func(dt string, _ int) mdoc.DocType { return mdoc.DocType(dt) }),
	})
	if errors.Is(err, verifier.ErrInvalidRequest) {
		s.logger.Info("rejected verification request", zap.Error(err))
		jsonResponse(w, InitiateResponse{Message: messageInvalidInitiate}, http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("failed to initiate verification", zap.Error(err))
		jsonResponse(w, InitiateResponse{Message: "Failed to initiate verification"}, http.StatusInternalServerError)
		return
	}

	jsonResponse(w, InitiateResponse{
		Success:   true,
		SessionID: initiation.SessionID,
		MinAge:    initiation.MinAge,
		Protocol:  string(initiation.Protocol),
		Request:   initiation.Request,
	}, http.StatusOK)
}

func (s *Server) Verify(w http.ResponseWriter, r *http.Request) {
	req := VerifyRequest{}
	if err := parseJSON(r, &req); err != nil {
		jsonResponse(w, VerifyResponse{Message: "Invalid request body"}, http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || len(req.Credential) == 0 || string(req.Credential) == "null" {
		jsonResponse(w, VerifyResponse{Message: "sessionId and credential are required"}, http.StatusBadRequest)
		return
	}

	res := s.svc.Verify(r.Context(), req.SessionID, req.Credential, req.Origin)

	jsonResponse(w, VerifyResponse{
		Success:    res.Reason == "",
		Verified:   res.Verified,
		Age:        res.Age,
		MinAge:     res.MinAge,
		GivenName:  res.GivenName,
		FamilyName: res.FamilyName,
		Message:    res.Message,
	}, verifyStatus(res.Reason))
}

func verifyStatus(reason mdoc.Reason) int {
	switch reason {
	case "":
		return http.StatusOK
	case mdoc.ReasonUpstreamService:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	for _, check := range s.healthChecks {
		if err := check(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			jsonResponse(w, map[string]string{"status": "unavailable"}, http.StatusServiceUnavailable)
			return
		}
	}
	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Package handler exposes key management over HTTP. Responses carry public
// keys only; private halves never leave the service layer. Companies that
// manage their own keys supply a public key inline on the consent request
// instead of registering one here.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"travlr/internal/encryption"
	"travlr/internal/platform/middleware"
	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
	"travlr/pkg/platform/httputil"
)

type Handler struct {
	svc    *encryption.Service
	logger *slog.Logger
}

func New(svc *encryption.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/keys", func(r chi.Router) {
		r.Post("/company", h.generateCompanyKey)
		r.Post("/company/rotate", h.rotateCompanyKey)
		r.Post("/employee", h.registerEmployeeKey)
		r.Get("/{aid}", h.publicKey)
	})
}

type generateBody struct {
	CompanyName string `json:"company_name"`
}

type keypairBody struct {
	CompanyAID string `json:"company_aid"`
	PublicKey  string `json:"public_key"`
	Version    int    `json:"version"`
}

func (h *Handler) generateCompanyKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	var body generateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	key, err := h.svc.GenerateCompanyKeyPair(r.Context(), principal.AID, body.CompanyName)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "company key generation failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"company", principal.AID.Short(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, keypairView(key))
}

func (h *Handler) rotateCompanyKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	key, err := h.svc.RotateCompanyKey(r.Context(), principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, keypairView(key))
}

type registerBody struct {
	PublicKey string `json:"public_key"`
}

func (h *Handler) registerEmployeeKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	var body registerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	if err := h.svc.RegisterEmployeeKey(r.Context(), principal.AID, body.PublicKey); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publicKey(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetPrincipal(r.Context()); !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	aid, err := domain.ParseAID(chi.URLParam(r, "aid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	key, err := h.svc.PublicKey(r.Context(), aid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"aid":        aid.String(),
		"public_key": key,
	})
}

func keypairView(key encryption.CompanyKey) keypairBody {
	return keypairBody{
		CompanyAID: key.CompanyAID.String(),
		PublicKey:  key.PublicKey,
		Version:    key.Version,
	}
}

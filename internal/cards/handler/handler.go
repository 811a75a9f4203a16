// Package handler exposes master and context card operations over HTTP.
// Master card routes are employee-scoped by the authenticated principal;
// context card reads split into an employee view and a company view so the
// access trail records the reader correctly.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"travlr/internal/cards"
	"travlr/internal/identity"
	"travlr/internal/platform/middleware"
	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
	"travlr/pkg/platform/httputil"
)

type Handler struct {
	svc    *cards.Service
	agent  identity.Client // optional; credential issuance 503s without it
	logger *slog.Logger
}

func New(svc *cards.Service, agent identity.Client, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, agent: agent, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/cards", func(r chi.Router) {
		r.Post("/master", h.createMaster)
		r.Get("/master", h.readMaster)
		r.Put("/master", h.updateMaster)
		r.Delete("/master", h.revokeMaster)
		r.Get("/master/profile", h.decryptMaster)
		r.Get("/master/backups", h.backups)
		r.Post("/master/credential", h.issueCredential)

		r.Get("/context", h.listContext)
		r.Get("/context/{cardID}", h.readContextEmployee)
		r.Delete("/context/{cardID}", h.revokeContext)

		r.Get("/shared", h.listShared)
		r.Get("/shared/{cardID}", h.readContextCompany)

		r.Get("/{cardID}/access-logs", h.accessLogs)
	})
}

type masterBody struct {
	Profile        map[string]any `json:"profile"`
	CredentialHash string         `json:"credential_hash,omitempty"`
}

func (h *Handler) createMaster(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	var body masterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	card, err := h.svc.CreateMasterCard(r.Context(), principal.AID, body.Profile, body.CredentialHash)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "master card creation failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"employee", principal.AID.Short(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, masterView(card))
}

func (h *Handler) readMaster(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	card, err := h.svc.MasterCard(r.Context(), principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, masterView(card))
}

func (h *Handler) updateMaster(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	var body masterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	card, err := h.svc.UpdateMasterCard(r.Context(), principal.AID, body.Profile, body.CredentialHash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, masterView(card))
}

func (h *Handler) revokeMaster(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	if err := h.svc.RevokeMasterCard(r.Context(), principal.AID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decryptMaster(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	profile, card, err := h.svc.DecryptMasterProfile(r.Context(), principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"card_id":      card.ID.String(),
		"profile":      profile,
		"content_hash": card.ContentHash,
	})
}

func (h *Handler) backups(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	backups, err := h.svc.Backups(r.Context(), principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views := make([]backupBody, 0, len(backups))
	for _, b := range backups {
		views = append(views, backupBody{
			ID:          b.ID.String(),
			CardID:      b.CardID.String(),
			ContentHash: b.ContentHash,
			BackedUpAt:  b.BackedUpAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"backups": views})
}

func (h *Handler) issueCredential(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	ref, attrs, err := h.svc.IssueCredential(r.Context(), h.agent, principal.AID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "credential issuance failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"employee", principal.AID.Short(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"credential_ref": ref,
		"attributes":     attrs,
	})
}

func (h *Handler) listContext(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	list, err := h.svc.ContextCards(r.Context(), principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"cards": contextViews(list)})
}

func (h *Handler) listShared(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	list, err := h.svc.CompanyContextCards(r.Context(), principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"cards": contextViews(list)})
}

func (h *Handler) readContextEmployee(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndCard(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	card, err := h.svc.ContextCardForEmployee(r.Context(), id, principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, contextView(card))
}

func (h *Handler) readContextCompany(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndCard(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	card, err := h.svc.ContextCardForCompany(r.Context(), id, principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, contextView(card))
}

func (h *Handler) revokeContext(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndCard(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.svc.RevokeContextCard(r.Context(), id, principal.AID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) accessLogs(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndCard(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	logs, err := h.svc.AccessLogs(r.Context(), id, principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views := make([]accessLogBody, 0, len(logs))
	for _, entry := range logs {
		views = append(views, accessLogBody{
			CardID:   entry.CardID.String(),
			ActorAID: entry.ActorAID.String(),
			Type:     string(entry.Type),
			At:       entry.At,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": views})
}

func (h *Handler) principalAndCard(r *http.Request) (middleware.Principal, domain.CardID, error) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		return middleware.Principal{}, domain.CardID{}, dErrors.New(dErrors.CodeUnauthorized, "missing principal")
	}
	id, err := domain.ParseCardID(chi.URLParam(r, "cardID"))
	if err != nil {
		return middleware.Principal{}, domain.CardID{}, err
	}
	return principal, id, nil
}

type masterCardBody struct {
	ID             string             `json:"card_id"`
	EmployeeAID    string             `json:"employee_aid"`
	Encrypted      string             `json:"encrypted"`
	CipherSuite    string             `json:"cipher_suite"`
	ContentHash    string             `json:"content_hash"`
	Completeness   cards.Completeness `json:"completeness"`
	CredentialHash string             `json:"credential_hash,omitempty"`
	Active         bool               `json:"active"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	LastAccessedAt time.Time          `json:"last_accessed_at"`
}

func masterView(card cards.MasterCard) masterCardBody {
	return masterCardBody{
		ID:             card.ID.String(),
		EmployeeAID:    card.EmployeeAID.String(),
		Encrypted:      card.Encrypted,
		CipherSuite:    card.CipherSuite,
		ContentHash:    card.ContentHash,
		Completeness:   card.Completeness,
		CredentialHash: card.CredentialHash,
		Active:         card.Active,
		CreatedAt:      card.CreatedAt,
		UpdatedAt:      card.UpdatedAt,
		LastAccessedAt: card.LastAccessedAt,
	}
}

type contextCardBody struct {
	ID             string     `json:"card_id"`
	EmployeeAID    string     `json:"employee_aid"`
	CompanyAID     string     `json:"company_aid"`
	CompanyName    string     `json:"company_name,omitempty"`
	Encrypted      string     `json:"encrypted"`
	CipherSuite    string     `json:"cipher_suite"`
	SharedFields   []string   `json:"shared_fields"`
	Purpose        string     `json:"purpose"`
	MasterCardID   string     `json:"master_card_id"`
	CredentialHash string     `json:"credential_hash,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
}

func contextView(card cards.ContextCard) contextCardBody {
	fields := make([]string, len(card.SharedFields))
	for i, f := range card.SharedFields {
		fields[i] = string(f)
	}
	view := contextCardBody{
		ID:             card.ID.String(),
		EmployeeAID:    card.EmployeeAID.String(),
		CompanyAID:     card.CompanyAID.String(),
		CompanyName:    card.CompanyName,
		Encrypted:      card.Encrypted,
		CipherSuite:    card.CipherSuite,
		SharedFields:   fields,
		Purpose:        card.Purpose,
		MasterCardID:   card.MasterCardID.String(),
		CredentialHash: card.CredentialHash,
		Active:         card.Active,
		CreatedAt:      card.CreatedAt,
		LastAccessedAt: card.LastAccessedAt,
	}
	if !card.ExpiresAt.IsZero() {
		expires := card.ExpiresAt
		view.ExpiresAt = &expires
	}
	return view
}

func contextViews(list []cards.ContextCard) []contextCardBody {
	views := make([]contextCardBody, 0, len(list))
	for _, card := range list {
		views = append(views, contextView(card))
	}
	return views
}

type backupBody struct {
	ID          string    `json:"backup_id"`
	CardID      string    `json:"card_id"`
	ContentHash string    `json:"content_hash"`
	BackedUpAt  time.Time `json:"backed_up_at"`
}

type accessLogBody struct {
	CardID   string    `json:"card_id"`
	ActorAID string    `json:"actor_aid"`
	Type     string    `json:"type"`
	At       time.Time `json:"at"`
}

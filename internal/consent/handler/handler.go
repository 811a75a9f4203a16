// Package handler exposes the consent workflow over HTTP. Requester identity
// and class always come from the authenticated principal; request bodies are
// never trusted for either.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"travlr/internal/consent"
	"travlr/internal/platform/middleware"
	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
	"travlr/pkg/platform/httputil"
)

type Handler struct {
	svc    *consent.Service
	logger *slog.Logger
}

func New(svc *consent.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/consent", func(r chi.Router) {
		r.Post("/requests", h.createRequest)
		r.Get("/requests/pending", h.listPending)
		r.Get("/requests/{requestID}", h.status)
		r.Post("/requests/{requestID}/approve", h.approve)
		r.Post("/requests/{requestID}/deny", h.deny)
		r.Post("/requests/{requestID}/revoke", h.revoke)
		r.Get("/requests/{requestID}/data", h.data)
		r.Get("/stats", h.stats)
		r.Post("/evaluate", h.bulkEvaluate)
	})
}

type createRequestBody struct {
	EmployeeAID      string   `json:"employee_aid"`
	CompanyName      string   `json:"company_name"`
	RequestedFields  []string `json:"requested_fields"`
	Purpose          string   `json:"purpose"`
	CompanyPublicKey string   `json:"company_public_key,omitempty"`
	TTLHours         int      `json:"ttl_hours,omitempty"`
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}
	employeeAID, err := domain.ParseAID(body.EmployeeAID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.svc.CreateRequest(r.Context(), consent.CreateRequestParams{
		CompanyAID:       principal.AID,
		CompanyName:      body.CompanyName,
		EmployeeAID:      employeeAID,
		RequestedFields:  toFields(body.RequestedFields),
		Purpose:          body.Purpose,
		CompanyPublicKey: body.CompanyPublicKey,
		TTL:              time.Duration(body.TTLHours) * time.Hour,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "create consent request failed",
			"request_id", middleware.GetRequestID(r.Context()), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, recordView(rec))
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	recs, err := h.svc.ListPending(r.Context(), principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views := make([]recordBody, 0, len(recs))
	for _, rec := range recs {
		views = append(views, recordView(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requests": views})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.svc.Status(r.Context(), id, principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordView(rec))
}

type approveBody struct {
	ApprovedFields []string `json:"approved_fields"`
	Signature      string   `json:"signature"`
	CredentialRef  string   `json:"credential_ref,omitempty"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var body approveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	rec, err := h.svc.Approve(r.Context(), consent.ApproveParams{
		RequestID:      id,
		EmployeeAID:    principal.AID,
		ApprovedFields: toFields(body.ApprovedFields),
		Signature:      body.Signature,
		CredentialRef:  body.CredentialRef,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "consent approval failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"consent_request", id.String(), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordView(rec))
}

type denyBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) deny(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var body denyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}

	rec, err := h.svc.Deny(r.Context(), id, principal.AID, body.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordView(rec))
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	rec, err := h.svc.Revoke(r.Context(), id, principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recordView(rec))
}

func (h *Handler) data(w http.ResponseWriter, r *http.Request) {
	principal, id, err := h.principalAndID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	d, err := h.svc.Data(r.Context(), id, domain.Requester{AID: principal.AID, Class: principal.Class})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	stats, err := h.svc.Stats(r.Context(), principal.AID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type bulkEvaluateBody struct {
	EmployeeAIDs []string `json:"employee_aids"`
	Fields       []string `json:"fields"`
}

func (h *Handler) bulkEvaluate(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing principal"))
		return
	}

	var body bulkEvaluateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed request body"))
		return
	}
	employees := make([]domain.AID, 0, len(body.EmployeeAIDs))
	for _, raw := range body.EmployeeAIDs {
		aid, err := domain.ParseAID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		employees = append(employees, aid)
	}

	entries := h.svc.BulkEvaluate(r.Context(),
		domain.Requester{AID: principal.AID, Class: principal.Class},
		employees, toFields(body.Fields))
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": entries})
}

func (h *Handler) principalAndID(r *http.Request) (middleware.Principal, domain.RequestID, error) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		return middleware.Principal{}, domain.RequestID{}, dErrors.New(dErrors.CodeUnauthorized, "missing principal")
	}
	id, err := domain.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		return middleware.Principal{}, domain.RequestID{}, err
	}
	return principal, id, nil
}

type recordBody struct {
	RequestID       string     `json:"request_id"`
	EmployeeAID     string     `json:"employee_aid"`
	CompanyAID      string     `json:"company_aid"`
	CompanyName     string     `json:"company_name,omitempty"`
	RequestedFields []string   `json:"requested_fields"`
	ApprovedFields  []string   `json:"approved_fields,omitempty"`
	Purpose         string     `json:"purpose"`
	Status          string     `json:"status"`
	DenialReason    string     `json:"denial_reason,omitempty"`
	ContextCardID   string     `json:"context_card_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	DeniedAt        *time.Time `json:"denied_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

func recordView(rec consent.ConsentRecord) recordBody {
	view := recordBody{
		RequestID:       rec.ID.String(),
		EmployeeAID:     rec.EmployeeAID.String(),
		CompanyAID:      rec.CompanyAID.String(),
		CompanyName:     rec.CompanyName,
		RequestedFields: toStrings(rec.RequestedFields),
		ApprovedFields:  toStrings(rec.ApprovedFields),
		Purpose:         rec.Purpose,
		Status:          string(rec.Status),
		DenialReason:    rec.DenialReason,
		CreatedAt:       rec.CreatedAt,
		ExpiresAt:       rec.ExpiresAt,
		ApprovedAt:      rec.ApprovedAt,
		DeniedAt:        rec.DeniedAt,
		RevokedAt:       rec.RevokedAt,
	}
	if !rec.ContextCardID.IsNil() {
		view.ContextCardID = rec.ContextCardID.String()
	}
	return view
}

func toFields(raw []string) []domain.DataField {
	out := make([]domain.DataField, len(raw))
	for i, f := range raw {
		out[i] = domain.DataField(f)
	}
	return out
}

func toStrings(fields []domain.DataField) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

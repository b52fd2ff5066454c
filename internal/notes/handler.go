package notes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wolfman30/teletherapy-platform/internal/http/respond"
	"github.com/wolfman30/teletherapy-platform/internal/sessions"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// Handler exposes SOAP drafting over HTTP.
type Handler struct {
	svc      *Service
	logger   *logging.Logger
	validate *validator.Validate
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("notes: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/{sessionID}/notes/soap", h.draft)
}

type draftRequest struct {
	Transcript string `json:"transcript" validate:"required"`
}

func (h *Handler) draft(w http.ResponseWriter, r *http.Request) {
	actor, ok := tenancy.ActorFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Validation(w, err)
		return
	}

	draft, err := h.svc.DraftSOAP(r.Context(), sessionID, actor, req.Transcript)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("notes handler: draft soap", "error", err, "session_id", sessionID)
			respond.Error(w, status, http.StatusText(status))
			return
		}
		respond.Error(w, status, err.Error())
		return
	}
	respond.Data(w, http.StatusCreated, draft)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrTranscriptRequired), errors.Is(err, sessions.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, sessions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessions.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, sessions.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrEmptyDraft):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
